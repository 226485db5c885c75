// Package scheduler runs the monthly credit reset.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// creditResetSpec fires at midnight UTC on the first of every month.
const creditResetSpec = "0 0 1 * *"

// CreditResetter is implemented by the service-role Supabase client.
type CreditResetter interface {
	ResetMonthlyCredits(ctx context.Context) error
}

// Scheduler owns the cron runner. ResetNow is shared with the admin
// endpoint so a manual reset goes through the same path.
type Scheduler struct {
	cron  *cron.Cron
	store CreditResetter
}

func New(store CreditResetter) *Scheduler {
	s := &Scheduler{
		cron:  cron.New(cron.WithLocation(time.UTC)),
		store: store,
	}
	return s
}

// Start registers the monthly job and starts the runner.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(creditResetSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.ResetNow(ctx); err != nil {
			slog.Error("Scheduled credit reset failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("Credit reset scheduler started", slog.String("spec", creditResetSpec))
	return nil
}

// Stop halts the runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ResetNow resets all monthly credit counters.
func (s *Scheduler) ResetNow(ctx context.Context) error {
	start := time.Now()
	if err := s.store.ResetMonthlyCredits(ctx); err != nil {
		return err
	}
	slog.Info("Monthly credits reset", slog.Duration("took", time.Since(start)))
	return nil
}
