package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craftscribe/craftscribe/pkg/auth"
	"github.com/craftscribe/craftscribe/pkg/billing"
	"github.com/craftscribe/craftscribe/pkg/config"
	"github.com/craftscribe/craftscribe/pkg/descriptions"
	"github.com/craftscribe/craftscribe/pkg/marketplace"
	"github.com/craftscribe/craftscribe/pkg/scheduler"
	"github.com/craftscribe/craftscribe/pkg/server"
	"github.com/craftscribe/craftscribe/pkg/statecache"
	"github.com/craftscribe/craftscribe/pkg/storage"
	"github.com/craftscribe/craftscribe/pkg/supabase"
	"github.com/craftscribe/craftscribe/pkg/utils"
	"github.com/craftscribe/craftscribe/pkg/version"
	"github.com/craftscribe/craftscribe/pkg/webhook"
)

// Settings for the server process
type ServerSettings struct {
	Port       int
	ConfigPath string
	LogLevel   string
}

func main() {
	settings := parseCliFlags()
	setupLogging(settings.LogLevel)

	// Log version information
	versionInfo := version.Get()
	slog.Info("Starting CraftScribe",
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("date", versionInfo.Date),
	)

	// Load configuration
	cfg, err := config.New()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Warm the signing key cache before accepting traffic. A service that
	// cannot verify tokens must not come up.
	keys := auth.NewKeySetCache(cfg.JWKSURL(), cfg.Supabase.JWKSLifetime,
		auth.WithHTTPClient(&http.Client{Timeout: cfg.Supabase.FetchTimeout}),
	)
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), cfg.Supabase.FetchTimeout)
	err = keys.Warm(warmCtx)
	cancelWarm()
	if err != nil {
		slog.Error("Failed to fetch signing keys", slog.String("error", err.Error()))
		os.Exit(1)
	}

	verifier := auth.NewVerifier(keys, cfg.Auth.Audience, cfg.Auth.Leeway)
	webhooks := webhook.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance)

	store := supabase.New(cfg.Supabase.URL, cfg.Supabase.SecretKey)
	billingSvc := billing.New(store, cfg)

	states, err := statecache.NewFromConfig(cfg)
	if err != nil {
		slog.Error("Failed to initialize state cache", slog.String("error", err.Error()))
		os.Exit(1)
	}

	etsy := marketplace.NewClient(cfg.Etsy.ClientID, cfg.Etsy.APIURL)
	connector := marketplace.NewConnector(cfg, states)
	generator := descriptions.NewGenerator(cfg)

	// Avatar storage is optional; without it the upload route answers 500
	// and everything else works.
	var blobs *storage.BlobStore
	if cfg.Storage.Endpoint != "" {
		blobs, err = storage.NewBlobStore(context.Background(), cfg)
		if err != nil {
			slog.Error("Failed to initialize blob storage", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		slog.Warn("Blob storage not configured, avatar uploads disabled")
	}

	sched := scheduler.New(store)
	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := server.New(cfg, server.Deps{
		Verifier:  verifier,
		Webhooks:  webhooks,
		Store:     store,
		Billing:   billingSvc,
		Etsy:      etsy,
		Connector: connector,
		Generator: generator,
		Blobs:     blobs,
		Scheduler: sched,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		slog.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", slog.String("error", err.Error()))
		}

		sched.Stop()
		if err := states.Close(); err != nil {
			slog.Error("State cache close error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Server listening",
		slog.Int("port", settings.Port),
		slog.String("environment", cfg.Environment),
	)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("Server stopped")
}

func parseCliFlags() ServerSettings {
	settings := ServerSettings{}

	flag.IntVar(&settings.Port, "port", 8080, "Port to listen on")
	flag.StringVar(&settings.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&settings.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	// Set config path as environment variable if provided
	if settings.ConfigPath != "" {
		if err := os.Setenv("CONFIG_PATH", settings.ConfigPath); err != nil {
			slog.Error("Error setting CONFIG_PATH environment variable", "error", err)
		}
	}

	return settings
}

func setupLogging(level string) {
	logLevel, err := utils.ParseLogLevel(level)
	if err != nil {
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	slog.SetDefault(slog.New(handler))
}
