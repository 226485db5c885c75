package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/craftscribe/craftscribe/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resetterStub struct {
	calls int
	err   error
}

func (r *resetterStub) ResetMonthlyCredits(context.Context) error {
	r.calls++
	return r.err
}

func TestResetNow(t *testing.T) {
	stub := &resetterStub{}
	s := scheduler.New(stub)

	require.NoError(t, s.ResetNow(context.Background()))
	assert.Equal(t, 1, stub.calls)
}

func TestResetNowPropagatesError(t *testing.T) {
	stub := &resetterStub{err: errors.New("rpc failed")}
	s := scheduler.New(stub)

	assert.Error(t, s.ResetNow(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	s := scheduler.New(&resetterStub{})
	require.NoError(t, s.Start())
	s.Stop()
}
