package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	var runs atomic.Int32
	runner := RunnerFunc(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := New("test", runner, 30*time.Millisecond, time.Second, discardLogger()).Start(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestScheduler_KeepsRunningAfterError(t *testing.T) {
	var runs atomic.Int32
	runner := RunnerFunc(func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_ = New("test", runner, 20*time.Millisecond, time.Second, discardLogger()).Start(ctx)

	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestScheduler_BoundsRunWithTimeout(t *testing.T) {
	deadlines := make(chan bool, 1)
	runner := RunnerFunc(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		select {
		case deadlines <- ok:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New("test", runner, time.Hour, time.Second, discardLogger()).Start(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, <-deadlines)
}
