package service

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
}

func (c *countingExpirer) CleanupExpired(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestSweeper_RunsUntilCancelled(t *testing.T) {
	exp := &countingExpirer{}
	s := &Sweeper{registry: exp, interval: 5 * time.Millisecond, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return exp.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
