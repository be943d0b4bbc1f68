package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestNewReaper_Validates(t *testing.T) {
	_, err := NewReaper(nil, time.Second)
	require.Error(t, err)
	_, err = NewReaper(&countingSweeper{}, 0)
	require.Error(t, err)
}

func TestReaper_SweepsAtStartAndOnTick(t *testing.T) {
	s := &countingSweeper{}
	r, err := NewReaper(s, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return s.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}

func TestReaper_KeepsRunningAfterSweepError(t *testing.T) {
	s := &countingSweeper{err: errors.New("locked")}
	r, err := NewReaper(s, 5*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
