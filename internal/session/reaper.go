package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Reaper sweeps idle sessions on a fixed interval for long-lived processes.
type Reaper struct {
	sweeper  sweeper
	interval time.Duration
}

func NewReaper(s sweeper, interval time.Duration) (*Reaper, error) {
	if s == nil {
		return nil, errors.New("session: sweeper must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("session: reaper interval must be positive")
	}
	return &Reaper{sweeper: s, interval: interval}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Sweep failures are logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	r.sweep(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.sweeper.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("session sweep failed", "err", err)
		}
		return
	}
	if n > 0 {
		slog.Info("swept idle sessions", "count", n)
	}
}
