package job

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Periodic runs fn every interval until ctx is done. A tick that arrives
// while the previous run is still going is skipped.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	running  atomic.Bool
}

func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{name: name, interval: interval, fn: fn}
}

// Run blocks until ctx is cancelled and the last run has returned. With
// runNow the first run starts immediately instead of one interval in.
func (p *Periodic) Run(ctx context.Context, runNow bool) {
	slog.Info("periodic job started", "job", p.name, "interval", p.interval.String())

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		slog.Info("periodic job stopped", "job", p.name)
	}()

	trigger := func() {
		if !p.running.CompareAndSwap(false, true) {
			slog.Warn("periodic job still running, skipping tick", "job", p.name)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.running.Store(false)
			defer func() {
				if r := recover(); r != nil {
					slog.Error("periodic job panicked", "job", p.name, "panic", r)
				}
			}()
			p.fn(ctx)
		}()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if runNow {
		trigger()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger()
		}
	}
}
