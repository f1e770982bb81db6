package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically removes sessions that stopped heartbeating.
type Reaper struct {
	registry  *Registry
	interval  time.Duration
	log       zerolog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewReaper creates a reaper that sweeps the registry every interval.
func NewReaper(registry *Registry, interval time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		registry: registry,
		interval: interval,
		log:      log.With().Str("component", "session-reaper").Logger(),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in background.
// Safe to call multiple times - only the first call starts the reaper.
func (r *Reaper) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run(ctx)
		r.log.Info().Dur("interval", r.interval).Msg("session reaper started")
	})
}

// Stop gracefully shuts down the reaper.
// Safe to call multiple times - only the first call stops the reaper.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.log.Info().Msg("session reaper stopped")
	})
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case now := <-ticker.C:
			if reaped := r.registry.Reap(now); len(reaped) > 0 {
				r.log.Info().Int("reaped", len(reaped)).Msg("reap cycle")
			}
		}
	}
}
