package jobs

import (
	"context"
	"time"

	"memegen/internal/infra"
)

// Reaper periodically evicts finished jobs from a Registry.
type Reaper struct {
	registry *Registry
	interval time.Duration
	grace    time.Duration
	logger   *infra.Logger
}

// NewReaper builds a reaper that scans every interval and evicts jobs that
// have been terminal for longer than grace.
func NewReaper(registry *Registry, interval, grace time.Duration, logger *infra.Logger) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		grace:    grace,
		logger:   infra.OrDiscard(logger),
	}
}

// Run performs one sweep immediately and then one per interval until ctx is
// cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep()
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("jobs: reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	removed := r.registry.ReapOnce(r.registry.now(), r.grace)
	if len(removed) > 0 {
		r.logger.Info().Int("removed", len(removed)).Msg("jobs: reaper sweep")
	}
}
