package auth

import (
	"context"
	"time"

	"github.com/redmonkez12/fintrack-api/internal/logging"
	"github.com/redmonkez12/fintrack-api/internal/store"
)

// Janitor periodically removes expired sessions and dead verification
// tokens.
type Janitor struct {
	store    store.Store
	logger   *logging.Logger
	interval time.Duration
	now      func() time.Time
}

func NewJanitor(st store.Store, logger *logging.Logger, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{store: st, logger: logger, interval: interval, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.Sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs a single cleanup pass and returns the number of rows removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	removed, err := j.store.DeleteExpired(ctx, j.now())
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Error("failed to purge expired records", "error", err)
		}
		return 0
	}
	if removed > 0 {
		j.logger.Info("purged expired records", "count", removed)
	}
	return removed
}
