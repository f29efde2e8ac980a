package forum

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/repository"
)

// Janitor periodically purges rooms whose retention window expired.
// Rooms opt in through auto_delete_after_days; the large majority carry
// a zero window and are never touched.
type Janitor struct {
	rooms    repository.RoomRepository
	interval time.Duration
	logger   *zap.Logger
}

func NewJanitor(rooms repository.RoomRepository, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		rooms:    rooms,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps once immediately, then on every tick until the context is
// canceled. A failed sweep is logged and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// Sweep runs one purge pass and returns how many rooms were removed.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	return j.rooms.PurgeExpired(ctx)
}

func (j *Janitor) sweep(ctx context.Context) {
	purged, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if purged > 0 {
		j.logger.Info("retention sweep purged rooms", zap.Int64("count", purged))
	}
}
