package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/models"
)

// TokenPruner deletes persistent-login rows matching a predicate.
type TokenPruner interface {
	Delete(ctx context.Context, table string, where models.Where) (int64, error)
}

// StartTokenCleaner removes persistent-login tokens older than retention
// every interval until ctx is done.
func StartTokenCleaner(
	ctx context.Context,
	store TokenPruner,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				rows, err := store.Delete(ctx, models.TableSessions,
					models.Where{Field: "created_at", Op: "<", Value: cutoff})
				if err != nil {
					log.Error("failed to clean expired login tokens", zap.Error(err))
					continue
				}
				if rows > 0 {
					log.Info("cleaned expired login tokens", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
