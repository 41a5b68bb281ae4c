package cronrunner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"filecollect/internal/repository"
)

// PurgeCompletedJob returns a job that deletes COMPLETED collection requests
// whose last update is older than the retention window. History rows go with
// them.
func PurgeCompletedJob(repo repository.CollectionRepository, logger *zap.Logger, retentionDays int) func(context.Context) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return func(ctx context.Context) {
		before := time.Now().UTC().AddDate(0, 0, -retentionDays)
		purged, err := repo.PurgeCompletedBefore(ctx, before)
		if err != nil {
			logger.Error("purge of completed collections failed", zap.Error(err))
			return
		}
		if purged > 0 {
			logger.Info("purged completed collections",
				zap.Int64("count", purged),
				zap.Time("before", before),
			)
		}
	}
}
