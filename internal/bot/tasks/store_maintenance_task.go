package tasks

import (
	"context"
	"fmt"
	"time"
)

const maintenanceTimeout = 10 * time.Minute

// newStoreMaintenanceTask creates the task that compacts the store.
func newStoreMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "store_maintenance")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled store maintenance task...")
		startTime := time.Now()

		ctx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
		defer cancel()

		err := deps.Store.RunMaintenance(ctx)
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Store maintenance task failed", "error", err, "duration", duration)
			return fmt.Errorf("store maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled store maintenance task completed successfully", "duration", duration)
		return nil
	}
}
