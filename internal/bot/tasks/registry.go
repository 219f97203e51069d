package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature of every scheduled task. Tasks must
// respect ctx cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns every task keyed by the name used in the
// scheduler section of the config.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		"store_maintenance": newStoreMaintenanceTask(deps),
		"history_cleanup":   newHistoryCleanupTask(deps),
		"dialog_nudge":      newDialogNudgeTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
