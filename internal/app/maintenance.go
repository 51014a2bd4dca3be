package app

import (
	"context"
	"log/slog"
	"time"
)

// MaintenanceTask is one periodic sweep, returning how many rows it touched.
type MaintenanceTask struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// RunMaintenance executes every task once per interval until the context is
// cancelled. A failing task is logged and retried on the next tick; it never
// stops the loop.
func RunMaintenance(ctx context.Context, logger *slog.Logger, interval time.Duration, tasks ...MaintenanceTask) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runMaintenanceSweep(ctx, logger, tasks)
		}
	}
}

func runMaintenanceSweep(ctx context.Context, logger *slog.Logger, tasks []MaintenanceTask) {
	for _, task := range tasks {
		affected, err := task.Run(ctx)
		if err != nil {
			logger.Error("maintenance task failed", "task", task.Name, "error", err)
			continue
		}
		if affected > 0 {
			logger.Info("maintenance task completed", "task", task.Name, "affected", affected)
		}
	}
}
