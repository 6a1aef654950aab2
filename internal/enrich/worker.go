package enrich

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs the pipeline driver on a fixed interval. A run error is
// logged, never fatal; the affected posts re-enter the pending set after
// the cooldown and the next tick carries on.
type Worker struct {
	driver   *Driver
	interval time.Duration
}

// NewWorker creates a worker around the given driver.
func NewWorker(driver *Driver, interval time.Duration) *Worker {
	return &Worker{driver: driver, interval: interval}
}

// Run starts the worker loop. It blocks until ctx is cancelled.
//
// The first run happens immediately on start so posts left pending by a
// previous process do not wait a full interval.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("enrichment worker started",
		"component", "worker",
		"worker", "enrich",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("enrichment worker stopped",
				"component", "worker",
				"worker", "enrich",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	summary, err := w.driver.Run(ctx, 0)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("enrichment run failed",
			"component", "worker",
			"worker", "enrich",
			"vertical", summary.Vertical,
			"processed", summary.Processed,
			"error", err,
		)
		return
	}

	if summary.Processed > 0 {
		slog.Info("enrichment run succeeded",
			"component", "worker",
			"worker", "enrich",
			"vertical", summary.Vertical,
			"processed", summary.Processed,
			"total", summary.Total,
		)
	}
}
