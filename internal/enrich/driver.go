package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/insightlabs/insightcore/internal/metrics"
	"github.com/insightlabs/insightcore/internal/types"
)

// batchProcessor abstracts BatchRunner for driver tests.
type batchProcessor interface {
	ProcessBatch(ctx context.Context, posts []types.Post) (int, error)
}

// Driver orchestrates repeated batch runs over the pending set until it
// is exhausted or a caller-supplied limit is reached.
type Driver struct {
	store     EnrichmentStore
	runner    batchProcessor
	collector metrics.Collector

	vertical   string
	batchSize  int
	batchLimit int
	cooldown   time.Duration
	dbTimeout  time.Duration
}

// NewDriver creates a pipeline driver for the given vertical.
func NewDriver(
	s EnrichmentStore,
	runner *BatchRunner,
	collector metrics.Collector,
	vertical string,
	batchSize int,
	batchLimit int,
	cooldown time.Duration,
	dbTimeout time.Duration,
) *Driver {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Driver{
		store:      s,
		runner:     runner,
		collector:  collector,
		vertical:   vertical,
		batchSize:  batchSize,
		batchLimit: batchLimit,
		cooldown:   cooldown,
		dbTimeout:  dbTimeout,
	}
}

// Run processes pending posts for the vertical, at most limit in total
// (limit <= 0 means the configured scan limit). Each iteration selects
// up to one batch of the oldest pending posts; an empty selection is the
// termination signal. "Nothing pending" is a zero-count summary, never
// an error. A batch that fails after the runner's internal retries gets
// its attempt timestamps stamped best-effort before the error surfaces,
// so the next run does not immediately reselect it.
func (d *Driver) Run(ctx context.Context, limit int) (types.EnrichmentSummary, error) {
	summary := types.EnrichmentSummary{Vertical: d.vertical}
	if limit <= 0 || limit > d.batchLimit {
		limit = d.batchLimit
	}

	start := time.Now()
	var runErr error
	defer func() {
		d.collector.RecordEnrichRun(summary.Processed, time.Since(start), runErr)
	}()

	cutoff := time.Now().UTC().Add(-d.cooldown)

	for summary.Total < limit {
		if err := ctx.Err(); err != nil {
			runErr = err
			return summary, err
		}

		want := d.batchSize
		if remaining := limit - summary.Total; remaining < want {
			want = remaining
		}

		batch, err := d.selectPending(ctx, cutoff, want)
		if err != nil {
			runErr = fmt.Errorf("select pending posts: %w", err)
			return summary, runErr
		}
		if len(batch) == 0 {
			break
		}
		summary.Total += len(batch)

		processed, err := d.runner.ProcessBatch(ctx, batch)
		summary.Processed += processed
		if err != nil {
			d.stampFallback(batch)
			runErr = fmt.Errorf("process batch: %w", err)
			return summary, runErr
		}

		slog.Info("batch processed",
			"component", "enrich",
			"vertical", d.vertical,
			"batch_size", len(batch),
			"processed", processed,
		)
	}

	if summary.Total == 0 {
		slog.Info("no pending posts",
			"component", "enrich",
			"vertical", d.vertical,
		)
		return summary, nil
	}

	slog.Info("enrichment run completed",
		"component", "enrich",
		"vertical", d.vertical,
		"processed", summary.Processed,
		"total", summary.Total,
	)

	return summary, nil
}

func (d *Driver) selectPending(ctx context.Context, cutoff time.Time, limit int) ([]types.Post, error) {
	queryCtx, cancel := context.WithTimeout(ctx, d.dbTimeout)
	defer cancel()
	return d.store.GetPendingPosts(queryCtx, d.vertical, cutoff, limit)
}

// stampFallback marks attempt timestamps for a failed batch so its posts
// leave the pending set until the cooldown elapses. Best-effort: runs on
// a fresh context because the batch context may already be dead.
func (d *Driver) stampFallback(batch []types.Post) {
	pids := make([]string, len(batch))
	for i, post := range batch {
		pids[i] = post.PID
	}

	stampCtx, cancel := context.WithTimeout(context.Background(), d.dbTimeout)
	defer cancel()

	if err := d.store.StampAttempts(stampCtx, d.vertical, pids, time.Now().UTC()); err != nil {
		slog.Error("failed to stamp attempts for failed batch",
			"component", "enrich",
			"vertical", d.vertical,
			"batch_size", len(pids),
			"error", err,
		)
	}
}
