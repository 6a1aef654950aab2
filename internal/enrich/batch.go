package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightlabs/insightcore/internal/encoding"
	"github.com/insightlabs/insightcore/internal/metrics"
	"github.com/insightlabs/insightcore/internal/store"
	"github.com/insightlabs/insightcore/internal/types"
	"github.com/sethvargo/go-retry"
)

// EnrichmentStore defines the store operations the pipeline needs.
// Implemented by store.SQLiteStore.
type EnrichmentStore interface {
	GetPendingPosts(ctx context.Context, vertical string, cutoff time.Time, limit int) ([]types.Post, error)
	ApplyEnrichment(ctx context.Context, vertical string, now time.Time, updates []store.EnrichmentUpdate) (int, error)
	StampAttempts(ctx context.Context, vertical string, pids []string, at time.Time) error
}

// BatchRunner drives one bounded batch of posts through preprocessing,
// a single batch encode call and one transactional write-back.
type BatchRunner struct {
	store      EnrichmentStore
	encoder    encoding.Encoder
	classifier Classifier
	collector  metrics.Collector

	vertical      string
	maxWords      int
	encodeTimeout time.Duration
	dbTimeout     time.Duration
	maxAttempts   int
}

// NewBatchRunner creates a runner for the given vertical.
func NewBatchRunner(
	s EnrichmentStore,
	e encoding.Encoder,
	c Classifier,
	collector metrics.Collector,
	vertical string,
	maxWords int,
	encodeTimeout time.Duration,
	dbTimeout time.Duration,
	maxAttempts int,
) *BatchRunner {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &BatchRunner{
		store:         s,
		encoder:       e,
		classifier:    c,
		collector:     collector,
		vertical:      vertical,
		maxWords:      maxWords,
		encodeTimeout: encodeTimeout,
		dbTimeout:     dbTimeout,
		maxAttempts:   maxAttempts,
	}
}

// ProcessBatch enriches one batch of posts, returning the count fully
// enriched. The whole operation (encode + transactional write) retries
// with bounded exponential backoff on transient infrastructure failures;
// item-level defects (empty text, nil vector, wrong dimension) are
// skipped with only their attempt timestamp stamped, deferring them to
// the cooldown window. Exhausted retries surface the last error; the
// caller is expected to stamp the batch's attempt timestamps defensively.
func (r *BatchRunner) ProcessBatch(ctx context.Context, posts []types.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	texts := make([]string, len(posts))
	for i, post := range posts {
		texts[i] = Preprocess(post.Title, post.Body, r.maxWords)
	}

	backoff := retry.WithMaxRetries(uint64(r.maxAttempts-1),
		retry.WithCappedDuration(10*time.Second, retry.NewExponential(2*time.Second)))

	var processed int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := r.runOnce(ctx, posts, texts)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, store.ErrBadDimension) {
				return err
			}
			slog.Warn("batch attempt failed, will retry",
				"component", "enrich",
				"vertical", r.vertical,
				"batch_size", len(posts),
				"error", err,
			)
			return retry.RetryableError(err)
		}
		processed = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	return processed, nil
}

// runOnce performs a single encode-and-persist attempt for the batch.
func (r *BatchRunner) runOnce(ctx context.Context, posts []types.Post, texts []string) (int, error) {
	encodeCtx, cancel := context.WithTimeout(ctx, r.encodeTimeout)
	defer cancel()

	start := time.Now()
	vectors, err := r.encoder.EncodeBatch(encodeCtx, texts)
	encodeDur := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("encode batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("encode batch: got %d vectors for %d inputs", len(vectors), len(texts))
	}

	updates := make([]store.EnrichmentUpdate, 0, len(posts))
	var ok, failed int
	for i, post := range posts {
		update := store.EnrichmentUpdate{PID: post.PID}

		switch {
		case strings.TrimSpace(texts[i]) == "":
			slog.Warn("post has no encodable text, skipped",
				"component", "enrich",
				"vertical", r.vertical,
				"pid", post.PID,
			)
			failed++
		case vectors[i] == nil:
			slog.Warn("encoder returned no vector, skipped",
				"component", "enrich",
				"vertical", r.vertical,
				"pid", post.PID,
			)
			failed++
		case len(vectors[i]) != r.encoder.Dimensions():
			slog.Warn("embedding has wrong dimension, skipped",
				"component", "enrich",
				"vertical", r.vertical,
				"pid", post.PID,
				"got", len(vectors[i]),
				"want", r.encoder.Dimensions(),
			)
			failed++
		default:
			update.Embedding = vectors[i]
			update.Category, update.Confidence = r.classifier.Classify(texts[i])
			ok++
		}

		updates = append(updates, update)
	}

	writeCtx, cancelWrite := context.WithTimeout(ctx, r.dbTimeout)
	defer cancelWrite()

	applied, err := r.store.ApplyEnrichment(writeCtx, r.vertical, time.Now().UTC(), updates)
	if err != nil {
		return 0, fmt.Errorf("apply enrichment: %w", err)
	}

	r.collector.RecordEncodeBatch(ok, failed, encodeDur)

	return applied, nil
}
