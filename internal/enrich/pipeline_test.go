package enrich

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/insightlabs/insightcore/internal/encoding"
	"github.com/insightlabs/insightcore/internal/store"
	"github.com/insightlabs/insightcore/internal/types"
)

// newPipeline wires a real store and the deterministic local encoder into
// a driver, the same assembly the server performs at startup.
func newPipeline(t *testing.T, vertical string) (*store.SQLiteStore, *Driver) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	encoder := encoding.NewLocal(types.EmbeddingDimensions)
	runner := NewBatchRunner(s, encoder, NewKeywordClassifier(), nil, vertical, 250, time.Minute, 5*time.Second, 1)
	driver := NewDriver(s, runner, nil, vertical, 100, 1000, 24*time.Hour, 5*time.Second)

	return s, driver
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	s, driver := newPipeline(t, "fitness")

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "Recurring leak", Body: "water pooling under the sink every morning"},
		{Title: "", Body: "   "},
		{Title: "Favorite trail mix", Body: "what do you snack on during long rides"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	summary, err := driver.Run(ctx, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 3 {
		t.Errorf("Total = %d, want 3", summary.Total)
	}
	if summary.Processed != 2 {
		t.Errorf("Processed = %d, want 2 (blank post skipped)", summary.Processed)
	}

	leak, err := s.GetPost(ctx, "fitness", created[0].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if leak.State() != types.StateEnriched {
		t.Errorf("leak post state = %q, want enriched", leak.State())
	}
	if leak.Category != "problem" {
		t.Errorf("leak post category = %q, want problem", leak.Category)
	}
	if len(leak.Embedding) != types.EmbeddingDimensions {
		t.Errorf("leak post embedding has %d dims, want %d", len(leak.Embedding), types.EmbeddingDimensions)
	}

	blank, err := s.GetPost(ctx, "fitness", created[1].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if blank.Embedding != nil {
		t.Error("blank post should have no embedding")
	}
	if blank.EmbeddingAttemptAt == nil {
		t.Error("blank post should have its attempt stamped")
	}
	if blank.State() != types.StateFailedRetryable {
		t.Errorf("blank post state = %q, want failed_retryable", blank.State())
	}

	other, err := s.GetPost(ctx, "fitness", created[2].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if other.Category != "other" {
		t.Errorf("trail mix post category = %q, want other", other.Category)
	}
}

// A second run right after the first finds nothing: enriched posts are
// done and the skipped post is inside its cooldown window.
func TestPipelineIdempotent(t *testing.T) {
	ctx := context.Background()
	s, driver := newPipeline(t, "fitness")

	if _, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "Broken derailleur", Body: "shifting skips under load"},
		{Title: "", Body: ""},
	}); err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	first, err := driver.Run(ctx, 0)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.Total != 2 {
		t.Errorf("first Total = %d, want 2", first.Total)
	}

	second, err := driver.Run(ctx, 0)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Total != 0 || second.Processed != 0 {
		t.Errorf("second run summary = %+v, want zero counts", second)
	}
}

func TestPipelineVerticalIsolation(t *testing.T) {
	ctx := context.Background()
	s, driver := newPipeline(t, "fitness")

	if _, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "Knee pain", Body: "after long runs"},
	}); err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}
	foreign, err := s.CreatePosts(ctx, "nutrition", []types.NewPost{
		{Title: "Protein timing", Body: "before or after training"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	summary, err := driver.Run(ctx, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 1 {
		t.Errorf("Total = %d, want 1 (other vertical untouched)", summary.Total)
	}

	post, err := s.GetPost(ctx, "nutrition", foreign[0].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if post.State() != types.StatePending {
		t.Errorf("foreign post state = %q, want pending", post.State())
	}
}

func TestPipelineStatsAfterRun(t *testing.T) {
	ctx := context.Background()
	s, driver := newPipeline(t, "fitness")

	if _, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "Leak in the basement", Body: "slow drip from the ceiling"},
		{Title: "", Body: ""},
	}); err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	if _, err := driver.Run(ctx, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats, err := s.EnrichmentStats(ctx, "fitness")
	if err != nil {
		t.Fatalf("EnrichmentStats() error = %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Enriched != 1 {
		t.Errorf("Enriched = %d, want 1", stats.Enriched)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1 (skipped post still lacks an embedding)", stats.Pending)
	}
	if stats.Attempted != 1 {
		t.Errorf("Attempted = %d, want 1", stats.Attempted)
	}
}
