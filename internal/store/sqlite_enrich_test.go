package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/insightlabs/insightcore/internal/types"
)

func TestGetPendingPostsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "newest"}, {Title: "oldest"}, {Title: "middle"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	now := time.Now().UTC()
	setCreatedAt(t, s, created[0].PID, now)
	setCreatedAt(t, s, created[1].PID, now.Add(-2*time.Hour))
	setCreatedAt(t, s, created[2].PID, now.Add(-time.Hour))

	pending, err := s.GetPendingPosts(ctx, "fitness", now, 10)
	if err != nil {
		t.Fatalf("GetPendingPosts() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}
	if pending[0].Title != "oldest" || pending[1].Title != "middle" || pending[2].Title != "newest" {
		t.Errorf("order = [%s %s %s], want oldest first",
			pending[0].Title, pending[1].Title, pending[2].Title)
	}

	limited, err := s.GetPendingPosts(ctx, "fitness", now, 2)
	if err != nil {
		t.Fatalf("GetPendingPosts() error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("got %d pending with limit 2, want 2", len(limited))
	}
	if limited[0].Title != "oldest" {
		t.Errorf("limited selection should still start at the oldest post")
	}
}

func TestGetPendingPostsCooldown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "never attempted"},
		{Title: "attempted recently"},
		{Title: "attempted long ago"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	if err := s.StampAttempts(ctx, "fitness", []string{created[1].PID}, now.Add(-time.Hour)); err != nil {
		t.Fatalf("StampAttempts() error = %v", err)
	}
	if err := s.StampAttempts(ctx, "fitness", []string{created[2].PID}, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("StampAttempts() error = %v", err)
	}

	pending, err := s.GetPendingPosts(ctx, "fitness", cutoff, 10)
	if err != nil {
		t.Fatalf("GetPendingPosts() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2 (recent attempt inside cooldown)", len(pending))
	}
	got := map[string]bool{}
	for _, p := range pending {
		got[p.Title] = true
	}
	if !got["never attempted"] || !got["attempted long ago"] {
		t.Errorf("pending = %v, want never-attempted and stale-attempt posts", got)
	}
}

func TestGetPendingPostsExcludesEnrichedAndDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "enriched"}, {Title: "deleted"}, {Title: "pending"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	now := time.Now().UTC()
	if _, err := s.ApplyEnrichment(ctx, "fitness", now, []EnrichmentUpdate{
		{PID: created[0].PID, Embedding: testVector(0), Category: "other", Confidence: 0.5},
	}); err != nil {
		t.Fatalf("ApplyEnrichment() error = %v", err)
	}
	if err := s.SoftDeletePost(ctx, "fitness", created[1].PID); err != nil {
		t.Fatalf("SoftDeletePost() error = %v", err)
	}

	pending, err := s.GetPendingPosts(ctx, "fitness", now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("GetPendingPosts() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "pending" {
		t.Fatalf("pending = %v, want only the untouched post", pending)
	}
}

func TestGetPendingPostsVerticalIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreatePosts(ctx, "fitness", []types.NewPost{{Title: "mine"}}); err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}
	if _, err := s.CreatePosts(ctx, "nutrition", []types.NewPost{{Title: "theirs"}}); err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	pending, err := s.GetPendingPosts(ctx, "fitness", time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("GetPendingPosts() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "mine" {
		t.Fatalf("pending = %v, want only this vertical's post", pending)
	}

	if _, err := s.GetPendingPosts(ctx, "", time.Now().UTC(), 10); !errors.Is(err, ErrEmptyVertical) {
		t.Errorf("empty vertical error = %v, want ErrEmptyVertical", err)
	}
}

func TestApplyEnrichmentFullWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{{Title: "a leak"}})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	now := time.Now().UTC()
	applied, err := s.ApplyEnrichment(ctx, "fitness", now, []EnrichmentUpdate{
		{PID: created[0].PID, Embedding: testVector(1), Category: "problem", Confidence: 0.99},
	})
	if err != nil {
		t.Fatalf("ApplyEnrichment() error = %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	post, err := s.GetPost(ctx, "fitness", created[0].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if post.State() != types.StateEnriched {
		t.Errorf("state = %q, want enriched", post.State())
	}
	if post.Category != "problem" {
		t.Errorf("category = %q, want problem", post.Category)
	}
	if post.Confidence == nil || *post.Confidence != 0.99 {
		t.Errorf("confidence = %v, want 0.99", post.Confidence)
	}
	if len(post.Embedding) != types.EmbeddingDimensions {
		t.Errorf("embedding has %d dims, want %d", len(post.Embedding), types.EmbeddingDimensions)
	}
	if post.EnrichedAt == nil || post.EmbeddingAttemptAt == nil {
		t.Error("enriched_at and embedding_attempt_at must both be stamped")
	}
}

// A nil embedding stamps the attempt only: the post stays unembedded but
// drops out of the pending set until the cooldown passes.
func TestApplyEnrichmentAttemptOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{{Title: "blank"}})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	now := time.Now().UTC()
	applied, err := s.ApplyEnrichment(ctx, "fitness", now, []EnrichmentUpdate{
		{PID: created[0].PID},
	})
	if err != nil {
		t.Fatalf("ApplyEnrichment() error = %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 for attempt-only update", applied)
	}

	post, err := s.GetPost(ctx, "fitness", created[0].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if post.Embedding != nil || post.EnrichedAt != nil {
		t.Error("attempt-only update must not write an embedding")
	}
	if post.EmbeddingAttemptAt == nil {
		t.Fatal("attempt timestamp was not stamped")
	}
	if post.State() != types.StateFailedRetryable {
		t.Errorf("state = %q, want failed_retryable", post.State())
	}
}

func TestApplyEnrichmentSkipsVanishedAndDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "kept"}, {Title: "deleted"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}
	if err := s.SoftDeletePost(ctx, "fitness", created[1].PID); err != nil {
		t.Fatalf("SoftDeletePost() error = %v", err)
	}

	now := time.Now().UTC()
	applied, err := s.ApplyEnrichment(ctx, "fitness", now, []EnrichmentUpdate{
		{PID: created[0].PID, Embedding: testVector(0), Category: "other", Confidence: 0.5},
		{PID: created[1].PID, Embedding: testVector(1), Category: "other", Confidence: 0.5},
		{PID: "gone", Embedding: testVector(2), Category: "other", Confidence: 0.5},
	})
	if err != nil {
		t.Fatalf("ApplyEnrichment() error = %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (deleted and vanished skipped)", applied)
	}

	// The deleted row must be untouched.
	var attemptAt any
	if err := s.db.QueryRow(
		"SELECT embedding_attempt_at FROM posts WHERE pid = ?", created[1].PID,
	).Scan(&attemptAt); err != nil {
		t.Fatalf("query deleted row: %v", err)
	}
	if attemptAt != nil {
		t.Error("deleted post must not be stamped")
	}
}

// A dimension violation aborts the whole batch: nothing from it commits,
// not even updates that preceded the bad one.
func TestApplyEnrichmentBadDimensionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "good"}, {Title: "bad"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	now := time.Now().UTC()
	_, err = s.ApplyEnrichment(ctx, "fitness", now, []EnrichmentUpdate{
		{PID: created[0].PID, Embedding: testVector(0), Category: "other", Confidence: 0.5},
		{PID: created[1].PID, Embedding: []float32{1, 2, 3}, Category: "other", Confidence: 0.5},
	})
	if !errors.Is(err, ErrBadDimension) {
		t.Fatalf("error = %v, want ErrBadDimension", err)
	}

	post, err := s.GetPost(ctx, "fitness", created[0].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if post.Embedding != nil || post.EmbeddingAttemptAt != nil {
		t.Error("rolled-back batch must leave earlier updates unwritten")
	}
}

func TestApplyEnrichmentEmptyBatch(t *testing.T) {
	s := newTestStore(t)

	applied, err := s.ApplyEnrichment(context.Background(), "fitness", time.Now().UTC(), nil)
	if err != nil {
		t.Fatalf("ApplyEnrichment() error = %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
}

func TestStampAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	at := time.Now().UTC()
	pids := []string{created[0].PID, created[1].PID}
	if err := s.StampAttempts(ctx, "fitness", pids, at); err != nil {
		t.Fatalf("StampAttempts() error = %v", err)
	}

	for _, pid := range pids {
		post, err := s.GetPost(ctx, "fitness", pid)
		if err != nil {
			t.Fatalf("GetPost() error = %v", err)
		}
		if post.EmbeddingAttemptAt == nil {
			t.Errorf("post %s not stamped", pid)
		} else if !post.EmbeddingAttemptAt.Equal(at) {
			t.Errorf("post %s stamped at %v, want %v", pid, post.EmbeddingAttemptAt, at)
		}
	}

	untouched, err := s.GetPost(ctx, "fitness", created[2].PID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if untouched.EmbeddingAttemptAt != nil {
		t.Error("post outside the batch was stamped")
	}

	if err := s.StampAttempts(ctx, "fitness", nil, at); err != nil {
		t.Errorf("empty pid list should be a no-op, got %v", err)
	}
}

func TestEnrichmentStatsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePosts(ctx, "fitness", []types.NewPost{
		{Title: "enriched"}, {Title: "attempted"}, {Title: "fresh"}, {Title: "deleted"},
	})
	if err != nil {
		t.Fatalf("CreatePosts() error = %v", err)
	}

	now := time.Now().UTC()
	if _, err := s.ApplyEnrichment(ctx, "fitness", now, []EnrichmentUpdate{
		{PID: created[0].PID, Embedding: testVector(0), Category: "other", Confidence: 0.5},
		{PID: created[1].PID},
	}); err != nil {
		t.Fatalf("ApplyEnrichment() error = %v", err)
	}
	if err := s.SoftDeletePost(ctx, "fitness", created[3].PID); err != nil {
		t.Fatalf("SoftDeletePost() error = %v", err)
	}

	stats, err := s.EnrichmentStats(ctx, "fitness")
	if err != nil {
		t.Fatalf("EnrichmentStats() error = %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3 (deleted excluded)", stats.Total)
	}
	if stats.Pending != 2 {
		t.Errorf("Pending = %d, want 2", stats.Pending)
	}
	if stats.Attempted != 1 {
		t.Errorf("Attempted = %d, want 1", stats.Attempted)
	}
	if stats.Enriched != 1 {
		t.Errorf("Enriched = %d, want 1", stats.Enriched)
	}
}
