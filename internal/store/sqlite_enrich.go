package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightlabs/insightcore/internal/types"
)

// GetPendingPosts selects posts eligible for enrichment: not deleted, no
// embedding, and either never attempted or attempted before the cutoff.
// Results are ordered by creation time ascending so the oldest pending
// posts are always served first.
func (s *SQLiteStore) GetPendingPosts(ctx context.Context, vertical string, cutoff time.Time, limit int) ([]types.Post, error) {
	if vertical == "" {
		return nil, ErrEmptyVertical
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE vertical = ?
		  AND deleted_at IS NULL
		  AND embedding IS NULL
		  AND (embedding_attempt_at IS NULL OR embedding_attempt_at < ?)
		ORDER BY created_at ASC, pid ASC
		LIMIT ?
	`, vertical, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending posts: %w", err)
	}
	defer rows.Close()

	var posts []types.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		posts = append(posts, *post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return posts, nil
}

// EnrichmentUpdate carries the outcome of one post's enrichment attempt.
// A nil Embedding records the attempt timestamp only (skip or failure);
// a non-nil Embedding additionally persists the vector, classification
// and enriched_at marker.
type EnrichmentUpdate struct {
	PID        string
	Embedding  []float32
	Category   string
	Confidence float64
}

// ApplyEnrichment applies a batch of enrichment outcomes in one
// transaction. Each post's current row is re-fetched inside the
// transaction before mutation; posts deleted or removed since selection
// are skipped. The attempt timestamp is stamped for every present post
// regardless of outcome. The commit is all-or-nothing for the batch.
// Returns the number of posts fully enriched.
func (s *SQLiteStore) ApplyEnrichment(ctx context.Context, vertical string, now time.Time, updates []EnrichmentUpdate) (int, error) {
	if vertical == "" {
		return 0, ErrEmptyVertical
	}
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	nowStr := formatTime(now)
	var applied int

	for _, u := range updates {
		// Re-fetch current state inside this transaction; the batch was
		// selected in an earlier, now-closed transactional scope.
		var deletedAt sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT deleted_at FROM posts WHERE pid = ? AND vertical = ?",
			u.PID, vertical,
		).Scan(&deletedAt)
		if err == sql.ErrNoRows {
			slog.Warn("post vanished before enrichment write",
				"component", "store",
				"pid", u.PID,
			)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("refetch post %s: %w", u.PID, err)
		}
		if deletedAt.Valid {
			slog.Warn("post soft-deleted before enrichment write",
				"component", "store",
				"pid", u.PID,
			)
			continue
		}

		if u.Embedding == nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE posts SET embedding_attempt_at = ?, updated_at = ? WHERE pid = ?
			`, nowStr, nowStr, u.PID); err != nil {
				return 0, fmt.Errorf("stamp attempt for %s: %w", u.PID, err)
			}
			continue
		}

		if len(u.Embedding) != types.EmbeddingDimensions {
			return 0, fmt.Errorf("post %s: %w: got %d, want %d",
				u.PID, ErrBadDimension, len(u.Embedding), types.EmbeddingDimensions)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE posts
			SET embedding = ?, category = ?, confidence = ?,
			    enriched_at = ?, embedding_attempt_at = ?, updated_at = ?
			WHERE pid = ?
		`, packEmbedding(u.Embedding), u.Category, u.Confidence,
			nowStr, nowStr, nowStr, u.PID); err != nil {
			return 0, fmt.Errorf("persist enrichment for %s: %w", u.PID, err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return applied, nil
}

// StampAttempts bulk-updates embedding_attempt_at for the given posts.
// This is the fallback path after a batch fails all its retries, so the
// batch does not become immediately eligible again.
func (s *SQLiteStore) StampAttempts(ctx context.Context, vertical string, pids []string, at time.Time) error {
	if vertical == "" {
		return ErrEmptyVertical
	}
	if len(pids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(pids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(pids)+3)
	atStr := formatTime(at)
	args = append(args, atStr, atStr, vertical)
	for _, pid := range pids {
		args = append(args, pid)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET embedding_attempt_at = ?, updated_at = ?
		WHERE vertical = ? AND pid IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("stamp attempts: %w", err)
	}

	return nil
}

// EnrichmentStats reports backlog counters for the vertical.
func (s *SQLiteStore) EnrichmentStats(ctx context.Context, vertical string) (*types.EnrichmentStats, error) {
	if vertical == "" {
		return nil, ErrEmptyVertical
	}

	stats := &types.EnrichmentStats{Vertical: vertical}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN embedding IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN embedding IS NULL AND embedding_attempt_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN enriched_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM posts
		WHERE vertical = ? AND deleted_at IS NULL
	`, vertical).Scan(&stats.Total, &stats.Pending, &stats.Attempted, &stats.Enriched)
	if err != nil {
		return nil, fmt.Errorf("query enrichment stats: %w", err)
	}

	return stats, nil
}
