package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/insightlabs/insightcore/internal/types"
)

// ReplaceClusters swaps the vertical's cluster generation in one
// transaction: previous clusters are removed, the new set is inserted,
// and each listed post is stamped with its cluster assignment. Posts not
// present in assignments keep their old cluster_id cleared.
func (s *SQLiteStore) ReplaceClusters(ctx context.Context, vertical string, clusters []types.Cluster, assignments map[string]string) error {
	if vertical == "" {
		return ErrEmptyVertical
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM clusters WHERE vertical = ?", vertical); err != nil {
		return fmt.Errorf("delete old clusters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE posts SET cluster_id = NULL WHERE vertical = ?", vertical); err != nil {
		return fmt.Errorf("clear cluster assignments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO clusters (id, vertical, label, summary, n_posts, last_post_at, centroid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range clusters {
		var lastPostAt any
		if c.LastPostAt != nil {
			lastPostAt = formatTime(*c.LastPostAt)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, vertical, c.Label, c.Summary, c.NPosts,
			lastPostAt, packEmbedding(c.Centroid), formatTime(c.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert cluster %s: %w", c.ID, err)
		}
	}

	for pid, clusterID := range assignments {
		if _, err := tx.ExecContext(ctx,
			"UPDATE posts SET cluster_id = ? WHERE pid = ? AND vertical = ?",
			clusterID, pid, vertical,
		); err != nil {
			return fmt.Errorf("assign cluster for %s: %w", pid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ListClusters returns the vertical's clusters, largest first.
func (s *SQLiteStore) ListClusters(ctx context.Context, vertical string) ([]types.Cluster, error) {
	if vertical == "" {
		return nil, ErrEmptyVertical
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vertical, label, summary, n_posts, last_post_at, centroid, created_at
		FROM clusters
		WHERE vertical = ?
		ORDER BY n_posts DESC, id ASC
	`, vertical)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []types.Cluster
	for rows.Next() {
		var c types.Cluster
		var summary, lastPostAt sql.NullString
		var centroid []byte
		var createdAt string

		if err := rows.Scan(&c.ID, &c.Vertical, &c.Label, &summary, &c.NPosts, &lastPostAt, &centroid, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if summary.Valid {
			c.Summary = summary.String
		}
		if lastPostAt.Valid {
			if t, ok := parseTime(lastPostAt.String); ok {
				c.LastPostAt = &t
			}
		}
		if len(centroid) > 0 {
			c.Centroid = unpackEmbedding(centroid)
		}
		if t, ok := parseTime(createdAt); ok {
			c.CreatedAt = t
		}
		clusters = append(clusters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return clusters, nil
}
