package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/insightlabs/insightcore/internal/types"
)

// SemanticSearch ranks the vertical's embedded posts by cosine similarity
// against the query vector. Posts without embeddings never appear.
// minScore filters low-similarity results before pagination applies.
func (s *SQLiteStore) SemanticSearch(ctx context.Context, vertical string, query []float32, minScore float64, limit, offset int) ([]types.ScoredPost, error) {
	if vertical == "" {
		return nil, ErrEmptyVertical
	}
	if len(query) != types.EmbeddingDimensions {
		return nil, fmt.Errorf("query vector: %w: got %d, want %d",
			ErrBadDimension, len(query), types.EmbeddingDimensions)
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE vertical = ? AND deleted_at IS NULL AND embedding IS NOT NULL
	`, vertical)
	if err != nil {
		return nil, fmt.Errorf("query embedded posts: %w", err)
	}
	defer rows.Close()

	var scored []types.ScoredPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		score := float64(cosineSimilarity(query, post.Embedding))
		if score < minScore {
			continue
		}
		scored = append(scored, types.ScoredPost{Post: *post, SimScore: score})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].SimScore > scored[j].SimScore
	})

	if offset >= len(scored) {
		return nil, nil
	}
	scored = scored[offset:]
	if len(scored) > limit {
		scored = scored[:limit]
	}

	return scored, nil
}

// PostVector pairs a post's identity with its stored embedding, for
// consumers that only need the vectors (clustering).
type PostVector struct {
	PID       string
	Title     string
	CreatedAt string
	Embedding []float32
}

// EnrichedEmbeddings returns the embedding of every enriched post in the
// vertical, oldest first.
func (s *SQLiteStore) EnrichedEmbeddings(ctx context.Context, vertical string) ([]PostVector, error) {
	if vertical == "" {
		return nil, ErrEmptyVertical
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pid, title, created_at, embedding
		FROM posts
		WHERE vertical = ? AND deleted_at IS NULL
		  AND embedding IS NOT NULL AND enriched_at IS NOT NULL
		ORDER BY created_at ASC, pid ASC
	`, vertical)
	if err != nil {
		return nil, fmt.Errorf("query enriched embeddings: %w", err)
	}
	defer rows.Close()

	var vectors []PostVector
	for rows.Next() {
		var pv PostVector
		var blob []byte
		if err := rows.Scan(&pv.PID, &pv.Title, &pv.CreatedAt, &blob); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		pv.Embedding = unpackEmbedding(blob)
		vectors = append(vectors, pv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return vectors, nil
}
