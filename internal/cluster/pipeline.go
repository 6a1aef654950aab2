package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/insightlabs/insightcore/internal/store"
	"github.com/insightlabs/insightcore/internal/types"
)

// maxIterations bounds Lloyd refinement per generation.
const maxIterations = 50

// summaryTitleBudget caps the joined-title excerpt used as a cluster
// summary placeholder until a real summarizer is wired.
const summaryTitleBudget = 120

// ClusterStore defines the store operations the pipeline needs.
// Implemented by store.SQLiteStore.
type ClusterStore interface {
	EnrichedEmbeddings(ctx context.Context, vertical string) ([]store.PostVector, error)
	ReplaceClusters(ctx context.Context, vertical string, clusters []types.Cluster, assignments map[string]string) error
}

// Summary is the result of one clustering run.
type Summary struct {
	Vertical string `json:"vertical"`
	Clusters int    `json:"clusters"`
	Posts    int    `json:"posts"`
}

// Pipeline regroups a vertical's enriched posts into semantic clusters.
type Pipeline struct {
	store    ClusterStore
	vertical string
}

// NewPipeline creates a clustering pipeline for the given vertical.
func NewPipeline(s ClusterStore, vertical string) *Pipeline {
	return &Pipeline{store: s, vertical: vertical}
}

// Run fetches every enriched embedding for the vertical, clusters them
// and swaps in the new cluster generation. No enriched posts is a
// zero-count summary, never an error.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Vertical: p.vertical}

	vectors, err := p.store.EnrichedEmbeddings(ctx, p.vertical)
	if err != nil {
		return summary, fmt.Errorf("fetch enriched embeddings: %w", err)
	}
	if len(vectors) == 0 {
		slog.Info("no embeddings available for clustering",
			"component", "cluster",
			"vertical", p.vertical,
		)
		return summary, nil
	}
	summary.Posts = len(vectors)

	embeddings := make([][]float32, len(vectors))
	for i, v := range vectors {
		embeddings[i] = v.Embedding
	}

	k := ChooseK(len(embeddings))
	result := KMeans(embeddings, k, maxIterations)

	clusters, assignments := p.buildClusters(vectors, result)
	summary.Clusters = len(clusters)

	if err := p.store.ReplaceClusters(ctx, p.vertical, clusters, assignments); err != nil {
		return summary, fmt.Errorf("replace clusters: %w", err)
	}

	slog.Info("clustering run completed",
		"component", "cluster",
		"vertical", p.vertical,
		"clusters", summary.Clusters,
		"posts", summary.Posts,
	)

	return summary, nil
}

// buildClusters converts raw assignments into persistable clusters,
// dropping empty groups. Assignment maps post ID to cluster ID.
func (p *Pipeline) buildClusters(vectors []store.PostVector, result Result) ([]types.Cluster, map[string]string) {
	now := time.Now().UTC()
	members := make(map[int][]store.PostVector)
	for i, v := range vectors {
		j := result.Assignments[i]
		members[j] = append(members[j], v)
	}

	var clusters []types.Cluster
	assignments := make(map[string]string, len(vectors))

	for j, centroid := range result.Centroids {
		group := members[j]
		if len(group) == 0 {
			continue
		}

		id := ulid.Make().String()
		titles := make([]string, len(group))
		var lastPostAt *time.Time
		for i, v := range group {
			titles[i] = v.Title
			assignments[v.PID] = id
			if t, err := time.Parse(time.RFC3339Nano, v.CreatedAt); err == nil {
				if lastPostAt == nil || t.After(*lastPostAt) {
					utc := t.UTC()
					lastPostAt = &utc
				}
			}
		}

		joined := truncateExcerpt(strings.Join(titles, " | "))

		clusters = append(clusters, types.Cluster{
			ID:         id,
			Vertical:   p.vertical,
			Label:      fmt.Sprintf("Cluster %d", len(clusters)),
			Summary:    fmt.Sprintf("Theme of %d posts: %s", len(group), joined),
			NPosts:     len(group),
			LastPostAt: lastPostAt,
			Centroid:   centroid,
			CreatedAt:  now,
		})
	}

	return clusters, assignments
}

// truncateExcerpt caps s at summaryTitleBudget bytes without splitting a
// multi-byte rune.
func truncateExcerpt(s string) string {
	if len(s) <= summaryTitleBudget {
		return s
	}
	cut := summaryTitleBudget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
