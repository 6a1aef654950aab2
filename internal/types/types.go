package types

import "time"

// EmbeddingDimensions is the fixed length of every stored embedding vector.
// The store rejects any vector of a different length.
const EmbeddingDimensions = 384

// Post represents a unit of forum content subject to enrichment.
type Post struct {
	PID        string            `json:"pid"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Vertical   string            `json:"vertical"`
	Category   string            `json:"category,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Score      *float64          `json:"score,omitempty"`
	NComments  int               `json:"n_comments"`
	ClusterID  string            `json:"cluster_id,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Embedding  []float32         `json:"-"`

	EnrichedAt         *time.Time `json:"enriched_at,omitempty"`
	EmbeddingAttemptAt *time.Time `json:"embedding_attempt_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"-"`
}

// PostState classifies a post's position in the enrichment lifecycle.
// It is derived from the timestamp fields, never persisted directly.
type PostState string

const (
	StatePending         PostState = "pending"
	StateFailedRetryable PostState = "failed_retryable"
	StateEnriched        PostState = "enriched"
	StateDeleted         PostState = "deleted"
)

// State derives the lifecycle state from the post's timestamp fields.
func (p *Post) State() PostState {
	switch {
	case p.DeletedAt != nil:
		return StateDeleted
	case p.EnrichedAt != nil && p.Embedding != nil:
		return StateEnriched
	case p.EmbeddingAttemptAt != nil && p.Embedding == nil:
		return StateFailedRetryable
	default:
		return StatePending
	}
}

// NewPost carries the caller-supplied fields for post creation.
type NewPost struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Tags      map[string]string `json:"tags,omitempty"`
	Score     *float64          `json:"score,omitempty"`
	NComments int               `json:"n_comments,omitempty"`
}

// PostPatch carries optional fields for a partial update.
// Nil pointers leave the stored value untouched.
type PostPatch struct {
	Title     *string           `json:"title,omitempty"`
	Body      *string           `json:"body,omitempty"`
	Category  *string           `json:"category,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Score     *float64          `json:"score,omitempty"`
	NComments *int              `json:"n_comments,omitempty"`
	Summary   *string           `json:"summary,omitempty"`
}

// PostList is a paginated slice of posts.
type PostList struct {
	Total   int64  `json:"total"`
	Items   []Post `json:"items"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
}

// ScoredPost pairs a post with its semantic similarity score.
type ScoredPost struct {
	Post
	SimScore float64 `json:"sim_score"`
}

// EnrichmentSummary is the result of one pipeline driver run.
type EnrichmentSummary struct {
	Vertical  string `json:"vertical"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// EnrichmentStats reports the enrichment backlog for a vertical.
type EnrichmentStats struct {
	Vertical  string `json:"vertical"`
	Pending   int64  `json:"pending"`
	Attempted int64  `json:"attempted"`
	Enriched  int64  `json:"enriched"`
	Total     int64  `json:"total"`
}

// Cluster is a semantic grouping of enriched posts.
type Cluster struct {
	ID         string     `json:"id"`
	Vertical   string     `json:"vertical"`
	Label      string     `json:"label"`
	Summary    string     `json:"summary,omitempty"`
	NPosts     int        `json:"n_posts"`
	LastPostAt *time.Time `json:"last_post_at,omitempty"`
	Centroid   []float32  `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status     string `json:"status"`
	DB         string `json:"db"`
	Version    string `json:"version"`
	Vertical   string `json:"vertical"`
	TotalPosts int64  `json:"total_posts"`
	Model      string `json:"model"`
}
