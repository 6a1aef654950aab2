package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/insightlabs/insightcore/internal/cluster"
	"github.com/insightlabs/insightcore/internal/encoding"
	"github.com/insightlabs/insightcore/internal/metrics"
	"github.com/insightlabs/insightcore/internal/store"
	"github.com/insightlabs/insightcore/internal/types"
)

// EnrichRunner triggers one enrichment run on demand.
// Implemented by enrich.Driver.
type EnrichRunner interface {
	Run(ctx context.Context, limit int) (types.EnrichmentSummary, error)
}

// ClusterRunner regenerates the vertical's clusters on demand.
// Implemented by cluster.Pipeline.
type ClusterRunner interface {
	Run(ctx context.Context) (cluster.Summary, error)
}

// Handler implements the API handlers
type Handler struct {
	store     *store.SQLiteStore
	encoder   encoding.Encoder
	enricher  EnrichRunner
	clusterer ClusterRunner
	collector *metrics.Basic

	vertical    string
	version     string
	internalKey string

	countTimeout time.Duration
	queryTimeout time.Duration
}

// HandlerConfig carries the dependencies and settings for a Handler.
type HandlerConfig struct {
	Store     *store.SQLiteStore
	Encoder   encoding.Encoder
	Enricher  EnrichRunner
	Clusterer ClusterRunner
	Collector *metrics.Basic

	Vertical    string
	Version     string
	InternalKey string

	CountTimeout time.Duration
	QueryTimeout time.Duration
}

// NewHandler creates a new Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.CountTimeout <= 0 {
		cfg.CountTimeout = time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	return &Handler{
		store:        cfg.Store,
		encoder:      cfg.Encoder,
		enricher:     cfg.Enricher,
		clusterer:    cfg.Clusterer,
		collector:    cfg.Collector,
		vertical:     cfg.Vertical,
		version:      cfg.Version,
		internalKey:  cfg.InternalKey,
		countTimeout: cfg.CountTimeout,
		queryTimeout: cfg.QueryTimeout,
	}
}

// Health returns the health status, including a bounded DB probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.countTimeout)
	defer cancel()

	resp := types.HealthResponse{
		Status:   "healthy",
		DB:       "ok",
		Version:  h.version,
		Vertical: h.vertical,
		Model:    h.encoder.ModelName(),
	}

	count, err := h.store.CountPosts(ctx, store.ListOptions{Vertical: h.vertical})
	if err != nil {
		resp.Status = "degraded"
		resp.DB = "unreachable"
	} else {
		resp.TotalPosts = count
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether the service can reach its database.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.countTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListPosts handles GET /api/v1/insights/posts
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	opts, err := h.listOptions(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.respondPostList(w, r, opts)
}

// SearchPosts handles GET /api/v1/insights/posts/search
func (h *Handler) SearchPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		WriteProblem(w, r, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}

	opts, err := h.listOptions(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	opts.Query = query
	h.respondPostList(w, r, opts)
}

func (h *Handler) respondPostList(w http.ResponseWriter, r *http.Request, opts store.ListOptions) {
	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	posts, err := h.store.ListPosts(ctx, opts)
	if err != nil {
		slog.Error("list posts failed", "error", err, "vertical", h.vertical)
		MapStoreError(w, r, err)
		return
	}
	total, err := h.store.CountPosts(ctx, opts)
	if err != nil {
		slog.Error("count posts failed", "error", err, "vertical", h.vertical)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.PostList{
		Total:   total,
		Items:   posts,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: int64(opts.Offset+len(posts)) < total,
	})
}

// SemanticSearch handles GET /api/v1/insights/posts/semantic-search
func (h *Handler) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		WriteProblem(w, r, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}

	minScore := 0.0
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid min_score")
			return
		}
		minScore = parsed
	}
	limit, offset, err := pagination(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	vectors, err := h.encoder.EncodeBatch(ctx, []string{query})
	if err != nil {
		slog.Error("query embedding failed", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Embedding service unavailable")
		return
	}
	if len(vectors) != 1 || vectors[0] == nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Query could not be embedded")
		return
	}

	results, err := h.store.SemanticSearch(ctx, h.vertical, vectors[0], minScore, limit, offset)
	if err != nil {
		slog.Error("semantic search failed", "error", err, "vertical", h.vertical)
		MapStoreError(w, r, err)
		return
	}
	if results == nil {
		results = []types.ScoredPost{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

// CreatePostsRequest is the payload for POST /api/v1/insights/posts.
type CreatePostsRequest struct {
	Posts []types.NewPost `json:"posts"`
}

// CreatePosts handles POST /api/v1/insights/posts
func (h *Handler) CreatePosts(w http.ResponseWriter, r *http.Request) {
	var req CreatePostsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if len(req.Posts) == 0 {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "At least one post is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	created, err := h.store.CreatePosts(ctx, h.vertical, req.Posts)
	if err != nil {
		slog.Error("create posts failed", "error", err, "vertical", h.vertical)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"created": len(created),
		"items":   created,
	})
}

// UpdatePost handles PATCH /api/v1/insights/posts/{pid}
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")

	var patch types.PostPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	updated, err := h.store.UpdatePost(ctx, h.vertical, pid, patch)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeletePost handles DELETE /api/v1/insights/posts/{pid}
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	if err := h.store.SoftDeletePost(ctx, h.vertical, pid); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enrich handles POST /api/v1/insights/enrich
func (h *Handler) Enrich(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	summary, err := h.enricher.Run(r.Context(), limit)
	if err != nil {
		slog.Error("enrichment run failed", "error", err, "vertical", h.vertical)
		WriteProblem(w, r, http.StatusInternalServerError,
			fmt.Sprintf("Enrichment failed after processing %d posts", summary.Processed))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Cluster handles POST /api/v1/insights/cluster
func (h *Handler) Cluster(w http.ResponseWriter, r *http.Request) {
	summary, err := h.clusterer.Run(r.Context())
	if err != nil {
		slog.Error("clustering run failed", "error", err, "vertical", h.vertical)
		WriteProblem(w, r, http.StatusInternalServerError, "Clustering failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListClusters handles GET /api/v1/insights/clusters
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	clusters, err := h.store.ListClusters(ctx, h.vertical)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if clusters == nil {
		clusters = []types.Cluster{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

// Stats handles GET /api/v1/insights/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.countTimeout)
	defer cancel()

	stats, err := h.store.EnrichmentStats(ctx, h.vertical)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	resp := map[string]any{"enrichment": stats}
	if h.collector != nil {
		resp["pipeline"] = h.collector.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listOptions(r *http.Request) (store.ListOptions, error) {
	limit, offset, err := pagination(r)
	if err != nil {
		return store.ListOptions{}, err
	}

	opts := store.ListOptions{
		Vertical:  h.vertical,
		ClusterID: r.URL.Query().Get("cluster_id"),
		Limit:     limit,
		Offset:    offset,
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.ListOptions{}, fmt.Errorf("invalid after cursor: expected RFC 3339 timestamp")
		}
		opts.After = &t
	}
	return opts, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit = 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			return 0, 0, fmt.Errorf("invalid limit: expected 1-100")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset: expected a non-negative integer")
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
