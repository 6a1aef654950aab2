package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/insightlabs/insightcore/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// postColumns is the canonical column list used by every post SELECT.
const postColumns = `pid, title, body, vertical, category, confidence, tags, score,
	n_comments, cluster_id, summary, embedding, enriched_at, embedding_attempt_at,
	created_at, updated_at, deleted_at`

// SQLiteStore is the SQLite-backed post database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping probes the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// scanPost scans a row into a Post, handling BLOB unpacking and JSON parsing.
func scanPost(scanner interface{ Scan(...any) error }) (*types.Post, error) {
	var post types.Post
	var category, clusterID, summary sql.NullString
	var confidence, score sql.NullFloat64
	var tagsJSON sql.NullString
	var embeddingBlob []byte
	var enrichedAt, attemptAt, deletedAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&post.PID,
		&post.Title,
		&post.Body,
		&post.Vertical,
		&category,
		&confidence,
		&tagsJSON,
		&score,
		&post.NComments,
		&clusterID,
		&summary,
		&embeddingBlob,
		&enrichedAt,
		&attemptAt,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if category.Valid {
		post.Category = category.String
	}
	if confidence.Valid {
		c := confidence.Float64
		post.Confidence = &c
	}
	if clusterID.Valid {
		post.ClusterID = clusterID.String
	}
	if summary.Valid {
		post.Summary = summary.String
	}
	if score.Valid {
		v := score.Float64
		post.Score = &v
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &post.Tags); err != nil {
			return nil, fmt.Errorf("parse tags JSON: %w", err)
		}
	}
	if len(embeddingBlob) > 0 {
		post.Embedding = unpackEmbedding(embeddingBlob)
	}

	if t, ok := parseTime(createdAt); ok {
		post.CreatedAt = t
	}
	if t, ok := parseTime(updatedAt); ok {
		post.UpdatedAt = t
	}
	if enrichedAt.Valid {
		if t, ok := parseTime(enrichedAt.String); ok {
			post.EnrichedAt = &t
		}
	}
	if attemptAt.Valid {
		if t, ok := parseTime(attemptAt.String); ok {
			post.EmbeddingAttemptAt = &t
		}
	}
	if deletedAt.Valid {
		if t, ok := parseTime(deletedAt.String); ok {
			post.DeletedAt = &t
		}
	}

	return &post, nil
}

// CreatePosts inserts new posts for the vertical, assigning ULIDs and
// timestamps. All inserts happen in one transaction.
func (s *SQLiteStore) CreatePosts(ctx context.Context, vertical string, newPosts []types.NewPost) ([]types.Post, error) {
	if vertical == "" {
		return nil, ErrEmptyVertical
	}
	if len(newPosts) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (pid, title, body, vertical, tags, score, n_comments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	nowStr := formatTime(now)

	posts := make([]types.Post, 0, len(newPosts))
	for _, np := range newPosts {
		var tagsJSON any
		if np.Tags != nil {
			data, err := json.Marshal(np.Tags)
			if err != nil {
				return nil, fmt.Errorf("marshal tags: %w", err)
			}
			tagsJSON = string(data)
		}

		post := types.Post{
			PID:       ulid.Make().String(),
			Title:     np.Title,
			Body:      np.Body,
			Vertical:  vertical,
			Tags:      np.Tags,
			Score:     np.Score,
			NComments: np.NComments,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if _, err := stmt.ExecContext(ctx,
			post.PID, post.Title, post.Body, post.Vertical,
			tagsJSON, np.Score, np.NComments, nowStr, nowStr,
		); err != nil {
			return nil, fmt.Errorf("insert post: %w", err)
		}
		posts = append(posts, post)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return posts, nil
}

// GetPost retrieves a post by ID within the vertical, excluding soft-deleted rows.
func (s *SQLiteStore) GetPost(ctx context.Context, vertical, pid string) (*types.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE pid = ? AND vertical = ? AND deleted_at IS NULL
	`, pid, vertical)

	post, err := scanPost(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return post, nil
}

// ListOptions filters post listing and counting.
type ListOptions struct {
	Vertical  string
	Query     string     // substring match on title/body
	ClusterID string     // exact cluster filter
	After     *time.Time // created_at cursor, exclusive
	Limit     int
	Offset    int
}

func (o ListOptions) where() (string, []any) {
	clause := "vertical = ? AND deleted_at IS NULL"
	args := []any{o.Vertical}

	if o.Query != "" {
		clause += " AND (title LIKE ? OR body LIKE ?)"
		pattern := "%" + o.Query + "%"
		args = append(args, pattern, pattern)
	}
	if o.ClusterID != "" {
		clause += " AND cluster_id = ?"
		args = append(args, o.ClusterID)
	}
	if o.After != nil {
		clause += " AND created_at < ?"
		args = append(args, formatTime(*o.After))
	}

	return clause, args
}

// CountPosts counts posts matching the options.
func (s *SQLiteStore) CountPosts(ctx context.Context, opts ListOptions) (int64, error) {
	if opts.Vertical == "" {
		return 0, ErrEmptyVertical
	}

	clause, args := opts.where()
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts WHERE "+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

// ListPosts returns posts matching the options, newest first.
func (s *SQLiteStore) ListPosts(ctx context.Context, opts ListOptions) ([]types.Post, error) {
	if opts.Vertical == "" {
		return nil, ErrEmptyVertical
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	clause, args := opts.where()
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE `+clause+`
		ORDER BY created_at DESC, pid DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
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

// UpdatePost applies a partial update to a post and returns the updated row.
func (s *SQLiteStore) UpdatePost(ctx context.Context, vertical, pid string, patch types.PostPatch) (*types.Post, error) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Body != nil {
		sets = append(sets, "body = ?")
		args = append(args, *patch.Body)
	}
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *patch.Category)
	}
	if patch.Tags != nil {
		data, err := json.Marshal(patch.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(data))
	}
	if patch.Score != nil {
		sets = append(sets, "score = ?")
		args = append(args, *patch.Score)
	}
	if patch.NComments != nil {
		sets = append(sets, "n_comments = ?")
		args = append(args, *patch.NComments)
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}

	query := "UPDATE posts SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE pid = ? AND vertical = ? AND deleted_at IS NULL"
	args = append(args, pid, vertical)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.GetPost(ctx, vertical, pid)
}

// SoftDeletePost marks a post deleted. The row is never removed; the
// enrichment pipeline and all listing queries exclude it from then on.
func (s *SQLiteStore) SoftDeletePost(ctx context.Context, vertical, pid string) error {
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET deleted_at = ?, updated_at = ?
		WHERE pid = ? AND vertical = ? AND deleted_at IS NULL
	`, now, now, pid, vertical)
	if err != nil {
		return fmt.Errorf("soft delete post: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
