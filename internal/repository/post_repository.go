package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/crosspost/internal/models"
)

var ErrPostNotFound = errors.New("scheduled post not found")

type ScheduledPostRepository interface {
	Create(ctx context.Context, post *models.ScheduledPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error)
	Save(ctx context.Context, post *models.ScheduledPost) error
	MarkFailed(ctx context.Context, id int64, message string) error
	Remove(ctx context.Context, id, userID int64) (bool, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) ScheduledPostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, caption, title, content, platforms, target_id, scheduled_for,
	hashtags, status, outcomes, error, retry_count, max_retries, posted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.ScheduledPost, error) {
	var (
		post      models.ScheduledPost
		content   []byte
		outcomes  []byte
		platforms pq.StringArray
		hashtags  pq.StringArray
		errMsg    sql.NullString
		postedAt  sql.NullTime
	)

	err := row.Scan(&post.ID, &post.UserID, &post.Caption, &post.Title, &content, &platforms,
		&post.TargetID, &post.ScheduledFor, &hashtags, &post.Status, &outcomes, &errMsg,
		&post.RetryCount, &post.MaxRetries, &postedAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(content) > 0 {
		if err := json.Unmarshal(content, &post.Content); err != nil {
			return nil, fmt.Errorf("decode content of post %d: %w", post.ID, err)
		}
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &post.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes of post %d: %w", post.ID, err)
		}
	}
	for _, p := range platforms {
		post.Platforms = append(post.Platforms, models.Platform(p))
	}
	post.Hashtags = []string(hashtags)
	if errMsg.Valid {
		post.Error = &errMsg.String
	}
	if postedAt.Valid {
		post.PostedAt = &postedAt.Time
	}

	return &post, nil
}

func platformArray(platforms []models.Platform) pq.StringArray {
	out := make(pq.StringArray, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, string(p))
	}
	return out
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *postRepository) Create(ctx context.Context, post *models.ScheduledPost) (int64, error) {
	content, err := json.Marshal(post.Content)
	if err != nil {
		return 0, fmt.Errorf("encode content: %w", err)
	}

	query := `
		INSERT INTO scheduled_posts (user_id, caption, title, content, platforms, target_id,
			scheduled_for, hashtags, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query, post.UserID, post.Caption, post.Title, content,
		platformArray(post.Platforms), post.TargetID, post.ScheduledFor, pq.Array(post.Hashtags),
		models.PostStatusScheduled, post.EffectiveMaxRetries(),
	).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		slog.Error("insert scheduled post", "user_id", post.UserID, "error", err)
		return 0, err
	}
	post.Status = models.PostStatusScheduled

	return post.ID, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Error("get scheduled post", "post_id", id, "error", err)
		return nil, err
	}

	return post, nil
}

func (r *postRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE user_id = $1 ORDER BY scheduled_for DESC`
	return r.list(ctx, query, userID)
}

// FindDue returns scheduled posts whose time has come, oldest first.
// Posts in a terminal state are never returned.
func (r *postRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC, id ASC
		LIMIT $3`
	return r.list(ctx, query, models.PostStatusScheduled, now, limit)
}

func (r *postRepository) list(ctx context.Context, query string, args ...any) ([]*models.ScheduledPost, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("query scheduled posts", "error", err)
		return nil, err
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Error("scan scheduled post", "error", err)
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return posts, nil
}

// Save persists the dispatch-owned fields of a post in one statement.
func (r *postRepository) Save(ctx context.Context, post *models.ScheduledPost) error {
	content, err := json.Marshal(post.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	outcomes, err := json.Marshal(post.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}

	query := `
		UPDATE scheduled_posts
		SET content = $2,
			status = $3,
			outcomes = $4,
			error = $5,
			retry_count = $6,
			scheduled_for = $7,
			posted_at = $8,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, post.ID, content, post.Status, outcomes,
		nullString(post.Error), post.RetryCount, post.ScheduledFor, nullTime(post.PostedAt))
	if err != nil {
		slog.Error("save scheduled post", "post_id", post.ID, "error", err)
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrPostNotFound
	}

	return nil
}

func (r *postRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	query := `UPDATE scheduled_posts SET status = $2, error = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, models.PostStatusFailed, message)
	if err != nil {
		slog.Error("mark scheduled post failed", "post_id", id, "error", err)
		return err
	}
	return nil
}

func (r *postRepository) Remove(ctx context.Context, id, userID int64) (bool, error) {
	query := `DELETE FROM scheduled_posts WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		slog.Error("remove scheduled post", "post_id", id, "error", err)
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
