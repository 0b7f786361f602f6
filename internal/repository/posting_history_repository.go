package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/maheshrc27/crosspost/internal/models"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, ph *models.PostHistory) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.PostHistory, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, ph *models.PostHistory) (int64, error) {
	media, err := json.Marshal(ph.Media)
	if err != nil {
		return 0, fmt.Errorf("encode media: %w", err)
	}
	outcomes, err := json.Marshal(ph.Outcomes)
	if err != nil {
		return 0, fmt.Errorf("encode outcomes: %w", err)
	}

	query := `
		INSERT INTO posting_history (user_id, scheduled_post_id, caption, media, platforms, outcomes, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err = r.db.QueryRowContext(ctx, query, ph.UserID, ph.ScheduledPostID, ph.Caption, media,
		platformArray(ph.Platforms), outcomes, ph.PostedAt).Scan(&id)
	if err != nil {
		slog.Error("insert posting history", "post_id", ph.ScheduledPostID, "error", err)
		return 0, err
	}

	return id, nil
}

func (r *postingHistoryRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.PostHistory, error) {
	query := `SELECT id, user_id, scheduled_post_id, caption, media, platforms, outcomes, posted_at
		FROM posting_history WHERE user_id = $1 ORDER BY posted_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("query posting history", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var phs []*models.PostHistory
	for rows.Next() {
		var (
			ph        models.PostHistory
			media     []byte
			outcomes  []byte
			platforms pq.StringArray
		)
		err := rows.Scan(&ph.ID, &ph.UserID, &ph.ScheduledPostID, &ph.Caption, &media, &platforms, &outcomes, &ph.PostedAt)
		if err != nil {
			slog.Error("scan posting history", "user_id", userID, "error", err)
			return nil, err
		}
		if len(media) > 0 {
			if err := json.Unmarshal(media, &ph.Media); err != nil {
				return nil, fmt.Errorf("decode media: %w", err)
			}
		}
		if len(outcomes) > 0 {
			if err := json.Unmarshal(outcomes, &ph.Outcomes); err != nil {
				return nil, fmt.Errorf("decode outcomes: %w", err)
			}
		}
		for _, p := range platforms {
			ph.Platforms = append(ph.Platforms, models.Platform(p))
		}
		phs = append(phs, &ph)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return phs, nil
}
