package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/crosspost/internal/models"
)

type MediaAssetRepository interface {
	Create(ctx context.Context, ma *models.MediaAsset) error
	ListByUserID(ctx context.Context, userID int64) ([]*models.MediaAsset, error)
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

// Create adds a gallery entry; a URL already in the user's gallery is left alone.
func (r *mediaAssetRepository) Create(ctx context.Context, ma *models.MediaAsset) error {
	query := `
		INSERT INTO media_assets (user_id, file_url, file_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, file_url) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, ma.UserID, ma.FileURL, ma.FileType)
	if err != nil {
		slog.Error("insert media asset", "user_id", ma.UserID, "error", err)
		return err
	}
	return nil
}

func (r *mediaAssetRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.MediaAsset, error) {
	query := `SELECT id, user_id, file_url, file_type, created_at
		FROM media_assets WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("query media assets", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var assets []*models.MediaAsset
	for rows.Next() {
		var ma models.MediaAsset
		if err := rows.Scan(&ma.ID, &ma.UserID, &ma.FileURL, &ma.FileType, &ma.CreatedAt); err != nil {
			slog.Error("scan media asset", "user_id", userID, "error", err)
			return nil, err
		}
		assets = append(assets, &ma)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assets, nil
}
