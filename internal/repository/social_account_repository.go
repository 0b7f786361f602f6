package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

// ErrTokenChanged means the stored token no longer matches the one a refresh
// started from, so the refresh result is dropped.
var ErrTokenChanged = errors.New("stored token changed during refresh")

type SocialAccountRepository interface {
	Get(ctx context.Context, userID int64, platform models.Platform) (*models.SocialAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	ListConnected(ctx context.Context, platform models.Platform) ([]*models.SocialAccount, error)
	Upsert(ctx context.Context, sa *models.SocialAccount) (int64, error)
	SetToken(ctx context.Context, userID int64, platform models.Platform, oldAccessToken string, sa *models.SocialAccount) error
	Disconnect(ctx context.Context, userID int64, platform models.Platform) error
	ListPages(ctx context.Context, userID int64) ([]*models.FacebookPage, error)
	ReplacePages(ctx context.Context, userID int64, pages []*models.FacebookPage) error
	// UpsertWithPages writes a Facebook account and its page set in one
	// transaction.
	UpsertWithPages(ctx context.Context, sa *models.SocialAccount, pages []*models.FacebookPage) (int64, error)
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const accountColumns = `id, user_id, platform, connected, account_id, account_username,
	access_token, access_secret, refresh_token, obtained_at, token_expires_at, created_at, updated_at`

func scanAccount(row rowScanner) (*models.SocialAccount, error) {
	var (
		sa        models.SocialAccount
		expiresAt sql.NullTime
	)
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.Connected, &sa.AccountID, &sa.AccountUsername,
		&sa.AccessToken, &sa.AccessSecret, &sa.RefreshToken, &sa.ObtainedAt, &expiresAt,
		&sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		sa.TokenExpiresAt = &expiresAt.Time
	}
	return &sa, nil
}

func (r *socialAccountRepository) Get(ctx context.Context, userID int64, platform models.Platform) (*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE user_id = $1 AND platform = $2`

	sa, err := scanAccount(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Error("get social account", "user_id", userID, "platform", platform, "error", err)
		return nil, err
	}

	return sa, nil
}

func (r *socialAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE user_id = $1 ORDER BY platform`
	return r.listAccounts(ctx, query, userID)
}

func (r *socialAccountRepository) ListConnected(ctx context.Context, platform models.Platform) ([]*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts
		WHERE platform = $1 AND connected = TRUE ORDER BY user_id`
	return r.listAccounts(ctx, query, platform)
}

func (r *socialAccountRepository) listAccounts(ctx context.Context, query string, args ...any) ([]*models.SocialAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("query social accounts", "error", err)
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanAccount(rows)
		if err != nil {
			slog.Error("scan social account", "error", err)
			return nil, err
		}
		accounts = append(accounts, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// Upsert writes the whole record in a single statement, so readers see either
// the previous tokens or the new ones.
func (r *socialAccountRepository) Upsert(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	return upsertAccount(ctx, r.db, sa)
}

func upsertAccount(ctx context.Context, db dbtx, sa *models.SocialAccount) (int64, error) {
	query := `
		INSERT INTO social_accounts (
			user_id,
			platform,
			connected,
			account_id,
			account_username,
			access_token,
			access_secret,
			refresh_token,
			obtained_at,
			token_expires_at
		)
		VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			connected = TRUE,
			account_id = EXCLUDED.account_id,
			account_username = EXCLUDED.account_username,
			access_token = EXCLUDED.access_token,
			access_secret = EXCLUDED.access_secret,
			refresh_token = EXCLUDED.refresh_token,
			obtained_at = EXCLUDED.obtained_at,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = NOW()
		RETURNING id
	`

	var id int64
	err := db.QueryRowContext(ctx, query,
		sa.UserID,
		sa.Platform,
		sa.AccountID,
		sa.AccountUsername,
		sa.AccessToken,
		sa.AccessSecret,
		sa.RefreshToken,
		sa.ObtainedAt,
		nullTime(sa.TokenExpiresAt),
	).Scan(&id)
	if err != nil {
		slog.Error("upsert social account", "user_id", sa.UserID, "platform", sa.Platform, "error", err)
		return 0, err
	}

	return id, nil
}

// SetToken swaps in refreshed tokens only if the stored access token is still
// the one the refresh started from.
func (r *socialAccountRepository) SetToken(ctx context.Context, userID int64, platform models.Platform, oldAccessToken string, sa *models.SocialAccount) error {
	query := `
		UPDATE social_accounts
		SET
			access_token = $4,
			refresh_token = COALESCE(NULLIF($5, ''), refresh_token),
			obtained_at = $6,
			token_expires_at = $7,
			updated_at = NOW()
		WHERE user_id = $1 AND platform = $2 AND access_token = $3 AND connected = TRUE
	`
	result, err := r.db.ExecContext(ctx, query, userID, platform, oldAccessToken,
		sa.AccessToken, sa.RefreshToken, sa.ObtainedAt, nullTime(sa.TokenExpiresAt))
	if err != nil {
		slog.Error("set token", "user_id", userID, "platform", platform, "error", err)
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrTokenChanged
	}
	return nil
}

func (r *socialAccountRepository) Disconnect(ctx context.Context, userID int64, platform models.Platform) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE social_accounts
		SET connected = FALSE, access_token = '', access_secret = '', refresh_token = '', updated_at = NOW()
		WHERE user_id = $1 AND platform = $2
	`
	if _, err := tx.ExecContext(ctx, query, userID, platform); err != nil {
		slog.Error("disconnect social account", "user_id", userID, "platform", platform, "error", err)
		return err
	}

	if platform == models.PlatformFacebook {
		if _, err := tx.ExecContext(ctx, `DELETE FROM facebook_pages WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("remove pages: %w", err)
		}
	}

	return tx.Commit()
}

func (r *socialAccountRepository) ListPages(ctx context.Context, userID int64) ([]*models.FacebookPage, error) {
	query := `SELECT user_id, page_id, name, access_token, instagram_business_id, updated_at
		FROM facebook_pages WHERE user_id = $1 ORDER BY name, page_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("query pages", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var pages []*models.FacebookPage
	for rows.Next() {
		var (
			page models.FacebookPage
			igID sql.NullString
		)
		if err := rows.Scan(&page.UserID, &page.PageID, &page.Name, &page.AccessToken, &igID, &page.UpdatedAt); err != nil {
			slog.Error("scan page", "user_id", userID, "error", err)
			return nil, err
		}
		if igID.Valid && igID.String != "" {
			page.InstagramBusinessID = &igID.String
		}
		pages = append(pages, &page)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pages, nil
}

// ReplacePages swaps the full page set of a user inside one transaction.
func (r *socialAccountRepository) ReplacePages(ctx context.Context, userID int64, pages []*models.FacebookPage) error {
	return r.inTx(ctx, userID, "replace pages", func(tx *sql.Tx) error {
		return replacePages(ctx, tx, userID, pages)
	})
}

func (r *socialAccountRepository) UpsertWithPages(ctx context.Context, sa *models.SocialAccount, pages []*models.FacebookPage) (int64, error) {
	var id int64
	err := r.inTx(ctx, sa.UserID, "upsert account with pages", func(tx *sql.Tx) error {
		var err error
		if id, err = upsertAccount(ctx, tx, sa); err != nil {
			return err
		}
		return replacePages(ctx, tx, sa.UserID, pages)
	})
	return id, err
}

func (r *socialAccountRepository) inTx(ctx context.Context, userID int64, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Error("begin "+op, "user_id", userID, "error", err)
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		slog.Error("commit "+op, "user_id", userID, "error", err)
		return err
	}
	return nil
}

func replacePages(ctx context.Context, tx dbtx, userID int64, pages []*models.FacebookPage) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM facebook_pages WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear pages: %w", err)
	}

	insert := `INSERT INTO facebook_pages (user_id, page_id, name, access_token, instagram_business_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	now := time.Now()
	for _, page := range pages {
		if _, err := tx.ExecContext(ctx, insert, userID, page.PageID, page.Name, page.AccessToken,
			nullString(page.InstagramBusinessID), now); err != nil {
			return fmt.Errorf("insert page %s: %w", page.PageID, err)
		}
	}
	return nil
}
