package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost/internal/metrics"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
)

const (
	refreshWindow      = 5 * 24 * time.Hour
	refreshConcurrency = 5
)

// TokenRefreshJob keeps long-lived Facebook user tokens, and the page tokens
// derived from them, from expiring.
type TokenRefreshJob struct {
	store service.CredentialStore
	fb    service.FacebookTokens
	now   func() time.Time
}

func NewTokenRefreshJob(store service.CredentialStore, fb service.FacebookTokens) *TokenRefreshJob {
	return &TokenRefreshJob{
		store: store,
		fb:    fb,
		now:   time.Now,
	}
}

// RefreshTokens makes one pass over every connected Facebook account. One
// account failing never stops the pass.
func (j *TokenRefreshJob) RefreshTokens(ctx context.Context) {
	users, err := j.store.ConnectedUsers(ctx, models.PlatformFacebook)
	if err != nil {
		slog.Error("list facebook accounts for token refresh", "error", err)
		return
	}
	slog.Info("token refresh pass started", "accounts", len(users))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, refreshConcurrency)

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(userID int64) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("token refresh panicked", "user_id", userID, "panic", r)
					metrics.TokenRefreshes.WithLabelValues(models.PlatformFacebook.String(), "error").Inc()
				}
			}()

			result, err := j.refreshUser(ctx, userID)
			if err != nil {
				slog.Error("refresh facebook token", "user_id", userID, "error", err)
				result = "error"
			}
			metrics.TokenRefreshes.WithLabelValues(models.PlatformFacebook.String(), result).Inc()
		}(userID)
	}

	wg.Wait()
	slog.Info("token refresh pass finished", "accounts", len(users))
}

func (j *TokenRefreshJob) refreshUser(ctx context.Context, userID int64) (string, error) {
	cred, err := j.store.GetPlatformCredential(ctx, userID, models.PlatformFacebook)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "valid", nil
	}

	info, err := j.fb.Debug(ctx, cred.AccessToken)
	if err != nil {
		return "", fmt.Errorf("debug token: %w", err)
	}
	if !info.Valid {
		// kept as is: the user has to reconnect
		slog.Warn("facebook token is no longer valid", "user_id", userID)
		return "invalid", nil
	}

	expiresAt := info.ExpiresAt
	if expiresAt == nil {
		expiresAt = cred.ExpiresAt
	}
	if expiresAt == nil || expiresAt.Sub(j.now()) >= refreshWindow {
		return "valid", nil
	}

	token, err := j.fb.ExchangeLongLived(ctx, cred.AccessToken)
	if err != nil {
		return "", err
	}

	next := *cred
	next.AccessToken = token.AccessToken
	next.ExpiresAt = token.ExpiresAt
	next.ObtainedAt = j.now()
	if err := j.store.RotateToken(ctx, cred.AccessToken, &next); err != nil {
		if errors.Is(err, repository.ErrTokenChanged) {
			slog.Info("facebook token changed during refresh, leaving it", "user_id", userID)
			return "valid", nil
		}
		return "", fmt.Errorf("store refreshed token: %w", err)
	}

	pages, err := j.fb.ManagedPages(ctx, token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("refresh page tokens: %w", err)
	}
	if err := j.store.SavePages(ctx, userID, pages); err != nil {
		return "", fmt.Errorf("store page tokens: %w", err)
	}

	slog.Info("facebook token refreshed", "user_id", userID, "pages", len(pages))
	return "refreshed", nil
}
