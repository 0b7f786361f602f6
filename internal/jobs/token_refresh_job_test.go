package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refreshNow = time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC)

type fakeCredentials struct {
	service.CredentialStore

	mu      sync.Mutex
	creds   map[int64]*service.Credential
	rotated map[int64]*service.Credential
	pages   map[int64][]service.Page
}

func (f *fakeCredentials) ConnectedUsers(ctx context.Context, platform models.Platform) ([]int64, error) {
	users := make([]int64, 0, len(f.creds))
	for id := range f.creds {
		users = append(users, id)
	}
	return users, nil
}

func (f *fakeCredentials) GetPlatformCredential(ctx context.Context, userID int64, platform models.Platform) (*service.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.creds[userID]
	return &cp, nil
}

func (f *fakeCredentials) RotateToken(ctx context.Context, previousAccessToken string, next *service.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotated[next.UserID] = next
	return nil
}

func (f *fakeCredentials) SavePages(ctx context.Context, userID int64, pages []service.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[userID] = pages
	return nil
}

// fakeGraph answers debug_token by access token.
type fakeGraph struct {
	service.FacebookTokens
	info map[string]*service.TokenInfo
}

func (f *fakeGraph) Debug(ctx context.Context, userToken string) (*service.TokenInfo, error) {
	info, ok := f.info[userToken]
	if !ok {
		return nil, errors.New("graph unavailable")
	}
	return info, nil
}

func (f *fakeGraph) ExchangeLongLived(ctx context.Context, userToken string) (*service.LongLivedToken, error) {
	expires := refreshNow.Add(60 * 24 * time.Hour)
	return &service.LongLivedToken{AccessToken: userToken + "-renewed", ExpiresAt: &expires}, nil
}

func (f *fakeGraph) ManagedPages(ctx context.Context, userToken string) ([]service.Page, error) {
	return []service.Page{{PageID: "p1", AccessToken: "page-" + userToken, InstagramBusinessID: "ig1"}}, nil
}

func at(d time.Duration) *time.Time {
	t := refreshNow.Add(d)
	return &t
}

func TestRefreshTokens(t *testing.T) {
	store := &fakeCredentials{
		creds: map[int64]*service.Credential{
			1: {UserID: 1, Platform: models.PlatformFacebook, AccessToken: "expiring"},
			2: {UserID: 2, Platform: models.PlatformFacebook, AccessToken: "revoked"},
			3: {UserID: 3, Platform: models.PlatformFacebook, AccessToken: "fresh"},
			4: {UserID: 4, Platform: models.PlatformFacebook, AccessToken: "unknown"},
			5: {UserID: 5, Platform: models.PlatformFacebook, AccessToken: "forever"},
		},
		rotated: make(map[int64]*service.Credential),
		pages:   make(map[int64][]service.Page),
	}
	graph := &fakeGraph{info: map[string]*service.TokenInfo{
		"expiring": {Valid: true, ExpiresAt: at(2 * 24 * time.Hour)},
		"revoked":  {Valid: false},
		"fresh":    {Valid: true, ExpiresAt: at(30 * 24 * time.Hour)},
		"forever":  {Valid: true},
	}}

	job := NewTokenRefreshJob(store, graph)
	job.now = func() time.Time { return refreshNow }
	job.RefreshTokens(context.Background())

	require.Len(t, store.rotated, 1)
	rotated := store.rotated[1]
	require.NotNil(t, rotated)
	assert.Equal(t, "expiring-renewed", rotated.AccessToken)
	assert.Equal(t, refreshNow, rotated.ObtainedAt)
	require.NotNil(t, rotated.ExpiresAt)

	require.Len(t, store.pages, 1)
	assert.Equal(t, "page-expiring-renewed", store.pages[1][0].AccessToken)
}
