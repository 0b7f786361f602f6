package service

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountKey struct {
	userID   int64
	platform models.Platform
}

// memoryAccounts is an in-memory SocialAccountRepository.
type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[accountKey]*models.SocialAccount
	pages    map[int64][]*models.FacebookPage
	nextID   int64

	pageWrites     int
	combinedWrites int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		accounts: make(map[accountKey]*models.SocialAccount),
		pages:    make(map[int64][]*models.FacebookPage),
	}
}

func (m *memoryAccounts) Get(ctx context.Context, userID int64, platform models.Platform) (*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sa, ok := m.accounts[accountKey{userID, platform}]
	if !ok {
		return nil, nil
	}
	cp := *sa
	return &cp, nil
}

func (m *memoryAccounts) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SocialAccount
	for _, p := range models.Platforms() {
		if sa, ok := m.accounts[accountKey{userID, p}]; ok {
			cp := *sa
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryAccounts) ListConnected(ctx context.Context, platform models.Platform) ([]*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SocialAccount
	for key, sa := range m.accounts {
		if key.platform == platform && sa.Connected {
			cp := *sa
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryAccounts) Upsert(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountKey{sa.UserID, sa.Platform}
	cp := *sa
	cp.Connected = true
	if existing, ok := m.accounts[key]; ok {
		cp.ID = existing.ID
	} else {
		m.nextID++
		cp.ID = m.nextID
	}
	m.accounts[key] = &cp
	return cp.ID, nil
}

func (m *memoryAccounts) SetToken(ctx context.Context, userID int64, platform models.Platform, oldAccessToken string, sa *models.SocialAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.accounts[accountKey{userID, platform}]
	if !ok || !current.Connected || current.AccessToken != oldAccessToken {
		return repository.ErrTokenChanged
	}
	current.AccessToken = sa.AccessToken
	if sa.RefreshToken != "" {
		current.RefreshToken = sa.RefreshToken
	}
	current.ObtainedAt = sa.ObtainedAt
	current.TokenExpiresAt = sa.TokenExpiresAt
	return nil
}

func (m *memoryAccounts) Disconnect(ctx context.Context, userID int64, platform models.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sa, ok := m.accounts[accountKey{userID, platform}]; ok {
		sa.Connected = false
		sa.AccessToken, sa.AccessSecret, sa.RefreshToken = "", "", ""
	}
	if platform == models.PlatformFacebook {
		delete(m.pages, userID)
	}
	return nil
}

func (m *memoryAccounts) ListPages(ctx context.Context, userID int64) ([]*models.FacebookPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.FacebookPage(nil), m.pages[userID]...), nil
}

func (m *memoryAccounts) ReplacePages(ctx context.Context, userID int64, pages []*models.FacebookPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageWrites++
	m.pages[userID] = append([]*models.FacebookPage(nil), pages...)
	return nil
}

func (m *memoryAccounts) UpsertWithPages(ctx context.Context, sa *models.SocialAccount, pages []*models.FacebookPage) (int64, error) {
	id, err := m.Upsert(ctx, sa)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.combinedWrites++
	m.pages[sa.UserID] = append([]*models.FacebookPage(nil), pages...)
	return id, nil
}

func testCipher(t *testing.T) *utils.Cipher {
	t.Helper()
	c, err := utils.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return c
}

func testConfig() config.Config {
	return config.Config{
		GraphAPIVersion: "v21.0",
		Timeouts: config.Timeouts{
			Status:         2 * time.Second,
			API:            2 * time.Second,
			Media:          5 * time.Second,
			IGPollInterval: 10 * time.Millisecond,
			IGPollCeiling:  500 * time.Millisecond,
		},
	}
}

func testEndpoints(base string) Endpoints {
	return Endpoints{Graph: base, Twitter: base, TwitterUpload: base, LinkedIn: base, YouTube: base + "/"}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// useTempDir points os.TempDir at a fresh directory for the test.
func useTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	return dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary media left behind")
}
