package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHandshake struct {
	UserID int64  `json:"user_id"`
	Secret string `json:"secret"`
}

func newTestHandshakes(t *testing.T) (HandshakeRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewHandshakeRepository(rdb, 10*time.Minute), mr
}

func TestHandshake_PutTakeOnce(t *testing.T) {
	repo, _ := newTestHandshakes(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "abc", testHandshake{UserID: 7, Secret: "s"}))

	var got testHandshake
	found, err := repo.Take(ctx, "abc", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, testHandshake{UserID: 7, Secret: "s"}, got)

	found, err = repo.Take(ctx, "abc", &got)
	require.NoError(t, err)
	assert.False(t, found, "entries are single use")
}

func TestHandshake_Expires(t *testing.T) {
	repo, mr := newTestHandshakes(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "abc", testHandshake{UserID: 7}))
	mr.FastForward(11 * time.Minute)

	var got testHandshake
	found, err := repo.Take(ctx, "abc", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHandshake_KeyCollision(t *testing.T) {
	repo, _ := newTestHandshakes(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "abc", testHandshake{UserID: 1}))
	assert.ErrorIs(t, repo.Put(ctx, "abc", testHandshake{UserID: 2}), ErrHandshakeExists)
}
