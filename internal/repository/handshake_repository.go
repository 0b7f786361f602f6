package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultHandshakeTTL = 10 * time.Minute
	handshakePrefix     = "handshake:"
)

var ErrHandshakeExists = errors.New("handshake key already in use")

// HandshakeRepository keeps transient connect-flow state. Entries expire on
// their own and are consumed by the first Take.
type HandshakeRepository interface {
	Put(ctx context.Context, key string, value any) error
	Take(ctx context.Context, key string, out any) (bool, error)
}

type handshakeRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewHandshakeRepository(rdb *redis.Client, ttl time.Duration) HandshakeRepository {
	if ttl <= 0 {
		ttl = DefaultHandshakeTTL
	}
	return &handshakeRepository{rdb: rdb, ttl: ttl}
}

func (r *handshakeRepository) Put(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode handshake: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, handshakePrefix+key, payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store handshake: %w", err)
	}
	if !ok {
		return ErrHandshakeExists
	}
	return nil
}

func (r *handshakeRepository) Take(ctx context.Context, key string, out any) (bool, error) {
	payload, err := r.rdb.GetDel(ctx, handshakePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("load handshake: %w", err)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("decode handshake: %w", err)
	}
	return true, nil
}
