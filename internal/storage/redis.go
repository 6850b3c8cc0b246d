package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/authbridge/internal/idp"
	"github.com/redis/go-redis/v9"
)

var _ TokenStore = (*RedisStorage)(nil)

// defaultRedisTTL applies to tokens that carry no expiry
const defaultRedisTTL = time.Hour

// RedisStorage keeps tokens in Redis, namespaced per device. Redis TTLs
// expire tokens together with the credential they hold.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage creates a Redis-backed store. namespace separates devices
// sharing one Redis.
func NewRedisStorage(client redis.UniversalClient, namespace string) (*RedisStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	return &RedisStorage{
		client: client,
		prefix: "authbridge:" + namespace + ":",
	}, nil
}

// NewRedisStorageFromURL parses a redis:// URL and creates the store
func NewRedisStorageFromURL(redisURL, namespace string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return NewRedisStorage(redis.NewClient(opts), namespace)
}

func (s *RedisStorage) SetToken(ctx context.Context, key string, tok idp.Token) error {
	stored := newStoredToken(tok)
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	ttl := defaultRedisTTL
	if !stored.ExpiresAt.IsZero() {
		ttl = time.Until(stored.ExpiresAt)
		if ttl <= 0 {
			return s.DeleteToken(ctx, key)
		}
	}

	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStorage) GetToken(ctx context.Context, key string) (idp.Token, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return idp.Token{}, ErrTokenNotFound
		}
		return idp.Token{}, fmt.Errorf("redis get: %w", err)
	}

	var stored StoredToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return idp.Token{}, fmt.Errorf("unmarshal token: %w", err)
	}
	if stored.expired(time.Now()) {
		return idp.Token{}, ErrTokenNotFound
	}
	return stored.Token(), nil
}

func (s *RedisStorage) DeleteToken(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
