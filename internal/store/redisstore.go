package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/GenGateway/internal/config"
)

const defaultRedisKey = "gateway:settings"

// RedisStore reads settings from the fields of a Redis hash.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore connects to cfg.Addr and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.RedisSettingsConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis store: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Key), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, key string) *RedisStore {
	if strings.TrimSpace(key) == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Lookup reads the project-id and region fields. A missing hash yields empty settings.
func (s *RedisStore) Lookup(ctx context.Context) (config.Settings, error) {
	values, err := s.client.HMGet(ctx, s.key, KeyProjectID, KeyRegion).Result()
	if err != nil {
		return config.Settings{}, fmt.Errorf("redis store: read %s: %w", s.key, err)
	}
	return config.Settings{
		ProjectID: redisString(values, 0),
		Region:    redisString(values, 1),
	}, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func redisString(values []any, idx int) string {
	if idx >= len(values) {
		return ""
	}
	if v, ok := values[idx].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
