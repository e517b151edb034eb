package store

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"velofood-client-go/internal/domain/credentials"
)

type redisStore struct {
	client *redis.Client
	key    string
}

// NewRedis constructs a redis-backed credential store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	opts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "velofood:"
	}

	return &redisStore{
		client: client,
		key:    prefix + "credentials",
	}, nil
}

func (s *redisStore) Save(ctx context.Context, creds credentials.Credentials) error {
	if err := validatePair(creds); err != nil {
		return err
	}
	data, err := sonic.Marshal(creds)
	if err != nil {
		return err
	}
	// Single SET keeps the token pair atomic.
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *redisStore) Load(ctx context.Context) (credentials.Credentials, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return credentials.Credentials{}, ErrNotFound
		}
		return credentials.Credentials{}, err
	}
	var creds credentials.Credentials
	if err := sonic.Unmarshal(raw, &creds); err != nil {
		return credentials.Credentials{}, err
	}
	return creds, nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
