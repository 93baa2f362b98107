// Package redis persists last-good URLs in Redis, one string key per record.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DefaultPrefix namespaces record keys.
const DefaultPrefix = "simplemedia:url:"

// Config configures the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	// TTL expires records; zero keeps them until cleared.
	TTL time.Duration
}

// Store is a Redis-backed simplemedia.PersistedStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Address, err)
	}
	return client, nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Load returns the record for key.
func (s *Store) Load(ctx context.Context, key string) (*simplemedia.PersistedEntry, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, simplemedia.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var entry simplemedia.PersistedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	return &entry, nil
}

// Save writes the record for key.
func (s *Store) Save(ctx context.Context, key string, entry simplemedia.PersistedEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the record for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	if n == 0 {
		return simplemedia.ErrNotFound
	}
	return nil
}

// Clear removes every record under the prefix.
func (s *Store) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

var _ simplemedia.PersistedStore = (*Store)(nil)
