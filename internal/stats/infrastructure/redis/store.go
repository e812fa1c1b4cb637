package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store adapts Redis hashes to the rollup counter store. Every mutation
// is a single Redis command.
type Store struct {
	client *redis.Client
}

// NewStore constructs a Redis-backed counter store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IncrementField atomically increments a hash field by one.
func (s *Store) IncrementField(ctx context.Context, key, field string) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, 1).Result()
}

// SetField overwrites a hash field with an absolute value.
func (s *Store) SetField(ctx context.Context, key, field string, value int64) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

// EnsureTTL sets the expiry only when the key exists without one, so a
// bucket's retention clock starts at first creation and is never pushed
// out by later increments.
func (s *Store) EnsureTTL(ctx context.Context, key string, ttl time.Duration) error {
	current, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return err
	}
	// go-redis reports "exists, no expiry" as -1 and "missing" as -2.
	if current == -1 {
		return s.client.Expire(ctx, key, ttl).Err()
	}
	return nil
}

// ScanKeys collects every key matching the pattern via cursor scans.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// ReadBucket returns all fields of one bucket.
func (s *Store) ReadBucket(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

// DeleteKeys removes every key matching the pattern.
func (s *Store) DeleteKeys(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.client.Del(ctx, keys...).Result()
}
