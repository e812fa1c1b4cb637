package redis

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// Buffer reads event buffers out of Redis for migration.
type Buffer struct {
	client *redis.Client
}

// NewBuffer constructs a Redis-backed buffer reader.
func NewBuffer(client *redis.Client) *Buffer {
	return &Buffer{client: client}
}

// Keys collects every buffer key matching the pattern.
func (b *Buffer) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Range returns the whole buffered list for one key.
func (b *Buffer) Range(ctx context.Context, key string) ([]string, error) {
	return b.client.LRange(ctx, key, 0, -1).Result()
}
