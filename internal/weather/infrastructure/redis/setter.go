package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const weatherKey = "current:weather"

// Setter caches the weather snapshot in Redis.
type Setter struct {
	client *redis.Client
}

// NewSetter constructs a Redis-backed snapshot setter.
func NewSetter(client *redis.Client) *Setter {
	return &Setter{client: client}
}

// SetCurrent overwrites the shared snapshot with an expiry.
func (s *Setter) SetCurrent(ctx context.Context, condition string, ttl time.Duration) error {
	return s.client.Set(ctx, weatherKey, condition, ttl).Err()
}
