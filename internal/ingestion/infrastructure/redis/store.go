package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	events "safesite-cloud/internal/events/domain"
)

const weatherKey = "current:weather"

// Store adapts Redis to the ingestion pipeline's buffer and enrichment
// side channels.
type Store struct {
	client *redis.Client
}

// NewStore constructs a Redis-backed ingestion store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Append pushes one serialized event onto the buffer list and refreshes
// the buffer's expiry.
func (s *Store) Append(ctx context.Context, key string, item []byte, ttl time.Duration) error {
	if err := s.client.RPush(ctx, key, item).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, ttl).Err()
}

// DeviceLocation reads the device's last-known coordinates from the
// "gps:<deviceId>" hash. A missing or empty hash yields (nil, nil).
func (s *Store) DeviceLocation(ctx context.Context, deviceID int64) (*events.Location, error) {
	entries, err := s.client.HGetAll(ctx, fmt.Sprintf("gps:%d", deviceID)).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(entries["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("gps: bad lat for device %d: %w", deviceID, err)
	}
	lng, err := strconv.ParseFloat(entries["lng"], 64)
	if err != nil {
		return nil, fmt.Errorf("gps: bad lng for device %d: %w", deviceID, err)
	}
	return &events.Location{Lat: lat, Lng: lng}, nil
}

// Current returns the cached weather snapshot, "" when none is cached.
func (s *Store) Current(ctx context.Context) (string, error) {
	snapshot, err := s.client.Get(ctx, weatherKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return snapshot, nil
}
