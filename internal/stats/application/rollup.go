package stats

import (
	"context"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	events "safesite-cloud/internal/events/domain"
	"safesite-cloud/internal/observability/metrics"
)

// Scope is a rollup bucket resolution.
type Scope string

const (
	ScopeHour  Scope = "hour"
	ScopeDay   Scope = "day"
	ScopeMonth Scope = "month"
)

const (
	hourKeyPrefix  = "summary:hour:"
	dayKeyPrefix   = "summary:day:"
	monthKeyPrefix = "summary:month:"

	hourTTL = 4 * 24 * time.Hour
	dayTTL  = 120 * 24 * time.Hour
)

// Store is the counter store backing the rollups. All mutations are
// single atomic primitive calls.
type Store interface {
	IncrementField(ctx context.Context, key, field string) (int64, error)
	SetField(ctx context.Context, key, field string, value int64) error
	// EnsureTTL sets the expiry only when the key carries none yet.
	EnsureTTL(ctx context.Context, key string, ttl time.Duration) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	ReadBucket(ctx context.Context, key string) (map[string]string, error)
	DeleteKeys(ctx context.Context, pattern string) (int64, error)
}

// Broadcaster pushes counter-change notifications to live subscribers.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Update is the counter-change notification payload.
type Update struct {
	Scope    Scope  `json:"scope"`
	Key      string `json:"key"`
	Field    string `json:"field"`
	NewValue int64  `json:"newValue"`
}

// Entry is one counter inside a bucket.
type Entry struct {
	Field string `json:"field"`
	Count int64  `json:"count"`
}

// Group is one bucket with all of its counters.
type Group struct {
	Key   string  `json:"key"`
	Scope Scope   `json:"scope"`
	Stats []Entry `json:"stats"`
}

// Service maintains the hour/day/month rolling counters.
type Service struct {
	store       Store
	broadcaster Broadcaster
	logger      *log.Logger
}

// NewService constructs the rollup service.
func NewService(store Store, broadcaster Broadcaster, logger *log.Logger) *Service {
	return &Service{store: store, broadcaster: broadcaster, logger: logger}
}

func hourKey(ts time.Time) string  { return hourKeyPrefix + ts.Format("2006-01-02:15") }
func dayKey(ts time.Time) string   { return dayKeyPrefix + ts.Format("2006-01-02") }
func monthKey(ts time.Time) string { return monthKeyPrefix + ts.Format("2006-01") }

func keyAndTTL(scope Scope, ts time.Time) (string, time.Duration) {
	switch scope {
	case ScopeHour:
		return hourKey(ts), hourTTL
	case ScopeDay:
		return dayKey(ts), dayTTL
	default:
		return monthKey(ts), 0
	}
}

func scopePrefix(scope Scope) string {
	switch scope {
	case ScopeHour:
		return hourKeyPrefix
	case ScopeDay:
		return dayKeyPrefix
	default:
		return monthKeyPrefix
	}
}

// Increment bumps the counter for field "<category>:<severity>" in the
// hour, day and month buckets derived from ts. Expiry is set only on
// first creation of a bucket. Each successful increment emits a
// stat_update notification. The first store error is returned after all
// three resolutions were attempted.
func (s *Service) Increment(ctx context.Context, ts time.Time, category string, severity events.Severity) error {
	if s == nil || s.store == nil {
		return nil
	}
	field := category + ":" + severity.String()

	var firstErr error
	for _, scope := range []Scope{ScopeHour, ScopeDay, ScopeMonth} {
		key, ttl := keyAndTTL(scope, ts)
		value, err := s.store.IncrementField(ctx, key, field)
		if err != nil {
			metrics.IncRollupWrite(string(scope), metrics.ResultError)
			if s.logger != nil {
				s.logger.Printf("stats: increment failed: key=%s field=%s err=%v", key, field, err)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.IncRollupWrite(string(scope), metrics.ResultSuccess)
		if ttl > 0 {
			if err := s.store.EnsureTTL(ctx, key, ttl); err != nil && s.logger != nil {
				s.logger.Printf("stats: ttl failed: key=%s err=%v", key, err)
			}
		}
		s.notify(scope, key, field, value)
	}
	return firstErr
}

// SetStats overwrites the counter of a single resolution. It is used
// only by the historical backfill, which replays each granularity with
// its own aggregation window; a ts-derived write to all three buckets
// would clobber the finer resolutions.
func (s *Service) SetStats(ctx context.Context, scope Scope, ts time.Time, category string, severity events.Severity, count int64) error {
	if s == nil || s.store == nil {
		return nil
	}
	field := category + ":" + severity.String()
	key, ttl := keyAndTTL(scope, ts)
	if err := s.store.SetField(ctx, key, field, count); err != nil {
		return err
	}
	if ttl > 0 {
		if err := s.store.EnsureTTL(ctx, key, ttl); err != nil && s.logger != nil {
			s.logger.Printf("stats: ttl failed: key=%s err=%v", key, err)
		}
	}
	s.notify(scope, key, field, count)
	return nil
}

// ReadGroups scans every bucket of one resolution. Individually corrupt
// buckets or fields are logged and skipped rather than failing the read.
// Groups are sorted by bucket key descending.
func (s *Service) ReadGroups(ctx context.Context, scope Scope) ([]Group, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	prefix := scopePrefix(scope)
	keys, err := s.store.ScanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(keys))
	for _, key := range keys {
		bucket, err := s.store.ReadBucket(ctx, key)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("stats: skipping unreadable bucket %s: %v", key, err)
			}
			continue
		}
		entries := make([]Entry, 0, len(bucket))
		for field, raw := range bucket {
			count, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				if s.logger != nil {
					s.logger.Printf("stats: skipping corrupt field %s in %s: %v", field, key, err)
				}
				continue
			}
			entries = append(entries, Entry{Field: field, Count: count})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Field < entries[j].Field })
		groups = append(groups, Group{
			Key:   strings.TrimPrefix(key, prefix),
			Scope: scope,
			Stats: entries,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key > groups[j].Key })
	return groups, nil
}

// ClearAll deletes every rollup bucket. Used before a full historical
// replay to avoid double counting.
func (s *Service) ClearAll(ctx context.Context) error {
	if s == nil || s.store == nil {
		return nil
	}
	deleted, err := s.store.DeleteKeys(ctx, "summary:*")
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Printf("stats: cleared %d rollup buckets", deleted)
	}
	return nil
}

func (s *Service) notify(scope Scope, key, field string, value int64) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast("stat_update", Update{Scope: scope, Key: key, Field: field, NewValue: value})
}
