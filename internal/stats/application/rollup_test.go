package stats

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	events "safesite-cloud/internal/events/domain"
)

type memStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]int64
	ttls    map[string]time.Duration
	failKey string
}

func newMemStore() *memStore {
	return &memStore{
		buckets: make(map[string]map[string]int64),
		ttls:    make(map[string]time.Duration),
	}
}

func (m *memStore) IncrementField(_ context.Context, key, field string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[key] == nil {
		m.buckets[key] = make(map[string]int64)
	}
	m.buckets[key][field]++
	return m.buckets[key][field], nil
}

func (m *memStore) SetField(_ context.Context, key, field string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[key] == nil {
		m.buckets[key] = make(map[string]int64)
	}
	m.buckets[key][field] = value
	return nil
}

func (m *memStore) EnsureTTL(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ttls[key]; !ok {
		m.ttls[key] = ttl
	}
	return nil
}

func (m *memStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range m.buckets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memStore) ReadBucket(_ context.Context, key string) (map[string]string, error) {
	if key == m.failKey {
		return nil, errors.New("bucket unreadable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.buckets[key]))
	for field, count := range m.buckets[key] {
		out[field] = strconv.FormatInt(count, 10)
	}
	return out, nil
}

func (m *memStore) DeleteKeys(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var deleted int64
	for key := range m.buckets {
		if strings.HasPrefix(key, prefix) {
			delete(m.buckets, key)
			delete(m.ttls, key)
			deleted++
		}
	}
	return deleted, nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recordingBroadcaster) Broadcast(_ string, payload any) {
	update, ok := payload.(Update)
	if !ok {
		return
	}
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
}

func TestIncrementWritesAllThreeResolutions(t *testing.T) {
	store := newMemStore()
	broadcaster := &recordingBroadcaster{}
	service := NewService(store, broadcaster, nil)

	ts := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	if err := service.Increment(context.Background(), ts, events.CategoryFall, events.SeverityAccident); err != nil {
		t.Fatalf("increment: %v", err)
	}

	for _, key := range []string{
		"summary:hour:2024-03-01:10",
		"summary:day:2024-03-01",
		"summary:month:2024-03",
	} {
		if got := store.buckets[key]["fall:3"]; got != 1 {
			t.Errorf("bucket %s = %d, want 1", key, got)
		}
	}
	if ttl := store.ttls["summary:hour:2024-03-01:10"]; ttl != 4*24*time.Hour {
		t.Errorf("hour ttl = %v", ttl)
	}
	if ttl := store.ttls["summary:day:2024-03-01"]; ttl != 120*24*time.Hour {
		t.Errorf("day ttl = %v", ttl)
	}
	if _, ok := store.ttls["summary:month:2024-03"]; ok {
		t.Error("month bucket must not expire")
	}
	if len(broadcaster.updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(broadcaster.updates))
	}
	if broadcaster.updates[0].NewValue != 1 || broadcaster.updates[0].Field != "fall:3" {
		t.Errorf("unexpected update %+v", broadcaster.updates[0])
	}
}

func TestConcurrentIncrementsCountExactly(t *testing.T) {
	store := newMemStore()
	service := NewService(store, nil, nil)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = service.Increment(context.Background(), ts, events.CategoryVehicle, events.SeverityMedium)
		}()
	}
	wg.Wait()

	if got := store.buckets["summary:hour:2024-03-01:10"]["vehicle:2"]; got != n {
		t.Errorf("hour count = %d, want %d", got, n)
	}
	if got := store.buckets["summary:month:2024-03"]["vehicle:2"]; got != n {
		t.Errorf("month count = %d, want %d", got, n)
	}
}

func TestReadGroupsSortedDescendingAndSkipsCorrupt(t *testing.T) {
	store := newMemStore()
	service := NewService(store, nil, discardLogger())

	ctx := context.Background()
	ts10 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ts11 := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = service.Increment(ctx, ts10, events.CategoryVehicle, events.SeverityMedium)
	}
	for i := 0; i < 2; i++ {
		_ = service.Increment(ctx, ts11, events.CategoryFall, events.SeverityLow)
	}
	store.failKey = "summary:hour:2024-03-01:11"

	groups, err := service.ReadGroups(ctx, ScopeHour)
	if err != nil {
		t.Fatalf("read groups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1 (corrupt bucket skipped)", len(groups))
	}
	if groups[0].Key != "2024-03-01:10" {
		t.Errorf("group key = %q", groups[0].Key)
	}
	if groups[0].Stats[0].Field != "vehicle:2" || groups[0].Stats[0].Count != 3 {
		t.Errorf("unexpected entry %+v", groups[0].Stats[0])
	}

	store.failKey = ""
	groups, err = service.ReadGroups(ctx, ScopeHour)
	if err != nil {
		t.Fatalf("read groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Key != "2024-03-01:11" || groups[1].Key != "2024-03-01:10" {
		t.Errorf("groups not sorted descending: %q, %q", groups[0].Key, groups[1].Key)
	}
	if groups[0].Stats[0].Count != 2 || groups[1].Stats[0].Count != 3 {
		t.Errorf("unexpected counts %d, %d", groups[0].Stats[0].Count, groups[1].Stats[0].Count)
	}
}

func TestClearAllRemovesEveryBucket(t *testing.T) {
	store := newMemStore()
	service := NewService(store, nil, discardLogger())
	ctx := context.Background()
	_ = service.Increment(ctx, time.Now(), events.CategoryMaterial, events.SeverityLow)

	if err := service.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(store.buckets) != 0 {
		t.Errorf("buckets remain: %d", len(store.buckets))
	}
}
