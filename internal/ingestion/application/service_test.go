package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	events "safesite-cloud/internal/events/domain"
	masterdata "safesite-cloud/internal/masterdata/domain"
)

type memBuffer struct {
	mu    sync.Mutex
	lists map[string][]string
	ttls  map[string]time.Duration
	fail  bool
}

func newMemBuffer() *memBuffer {
	return &memBuffer{lists: make(map[string][]string), ttls: make(map[string]time.Duration)}
}

func (m *memBuffer) Append(_ context.Context, key string, item []byte, ttl time.Duration) error {
	if m.fail {
		return errors.New("buffer unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], string(item))
	m.ttls[key] = ttl
	return nil
}

type stubLocations struct {
	loc *events.Location
	err error
}

func (s stubLocations) DeviceLocation(context.Context, int64) (*events.Location, error) {
	return s.loc, s.err
}

type stubWeather struct {
	snapshot string
	err      error
}

func (s stubWeather) Current(context.Context) (string, error) {
	return s.snapshot, s.err
}

type recordingRollups struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingRollups) Increment(_ context.Context, ts time.Time, category string, severity events.Severity) error {
	r.mu.Lock()
	r.calls = append(r.calls, ts.Format("2006-01-02:15")+" "+category+":"+severity.String())
	r.mu.Unlock()
	return r.err
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []string
	wait   chan struct{}
}

func (f *frameRecorder) Broadcast(event string, payload any) {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	f.frames = append(f.frames, event+" "+string(data))
	f.mu.Unlock()
	if f.wait != nil {
		select {
		case f.wait <- struct{}{}:
		default:
		}
	}
}

type stubMedia struct {
	ref string
	err error
}

func (s stubMedia) Create(context.Context, events.Event) (string, error) {
	return s.ref, s.err
}

type stubSites struct{ site *masterdata.Site }

func (s stubSites) Get(context.Context, int64) (*masterdata.Site, error) {
	return s.site, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestIngestAccidentWithoutCachedLocation(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	buffer := newMemBuffer()
	rollups := &recordingRollups{}
	accidents := &frameRecorder{}

	service, err := NewService(buffer, stubLocations{}, stubWeather{}, rollups,
		&frameRecorder{}, accidents, fixedClock{now}, quietLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	event, err := service.Ingest(context.Background(), events.KindAccident, 7, Input{SiteID: 42, Code: 6})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if event.Location != nil {
		t.Error("location must be absent when no gps is cached")
	}
	if event.Weather != "clear" {
		t.Errorf("weather = %q, want clear", event.Weather)
	}
	if event.Category != events.CategoryFall || event.Severity != events.SeverityAccident {
		t.Errorf("normalized to %s:%s", event.Category, event.Severity)
	}

	items := buffer.lists["accident:42:2024-03-01"]
	if len(items) != 1 {
		t.Fatalf("buffered items = %d, want 1 under accident:42:2024-03-01", len(items))
	}
	if ttl := buffer.ttls["accident:42:2024-03-01"]; ttl != 48*time.Hour {
		t.Errorf("buffer ttl = %v, want 48h", ttl)
	}
	var stored events.Event
	if err := json.Unmarshal([]byte(items[0]), &stored); err != nil {
		t.Fatalf("buffered item not canonical wire json: %v", err)
	}
	if stored.SiteID != 42 || stored.Kind != events.KindAccident {
		t.Errorf("stored event %+v", stored)
	}

	if len(rollups.calls) != 1 || rollups.calls[0] != "2024-03-01:10 fall:3" {
		t.Errorf("rollup calls = %v", rollups.calls)
	}
	if len(accidents.frames) != 1 {
		t.Fatalf("accident frames = %d, want 1", len(accidents.frames))
	}
	if got := accidents.frames[0]; got[:8] != "accident" {
		t.Errorf("frame = %q", got)
	}
}

func TestIngestBuffersInArrivalOrder(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	buffer := newMemBuffer()
	service, err := NewService(buffer, stubLocations{}, stubWeather{}, nil, nil, nil, fixedClock{now}, quietLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	for _, code := range []int{1, 4, 7} {
		if _, err := service.Ingest(context.Background(), events.KindAlarm, 1, Input{SiteID: 5, Code: code}); err != nil {
			t.Fatalf("ingest code %d: %v", code, err)
		}
	}

	items := buffer.lists["alarm:5:2024-03-01"]
	if len(items) != 3 {
		t.Fatalf("buffered items = %d, want 3", len(items))
	}
	want := []string{events.CategoryMaterial, events.CategoryFall, events.CategoryVehicle}
	for i, raw := range items {
		var stored events.Event
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
		if stored.Category != want[i] {
			t.Errorf("item %d category = %s, want %s (append order)", i, stored.Category, want[i])
		}
	}
}

func TestIngestFailsWhenBufferWriteFails(t *testing.T) {
	buffer := newMemBuffer()
	buffer.fail = true
	service, err := NewService(buffer, stubLocations{}, stubWeather{}, nil, nil, nil,
		fixedClock{time.Now()}, quietLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = service.Ingest(context.Background(), events.KindAlarm, 1, Input{SiteID: 1, Code: 1})
	if err == nil {
		t.Fatal("buffer failure must surface as ingestion failure")
	}
	if !errors.Is(err, ErrBufferWrite) {
		t.Errorf("err = %v, want ErrBufferWrite in the chain", err)
	}
}

func TestIngestRejectsUnknownKind(t *testing.T) {
	service, err := NewService(newMemBuffer(), stubLocations{}, stubWeather{}, nil, nil, nil,
		fixedClock{time.Now()}, quietLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = service.Ingest(context.Background(), events.Kind("incident"), 1, Input{SiteID: 1, Code: 1})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind in the chain", err)
	}
}

func TestIngestSwallowsSidePathFailures(t *testing.T) {
	buffer := newMemBuffer()
	rollups := &recordingRollups{err: errors.New("stats down")}
	service, err := NewService(buffer, stubLocations{err: errors.New("gps down")},
		stubWeather{err: errors.New("weather down")}, rollups, &frameRecorder{}, &frameRecorder{},
		fixedClock{time.Now()}, quietLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	event, err := service.Ingest(context.Background(), events.KindAlarm, 1, Input{SiteID: 9, Code: 2})
	if err != nil {
		t.Fatalf("side-path failures must not fail ingestion: %v", err)
	}
	if event.Weather != "clear" || event.Location != nil {
		t.Errorf("degraded defaults not applied: %+v", event)
	}
}

func TestIngestEnrichesWithLocationAndSite(t *testing.T) {
	alarms := &frameRecorder{}
	service, err := NewService(newMemBuffer(), stubLocations{loc: &events.Location{Lat: 37.5, Lng: 127.03}},
		stubWeather{snapshot: "rain"}, nil, alarms, nil, fixedClock{time.Now()}, quietLogger(),
		WithSites(stubSites{site: &masterdata.Site{ID: 5, Name: "Yeoksam Station Site", Status: "active"}}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	event, err := service.Ingest(context.Background(), events.KindAlarm, 3, Input{SiteID: 5, Code: 8})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if event.Location == nil || event.Location.Lat != 37.5 {
		t.Errorf("location = %+v", event.Location)
	}
	if event.Weather != "rain" {
		t.Errorf("weather = %q", event.Weather)
	}
	if len(alarms.frames) != 1 {
		t.Fatalf("alarm frames = %d", len(alarms.frames))
	}
	var payload Notification
	frame := alarms.frames[0]
	if err := json.Unmarshal([]byte(frame[len("alarm "):]), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.GPS == nil || payload.GPS.Type != "Point" {
		t.Errorf("gps payload = %+v", payload.GPS)
	}
	if payload.SiteName != "Yeoksam Station Site" {
		t.Errorf("site name = %q", payload.SiteName)
	}
}

func TestSeverityThreeRequestsMediaAsync(t *testing.T) {
	accidents := &frameRecorder{wait: make(chan struct{}, 2)}
	service, err := NewService(newMemBuffer(), stubLocations{}, stubWeather{}, nil, nil, accidents,
		fixedClock{time.Now()}, quietLogger(), WithMedia(stubMedia{ref: "https://cdn.example.com/v/1.mp4"}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := service.Ingest(context.Background(), events.KindAccident, 2, Input{SiteID: 3, Code: 9}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// accident frame is synchronous, the video frame arrives later
	deadline := time.After(2 * time.Second)
	for {
		accidents.mu.Lock()
		n := len(accidents.frames)
		accidents.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-accidents.wait:
		case <-deadline:
			t.Fatal("no accident_video frame within deadline")
		}
	}
	accidents.mu.Lock()
	defer accidents.mu.Unlock()
	if got := accidents.frames[1]; got[:14] != "accident_video" {
		t.Errorf("second frame = %q", got)
	}
}
