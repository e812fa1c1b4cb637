package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	events "safesite-cloud/internal/events/domain"
	masterdata "safesite-cloud/internal/masterdata/domain"
)

// Buffer is the transient write-behind store for raw events.
type Buffer interface {
	Append(ctx context.Context, key string, item []byte, ttl time.Duration) error
}

// LocationReader resolves a device's last-known coordinates.
// A (nil, nil) return means no coordinates are cached.
type LocationReader interface {
	DeviceLocation(ctx context.Context, deviceID int64) (*events.Location, error)
}

// WeatherReader returns the latest cached weather snapshot, "" on miss.
type WeatherReader interface {
	Current(ctx context.Context) (string, error)
}

// Rollups receives per-event counter increments.
type Rollups interface {
	Increment(ctx context.Context, ts time.Time, category string, severity events.Severity) error
}

// Broadcaster pushes a named event to live subscribers.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// MediaCreator produces a video artifact for a severity-3 event and
// returns its reference.
type MediaCreator interface {
	Create(ctx context.Context, event events.Event) (string, error)
}

// SiteReader resolves construction-site master data.
type SiteReader interface {
	Get(ctx context.Context, id int64) (*masterdata.Site, error)
}

// Clock abstracts now.
type Clock interface {
	Now() time.Time
}

// Input is the raw device payload for one event.
type Input struct {
	SiteID int64
	Code   int
}

// Notification is the fan-out payload for a freshly ingested event.
type Notification struct {
	SiteID     int64     `json:"construction_sites_id"`
	GPS        *GeoPoint `json:"gps,omitempty"`
	Category   string    `json:"category"`
	Severity   string    `json:"severity"`
	Weather    string    `json:"weather"`
	OccurredAt time.Time `json:"occurred_at"`
	SiteName   string    `json:"site_name,omitempty"`
	SiteStatus string    `json:"site_status,omitempty"`
}

// GeoPoint is the GeoJSON-ish coordinate shape viewers expect.
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// MediaNotification announces a video artifact attached after the fact.
type MediaNotification struct {
	SiteID     int64     `json:"construction_sites_id"`
	MediaRef   string    `json:"video_url"`
	OccurredAt time.Time `json:"occurred_at"`
}

const mediaTimeout = 30 * time.Second

// Sentinel errors callers can classify failures against.
var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrBufferWrite = errors.New("buffer write failed")
)

// Service is the ingestion pipeline: normalize, enrich, buffer, count,
// fan out. Buffer failures fail the call; everything downstream of the
// buffer is best-effort.
type Service struct {
	buffer    Buffer
	locations LocationReader
	weather   WeatherReader
	rollups   Rollups
	alarms    Broadcaster
	accidents Broadcaster
	media     MediaCreator
	sites     SiteReader
	clock     Clock
	logger    *log.Logger
}

// Option configures optional collaborators.
type Option func(*Service)

// WithMedia enables asynchronous video attachment for severity-3 events.
func WithMedia(creator MediaCreator) Option {
	return func(s *Service) { s.media = creator }
}

// WithSites enriches fan-out payloads with site master data.
func WithSites(reader SiteReader) Option {
	return func(s *Service) { s.sites = reader }
}

// NewService constructs the ingestion pipeline.
func NewService(buffer Buffer, locations LocationReader, weather WeatherReader, rollups Rollups,
	alarms, accidents Broadcaster, clock Clock, logger *log.Logger, opts ...Option) (*Service, error) {
	if buffer == nil {
		return nil, errors.New("ingestion: buffer required")
	}
	if clock == nil {
		return nil, errors.New("ingestion: clock required")
	}
	s := &Service{
		buffer:    buffer,
		locations: locations,
		weather:   weather,
		rollups:   rollups,
		alarms:    alarms,
		accidents: accidents,
		clock:     clock,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest records one raw device event. Enrichment misses degrade to
// defaults and never abort the call; a buffer write failure does.
func (s *Service) Ingest(ctx context.Context, kind events.Kind, deviceID int64, in Input) (*events.Event, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("ingestion: %w %q", ErrUnknownKind, kind)
	}

	info := events.Normalize(in.Code)
	event := events.Event{
		SiteID:     in.SiteID,
		Kind:       kind,
		Category:   info.Category,
		Severity:   info.Severity,
		Weather:    s.resolveWeather(ctx),
		OccurredAt: s.clock.Now(),
	}
	event.Location = s.resolveLocation(ctx, deviceID)

	if err := s.bufferEvent(ctx, event); err != nil {
		if s.logger != nil {
			s.logger.Printf("ingestion: buffer write failed: site=%d kind=%s err=%v", in.SiteID, kind, err)
		}
		return nil, fmt.Errorf("ingestion: buffering event: %w", err)
	}

	if s.rollups != nil {
		if err := s.rollups.Increment(ctx, event.OccurredAt, event.Category, event.Severity); err != nil && s.logger != nil {
			s.logger.Printf("ingestion: rollup increment failed: %v", err)
		}
	}

	s.fanOut(ctx, event)

	if event.Severity == events.SeverityAccident && s.media != nil {
		go s.attachMedia(event)
	}

	return &event, nil
}

func (s *Service) resolveLocation(ctx context.Context, deviceID int64) *events.Location {
	if s.locations == nil {
		return nil
	}
	loc, err := s.locations.DeviceLocation(ctx, deviceID)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("ingestion: gps lookup failed for device %d: %v", deviceID, err)
		}
		return nil
	}
	if loc == nil && s.logger != nil {
		s.logger.Printf("ingestion: no gps cached for device %d, location left absent", deviceID)
	}
	return loc
}

func (s *Service) resolveWeather(ctx context.Context) string {
	if s.weather == nil {
		return events.DefaultWeather
	}
	snapshot, err := s.weather.Current(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("ingestion: weather lookup failed: %v", err)
		}
		return events.DefaultWeather
	}
	if snapshot == "" {
		return events.DefaultWeather
	}
	return snapshot
}

func (s *Service) bufferEvent(ctx context.Context, event events.Event) error {
	item, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := events.BufferKey(event.Kind, event.SiteID, event.OccurredAt)
	if err := s.buffer.Append(ctx, key, item, events.BufferTTL); err != nil {
		return fmt.Errorf("%w: %w", ErrBufferWrite, err)
	}
	return nil
}

func (s *Service) fanOut(ctx context.Context, event events.Event) {
	broadcaster := s.alarms
	name := string(events.KindAlarm)
	if event.Kind == events.KindAccident {
		broadcaster = s.accidents
		name = string(events.KindAccident)
	}
	if broadcaster == nil {
		return
	}

	notification := Notification{
		SiteID:     event.SiteID,
		Category:   event.Category,
		Severity:   event.Severity.String(),
		Weather:    event.Weather,
		OccurredAt: event.OccurredAt,
	}
	if event.Location != nil {
		notification.GPS = &GeoPoint{
			Type:        "Point",
			Coordinates: [2]float64{event.Location.Lat, event.Location.Lng},
		}
	}
	if s.sites != nil {
		if site, err := s.sites.Get(ctx, event.SiteID); err == nil && site != nil {
			notification.SiteName = site.Name
			notification.SiteStatus = site.Status
		}
	}
	broadcaster.Broadcast(name, notification)
}

// attachMedia requests the video artifact off the request path and
// announces it with a second frame once available.
func (s *Service) attachMedia(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
	defer cancel()

	ref, err := s.media.Create(ctx, event)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("ingestion: media attach failed: site=%d err=%v", event.SiteID, err)
		}
		return
	}
	if ref == "" {
		return
	}
	if s.accidents != nil {
		s.accidents.Broadcast("accident_video", MediaNotification{
			SiteID:     event.SiteID,
			MediaRef:   ref,
			OccurredAt: event.OccurredAt,
		})
	}
}
