package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	events "safesite-cloud/internal/events/domain"
)

// Setter writes the shared weather snapshot read at ingestion time.
type Setter interface {
	SetCurrent(ctx context.Context, condition string, ttl time.Duration) error
}

// conditionTable maps provider condition groups onto the snapshot
// vocabulary ingestion stamps on events.
var conditionTable = map[string]string{
	"Clear":        "clear",
	"Clouds":       "cloudy",
	"Rain":         "rain",
	"Drizzle":      "rain",
	"Thunderstorm": "storm",
	"Snow":         "snow",
	"Mist":         "fog",
	"Fog":          "fog",
	"Haze":         "fog",
}

type providerResponse struct {
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

// Updater polls the weather provider for the configured coordinates and
// caches the condition for the ingestion pipeline.
type Updater struct {
	client   *resty.Client
	apiKey   string
	lat, lng float64
	interval time.Duration
	setter   Setter
	logger   *log.Logger
}

// NewUpdater constructs a poller against the provider at baseURL.
func NewUpdater(baseURL, apiKey string, lat, lng float64, interval time.Duration,
	setter Setter, logger *log.Logger) (*Updater, error) {
	if baseURL == "" {
		return nil, errors.New("weather: base url required")
	}
	if setter == nil {
		return nil, errors.New("weather: setter required")
	}
	if interval <= 0 {
		return nil, errors.New("weather: interval must be positive")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1*time.Second).
		SetHeader("Accept", "application/json")
	return &Updater{
		client:   client,
		apiKey:   apiKey,
		lat:      lat,
		lng:      lng,
		interval: interval,
		setter:   setter,
		logger:   logger,
	}, nil
}

// Refresh fetches the current condition once and caches it. The cache
// entry outlives two polling intervals so a single missed poll does not
// blank the snapshot.
func (u *Updater) Refresh(ctx context.Context) error {
	var payload providerResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":   strconv.FormatFloat(u.lat, 'f', -1, 64),
			"lon":   strconv.FormatFloat(u.lng, 'f', -1, 64),
			"appid": u.apiKey,
		}).
		SetResult(&payload).
		Get("/data/2.5/weather")
	if err != nil {
		return fmt.Errorf("weather: provider call failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("weather: provider returned %s", resp.Status())
	}

	condition := events.DefaultWeather
	if len(payload.Weather) > 0 {
		if mapped, ok := conditionTable[payload.Weather[0].Main]; ok {
			condition = mapped
		}
	}

	if err := u.setter.SetCurrent(ctx, condition, 2*u.interval); err != nil {
		return fmt.Errorf("weather: caching snapshot: %w", err)
	}
	if u.logger != nil {
		u.logger.Printf("weather: snapshot updated to %q", condition)
	}
	return nil
}

// Start polls until ctx is cancelled. Failed polls are logged; the
// previous snapshot stays valid until its TTL runs out.
func (u *Updater) Start(ctx context.Context) {
	if err := u.Refresh(ctx); err != nil && u.logger != nil {
		u.logger.Printf("weather: initial refresh failed: %v", err)
	}
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.Refresh(ctx); err != nil && u.logger != nil {
				u.logger.Printf("weather: refresh failed: %v", err)
			}
		}
	}
}
