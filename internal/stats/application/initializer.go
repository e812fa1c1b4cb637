package stats

import (
	"context"
	"log"
	"time"

	events "safesite-cloud/internal/events/domain"
)

const (
	replayHourDays  = 5
	replayDayMonths = 4
)

// TypeCount is one grouped row from the durable store.
type TypeCount struct {
	Category string
	Severity events.Severity
	Count    int64
}

// HistoryAggregates exposes the durable store's grouped counts used to
// seed the rollups.
type HistoryAggregates interface {
	CountAlarmsGroupedByType(ctx context.Context, start, end time.Time) ([]TypeCount, error)
	CountAccidentsGroupedByType(ctx context.Context, start, end time.Time) ([]TypeCount, error)
	EarliestCreatedAt(ctx context.Context) (time.Time, error)
}

// Clock abstracts now for the replay windows.
type Clock interface {
	Now() time.Time
}

// Initializer rebuilds the rollup counters from the durable store. It
// runs once, before the process starts accepting live increments, or on
// an explicit operator request.
type Initializer struct {
	history HistoryAggregates
	service *Service
	clock   Clock
	logger  *log.Logger
}

// NewInitializer constructs the backfill initializer.
func NewInitializer(history HistoryAggregates, service *Service, clock Clock, logger *log.Logger) *Initializer {
	return &Initializer{history: history, service: service, clock: clock, logger: logger}
}

// Replay clears all rollup buckets and reseeds them: hour buckets for
// the recent days, day buckets for the recent months, month buckets from
// the earliest durable row. Accident rows replay with severity 3.
func (i *Initializer) Replay(ctx context.Context) error {
	if i == nil || i.history == nil || i.service == nil {
		return nil
	}
	if err := i.service.ClearAll(ctx); err != nil {
		return err
	}
	now := i.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	hourStart := today.AddDate(0, 0, -replayHourDays)
	hourEnd := now.Truncate(time.Hour)
	for cursor := hourStart; cursor.Before(hourEnd); cursor = cursor.Add(time.Hour) {
		if err := i.writeWindow(ctx, ScopeHour, cursor, cursor.Add(time.Hour)); err != nil {
			return err
		}
	}

	dayStart := today.AddDate(0, -replayDayMonths, 0)
	for cursor := dayStart; !cursor.After(today); cursor = cursor.AddDate(0, 0, 1) {
		if err := i.writeWindow(ctx, ScopeDay, cursor, cursor.AddDate(0, 0, 1)); err != nil {
			return err
		}
	}

	earliest, err := i.history.EarliestCreatedAt(ctx)
	if err != nil {
		return err
	}
	if earliest.IsZero() {
		earliest = now
	}
	monthStart := time.Date(earliest.Year(), earliest.Month(), 1, 0, 0, 0, 0, now.Location())
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for cursor := monthStart; !cursor.After(thisMonth); cursor = cursor.AddDate(0, 1, 0) {
		if err := i.writeWindow(ctx, ScopeMonth, cursor, cursor.AddDate(0, 1, 0)); err != nil {
			return err
		}
	}

	if i.logger != nil {
		i.logger.Printf("stats: replay complete: hours since %s, days since %s, months since %s",
			hourStart.Format("2006-01-02"), dayStart.Format("2006-01-02"), monthStart.Format("2006-01"))
	}
	return nil
}

func (i *Initializer) writeWindow(ctx context.Context, scope Scope, start, end time.Time) error {
	alarmRows, err := i.history.CountAlarmsGroupedByType(ctx, start, end)
	if err != nil {
		return err
	}
	for _, row := range alarmRows {
		if err := i.service.SetStats(ctx, scope, start, row.Category, row.Severity, row.Count); err != nil {
			return err
		}
	}

	accidentRows, err := i.history.CountAccidentsGroupedByType(ctx, start, end)
	if err != nil {
		return err
	}
	for _, row := range accidentRows {
		if err := i.service.SetStats(ctx, scope, start, row.Category, events.SeverityAccident, row.Count); err != nil {
			return err
		}
	}
	return nil
}
