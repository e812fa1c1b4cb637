package flush

import (
	"context"
	"encoding/json"
	"log"
	"time"

	events "safesite-cloud/internal/events/domain"
)

// Buffer reads the transient event buffers.
type Buffer interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
	Range(ctx context.Context, key string) ([]string, error)
}

// History is the durable store write side.
type History interface {
	InsertAlarm(ctx context.Context, event events.Event) error
	InsertAccident(ctx context.Context, event events.Event) error
}

// Job migrates one day's buffered events of one kind into the durable
// store. Migrated keys are not deleted; the buffer's natural expiry
// cleans them up, which makes re-runs at-least-once rather than lossy.
type Job struct {
	buffer  Buffer
	history History
	logger  *log.Logger
}

// NewJob constructs a flush job.
func NewJob(buffer Buffer, history History, logger *log.Logger) *Job {
	return &Job{buffer: buffer, history: history, logger: logger}
}

// Result summarizes one flush run.
type Result struct {
	Keys     int
	Migrated int
	Skipped  int
}

// Run scans every buffer key of the kind for the given day and inserts
// each buffered event. An undecodable item is logged and skipped; it
// aborts neither its list nor the remaining keys. Zero matching keys is
// a logged no-op, not an error.
func (j *Job) Run(ctx context.Context, kind events.Kind, day time.Time) (Result, error) {
	var result Result
	if j == nil || j.buffer == nil || j.history == nil {
		return result, nil
	}

	pattern := events.BufferPattern(kind, day)
	keys, err := j.buffer.Keys(ctx, pattern)
	if err != nil {
		return result, err
	}
	if len(keys) == 0 {
		if j.logger != nil {
			j.logger.Printf("flush: no %s buffers for %s, nothing to migrate", kind, day.Format("2006-01-02"))
		}
		return result, nil
	}
	result.Keys = len(keys)

	for _, key := range keys {
		items, err := j.buffer.Range(ctx, key)
		if err != nil {
			if j.logger != nil {
				j.logger.Printf("flush: skipping unreadable key %s: %v", key, err)
			}
			continue
		}
		if j.logger != nil {
			j.logger.Printf("flush: key=%s items=%d", key, len(items))
		}
		for _, raw := range items {
			event, err := decodeBuffered(kind, raw)
			if err != nil {
				result.Skipped++
				if j.logger != nil {
					j.logger.Printf("flush: skipping undecodable item in %s: %v", key, err)
				}
				continue
			}
			if err := j.insert(ctx, event); err != nil {
				result.Skipped++
				if j.logger != nil {
					j.logger.Printf("flush: insert failed for %s item: %v", key, err)
				}
				continue
			}
			result.Migrated++
		}
	}

	if j.logger != nil {
		j.logger.Printf("flush: %s done: keys=%d migrated=%d skipped=%d",
			kind, result.Keys, result.Migrated, result.Skipped)
	}
	return result, nil
}

func (j *Job) insert(ctx context.Context, event events.Event) error {
	if event.Kind == events.KindAccident {
		return j.history.InsertAccident(ctx, event)
	}
	return j.history.InsertAlarm(ctx, event)
}

// decodeBuffered parses one buffered item against the canonical wire
// schema. The kind from the buffer key wins when the item predates the
// kind field.
func decodeBuffered(kind events.Kind, raw string) (events.Event, error) {
	var event events.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return events.Event{}, err
	}
	if event.Kind == "" {
		event.Kind = kind
	}
	return event, nil
}
