package flush

import (
	"context"
	"log"
	"time"

	events "safesite-cloud/internal/events/domain"
	"safesite-cloud/internal/observability/metrics"
)

// Scheduler runs the flush job once a day at a fixed wall-clock time,
// migrating yesterday's alarm and accident buffers.
type Scheduler struct {
	job     *Job
	dailyAt string
	logger  *log.Logger
}

// NewScheduler constructs a scheduler.
func NewScheduler(job *Job, dailyAt string, logger *log.Logger) *Scheduler {
	return &Scheduler{job: job, dailyAt: dailyAt, logger: logger}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.job == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.RunOnce(ctx, now.UTC())
		}
	}
}

// RunOnce migrates yesterday's buffers for both kinds. It is also the
// entry point for the manual operator trigger.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) {
	yesterday := now.AddDate(0, 0, -1)
	for _, kind := range []events.Kind{events.KindAlarm, events.KindAccident} {
		result, err := s.job.Run(ctx, kind, yesterday)
		if err != nil {
			metrics.ObserveFlush(string(kind), metrics.ResultError, result.Migrated, result.Skipped)
			if s.logger != nil {
				s.logger.Printf("flush: scheduled %s run failed: %v", kind, err)
			}
			continue
		}
		metrics.ObserveFlush(string(kind), metrics.ResultSuccess, result.Migrated, result.Skipped)
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	at, err := time.Parse("15:04", s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == at.Hour() && now.Minute() == at.Minute()
}
