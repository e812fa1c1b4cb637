package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	events "safesite-cloud/internal/events/domain"
	stats "safesite-cloud/internal/stats/application"
)

const (
	defaultAlarmTable    = "alarm_history"
	defaultAccidentTable = "accident_history"
)

// Repository is the Postgres durable store for flushed events. It serves
// both the flush job's write side and the rollup initializer's grouped
// reads.
type Repository struct {
	db            *sql.DB
	alarmTable    string
	accidentTable string
}

// NewRepository constructs a repository using the default table names.
func NewRepository(db *sql.DB, opts ...RepositoryOption) (*Repository, error) {
	if db == nil {
		return nil, errors.New("history repo: nil db")
	}
	repo := &Repository{
		db:            db,
		alarmTable:    defaultAlarmTable,
		accidentTable: defaultAccidentTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithAlarmTable overrides the alarm table name.
func WithAlarmTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.alarmTable = table
		}
	}
}

// WithAccidentTable overrides the accident table name.
func WithAccidentTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.accidentTable = table
		}
	}
}

// InsertAlarm stores one flushed alarm event.
func (r *Repository) InsertAlarm(ctx context.Context, event events.Event) error {
	return r.insert(ctx, r.alarmTable, event)
}

// InsertAccident stores one flushed accident event.
func (r *Repository) InsertAccident(ctx context.Context, event events.Event) error {
	return r.insert(ctx, r.accidentTable, event)
}

func (r *Repository) insert(ctx context.Context, table string, event events.Event) error {
	lat := sql.NullFloat64{}
	lng := sql.NullFloat64{}
	if event.Location != nil {
		lat = sql.NullFloat64{Float64: event.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: event.Location.Lng, Valid: true}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	site_id,
	category,
	severity,
	latitude,
	longitude,
	weather,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)`, table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		event.SiteID,
		event.Category,
		int(event.Severity),
		lat,
		lng,
		event.Weather,
		event.OccurredAt,
	)
	return err
}

// CountAlarmsGroupedByType returns per (category, severity) counts of
// alarms created within [start, end).
func (r *Repository) CountAlarmsGroupedByType(ctx context.Context, start, end time.Time) ([]stats.TypeCount, error) {
	return r.countGrouped(ctx, r.alarmTable, start, end)
}

// CountAccidentsGroupedByType returns per (category, severity) counts of
// accidents created within [start, end).
func (r *Repository) CountAccidentsGroupedByType(ctx context.Context, start, end time.Time) ([]stats.TypeCount, error) {
	return r.countGrouped(ctx, r.accidentTable, start, end)
}

func (r *Repository) countGrouped(ctx context.Context, table string, start, end time.Time) ([]stats.TypeCount, error) {
	query := fmt.Sprintf(`
SELECT category, severity, COUNT(*)
FROM %s
WHERE created_at >= $1
	AND created_at < $2
GROUP BY category, severity
ORDER BY category, severity`, table)

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stats.TypeCount
	for rows.Next() {
		var row stats.TypeCount
		var severity int
		if err := rows.Scan(&row.Category, &severity, &row.Count); err != nil {
			return nil, err
		}
		row.Severity = events.Severity(severity)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// EarliestCreatedAt returns the oldest row across both tables, or the
// zero time when the store is empty.
func (r *Repository) EarliestCreatedAt(ctx context.Context) (time.Time, error) {
	query := fmt.Sprintf(`
SELECT MIN(earliest) FROM (
	SELECT MIN(created_at) AS earliest FROM %s
	UNION ALL
	SELECT MIN(created_at) FROM %s
) AS bounds`, r.alarmTable, r.accidentTable)

	var earliest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&earliest); err != nil {
		return time.Time{}, err
	}
	if !earliest.Valid {
		return time.Time{}, nil
	}
	return earliest.Time, nil
}
