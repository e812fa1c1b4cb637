package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	media "safesite-cloud/internal/media/application"
)

const defaultVideoTable = "accident_videos"

// VideoRepository is a Postgres store for accident video records.
type VideoRepository struct {
	db    *sql.DB
	table string
}

// NewVideoRepository constructs a repository.
func NewVideoRepository(db *sql.DB, opts ...VideoOption) (*VideoRepository, error) {
	if db == nil {
		return nil, errors.New("video repo: nil db")
	}
	repo := &VideoRepository{db: db, table: defaultVideoTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// VideoOption configures the repository.
type VideoOption func(*VideoRepository)

// WithVideoTable overrides the default table name.
func WithVideoTable(table string) VideoOption {
	return func(repo *VideoRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Insert stores one video record.
func (r *VideoRepository) Insert(ctx context.Context, video media.Video) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	site_id,
	url,
	created_at
) VALUES (
	$1, $2, $3, $4
)`, r.table)

	_, err := r.db.ExecContext(ctx, query, video.ID, video.SiteID, video.URL, video.CreatedAt)
	return err
}
