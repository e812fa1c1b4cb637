package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "safesite-cloud/internal/masterdata/domain"
)

const defaultSitesTable = "construction_sites"

// DBTX is the minimal query interface satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SiteRepository is a Postgres repository for construction sites.
type SiteRepository struct {
	db    DBTX
	table string
}

// NewSiteRepository constructs a repository.
func NewSiteRepository(db DBTX, opts ...SiteOption) *SiteRepository {
	repo := &SiteRepository{db: db, table: defaultSitesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// SiteOption configures the repository.
type SiteOption func(*SiteRepository)

// WithSitesTable overrides the default table name.
func WithSitesTable(table string) SiteOption {
	return func(repo *SiteRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a site by id. A missing site yields (nil, nil).
func (r *SiteRepository) Get(ctx context.Context, id int64) (*masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, name, status
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var site masterdata.Site
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&site.ID,
		&site.Name,
		&site.Status,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}
