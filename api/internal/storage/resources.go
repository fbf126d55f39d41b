package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Resource is a monitored asset alerts are attributed to.
type Resource struct {
	ID       string `json:"id" db:"id"`
	ClientID string `json:"client_id" db:"client_id"`
	OwnerID  string `json:"owner_id" db:"owner_id"`
	Name     string `json:"name" db:"name"`
}

// ResourceRepository resolves resource identifiers from published
// messages to their owning principal.
type ResourceRepository interface {
	ResolveOwner(ctx context.Context, resourceID string) (ownerID string, ok bool, err error)
	Upsert(ctx context.Context, res *Resource) error
}

type resourceRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

func NewResourceRepository(db *sqlx.DB, logger *logrus.Logger) ResourceRepository {
	return &resourceRepository{db: db, logger: logger}
}

func (r *resourceRepository) ResolveOwner(ctx context.Context, resourceID string) (string, bool, error) {
	var ownerID string
	query := `SELECT owner_id FROM resources WHERE id = $1`
	if err := r.db.GetContext(ctx, &ownerID, query, resourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return ownerID, true, nil
}

func (r *resourceRepository) Upsert(ctx context.Context, res *Resource) error {
	query := `INSERT INTO resources (id, client_id, owner_id, name)
	          VALUES (:id, :client_id, :owner_id, :name)
	          ON CONFLICT (id) DO UPDATE SET client_id = EXCLUDED.client_id,
	              owner_id = EXCLUDED.owner_id, name = EXCLUDED.name`
	_, err := r.db.NamedExecContext(ctx, query, res)
	return err
}
