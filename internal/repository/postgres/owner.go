package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/hhledger/internal/apperrors"
	"github.com/nkiryanov/hhledger/internal/models"
)

type OwnerRepo struct {
	DB DBTX
}

const createOwner = `-- name: CreateOwner
INSERT INTO owners (id, name, status)
VALUES ($1, $2, $3)
RETURNING id, created_at, name, status
`

func (r *OwnerRepo) CreateOwner(ctx context.Context, name string, status string) (models.Owner, error) {
	if status == "" {
		status = models.OwnerStatusActive
	}

	rows, _ := r.DB.Query(ctx, createOwner, uuid.New(), name, status)
	owner, err := pgx.CollectOneRow(rows, rowToOwner)

	if err != nil {
		return owner, dbError("db error", err)
	}

	return owner, nil
}

const getOwner = `-- name: GetOwner
SELECT id, created_at, name, status FROM owners
WHERE id = $1
`

func (r *OwnerRepo) GetOwner(ctx context.Context, ownerID uuid.UUID) (models.Owner, error) {
	rows, _ := r.DB.Query(ctx, getOwner, ownerID)
	owner, err := pgx.CollectOneRow(rows, rowToOwner)

	switch {
	case err == nil:
		return owner, nil
	case errors.Is(err, pgx.ErrNoRows):
		return owner, apperrors.ErrOwnerNotFound
	default:
		return owner, dbError("db error", err)
	}
}

func rowToOwner(row pgx.CollectableRow) (models.Owner, error) {
	var o models.Owner
	err := row.Scan(&o.ID, &o.CreatedAt, &o.Name, &o.Status)
	return o, err
}
