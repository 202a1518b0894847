package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
)

// EventRepo implements repository.EventRepository using PostgreSQL.
type EventRepo struct{ db *DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, name, description, qr_code, expires_at, created_at, user_id`

// Insert stores an event and returns the row as written. A nil ID is assigned here.
func (r *EventRepo) Insert(ctx context.Context, e model.NewEvent) (*model.Event, error) {
	if e.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		e.ID = id
	}
	const q = `
INSERT INTO events (id, name, description, qr_code, expires_at, user_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + eventColumns
	row := r.db.Pool.QueryRow(ctx, q, e.ID, e.Name, e.Description, e.QRCode, e.ExpiresAt, e.UserID)
	ev, err := scanEvent(row)
	switch {
	case isUniqueViolation(err):
		return nil, errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return nil, errs.ErrNotFound
	}
	return ev, err
}

// Get selects an event by ID.
func (r *EventRepo) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id=$1`
	return scanEvent(r.db.Pool.QueryRow(ctx, q, id))
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &e.QRCode, &e.ExpiresAt, &e.CreatedAt, &e.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
