package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
)

// MediaRepo implements repository.MediaRepository using PostgreSQL.
type MediaRepo struct{ db *DB }

// NewMediaRepo constructs a media repository.
func NewMediaRepo(db *DB) *MediaRepo { return &MediaRepo{db: db} }

const mediaColumns = `id, event_id, type, url, created_at, user_id`

// Insert stores a media row. The event must exist.
func (r *MediaRepo) Insert(ctx context.Context, m model.NewMedia) (*model.Media, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	const q = `
INSERT INTO media (id, event_id, type, url, user_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + mediaColumns
	out, err := scanMedia(r.db.Pool.QueryRow(ctx, q, id, m.EventID, string(m.Type), m.URL, m.UserID))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

// ListByEvent returns every media row of an event, newest first.
func (r *MediaRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]model.Media, error) {
	const q = `
SELECT ` + mediaColumns + `
FROM media
WHERE event_id=$1
ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Media{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMedia(row pgx.Row) (*model.Media, error) {
	var (
		m   model.Media
		typ string
	)
	if err := row.Scan(&m.ID, &m.EventID, &typ, &m.URL, &m.CreatedAt, &m.UserID); err != nil {
		return nil, err
	}
	t, err := model.ParseMediaType(typ)
	if err != nil {
		return nil, fmt.Errorf("media %s: %w", m.ID, err)
	}
	m.Type = t
	return &m, nil
}
