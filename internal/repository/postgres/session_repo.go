package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
)

// SessionRepo implements repository.SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a session row.
func (r *SessionRepo) Create(ctx context.Context, s *model.SessionRecord) error {
	const q = `INSERT INTO sessions (id, user_id, refresh_hash, expires_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.UserID, s.RefreshHash, s.ExpiresAt)
	if isForeignKeyViolation(err) {
		return errs.ErrNotFound
	}
	return err
}

// Get selects a session by ID.
func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error) {
	const q = `SELECT id, user_id, refresh_hash, expires_at, created_at FROM sessions WHERE id=$1`
	return scanSession(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByRefreshHash selects a session by the digest of its refresh token.
func (r *SessionRepo) GetByRefreshHash(ctx context.Context, hash []byte) (*model.SessionRecord, error) {
	const q = `SELECT id, user_id, refresh_hash, expires_at, created_at FROM sessions WHERE refresh_hash=$1`
	return scanSession(r.db.Pool.QueryRow(ctx, q, hash))
}

// Rotate swaps the refresh token digest and extends the session, but only while
// the row still holds oldHash. A concurrent rotation leaves zero rows: ErrNotFound.
func (r *SessionRepo) Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash []byte, expiresAt time.Time) error {
	const q = `UPDATE sessions SET refresh_hash=$3, expires_at=$4 WHERE id=$1 AND refresh_hash=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, oldHash, newHash, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a session; deleting a missing session is not an error.
func (r *SessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM sessions WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}

func scanSession(row pgx.Row) (*model.SessionRecord, error) {
	var s model.SessionRecord
	if err := row.Scan(&s.ID, &s.UserID, &s.RefreshHash, &s.ExpiresAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}
