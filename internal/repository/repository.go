// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/model"
)

// UserRepository stores accounts.
type UserRepository interface {
	// Create inserts a new account; a taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByEmail loads an account by email.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
}

// SessionRepository stores server-side sessions referenced by access tokens.
type SessionRepository interface {
	Create(ctx context.Context, s *model.SessionRecord) error
	Get(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error)
	GetByRefreshHash(ctx context.Context, hash []byte) (*model.SessionRecord, error)
	// Rotate replaces the refresh hash and expiry of a session still holding oldHash.
	Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash []byte, expiresAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// EventRepository stores rows of the events table.
type EventRepository interface {
	// Insert stores the event and returns the stored row.
	Insert(ctx context.Context, e model.NewEvent) (*model.Event, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Event, error)
}

// MediaRepository stores rows of the media table.
type MediaRepository interface {
	// Insert stores the media item; a missing event yields errs.ErrNotFound.
	Insert(ctx context.Context, m model.NewMedia) (*model.Media, error)
	// ListByEvent returns media of an event ordered by created_at descending.
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]model.Media, error)
}
