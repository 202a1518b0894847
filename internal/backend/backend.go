// Package backend defines the contract of the hosted backend the client core talks to.
package backend

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/model"
)

// Subscription is a registered session-change listener.
type Subscription interface {
	// Cancel stops delivery. It is safe to call more than once.
	Cancel()
}

// SessionHandler receives session transitions in order. s is nil when signed out.
type SessionHandler func(event model.AuthEvent, s *model.Session)

// Auth is the authentication half of the backend.
type Auth interface {
	// GetUser returns the signed-in user, or nil when there is no session.
	GetUser(ctx context.Context) (*model.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string) (*model.User, error)
	SignOut(ctx context.Context) error
	// OnSessionChange registers h. The current state is delivered first as AuthInitialSession.
	OnSessionChange(h SessionHandler) Subscription
}

// Tables is the row store.
type Tables interface {
	// InsertEvent inserts and returns the stored row. A nil row with a nil error means none came back.
	InsertEvent(ctx context.Context, row model.NewEvent) (*model.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error)
	InsertMedia(ctx context.Context, row model.NewMedia) (*model.Media, error)
	// SelectMedia returns the media of an event ordered by created_at descending.
	SelectMedia(ctx context.Context, eventID uuid.UUID) ([]model.Media, error)
}

// Storage stores media blobs.
type Storage interface {
	Upload(ctx context.Context, eventID uuid.UUID, kind model.MediaType, contentType string, data []byte) (string, error)
}

// Client is the whole backend.
type Client interface {
	Auth
	Tables
	Storage
	Close() error
}

// Config locates the backend.
type Config struct {
	URL string
	Key string
}

// Configured reports whether both the URL and the key are set.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Key) != ""
}
