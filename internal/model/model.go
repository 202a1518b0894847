// Package model defines domain entities shared by the client core and the backend service.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// MediaType discriminates captured media.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
)

// Valid reports whether t is photo or video.
func (t MediaType) Valid() bool { return t == MediaPhoto || t == MediaVideo }

// ParseMediaType converts s into a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	t := MediaType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown media type %q", s)
	}
	return t, nil
}

// Event is a shareable gathering that media items are grouped under.
type Event struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	QRCode      *string    `json:"qr_code,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // advisory only
	CreatedAt   time.Time  `json:"created_at"`
	UserID      uuid.UUID  `json:"user_id"`
}

// NewEvent is an insert intent for the events table. ID may be uuid.Nil to let the backend assign one.
type NewEvent struct {
	ID          uuid.UUID  `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	QRCode      *string    `json:"qr_code,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UserID      uuid.UUID  `json:"user_id"`
}

// Media is a captured photo or video attached to exactly one event.
type Media struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Type      MediaType `json:"type"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UserID    uuid.UUID `json:"user_id"`
}

// NewMedia is an insert intent for the media table.
type NewMedia struct {
	EventID uuid.UUID `json:"event_id"`
	Type    MediaType `json:"type"`
	URL     string    `json:"url"`
	UserID  uuid.UUID `json:"user_id"`
}

// User is the public identity of an account.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is the stored form of a user. Passwords are never stored in plaintext.
type Account struct {
	User
	PwdHash  []byte // Argon2id(password, SaltAuth)
	SaltAuth []byte
}

// Session is an authenticated session as seen by the client.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// SessionRecord is the server-side row backing a session.
type SessionRecord struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	RefreshHash []byte
	ExpiresAt   time.Time // refresh token expiry
	CreatedAt   time.Time
}

// AuthEvent names a session transition delivered to subscribers.
type AuthEvent string

const (
	AuthInitialSession AuthEvent = "INITIAL_SESSION"
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	AuthUserUpdated    AuthEvent = "USER_UPDATED"
)
