package rpc

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/model"
)

type Empty struct{}

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpResponse struct {
	User model.User `json:"user"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type SessionResponse struct {
	Session model.Session `json:"session"`
}

type UserResponse struct {
	User model.User `json:"user"`
}

type InsertEventRequest struct {
	Row model.NewEvent `json:"row"`
}

type GetEventRequest struct {
	ID uuid.UUID `json:"id"`
}

// EventResponse carries at most one row; a nil Event is a valid wire value.
type EventResponse struct {
	Event *model.Event `json:"event"`
}

type InsertMediaRequest struct {
	Row model.NewMedia `json:"row"`
}

type MediaResponse struct {
	Media *model.Media `json:"media"`
}

type SelectMediaRequest struct {
	EventID uuid.UUID `json:"event_id"`
}

type SelectMediaResponse struct {
	Items []model.Media `json:"items"`
}

type UploadMediaRequest struct {
	EventID     uuid.UUID       `json:"event_id"`
	Type        model.MediaType `json:"type"`
	ContentType string          `json:"content_type"`
	Data        []byte          `json:"data"`
}

type UploadMediaResponse struct {
	URL string `json:"url"`
}
