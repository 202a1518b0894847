package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/repository"
)

const maxEventNameLen = 200

// EventService defines operations over events.
type EventService interface {
	// Create inserts an event owned by userID and returns the stored row.
	Create(ctx context.Context, userID uuid.UUID, in model.NewEvent) (*model.Event, error)
	// Get returns an event by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.Event, error)
}

type EventServiceImpl struct {
	repo repository.EventRepository
}

// NewEventService constructs EventService.
func NewEventService(repo repository.EventRepository) *EventServiceImpl {
	return &EventServiceImpl{repo: repo}
}

// Create enforces row ownership: the row's user_id must be empty or equal to the caller.
func (s *EventServiceImpl) Create(ctx context.Context, userID uuid.UUID, in model.NewEvent) (*model.Event, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	if in.UserID != uuid.Nil && in.UserID != userID {
		return nil, fmt.Errorf("%w: user_id must match the caller", errs.ErrUnauthorized)
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: empty event name", errs.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(in.Name) > maxEventNameLen {
		return nil, fmt.Errorf("%w: event name longer than %d", errs.ErrInvalidArgument, maxEventNameLen)
	}
	in.UserID = userID
	return s.repo.Insert(ctx, in)
}

// Get fetches a single event.
func (s *EventServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: empty event id", errs.ErrInvalidArgument)
	}
	return s.repo.Get(ctx, id)
}
