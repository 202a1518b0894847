package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/repository"
	"github.com/and161185/qr-media-share/internal/storage"
)

// DefaultMaxUpload bounds a single uploaded blob.
const DefaultMaxUpload = 64 << 20

// MediaService defines operations over media items and their blobs.
type MediaService interface {
	// Add inserts a media row owned by userID.
	Add(ctx context.Context, userID uuid.UUID, in model.NewMedia) (*model.Media, error)
	// ListByEvent returns the media of an event, newest first.
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]model.Media, error)
	// Upload stores a blob for an existing event and returns its URL.
	Upload(ctx context.Context, userID, eventID uuid.UUID, kind model.MediaType, contentType string, data []byte) (string, error)
}

type MediaServiceImpl struct {
	repo      repository.MediaRepository
	events    repository.EventRepository
	store     storage.ObjectStore
	maxUpload int
}

// NewMediaService constructs MediaService; maxUpload <= 0 uses DefaultMaxUpload.
func NewMediaService(repo repository.MediaRepository, events repository.EventRepository, store storage.ObjectStore, maxUpload int) *MediaServiceImpl {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return &MediaServiceImpl{repo: repo, events: events, store: store, maxUpload: maxUpload}
}

// Add validates the row and enforces ownership before inserting.
func (s *MediaServiceImpl) Add(ctx context.Context, userID uuid.UUID, in model.NewMedia) (*model.Media, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	if in.UserID != uuid.Nil && in.UserID != userID {
		return nil, fmt.Errorf("%w: user_id must match the caller", errs.ErrUnauthorized)
	}
	if in.EventID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty event id", errs.ErrInvalidArgument)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: media type %q", errs.ErrInvalidArgument, in.Type)
	}
	in.URL = strings.TrimSpace(in.URL)
	if in.URL == "" {
		return nil, fmt.Errorf("%w: empty url", errs.ErrInvalidArgument)
	}
	in.UserID = userID
	return s.repo.Insert(ctx, in)
}

// ListByEvent returns media rows for eventID ordered by created_at descending.
func (s *MediaServiceImpl) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]model.Media, error) {
	if eventID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty event id", errs.ErrInvalidArgument)
	}
	return s.repo.ListByEvent(ctx, eventID)
}

// Upload checks the event exists, then writes the blob to object storage.
func (s *MediaServiceImpl) Upload(ctx context.Context, userID, eventID uuid.UUID, kind model.MediaType, contentType string, data []byte) (string, error) {
	if userID == uuid.Nil {
		return "", errs.ErrUnauthorized
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: media type %q", errs.ErrInvalidArgument, kind)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", errs.ErrInvalidArgument)
	}
	if len(data) > s.maxUpload {
		return "", fmt.Errorf("%w: upload too large (%d > %d)", errs.ErrInvalidArgument, len(data), s.maxUpload)
	}
	if _, err := s.events.Get(ctx, eventID); err != nil {
		return "", err
	}
	key, err := storage.ObjectKey(eventID, kind, contentType)
	if err != nil {
		return "", err
	}
	return s.store.Save(ctx, key, contentType, bytes.NewReader(data))
}
