package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/backend"
	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/notify"
)

// UserSource reports the signed-in user.
type UserSource interface {
	CurrentUser() *model.User
}

// LinkBuilder renders the QR payload of an event.
type LinkBuilder func(id uuid.UUID) string

// EventState is a snapshot of EventStore.
type EventState struct {
	CurrentEvent *model.Event
	MediaItems   []model.Media
	Loading      bool
}

// EventStore holds the current event and its media list. The list is always
// replaced wholesale by the latest completed fetch; overlapping fetches are
// not ordered, so the one that completes last wins.
type EventStore struct {
	tables backend.Tables
	users  UserSource
	notify notify.Notifier
	link   LinkBuilder

	mu      sync.RWMutex
	current *model.Event
	items   []model.Media
	loading bool
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithLinkBuilder fills qr_code of created events.
func WithLinkBuilder(b LinkBuilder) Option { return func(s *EventStore) { s.link = b } }

// NewEventStore builds an empty store.
func NewEventStore(tables backend.Tables, users UserSource, n notify.Notifier, opts ...Option) *EventStore {
	s := &EventStore{tables: tables, users: users, notify: n, items: []model.Media{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

type createOptions struct {
	expiresAt *time.Time
}

// CreateOption tunes CreateEvent.
type CreateOption func(*createOptions)

// WithExpiry sets the advisory expiry of the event.
func WithExpiry(t time.Time) CreateOption {
	return func(o *createOptions) { o.expiresAt = &t }
}

// fail raises a notification for backend errors only.
func (s *EventStore) fail(msg, op string, err error) error {
	if errs.IsBackend(err) {
		s.notify.Error(msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *EventStore) requireUser() (*model.User, error) {
	if err := requireConfigured(s.tables); err != nil {
		return nil, err
	}
	u := s.users.CurrentUser()
	if u == nil {
		return nil, errs.ErrAuthRequired
	}
	return u, nil
}

// CreateEvent inserts an event owned by the signed-in user and makes it current.
// An empty description is stored as NULL.
func (s *EventStore) CreateEvent(ctx context.Context, name, description string, opts ...CreateOption) (*model.Event, error) {
	u, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	var co createOptions
	for _, o := range opts {
		o(&co)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	row := model.NewEvent{ID: id, Name: name, ExpiresAt: co.expiresAt, UserID: u.ID}
	if d := strings.TrimSpace(description); d != "" {
		row.Description = &d
	}
	if s.link != nil {
		link := s.link(id)
		row.QRCode = &link
	}

	ev, err := s.tables.InsertEvent(ctx, row)
	if err != nil {
		return nil, s.fail(MsgCreateEventFailed, "create event", err)
	}
	if ev == nil {
		return nil, errs.ErrNoRowReturned
	}

	c := *ev
	s.mu.Lock()
	s.current = &c
	s.mu.Unlock()
	out := c
	return &out, nil
}

// SetCurrentEvent replaces the current event locally.
func (s *EventStore) SetCurrentEvent(ev *model.Event) {
	var c *model.Event
	if ev != nil {
		cp := *ev
		c = &cp
	}
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

// AddMediaItem records a media item for eventID and then re-fetches the whole
// list. The new item is never appended locally.
func (s *EventStore) AddMediaItem(ctx context.Context, eventID uuid.UUID, kind model.MediaType, url string) error {
	u, err := s.requireUser()
	if err != nil {
		return err
	}
	_, err = s.tables.InsertMedia(ctx, model.NewMedia{EventID: eventID, Type: kind, URL: url, UserID: u.ID})
	if err != nil {
		return s.fail(MsgSaveMediaFailed, "add media", err)
	}
	return s.FetchMediaItems(ctx, eventID)
}

// FetchMediaItems loads the media of eventID, newest first, and replaces the
// list. On failure Loading stays true and the previous list is kept.
func (s *EventStore) FetchMediaItems(ctx context.Context, eventID uuid.UUID) error {
	if err := requireConfigured(s.tables); err != nil {
		return err
	}
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	items, err := s.tables.SelectMedia(ctx, eventID)
	if err != nil {
		return s.fail(MsgFetchMediaFailed, "fetch media", err)
	}

	list := make([]model.Media, len(items))
	copy(list, items)
	s.mu.Lock()
	s.items = list
	s.loading = false
	s.mu.Unlock()
	return nil
}

// OpenEvent loads an event by id and makes it current.
func (s *EventStore) OpenEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	if err := requireConfigured(s.tables); err != nil {
		return nil, err
	}
	ev, err := s.tables.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open event: %w", err)
	}
	if ev == nil {
		return nil, errs.ErrNoRowReturned
	}
	s.SetCurrentEvent(ev)
	out := *ev
	return &out, nil
}

// State returns a snapshot; the media slice is a copy.
func (s *EventStore) State() EventState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := EventState{Loading: s.loading, MediaItems: make([]model.Media, len(s.items))}
	copy(st.MediaItems, s.items)
	if s.current != nil {
		c := *s.current
		st.CurrentEvent = &c
	}
	return st
}
