// Package app wires the backend, the state holders and the capture pipeline
// into one application context.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/qr-media-share/internal/backend"
	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/media"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/notify"
	"github.com/and161185/qr-media-share/internal/qr"
	"github.com/and161185/qr-media-share/internal/store"
)

// MsgUploadFailed is raised when a captured blob cannot be stored.
const MsgUploadFailed = "Failed to upload media"

// Config holds what the application needs to reach the backend.
type Config struct {
	Backend  backend.Config
	LinkBase string // prefix of event links in QR codes
}

// App is the application context. Build one with New and pass it around.
type App struct {
	Backend *backend.Gate
	Auth    *store.AuthStore
	Events  *store.EventStore

	proc     *media.Processor
	notifier notify.Notifier
	log      *zap.Logger
	linkBase string
	sub      backend.Subscription
}

type options struct {
	dial     backend.Dialer
	notifier notify.Notifier
	log      *zap.Logger
}

// Option configures New.
type Option func(*options)

// WithDialer sets how a configured backend is reached.
func WithDialer(d backend.Dialer) Option { return func(o *options) { o.dial = d } }

// WithNotifier sets where failure notifications go.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// New builds the gate, both holders and the session subscription. Without a
// configured backend the App still builds; every backend call then fails
// with errs.ErrNotConfigured.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.notifier == nil {
		o.notifier = notify.NewLog(o.log)
	}
	if o.dial == nil {
		o.dial = func(context.Context, backend.Config) (backend.Client, error) {
			return nil, errors.New("no backend dialer")
		}
	}

	gate, err := backend.Open(ctx, cfg.Backend, o.dial)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	a := &App{
		Backend:  gate,
		proc:     media.NewProcessor(o.log),
		notifier: o.notifier,
		log:      o.log,
		linkBase: cfg.LinkBase,
	}
	a.Auth = store.NewAuthStore(gate)
	a.Events = store.NewEventStore(gate, a.Auth, o.notifier, store.WithLinkBuilder(a.EventLink))
	a.sub = a.Auth.Subscribe()
	if !gate.Configured() {
		o.log.Warn("backend not configured: set QRMEDIA_URL and QRMEDIA_KEY")
	}
	return a, nil
}

// EventLink is the URL a QR code for id carries.
func (a *App) EventLink(id uuid.UUID) string { return qr.EventURL(a.linkBase, id) }

// Capture compresses a captured blob, uploads it and records it on the current event.
// It returns the stored URL.
func (a *App) Capture(ctx context.Context, data []byte, kind model.MediaType) (string, error) {
	if !a.Backend.Configured() {
		return "", errs.ErrNotConfigured
	}
	ev := a.Events.State().CurrentEvent
	if ev == nil {
		return "", errs.ErrNoCurrentEvent
	}
	if a.Auth.CurrentUser() == nil {
		return "", errs.ErrAuthRequired
	}

	var (
		body        []byte
		contentType string
	)
	switch kind {
	case model.MediaPhoto:
		body, contentType = a.proc.ProcessImage(data)
	case model.MediaVideo:
		body, contentType = a.proc.ProcessVideo(data)
	default:
		return "", fmt.Errorf("%w: media type %q", errs.ErrInvalidArgument, kind)
	}

	url, err := a.Backend.Upload(ctx, ev.ID, kind, contentType, body)
	if err != nil {
		if errs.IsBackend(err) {
			a.notifier.Error(MsgUploadFailed)
		}
		return "", fmt.Errorf("upload: %w", err)
	}
	a.log.Debug("media uploaded", zap.String("event", ev.ID.String()), zap.String("type", string(kind)), zap.Int("bytes", len(body)))

	if err := a.Events.AddMediaItem(ctx, ev.ID, kind, url); err != nil {
		return "", err
	}
	return url, nil
}

// OpenScanned resolves a scanned QR payload to an event, makes it current and loads its media.
func (a *App) OpenScanned(ctx context.Context, text string) (*model.Event, error) {
	raw, err := qr.EventIDFromURL(text)
	if err != nil {
		return nil, err
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: event id %q", errs.ErrInvalidArgument, raw)
	}
	ev, err := a.Events.OpenEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.Events.FetchMediaItems(ctx, id); err != nil {
		return ev, err
	}
	return ev, nil
}

// WaitReady blocks until the first session notification has reached the auth holder.
func (a *App) WaitReady(ctx context.Context) error {
	if !a.Backend.Configured() {
		return errs.ErrNotConfigured
	}
	select {
	case <-a.Auth.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the session subscription and closes the backend.
func (a *App) Close() error {
	if a.sub != nil {
		a.sub.Cancel()
		a.sub = nil
	}
	return a.Backend.Close()
}
