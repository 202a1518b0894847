package backend

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
)

// Dialer opens a Client for a configured backend.
type Dialer func(ctx context.Context, cfg Config) (Client, error)

// Gate fronts a Client. When the backend is not configured every call fails
// with errs.ErrNotConfigured and nothing is dialed.
type Gate struct {
	cfg   Config
	inner Client
}

var _ Client = (*Gate)(nil)

// Open dials the backend when cfg is configured.
func Open(ctx context.Context, cfg Config, dial Dialer) (*Gate, error) {
	if !cfg.Configured() {
		return &Gate{cfg: cfg}, nil
	}
	c, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg, inner: c}, nil
}

// NewGate wraps an existing client. A nil client behaves as not configured.
func NewGate(cfg Config, c Client) *Gate {
	if !cfg.Configured() {
		c = nil
	}
	return &Gate{cfg: cfg, inner: c}
}

// Configured reports whether calls reach a backend.
func (g *Gate) Configured() bool { return g.inner != nil }

func (g *Gate) GetUser(ctx context.Context) (*model.User, error) {
	if g.inner == nil {
		return nil, errs.ErrNotConfigured
	}
	return g.inner.GetUser(ctx)
}

func (g *Gate) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if g.inner == nil {
		return nil, errs.ErrNotConfigured
	}
	return g.inner.SignInWithPassword(ctx, email, password)
}

func (g *Gate) SignUp(ctx context.Context, email, password string) (*model.User, error) {
	if g.inner == nil {
		return nil, errs.ErrNotConfigured
	}
	return g.inner.SignUp(ctx, email, password)
}

func (g *Gate) SignOut(ctx context.Context) error {
	if g.inner == nil {
		return errs.ErrNotConfigured
	}
	return g.inner.SignOut(ctx)
}

type noopSubscription struct{}

func (noopSubscription) Cancel() {}

// OnSessionChange registers h with the backend. Without a backend nothing is ever delivered.
func (g *Gate) OnSessionChange(h SessionHandler) Subscription {
	if g.inner == nil {
		return noopSubscription{}
	}
	return g.inner.OnSessionChange(h)
}

func (g *Gate) InsertEvent(ctx context.Context, row model.NewEvent) (*model.Event, error) {
	if g.inner == nil {
		return nil, errs.ErrNotConfigured
	}
	return g.inner.InsertEvent(ctx, row)
}

func (g *Gate) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	if g.inner == nil {
		return nil, errs.ErrNotConfigured
	}
	return g.inner.GetEvent(ctx, id)
}

func (g *Gate) InsertMedia(ctx context.Context, row model.NewMedia) (*model.Media, error) {
	if g.inner == nil {
		return nil, errs.ErrNotConfigured
	}
	return g.inner.InsertMedia(ctx, row)
}

func (g *Gate) SelectMedia(ctx context.Context, eventID uuid.UUID) ([]model.Media, error) {
	if g.inner == nil {
		return nil, errs.ErrNotConfigured
	}
	return g.inner.SelectMedia(ctx, eventID)
}

func (g *Gate) Upload(ctx context.Context, eventID uuid.UUID, kind model.MediaType, contentType string, data []byte) (string, error) {
	if g.inner == nil {
		return "", errs.ErrNotConfigured
	}
	return g.inner.Upload(ctx, eventID, kind, contentType, data)
}

// Close closes the underlying client.
func (g *Gate) Close() error {
	if g.inner == nil {
		return nil
	}
	return g.inner.Close()
}
