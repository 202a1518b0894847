// Package remote implements backend.Client over the qrmedia.v1.Backend gRPC service.
package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/qr-media-share/internal/backend"
	"github.com/and161185/qr-media-share/internal/clock"
	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/rpc"
)

const (
	// DefaultRefreshMargin is how long before expiry the access token is refreshed.
	DefaultRefreshMargin = time.Minute
	maxMsgSize           = 80 << 20
	retryAfter           = 10 * time.Second
)

// Client talks to the backend service and owns the local session.
type Client struct {
	cc     *grpc.ClientConn
	api    *rpc.BackendClient
	key    string
	tokens TokenStore
	bc     *backend.Broadcaster
	log    *zap.Logger
	clock  clock.Clock

	mu      sync.RWMutex
	session *model.Session
	// swapMu serializes session transitions: swap, persist and publish.
	swapMu sync.Mutex

	margin      time.Duration
	autoRefresh bool
	dialOpts    []grpc.DialOption
	kick        chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

var _ backend.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTokenStore persists the session in ts. The default keeps it in memory.
func WithTokenStore(ts TokenStore) Option { return func(c *Client) { c.tokens = ts } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithClock sets the clock used for refresh scheduling.
func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

// WithRefreshMargin sets how early before expiry the session is refreshed.
func WithRefreshMargin(d time.Duration) Option { return func(c *Client) { c.margin = d } }

// WithoutAutoRefresh disables the background refresh goroutine.
func WithoutAutoRefresh() Option { return func(c *Client) { c.autoRefresh = false } }

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// Dialer adapts Dial to backend.Dialer.
func Dialer(opts ...Option) backend.Dialer {
	return func(ctx context.Context, cfg backend.Config) (backend.Client, error) {
		return Dial(ctx, cfg, opts...)
	}
}

// target strips the grpc:// or grpcs:// scheme and reports whether TLS is wanted.
func target(url string) (string, bool) {
	switch {
	case strings.HasPrefix(url, "grpcs://"):
		return strings.TrimPrefix(url, "grpcs://"), true
	case strings.HasPrefix(url, "grpc://"):
		return strings.TrimPrefix(url, "grpc://"), false
	default:
		return url, false
	}
}

type callCreds struct{ c *Client }

func (cr callCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	md := map[string]string{"apikey": cr.c.key}
	if s := cr.c.current(); s != nil && s.AccessToken != "" {
		md["authorization"] = "Bearer " + s.AccessToken
	}
	return md, nil
}

func (callCreds) RequireTransportSecurity() bool { return false }

// Dial connects to cfg.URL and restores a stored session. The connection is
// established lazily by gRPC; Dial only waits on the network when the stored
// session is within the refresh margin and has to be refreshed first.
func Dial(ctx context.Context, cfg backend.Config, opts ...Option) (*Client, error) {
	if !cfg.Configured() {
		return nil, errs.ErrNotConfigured
	}
	c := &Client{
		key:         cfg.Key,
		tokens:      &MemStore{},
		log:         zap.NewNop(),
		clock:       clock.NewSystem(),
		margin:      DefaultRefreshMargin,
		autoRefresh: true,
		kick:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}

	addr, useTLS := target(cfg.URL)
	var creds credentials.TransportCredentials = insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dopts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(callCreds{c: c}),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(maxMsgSize), grpc.MaxCallRecvMsgSize(maxMsgSize)),
	}, c.dialOpts...)
	cc, err := grpc.NewClient(addr, dopts...)
	if err != nil {
		return nil, err
	}
	c.cc = cc
	c.api = rpc.NewBackendClient(cc)

	stored, err := c.tokens.Load()
	if err != nil {
		c.log.Warn("stored session ignored", zap.Error(err))
		stored = nil
	}
	if stored != nil && c.stale(stored) {
		stored = c.restore(ctx, stored)
	}
	c.session = stored
	c.bc = backend.NewBroadcaster(stored)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	if c.autoRefresh {
		c.wg.Add(1)
		go c.refreshLoop(loopCtx)
	}
	return c, nil
}

func (c *Client) stale(s *model.Session) bool {
	return !s.ExpiresAt.Add(-c.margin).After(c.clock.Now())
}

// restore refreshes a stored session before anyone sees it. A rejected refresh
// token drops the session; other failures keep it for the refresh loop to retry.
func (c *Client) restore(ctx context.Context, s *model.Session) *model.Session {
	resp, err := c.api.Refresh(ctx, &rpc.RefreshRequest{RefreshToken: s.RefreshToken})
	if err != nil {
		mapped := fromStatus("refresh", err)
		c.log.Warn("stored session not refreshed", zap.Error(mapped))
		if !errors.Is(mapped, errs.ErrUnauthorized) {
			return s
		}
		if err := c.tokens.Clear(); err != nil {
			c.log.Warn("session not cleared", zap.Error(err))
		}
		return nil
	}
	ns := resp.Session
	if err := c.tokens.Save(&ns); err != nil {
		c.log.Warn("session not persisted", zap.Error(err))
	}
	return &ns
}

func (c *Client) current() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// setSession swaps the session, persists it and notifies subscribers.
func (c *Client) setSession(ev model.AuthEvent, s *model.Session) {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	c.commit(ev, s)
}

// swapSession is setSession for results of calls made with an earlier session:
// it applies s only while the current session still carries refreshToken.
func (c *Client) swapSession(ev model.AuthEvent, refreshToken string, s *model.Session) bool {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	if cur := c.current(); cur == nil || cur.RefreshToken != refreshToken {
		return false
	}
	c.commit(ev, s)
	return true
}

func (c *Client) commit(ev model.AuthEvent, s *model.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	var err error
	if s == nil {
		err = c.tokens.Clear()
	} else {
		err = c.tokens.Save(s)
	}
	if err != nil {
		c.log.Warn("session not persisted", zap.Error(err))
	}
	c.bc.Publish(ev, s)
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// --- Auth ---

// GetUser asks the backend who the session belongs to. Without a session it returns nil, nil.
func (c *Client) GetUser(ctx context.Context) (*model.User, error) {
	if c.current() == nil {
		return nil, nil
	}
	resp, err := c.api.GetUser(ctx, &rpc.Empty{})
	if err != nil {
		return nil, fromStatus("get user", err)
	}
	if s := c.current(); s != nil && (s.User.ID != resp.User.ID || s.User.Email != resp.User.Email) {
		cp := *s
		cp.User = resp.User
		c.swapSession(model.AuthUserUpdated, s.RefreshToken, &cp)
	}
	return &resp.User, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	resp, err := c.api.SignIn(ctx, &rpc.SignInRequest{Email: email, Password: password})
	if err != nil {
		return nil, fromStatus("sign in", err)
	}
	s := resp.Session
	c.setSession(model.AuthSignedIn, &s)
	out := s
	return &out, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*model.User, error) {
	resp, err := c.api.SignUp(ctx, &rpc.SignUpRequest{Email: email, Password: password})
	if err != nil {
		return nil, fromStatus("sign up", err)
	}
	return &resp.User, nil
}

// SignOut closes the server session and forgets the local one. A session the
// server no longer knows counts as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	if c.current() != nil {
		if _, err := c.api.SignOut(ctx, &rpc.Empty{}); err != nil {
			if mapped := fromStatus("sign out", err); !errors.Is(mapped, errs.ErrUnauthorized) {
				return mapped
			}
		}
	}
	c.setSession(model.AuthSignedOut, nil)
	return nil
}

// OnSessionChange registers h; see backend.Auth.
func (c *Client) OnSessionChange(h backend.SessionHandler) backend.Subscription {
	return c.bc.Subscribe(h)
}

// Refresh rotates the session now. If the session changes while the call is
// in flight (sign-out, another sign-in), the result is dropped.
func (c *Client) Refresh(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return errs.ErrAuthRequired
	}
	resp, err := c.api.Refresh(ctx, &rpc.RefreshRequest{RefreshToken: s.RefreshToken})
	if err != nil {
		mapped := fromStatus("refresh", err)
		if errors.Is(mapped, errs.ErrUnauthorized) {
			c.swapSession(model.AuthSignedOut, s.RefreshToken, nil)
		}
		return mapped
	}
	ns := resp.Session
	if !c.swapSession(model.AuthTokenRefreshed, s.RefreshToken, &ns) {
		c.log.Debug("refresh result dropped: session changed")
	}
	return nil
}

func (c *Client) refreshLoop(ctx context.Context) {
	defer c.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		var wait <-chan time.Time
		if s := c.current(); s != nil {
			d := s.ExpiresAt.Sub(c.clock.Now()) - c.margin
			if d < 0 {
				d = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			wait = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			continue
		case <-wait:
		}
		if err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("session refresh failed", zap.Error(err))
			if errors.Is(err, errs.ErrUnauthorized) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-c.kick:
			case <-time.After(retryAfter):
			}
		}
	}
}

// --- Tables ---

func (c *Client) InsertEvent(ctx context.Context, row model.NewEvent) (*model.Event, error) {
	resp, err := c.api.InsertEvent(ctx, &rpc.InsertEventRequest{Row: row})
	if err != nil {
		return nil, fromStatus("insert event", err)
	}
	return resp.Event, nil
}

func (c *Client) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	resp, err := c.api.GetEvent(ctx, &rpc.GetEventRequest{ID: id})
	if err != nil {
		return nil, fromStatus("get event", err)
	}
	return resp.Event, nil
}

func (c *Client) InsertMedia(ctx context.Context, row model.NewMedia) (*model.Media, error) {
	resp, err := c.api.InsertMedia(ctx, &rpc.InsertMediaRequest{Row: row})
	if err != nil {
		return nil, fromStatus("insert media", err)
	}
	return resp.Media, nil
}

func (c *Client) SelectMedia(ctx context.Context, eventID uuid.UUID) ([]model.Media, error) {
	resp, err := c.api.SelectMedia(ctx, &rpc.SelectMediaRequest{EventID: eventID})
	if err != nil {
		return nil, fromStatus("select media", err)
	}
	if resp.Items == nil {
		return []model.Media{}, nil
	}
	return resp.Items, nil
}

// --- Storage ---

func (c *Client) Upload(ctx context.Context, eventID uuid.UUID, kind model.MediaType, contentType string, data []byte) (string, error) {
	resp, err := c.api.UploadMedia(ctx, &rpc.UploadMediaRequest{EventID: eventID, Type: kind, ContentType: contentType, Data: data})
	if err != nil {
		return "", fromStatus("upload media", err)
	}
	return resp.URL, nil
}

// Close stops the refresh goroutine, cancels subscriptions and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.bc.Close()
		err = c.cc.Close()
	})
	return err
}
