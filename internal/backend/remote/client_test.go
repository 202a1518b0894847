package remote

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/qr-media-share/internal/backend"
	"github.com/and161185/qr-media-share/internal/clock"
	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/rpc"
)

type fakeServer struct {
	rpc.UnimplementedBackendServer

	mu        sync.Mutex
	user      model.User
	token     string
	refreshes int
	expiresIn time.Duration
	lastKey   string
	lastAuth  string
	events    map[uuid.UUID]*model.Event
	media     []model.Media

	// refreshDelay stands in for network latency on Refresh.
	refreshDelay time.Duration
	// refreshParked and refreshRelease park a Refresh after it issued its session.
	refreshParked  chan struct{}
	refreshRelease chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		user:      model.User{ID: uuid.Must(uuid.NewV4()), Email: "a@b.c"},
		expiresIn: time.Hour,
		events:    map[uuid.UUID]*model.Event{},
	}
}

func (f *fakeServer) record(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := md.Get("apikey"); len(v) > 0 {
		f.lastKey = v[0]
	}
	f.lastAuth = ""
	if v := md.Get("authorization"); len(v) > 0 {
		f.lastAuth = v[0]
	}
	return f.lastAuth
}

func (f *fakeServer) authed(ctx context.Context) error {
	auth := f.record(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" || auth != "Bearer "+f.token {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	return nil
}

func (f *fakeServer) issue() model.Session {
	f.token = uuid.Must(uuid.NewV4()).String()
	return model.Session{AccessToken: f.token, RefreshToken: "r-" + f.token, ExpiresAt: time.Now().Add(f.expiresIn), User: f.user}
}

func (f *fakeServer) SignUp(ctx context.Context, req *rpc.SignUpRequest) (*rpc.SignUpResponse, error) {
	f.record(ctx)
	if req.Email == f.user.Email {
		return nil, status.Error(codes.AlreadyExists, "already exists")
	}
	return &rpc.SignUpResponse{User: model.User{ID: uuid.Must(uuid.NewV4()), Email: req.Email}}, nil
}

func (f *fakeServer) SignIn(ctx context.Context, req *rpc.SignInRequest) (*rpc.SessionResponse, error) {
	f.record(ctx)
	if req.Password != "secret1" {
		return nil, status.Error(codes.Unauthenticated, "bad credentials")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rpc.SessionResponse{Session: f.issue()}, nil
}

func (f *fakeServer) Refresh(ctx context.Context, req *rpc.RefreshRequest) (*rpc.SessionResponse, error) {
	f.record(ctx)
	f.mu.Lock()
	delay, parked, release := f.refreshDelay, f.refreshParked, f.refreshRelease
	f.mu.Unlock()
	time.Sleep(delay)

	f.mu.Lock()
	if req.RefreshToken != "r-"+f.token {
		f.mu.Unlock()
		return nil, status.Error(codes.Unauthenticated, "stale")
	}
	f.refreshes++
	sess := f.issue()
	f.mu.Unlock()

	if parked != nil {
		parked <- struct{}{}
		<-release
	}
	return &rpc.SessionResponse{Session: sess}, nil
}

func (f *fakeServer) SignOut(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	if err := f.authed(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.token = ""
	f.mu.Unlock()
	return &rpc.Empty{}, nil
}

func (f *fakeServer) GetUser(ctx context.Context, _ *rpc.Empty) (*rpc.UserResponse, error) {
	if err := f.authed(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rpc.UserResponse{User: f.user}, nil
}

func (f *fakeServer) InsertEvent(ctx context.Context, req *rpc.InsertEventRequest) (*rpc.EventResponse, error) {
	if err := f.authed(ctx); err != nil {
		return nil, err
	}
	ev := &model.Event{ID: req.Row.ID, Name: req.Row.Name, QRCode: req.Row.QRCode, UserID: req.Row.UserID, CreatedAt: time.Now().UTC()}
	f.mu.Lock()
	f.events[ev.ID] = ev
	f.mu.Unlock()
	return &rpc.EventResponse{Event: ev}, nil
}

func (f *fakeServer) GetEvent(ctx context.Context, req *rpc.GetEventRequest) (*rpc.EventResponse, error) {
	f.record(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[req.ID]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &rpc.EventResponse{Event: ev}, nil
}

func (f *fakeServer) InsertMedia(ctx context.Context, req *rpc.InsertMediaRequest) (*rpc.MediaResponse, error) {
	if err := f.authed(ctx); err != nil {
		return nil, err
	}
	m := model.Media{ID: uuid.Must(uuid.NewV4()), EventID: req.Row.EventID, Type: req.Row.Type, URL: req.Row.URL, UserID: req.Row.UserID}
	f.mu.Lock()
	f.media = append([]model.Media{m}, f.media...)
	f.mu.Unlock()
	return &rpc.MediaResponse{Media: &m}, nil
}

func (f *fakeServer) SelectMedia(ctx context.Context, req *rpc.SelectMediaRequest) (*rpc.SelectMediaResponse, error) {
	if err := f.authed(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Media
	for _, m := range f.media {
		if m.EventID == req.EventID {
			out = append(out, m)
		}
	}
	return &rpc.SelectMediaResponse{Items: out}, nil
}

func (f *fakeServer) UploadMedia(ctx context.Context, req *rpc.UploadMediaRequest) (*rpc.UploadMediaResponse, error) {
	if err := f.authed(ctx); err != nil {
		return nil, err
	}
	return &rpc.UploadMediaResponse{URL: "https://cdn/" + req.EventID.String() + "/" + string(req.Type)}, nil
}

func startServer(t *testing.T, srv rpc.BackendServer) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	rpc.RegisterBackendServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() })
}

func dialTest(t *testing.T, srv rpc.BackendServer, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithDialOptions(startServer(t, srv)), WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := Dial(context.Background(), backend.Config{URL: "passthrough:///bufnet", Key: "anon"}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type events struct {
	mu  sync.Mutex
	evs []model.AuthEvent
}

func (e *events) handle(ev model.AuthEvent, _ *model.Session) {
	e.mu.Lock()
	e.evs = append(e.evs, ev)
	e.mu.Unlock()
}

func (e *events) get() []model.AuthEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.AuthEvent(nil), e.evs...)
}

func TestDial_NotConfigured(t *testing.T) {
	_, err := Dial(context.Background(), backend.Config{URL: "localhost:1"})
	assert.ErrorIs(t, err, errs.ErrNotConfigured)
}

func TestTarget(t *testing.T) {
	addr, tls := target("grpcs://api.example:443")
	assert.Equal(t, "api.example:443", addr)
	assert.True(t, tls)
	addr, tls = target("grpc://localhost:8443")
	assert.Equal(t, "localhost:8443", addr)
	assert.False(t, tls)
	addr, tls = target("localhost:8443")
	assert.Equal(t, "localhost:8443", addr)
	assert.False(t, tls)
}

func TestClient_SessionLifecycle(t *testing.T) {
	srv := newFakeServer()
	store := FileStore{Path: filepath.Join(t.TempDir(), "qrmedia", "session.json")}
	c := dialTest(t, srv, WithTokenStore(store), WithoutAutoRefresh())
	ctx := context.Background()

	var seen events
	sub := c.OnSessionChange(seen.handle)
	defer sub.Cancel()

	u, err := c.GetUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = c.SignInWithPassword(ctx, "a@b.c", "wrong")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.True(t, errs.IsBackend(err))

	s, err := c.SignInWithPassword(ctx, "a@b.c", "secret1")
	require.NoError(t, err)
	assert.Equal(t, srv.user.ID, s.User.ID)
	assert.Equal(t, "anon", srv.lastKey)

	stored, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, s.AccessToken, stored.AccessToken)

	u, err = c.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.user.ID, u.ID)
	assert.Equal(t, "Bearer "+s.AccessToken, srv.lastAuth)

	require.NoError(t, c.Refresh(ctx))
	assert.NotEqual(t, s.AccessToken, c.current().AccessToken)

	require.NoError(t, c.SignOut(ctx))
	stored, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)

	want := []model.AuthEvent{model.AuthInitialSession, model.AuthSignedIn, model.AuthTokenRefreshed, model.AuthSignedOut}
	require.Eventually(t, func() bool { return len(seen.get()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, seen.get())
}

func TestClient_RestoresStoredSession(t *testing.T) {
	srv := newFakeServer()
	srv.mu.Lock()
	sess := srv.issue()
	srv.mu.Unlock()
	store := &MemStore{}
	require.NoError(t, store.Save(&sess))

	c := dialTest(t, srv, WithTokenStore(store), WithoutAutoRefresh())
	var seen events
	c.OnSessionChange(seen.handle)

	u, err := c.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.user.ID, u.ID)
	require.Eventually(t, func() bool { return len(seen.get()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClient_SignOutWithRevokedSession(t *testing.T) {
	srv := newFakeServer()
	c := dialTest(t, srv, WithoutAutoRefresh())
	ctx := context.Background()
	_, err := c.SignInWithPassword(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.token = "revoked-elsewhere"
	srv.mu.Unlock()

	require.NoError(t, c.SignOut(ctx))
	assert.Nil(t, c.current())
}

func TestClient_AutoRefresh(t *testing.T) {
	srv := newFakeServer()
	srv.expiresIn = 2 * time.Second
	c := dialTest(t, srv, WithRefreshMargin(1900*time.Millisecond), WithClock(clock.NewSystem()))

	_, err := c.SignInWithPassword(context.Background(), "a@b.c", "secret1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.refreshes >= 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestClient_RefreshRejectedSignsOut(t *testing.T) {
	srv := newFakeServer()
	c := dialTest(t, srv, WithoutAutoRefresh())
	ctx := context.Background()

	assert.ErrorIs(t, c.Refresh(ctx), errs.ErrAuthRequired)

	_, err := c.SignInWithPassword(ctx, "a@b.c", "secret1")
	require.NoError(t, err)
	srv.mu.Lock()
	srv.token = "rotated-elsewhere"
	srv.mu.Unlock()

	err = c.Refresh(ctx)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.Nil(t, c.current())
}

func TestClient_Tables(t *testing.T) {
	srv := newFakeServer()
	c := dialTest(t, srv, WithoutAutoRefresh())
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	_, err := c.InsertEvent(ctx, model.NewEvent{ID: id, Name: "party"})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	s, err := c.SignInWithPassword(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	ev, err := c.InsertEvent(ctx, model.NewEvent{ID: id, Name: "party", UserID: s.User.ID})
	require.NoError(t, err)
	assert.Equal(t, id, ev.ID)

	got, err := c.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "party", got.Name)

	_, err = c.GetEvent(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	items, err := c.SelectMedia(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	url, err := c.Upload(ctx, id, model.MediaPhoto, "image/jpeg", []byte{1, 2})
	require.NoError(t, err)
	_, err = c.InsertMedia(ctx, model.NewMedia{EventID: id, Type: model.MediaPhoto, URL: url, UserID: s.User.ID})
	require.NoError(t, err)

	items, err = c.SelectMedia(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, url, items[0].URL)
}

func TestClient_SignUpConflict(t *testing.T) {
	c := dialTest(t, newFakeServer(), WithoutAutoRefresh())
	_, err := c.SignUp(context.Background(), "a@b.c", "secret1")
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	u, err := c.SignUp(context.Background(), "new@b.c", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "new@b.c", u.Email)
}

func TestClient_CloseCancelsSubscriptions(t *testing.T) {
	c := dialTest(t, newFakeServer())
	var seen events
	c.OnSessionChange(seen.handle)
	require.Eventually(t, func() bool { return len(seen.get()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.bc.Len())
}

func TestFromStatus(t *testing.T) {
	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.NotFound, errs.ErrNotFound},
		{codes.Unauthenticated, errs.ErrUnauthorized},
		{codes.ResourceExhausted, errs.ErrRateLimited},
		{codes.AlreadyExists, errs.ErrAlreadyExists},
		{codes.InvalidArgument, errs.ErrInvalidArgument},
	}
	for _, c := range cases {
		err := fromStatus("op", status.Error(c.code, "m"))
		assert.ErrorIs(t, err, c.want)
		assert.True(t, errs.IsBackend(err))
	}

	err := fromStatus("op", status.Error(codes.Unavailable, "down"))
	assert.True(t, errs.IsBackend(err))
	assert.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(err)))
	assert.NoError(t, fromStatus("op", nil))
}

func TestFileStore_Missing(t *testing.T) {
	fs := FileStore{Path: filepath.Join(t.TempDir(), "none.json")}
	s, err := fs.Load()
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, fs.Clear())
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/qrmedia/session.json", DefaultSessionPath())
}

func TestClient_GetUserPublishesProfileChange(t *testing.T) {
	srv := newFakeServer()
	c := dialTest(t, srv, WithoutAutoRefresh())
	ctx := context.Background()
	_, err := c.SignInWithPassword(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	var seen events
	c.OnSessionChange(seen.handle)

	srv.mu.Lock()
	srv.user.Email = "new@b.c"
	srv.mu.Unlock()

	u, err := c.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new@b.c", u.Email)
	assert.Equal(t, "new@b.c", c.current().User.Email)

	want := []model.AuthEvent{model.AuthInitialSession, model.AuthUserUpdated}
	require.Eventually(t, func() bool { return len(seen.get()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, seen.get())
}

func TestDial_RefreshesExpiredStoredSession(t *testing.T) {
	srv := newFakeServer()
	srv.refreshDelay = 50 * time.Millisecond
	srv.mu.Lock()
	old := srv.issue()
	srv.mu.Unlock()
	old.ExpiresAt = time.Now().Add(-time.Minute)
	store := &MemStore{}
	require.NoError(t, store.Save(&old))

	c := dialTest(t, srv, WithTokenStore(store))

	cur := c.current()
	require.NotNil(t, cur)
	assert.NotEqual(t, old.AccessToken, cur.AccessToken)
	assert.True(t, cur.ExpiresAt.After(time.Now()))
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cur.AccessToken, saved.AccessToken)

	var (
		mu    sync.Mutex
		first *model.Session
	)
	c.OnSessionChange(func(ev model.AuthEvent, s *model.Session) {
		mu.Lock()
		defer mu.Unlock()
		if ev == model.AuthInitialSession {
			first = s
		}
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return first != nil
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, cur.AccessToken, first.AccessToken)
	mu.Unlock()

	id := uuid.Must(uuid.NewV4())
	_, err = c.InsertEvent(context.Background(), model.NewEvent{ID: id, Name: "party", UserID: cur.User.ID})
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+cur.AccessToken, srv.lastAuth)
}

func TestDial_DropsStoredSessionWithRevokedRefreshToken(t *testing.T) {
	srv := newFakeServer()
	store := &MemStore{}
	require.NoError(t, store.Save(&model.Session{
		AccessToken: "a", RefreshToken: "r-revoked", ExpiresAt: time.Now().Add(-time.Minute),
	}))

	c := dialTest(t, srv, WithTokenStore(store), WithoutAutoRefresh())
	assert.Nil(t, c.current())
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)

	u, err := c.GetUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestClient_RefreshLandingAfterSignOutIsDropped(t *testing.T) {
	srv := newFakeServer()
	store := FileStore{Path: filepath.Join(t.TempDir(), "session.json")}
	c := dialTest(t, srv, WithTokenStore(store), WithoutAutoRefresh())
	ctx := context.Background()

	var seen events
	c.OnSessionChange(seen.handle)

	_, err := c.SignInWithPassword(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.refreshParked = make(chan struct{})
	srv.refreshRelease = make(chan struct{})
	parked, release := srv.refreshParked, srv.refreshRelease
	srv.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-parked

	require.NoError(t, c.SignOut(ctx))
	close(release)
	require.NoError(t, <-done)

	assert.Nil(t, c.current())
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)

	want := []model.AuthEvent{model.AuthInitialSession, model.AuthSignedIn, model.AuthSignedOut}
	require.Eventually(t, func() bool { return len(seen.get()) == len(want) }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, want, seen.get())
}
