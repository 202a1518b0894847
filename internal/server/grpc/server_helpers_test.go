package grpcserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/limiter"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/rpc"
	"github.com/and161185/qr-media-share/internal/service"
)

const (
	testKey   = "anon-key"
	testToken = "good-token"
)

type fakeAuth struct {
	user      model.User
	sessionID uuid.UUID
	signedOut []uuid.UUID
	signInErr error
	lastIP    string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		user:      model.User{ID: uuid.Must(uuid.NewV4()), Email: "a@b.c", CreatedAt: time.Now().UTC()},
		sessionID: uuid.Must(uuid.NewV4()),
	}
}

func (f *fakeAuth) SignUp(_ context.Context, email, _ string) (model.User, error) {
	if email == f.user.Email {
		return model.User{}, errs.ErrAlreadyExists
	}
	return model.User{ID: uuid.Must(uuid.NewV4()), Email: email}, nil
}

func (f *fakeAuth) SignIn(_ context.Context, _, _, ip string) (model.Session, error) {
	f.lastIP = ip
	if f.signInErr != nil {
		return model.Session{}, f.signInErr
	}
	return model.Session{AccessToken: testToken, RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour), User: f.user}, nil
}

func (f *fakeAuth) Refresh(_ context.Context, rt string) (model.Session, error) {
	if rt != "r" {
		return model.Session{}, errs.ErrUnauthorized
	}
	return model.Session{AccessToken: testToken, RefreshToken: "r2", User: f.user}, nil
}

func (f *fakeAuth) SignOut(_ context.Context, id uuid.UUID) error {
	f.signedOut = append(f.signedOut, id)
	return nil
}

func (f *fakeAuth) Authenticate(_ context.Context, tok string) (service.Principal, error) {
	if tok != testToken {
		return service.Principal{}, errs.ErrUnauthorized
	}
	return service.Principal{UserID: f.user.ID, SessionID: f.sessionID}, nil
}

func (f *fakeAuth) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	if id != f.user.ID {
		return model.User{}, errs.ErrNotFound
	}
	return f.user, nil
}

type fakeEvents struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Event
}

func (f *fakeEvents) Create(_ context.Context, userID uuid.UUID, in model.NewEvent) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.UserID != uuid.Nil && in.UserID != userID {
		return nil, errs.ErrUnauthorized
	}
	id := in.ID
	if id == uuid.Nil {
		id = uuid.Must(uuid.NewV4())
	}
	ev := &model.Event{ID: id, Name: in.Name, QRCode: in.QRCode, CreatedAt: time.Now().UTC(), UserID: userID}
	if f.rows == nil {
		f.rows = map[uuid.UUID]*model.Event{}
	}
	f.rows[id] = ev
	return ev, nil
}

func (f *fakeEvents) Get(_ context.Context, id uuid.UUID) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return ev, nil
}

type fakeMedia struct {
	mu    sync.Mutex
	items []model.Media
}

func (f *fakeMedia) Add(_ context.Context, userID uuid.UUID, in model.NewMedia) (*model.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !in.Type.Valid() {
		return nil, errs.ErrInvalidArgument
	}
	m := model.Media{ID: uuid.Must(uuid.NewV4()), EventID: in.EventID, Type: in.Type, URL: in.URL, CreatedAt: time.Now().UTC(), UserID: userID}
	f.items = append([]model.Media{m}, f.items...)
	return &m, nil
}

func (f *fakeMedia) ListByEvent(_ context.Context, eventID uuid.UUID) ([]model.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Media{}
	for _, m := range f.items {
		if m.EventID == eventID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMedia) Upload(_ context.Context, _, eventID uuid.UUID, kind model.MediaType, _ string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errs.ErrInvalidArgument
	}
	return "http://cdn/events/" + eventID.String() + "/" + string(kind), nil
}

const bufSize = 1 << 20

type harness struct {
	auth   *fakeAuth
	events *fakeEvents
	media  *fakeMedia
	client *rpc.BackendClient
}

func startBufGRPC(t *testing.T, lim *limiter.PeerLimiter) *harness {
	t.Helper()
	h := &harness{auth: newFakeAuth(), events: &fakeEvents{}, media: &fakeMedia{}}
	log := zaptest.NewLogger(t)

	ics := []grpc.UnaryServerInterceptor{RecoverUnary(log), LoggingUnary(log)}
	if lim != nil {
		ics = append(ics, RateLimitUnary(lim))
	}
	ics = append(ics, APIKeyUnary(testKey), AuthUnary(h.auth))

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(ics...))
	rpc.RegisterBackendServer(gs, New(h.auth, h.events, h.media))
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	h.client = rpc.NewBackendClient(cc)
	return h
}
