package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/limiter"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/rpc"
	"github.com/and161185/qr-media-share/internal/service"
)

func keyCtx() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), APIKeyHeader, testKey)
}

func authCtx(token string) context.Context {
	return metadata.AppendToOutgoingContext(keyCtx(), "authorization", "Bearer "+token)
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if st, ok := status.FromError(err); !ok || st.Code() != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}

func TestServer_E2E_BasicFlow(t *testing.T) {
	t.Parallel()

	h := startBufGRPC(t, nil)
	cl := h.client

	su, err := cl.SignUp(keyCtx(), &rpc.SignUpRequest{Email: "new@b.c", Password: "secret1"})
	if err != nil || su.User.Email != "new@b.c" {
		t.Fatalf("sign up: %v, resp=%+v", err, su)
	}

	si, err := cl.SignIn(keyCtx(), &rpc.SignInRequest{Email: "a@b.c", Password: "secret1"})
	if err != nil || si.Session.AccessToken != testToken || si.Session.User.ID != h.auth.user.ID {
		t.Fatalf("sign in: %v, resp=%+v", err, si)
	}
	if h.auth.lastIP == "" {
		t.Fatalf("peer address not forwarded to sign in")
	}

	ctx := authCtx(si.Session.AccessToken)

	me, err := cl.GetUser(ctx, &rpc.Empty{})
	if err != nil || me.User.ID != h.auth.user.ID {
		t.Fatalf("get user: %v, resp=%+v", err, me)
	}

	eventID := uuid.Must(uuid.NewV4())
	qr := "http://app/event/" + eventID.String()
	ev, err := cl.InsertEvent(ctx, &rpc.InsertEventRequest{Row: model.NewEvent{ID: eventID, Name: "party", QRCode: &qr, UserID: h.auth.user.ID}})
	if err != nil || ev.Event == nil || ev.Event.ID != eventID || ev.Event.UserID != h.auth.user.ID {
		t.Fatalf("insert event: %v, resp=%+v", err, ev)
	}

	// GetEvent is public: api key only.
	got, err := cl.GetEvent(keyCtx(), &rpc.GetEventRequest{ID: eventID})
	if err != nil || got.Event == nil || got.Event.Name != "party" || *got.Event.QRCode != qr {
		t.Fatalf("get event: %v, resp=%+v", err, got)
	}

	up, err := cl.UploadMedia(ctx, &rpc.UploadMediaRequest{EventID: eventID, Type: model.MediaPhoto, ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}})
	if err != nil || up.URL == "" {
		t.Fatalf("upload: %v, resp=%+v", err, up)
	}

	for _, kind := range []model.MediaType{model.MediaPhoto, model.MediaVideo} {
		if _, err := cl.InsertMedia(ctx, &rpc.InsertMediaRequest{Row: model.NewMedia{EventID: eventID, Type: kind, URL: up.URL, UserID: h.auth.user.ID}}); err != nil {
			t.Fatalf("insert media %s: %v", kind, err)
		}
	}

	list, err := cl.SelectMedia(ctx, &rpc.SelectMediaRequest{EventID: eventID})
	if err != nil || len(list.Items) != 2 || list.Items[0].Type != model.MediaVideo {
		t.Fatalf("select media: %v, resp=%+v", err, list)
	}

	if _, err := cl.SignOut(ctx, &rpc.Empty{}); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if len(h.auth.signedOut) != 1 || h.auth.signedOut[0] != h.auth.sessionID {
		t.Fatalf("session not closed: %v", h.auth.signedOut)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	t.Parallel()

	h := startBufGRPC(t, nil)
	cl := h.client

	_, err := cl.GetUser(context.Background(), &rpc.Empty{})
	wantCode(t, err, codes.PermissionDenied)

	_, err = cl.GetUser(keyCtx(), &rpc.Empty{})
	wantCode(t, err, codes.Unauthenticated)

	_, err = cl.GetUser(authCtx("bogus"), &rpc.Empty{})
	wantCode(t, err, codes.Unauthenticated)

	_, err = cl.SignUp(keyCtx(), &rpc.SignUpRequest{})
	wantCode(t, err, codes.InvalidArgument)

	_, err = cl.SignUp(keyCtx(), &rpc.SignUpRequest{Email: "a@b.c", Password: "secret1"})
	wantCode(t, err, codes.AlreadyExists)

	_, err = cl.Refresh(keyCtx(), &rpc.RefreshRequest{RefreshToken: "stale"})
	wantCode(t, err, codes.Unauthenticated)

	_, err = cl.GetEvent(keyCtx(), &rpc.GetEventRequest{ID: uuid.Must(uuid.NewV4())})
	wantCode(t, err, codes.NotFound)

	_, err = cl.InsertMedia(authCtx(testToken), &rpc.InsertMediaRequest{Row: model.NewMedia{Type: "gif"}})
	wantCode(t, err, codes.InvalidArgument)

	_, err = cl.InsertEvent(authCtx(testToken), &rpc.InsertEventRequest{Row: model.NewEvent{Name: "x", UserID: uuid.Must(uuid.NewV4())}})
	wantCode(t, err, codes.Unauthenticated)

	h.auth.signInErr = errs.ErrRateLimited
	_, err = cl.SignIn(keyCtx(), &rpc.SignInRequest{Email: "a@b.c", Password: "x"})
	wantCode(t, err, codes.ResourceExhausted)
}

func TestServer_RateLimitedPeer(t *testing.T) {
	t.Parallel()

	h := startBufGRPC(t, limiter.NewPeerLimiter(2, time.Hour, 2, time.Hour))
	for i := 0; i < 2; i++ {
		if _, err := h.client.GetUser(authCtx(testToken), &rpc.Empty{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	_, err := h.client.GetUser(authCtx(testToken), &rpc.Empty{})
	wantCode(t, err, codes.ResourceExhausted)
}

func TestServer_HandlersRequirePrincipal(t *testing.T) {
	t.Parallel()

	s := New(newFakeAuth(), &fakeEvents{}, &fakeMedia{})
	ctx := context.Background()

	_, err := s.SignOut(ctx, &rpc.Empty{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = s.InsertEvent(ctx, &rpc.InsertEventRequest{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = s.SelectMedia(ctx, &rpc.SelectMediaRequest{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = s.UploadMedia(ctx, &rpc.UploadMediaRequest{})
	wantCode(t, err, codes.Unauthenticated)

	ctx = WithPrincipal(ctx, service.Principal{UserID: uuid.Must(uuid.NewV4())})
	_, err = s.UploadMedia(ctx, &rpc.UploadMediaRequest{})
	wantCode(t, err, codes.InvalidArgument)
}

func Test_toStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want codes.Code
	}{
		{errs.ErrNotFound, codes.NotFound},
		{errs.ErrUnauthorized, codes.Unauthenticated},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{errs.ErrAlreadyExists, codes.AlreadyExists},
		{errs.ErrInvalidArgument, codes.InvalidArgument},
		{context.Canceled, codes.Canceled},
		{errors.New("db down"), codes.Internal},
	}
	for _, c := range cases {
		if got := status.Code(toStatus(c.err, "op")); got != c.want {
			t.Fatalf("%v: got %s want %s", c.err, got, c.want)
		}
	}
}
