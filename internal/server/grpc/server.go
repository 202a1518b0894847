// Package grpcserver exposes the QR media Backend gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/rpc"
	"github.com/and161185/qr-media-share/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	rpc.UnimplementedBackendServer
	auth   service.AuthService
	events service.EventService
	media  service.MediaService
}

var _ rpc.BackendServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, events service.EventService, media service.MediaService) *Server {
	return &Server{auth: auth, events: events, media: media}
}

// toStatus maps service errors to gRPC codes. Unknown errors become Internal.
func toStatus(err error, op string) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func principal(ctx context.Context) (service.Principal, error) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return service.Principal{}, status.Error(codes.Unauthenticated, "no auth")
	}
	return p, nil
}

// --- Auth ---

// SignUp creates a new account.
func (s *Server) SignUp(ctx context.Context, req *rpc.SignUpRequest) (*rpc.SignUpResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty email/password")
	}
	u, err := s.auth.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		return nil, toStatus(err, "sign up")
	}
	return &rpc.SignUpResponse{User: u}, nil
}

// SignIn authenticates a user and opens a session.
func (s *Server) SignIn(ctx context.Context, req *rpc.SignInRequest) (*rpc.SessionResponse, error) {
	sess, err := s.auth.SignIn(ctx, req.Email, req.Password, remoteAddr(ctx))
	if err != nil {
		return nil, toStatus(err, "sign in")
	}
	return &rpc.SessionResponse{Session: sess}, nil
}

// Refresh rotates the refresh token.
func (s *Server) Refresh(ctx context.Context, req *rpc.RefreshRequest) (*rpc.SessionResponse, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "empty refresh token")
	}
	sess, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(err, "refresh")
	}
	return &rpc.SessionResponse{Session: sess}, nil
}

// SignOut closes the caller's session.
func (s *Server) SignOut(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.SignOut(ctx, p.SessionID); err != nil {
		return nil, toStatus(err, "sign out")
	}
	return &rpc.Empty{}, nil
}

// GetUser returns the caller's identity.
func (s *Server) GetUser(ctx context.Context, _ *rpc.Empty) (*rpc.UserResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.auth.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, toStatus(err, "get user")
	}
	return &rpc.UserResponse{User: u}, nil
}

// --- Tables ---

// InsertEvent stores an event owned by the caller and returns the row.
func (s *Server) InsertEvent(ctx context.Context, req *rpc.InsertEventRequest) (*rpc.EventResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := s.events.Create(ctx, p.UserID, req.Row)
	if err != nil {
		return nil, toStatus(err, "insert event")
	}
	return &rpc.EventResponse{Event: ev}, nil
}

// GetEvent returns one event; public so scanned links resolve without an account.
func (s *Server) GetEvent(ctx context.Context, req *rpc.GetEventRequest) (*rpc.EventResponse, error) {
	ev, err := s.events.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err, "get event")
	}
	return &rpc.EventResponse{Event: ev}, nil
}

// InsertMedia stores a media row owned by the caller.
func (s *Server) InsertMedia(ctx context.Context, req *rpc.InsertMediaRequest) (*rpc.MediaResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.media.Add(ctx, p.UserID, req.Row)
	if err != nil {
		return nil, toStatus(err, "insert media")
	}
	return &rpc.MediaResponse{Media: m}, nil
}

// SelectMedia lists an event's media, newest first.
func (s *Server) SelectMedia(ctx context.Context, req *rpc.SelectMediaRequest) (*rpc.SelectMediaResponse, error) {
	if _, err := principal(ctx); err != nil {
		return nil, err
	}
	items, err := s.media.ListByEvent(ctx, req.EventID)
	if err != nil {
		return nil, toStatus(err, "select media")
	}
	return &rpc.SelectMediaResponse{Items: items}, nil
}

// UploadMedia stores a blob and returns its public URL.
func (s *Server) UploadMedia(ctx context.Context, req *rpc.UploadMediaRequest) (*rpc.UploadMediaResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	url, err := s.media.Upload(ctx, p.UserID, req.EventID, req.Type, req.ContentType, req.Data)
	if err != nil {
		return nil, toStatus(err, "upload media")
	}
	return &rpc.UploadMediaResponse{URL: url}, nil
}
