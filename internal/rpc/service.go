package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "qrmedia.v1.Backend"

// Full method names.
const (
	MethodSignUp      = "/" + ServiceName + "/SignUp"
	MethodSignIn      = "/" + ServiceName + "/SignIn"
	MethodRefresh     = "/" + ServiceName + "/Refresh"
	MethodSignOut     = "/" + ServiceName + "/SignOut"
	MethodGetUser     = "/" + ServiceName + "/GetUser"
	MethodInsertEvent = "/" + ServiceName + "/InsertEvent"
	MethodGetEvent    = "/" + ServiceName + "/GetEvent"
	MethodInsertMedia = "/" + ServiceName + "/InsertMedia"
	MethodSelectMedia = "/" + ServiceName + "/SelectMedia"
	MethodUploadMedia = "/" + ServiceName + "/UploadMedia"
)

// PublicMethods need no bearer token.
var PublicMethods = map[string]bool{
	MethodSignUp:   true,
	MethodSignIn:   true,
	MethodRefresh:  true,
	MethodGetEvent: true,
}

// BackendServer is the server API for the Backend service.
type BackendServer interface {
	SignUp(context.Context, *SignUpRequest) (*SignUpResponse, error)
	SignIn(context.Context, *SignInRequest) (*SessionResponse, error)
	Refresh(context.Context, *RefreshRequest) (*SessionResponse, error)
	SignOut(context.Context, *Empty) (*Empty, error)
	GetUser(context.Context, *Empty) (*UserResponse, error)
	InsertEvent(context.Context, *InsertEventRequest) (*EventResponse, error)
	GetEvent(context.Context, *GetEventRequest) (*EventResponse, error)
	InsertMedia(context.Context, *InsertMediaRequest) (*MediaResponse, error)
	SelectMedia(context.Context, *SelectMediaRequest) (*SelectMediaResponse, error)
	UploadMedia(context.Context, *UploadMediaRequest) (*UploadMediaResponse, error)
}

// UnimplementedBackendServer answers codes.Unimplemented for every method.
type UnimplementedBackendServer struct{}

func unimplemented(name string) error { return status.Errorf(codes.Unimplemented, "method %s not implemented", name) }

func (UnimplementedBackendServer) SignUp(context.Context, *SignUpRequest) (*SignUpResponse, error) {
	return nil, unimplemented("SignUp")
}
func (UnimplementedBackendServer) SignIn(context.Context, *SignInRequest) (*SessionResponse, error) {
	return nil, unimplemented("SignIn")
}
func (UnimplementedBackendServer) Refresh(context.Context, *RefreshRequest) (*SessionResponse, error) {
	return nil, unimplemented("Refresh")
}
func (UnimplementedBackendServer) SignOut(context.Context, *Empty) (*Empty, error) {
	return nil, unimplemented("SignOut")
}
func (UnimplementedBackendServer) GetUser(context.Context, *Empty) (*UserResponse, error) {
	return nil, unimplemented("GetUser")
}
func (UnimplementedBackendServer) InsertEvent(context.Context, *InsertEventRequest) (*EventResponse, error) {
	return nil, unimplemented("InsertEvent")
}
func (UnimplementedBackendServer) GetEvent(context.Context, *GetEventRequest) (*EventResponse, error) {
	return nil, unimplemented("GetEvent")
}
func (UnimplementedBackendServer) InsertMedia(context.Context, *InsertMediaRequest) (*MediaResponse, error) {
	return nil, unimplemented("InsertMedia")
}
func (UnimplementedBackendServer) SelectMedia(context.Context, *SelectMediaRequest) (*SelectMediaResponse, error) {
	return nil, unimplemented("SelectMedia")
}
func (UnimplementedBackendServer) UploadMedia(context.Context, *UploadMediaRequest) (*UploadMediaResponse, error) {
	return nil, unimplemented("UploadMedia")
}

func unary[Req, Resp any](name string, call func(BackendServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(BackendServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BackendServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes the Backend service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BackendServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SignUp", BackendServer.SignUp),
		unary("SignIn", BackendServer.SignIn),
		unary("Refresh", BackendServer.Refresh),
		unary("SignOut", BackendServer.SignOut),
		unary("GetUser", BackendServer.GetUser),
		unary("InsertEvent", BackendServer.InsertEvent),
		unary("GetEvent", BackendServer.GetEvent),
		unary("InsertMedia", BackendServer.InsertMedia),
		unary("SelectMedia", BackendServer.SelectMedia),
		unary("UploadMedia", BackendServer.UploadMedia),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qrmedia/v1/backend",
}

// RegisterBackendServer registers srv on s.
func RegisterBackendServer(s grpc.ServiceRegistrar, srv BackendServer) {
	s.RegisterService(&ServiceDesc, srv)
}
