package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// BackendClient is the client stub of the Backend service. Every call uses the JSON codec.
type BackendClient struct {
	cc grpc.ClientConnInterface
}

// NewBackendClient wraps a connection.
func NewBackendClient(cc grpc.ClientConnInterface) *BackendClient {
	return &BackendClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) SignUp(ctx context.Context, in *SignUpRequest, opts ...grpc.CallOption) (*SignUpResponse, error) {
	return invoke[SignUpResponse](ctx, c.cc, MethodSignUp, in, opts)
}

func (c *BackendClient) SignIn(ctx context.Context, in *SignInRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, MethodSignIn, in, opts)
}

func (c *BackendClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, MethodRefresh, in, opts)
}

func (c *BackendClient) SignOut(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodSignOut, in, opts)
}

func (c *BackendClient) GetUser(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*UserResponse, error) {
	return invoke[UserResponse](ctx, c.cc, MethodGetUser, in, opts)
}

func (c *BackendClient) InsertEvent(ctx context.Context, in *InsertEventRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	return invoke[EventResponse](ctx, c.cc, MethodInsertEvent, in, opts)
}

func (c *BackendClient) GetEvent(ctx context.Context, in *GetEventRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	return invoke[EventResponse](ctx, c.cc, MethodGetEvent, in, opts)
}

func (c *BackendClient) InsertMedia(ctx context.Context, in *InsertMediaRequest, opts ...grpc.CallOption) (*MediaResponse, error) {
	return invoke[MediaResponse](ctx, c.cc, MethodInsertMedia, in, opts)
}

func (c *BackendClient) SelectMedia(ctx context.Context, in *SelectMediaRequest, opts ...grpc.CallOption) (*SelectMediaResponse, error) {
	return invoke[SelectMediaResponse](ctx, c.cc, MethodSelectMedia, in, opts)
}

func (c *BackendClient) UploadMedia(ctx context.Context, in *UploadMediaRequest, opts ...grpc.CallOption) (*UploadMediaResponse, error) {
	return invoke[UploadMediaResponse](ctx, c.cc, MethodUploadMedia, in, opts)
}
