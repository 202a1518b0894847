package remote

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/qr-media-share/internal/errs"
)

// fromStatus maps a failed call back onto the errs sentinels and marks it as a backend error.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errs.Backend(op, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = errs.ErrNotFound
	case codes.Unauthenticated:
		sentinel = errs.ErrUnauthorized
	case codes.ResourceExhausted:
		sentinel = errs.ErrRateLimited
	case codes.AlreadyExists:
		sentinel = errs.ErrAlreadyExists
	case codes.InvalidArgument:
		sentinel = errs.ErrInvalidArgument
	default:
		return errs.Backend(op, err)
	}
	return errs.Backend(op, fmt.Errorf("%w: %s", sentinel, st.Message()))
}
