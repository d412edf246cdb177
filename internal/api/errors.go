package api

import (
	"context"
	"errors"
	"io/fs"
	"net"

	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/media"
	"github.com/matheus3301/parley/internal/outbox"
	"github.com/matheus3301/parley/internal/remote"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var errNotSignedIn = grpcstatus.Error(codes.FailedPrecondition, "not signed in")

// toStatus maps domain errors onto gRPC status codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	var (
		remoteErr *remote.Error
		netErr    net.Error
	)
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), remote.IsUnauthenticated(err):
		code = codes.Unauthenticated
	case errors.Is(err, auth.ErrSignedOut), errors.Is(err, auth.ErrAlreadySignedIn):
		code = codes.FailedPrecondition
	case errors.Is(err, chat.ErrConversationNotFound):
		code = codes.NotFound
	case errors.Is(err, outbox.ErrEmptyMessage), errors.Is(err, media.ErrNotRegular), errors.Is(err, fs.ErrNotExist):
		code = codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.As(err, &remoteErr) && remoteErr.Code == "" && remoteErr.Status >= 500:
		code = codes.Unavailable
	case errors.As(err, &netErr):
		code = codes.Unavailable
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
