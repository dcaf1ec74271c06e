package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/printhaus/api/internal/repositories"
)

// WrapError classifies a Firestore error as a repositories.StoreError so services can
// branch on not-found, conflict and unavailable without knowing the backend.
// Cancellations are returned as the plain context errors. Errors that are already
// classified pass through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var classified repositories.RepositoryError
	if errors.As(err, &classified) {
		return err
	}

	switch code := status.Code(err); code {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		return &repositories.StoreError{Op: op, Kind: repositories.KindNotFound, Err: err}
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return repositories.Conflict(op, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return repositories.Unavailable(op, err)
	default:
		if errors.Is(err, ErrProviderClosed) {
			return repositories.Unavailable(op, err)
		}
		return repositories.Failed(op, err)
	}
}
