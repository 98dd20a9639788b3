package nbi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/admission"
)

var (
	// ErrNotFound is a package-level sentinel used when an entity cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidEntity is a package-level sentinel used for client-side validation failures.
	ErrInvalidEntity = errors.New("invalid entity")
)

// ToStatusError maps engine errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, core.ErrUnknownAccessPoint):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidEntity),
		errors.Is(err, ErrInvalidAdmit),
		errors.Is(err, ErrInvalidRelease),
		errors.Is(err, core.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrReservationExists),
		errors.Is(err, core.ErrAccessPointExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, core.ErrNoCapacityAvailable),
		errors.Is(err, core.ErrInsufficientCapacity):
		return status.Error(codes.ResourceExhausted, err.Error())

	case errors.Is(err, core.ErrCapacityPathFailure):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, admission.ErrNoScanner):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
