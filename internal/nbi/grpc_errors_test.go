package nbi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/admission"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "invalid entity sentinel", err: fmt.Errorf("%w: bad entity", ErrInvalidEntity), code: codes.InvalidArgument},
		{name: "admit validation", err: fmt.Errorf("%w: station_id is required", ErrInvalidAdmit), code: codes.InvalidArgument},
		{name: "engine invalid request", err: fmt.Errorf("%w: duplicate candidate", core.ErrInvalidRequest), code: codes.InvalidArgument},
		{name: "unknown access point", err: fmt.Errorf("%w: \"ap-x\"", core.ErrUnknownAccessPoint), code: codes.NotFound},
		{name: "not found", err: ErrNotFound, code: codes.NotFound},
		{name: "lease exists", err: core.ErrReservationExists, code: codes.AlreadyExists},
		{name: "access point exists", err: core.ErrAccessPointExists, code: codes.AlreadyExists},
		{name: "no capacity", err: errors.Join(core.ErrNoCapacityAvailable, errors.New("x")), code: codes.ResourceExhausted},
		{name: "insufficient", err: core.ErrInsufficientCapacity, code: codes.ResourceExhausted},
		{name: "path failure", err: fmt.Errorf("%w: attach: down", core.ErrCapacityPathFailure), code: codes.Unavailable},
		{name: "no scanner", err: admission.ErrNoScanner, code: codes.FailedPrecondition},
		{name: "canceled", err: fmt.Errorf("admit: %w", context.Canceled), code: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
