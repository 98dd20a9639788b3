package fabric

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/logging"
)

// RetryPolicy bounds attach retries.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy makes three quick attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

// RetryingAttacher retries transient attach failures with exponential
// backoff. Invalid input and impaired access points fail at once.
type RetryingAttacher struct {
	next   core.PathAttacher
	policy RetryPolicy
	log    logging.Logger
}

// NewRetryingAttacher wraps next with policy.
func NewRetryingAttacher(next core.PathAttacher, policy RetryPolicy, log logging.Logger) *RetryingAttacher {
	if policy.MaxTries == 0 {
		policy.MaxTries = 1
	}
	return &RetryingAttacher{next: next, policy: policy, log: logging.OrNoop(log)}
}

// Attach implements core.PathAttacher.
func (r *RetryingAttacher) Attach(ctx context.Context, stationID, accessPointID string, units int) (core.PathHandle, error) {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}

	attempt := 0
	op := func() (core.PathHandle, error) {
		attempt++
		h, err := r.next.Attach(ctx, stationID, accessPointID, units)
		if err == nil {
			return h, nil
		}
		if errors.Is(err, ErrLinkBadInput) || errors.Is(err, ErrAccessPointImpaired) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn(ctx, "capacity path attach failed, retrying",
			logging.String("station", stationID),
			logging.String("access_point", accessPointID),
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Err(err),
		)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxTries),
		backoff.WithNotify(notify),
	)
}
