package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// maxBackoffShift caps the exponent so delays cannot overflow when the
// operation budget is unbounded.
const maxBackoffShift = 16

// Retrier retries throughput-rejected calls with exponential backoff.
type Retrier struct {
	caller           Caller
	operationTimeout time.Duration
	multiplier       time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// NewRetrier wraps caller with the backoff policy from cfg.
func NewRetrier(caller Caller, cfg Config) *Retrier {
	cfg.validate()
	return &Retrier{
		caller:           caller,
		operationTimeout: cfg.OperationTimeout,
		multiplier:       cfg.BackoffMultiplier,
		logger:           cfg.Logger,
		now:              time.Now,
	}
}

// Do calls op, retrying while the backend rejects it for throughput. Attempt 0
// runs immediately; after failed attempt n it waits 2^n * multiplier. If that
// wait would reach the operation budget it fails with ErrOperationTimeout
// without sleeping.
func (r *Retrier) Do(ctx context.Context, op string, params, out any) error {
	b, exceeded := r.Backoff(r.now())
	attempts := 0

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := r.caller.Call(ctx, op, params, out)
		if err != nil && IsThroughputRejected(err) {
			r.logger.Warn("throughput rejected, backing off",
				"op", op,
				"attempt", attempts-1,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && exceeded() {
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrOperationTimeout, op, attempts, err)
	}
	return err
}

// Backoff returns a go-retry backoff with the Retrier's growth and budget,
// measured from start. exceeded reports whether the budget stopped it.
func (r *Retrier) Backoff(start time.Time) (b retry.Backoff, exceeded func() bool) {
	var (
		mu      sync.Mutex
		attempt uint
		stopped bool
	)

	b = retry.BackoffFunc(func() (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()

		shift := attempt
		if shift > maxBackoffShift {
			shift = maxBackoffShift
		}
		delay := r.multiplier << shift
		attempt++

		if r.operationTimeout > 0 && r.now().Sub(start)+delay >= r.operationTimeout {
			stopped = true
			return 0, true
		}
		return delay, false
	})

	exceeded = func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopped
	}
	return b, exceeded
}
