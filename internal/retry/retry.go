// Package retry runs infrastructure calls with capped exponential backoff,
// retrying only errors that look transient.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/example/face-signup/internal/logging"
)

// Policy controls how many attempts are made and how long to wait between them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is used by the redis and postgres adapters.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. Failures are returned as *logging.OperationError.
func Do(ctx context.Context, logger *zap.Logger, policy Policy, operation, sessionID string, fn func() error) error {
	if policy.Attempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	opLogger := logging.WithOperation(logger, operation, sessionID)
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", wait))
	}

	err := backoff.RetryNotify(op, policy.backOff(ctx), notify)
	if err == nil {
		if attempt > 1 {
			opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt))
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return logging.NewOperationError(operation, sessionID, ctxErr)
	}
	opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt))
	return logging.NewOperationError(operation, sessionID, err)
}

// IsTransient reports whether err is a timeout or temporary network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
