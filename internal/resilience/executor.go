package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// AttemptObserver is notified after every attempt. err is nil on success.
type AttemptObserver func(operation string, attempt int, err error)

// Executor combines a retry Policy with a Breaker. One Executor is shared by every oracle operation.
type Executor struct {
	policy    Policy
	breaker   *Breaker
	logger    hclog.Logger
	onAttempt AttemptObserver
}

// NewExecutor wires policy and breaker. A nil breaker disables circuit breaking.
func NewExecutor(policy Policy, breaker *Breaker, logger hclog.Logger, onAttempt AttemptObserver) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{})
	}
	return &Executor{
		policy:    policy.withDefaults(),
		breaker:   breaker,
		logger:    logger,
		onAttempt: onAttempt,
	}
}

// Breaker exposes the underlying breaker for inspection.
func (e *Executor) Breaker() *Breaker {
	return e.breaker
}

// Do runs op under the retry policy. Every attempt first asks the breaker for permission;
// while the circuit is open Do returns ErrCircuitOpen without calling op.
func (e *Executor) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	attempt := 0
	guarded := func(ctx context.Context) error {
		attempt++
		if !e.breaker.Allow() {
			return fmt.Errorf("%s: %w", operation, shared.ErrCircuitOpen)
		}

		err := op(ctx)
		switch {
		case err == nil:
			e.breaker.RecordSuccess()
		case errors.Is(err, context.Canceled):
			e.breaker.Abandon()
		default:
			e.breaker.RecordFailure()
		}

		if e.onAttempt != nil {
			e.onAttempt(operation, attempt, err)
		}
		if err != nil {
			e.logger.Debug("oracle attempt failed", "operation", operation, "attempt", attempt, "error", err)
		}
		return err
	}

	err := e.policy.Do(ctx, guarded)
	if err != nil && attempt > 1 {
		e.logger.Warn("oracle operation exhausted retries", "operation", operation, "attempts", attempt, "error", err)
	}
	return err
}
