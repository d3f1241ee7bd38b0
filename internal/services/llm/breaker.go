// -----------------------------------------------------------------------
// Provider circuit breaker - shared failure handling for model APIs
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
)

// newBreaker builds the circuit breaker used by provider clients. It trips
// after five consecutive failures and probes again after thirty seconds.
// User cancellations do not count against the provider.
func newBreaker(name string, logger arbor.ILogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// mapProviderErr converts breaker and provider failures into kinded errors.
// Everything except cancellation surfaces as Unavailable so callers treat
// provider trouble as retryable.
func mapProviderErr(err error, provider, action string) error {
	switch {
	case err == nil:
		return nil
	case common.IsKind(err, common.KindValidation):
		return err
	case errors.Is(err, context.Canceled):
		return common.WrapErr(common.KindCancelled, err, action+" cancelled")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return common.Ef(common.KindUnavailable, "%s is unavailable (circuit open)", provider)
	case errors.Is(err, context.DeadlineExceeded):
		return common.WrapErr(common.KindUnavailable, err, provider+" request timed out")
	default:
		return common.WrapErr(common.KindUnavailable, err, provider+" request failed")
	}
}
