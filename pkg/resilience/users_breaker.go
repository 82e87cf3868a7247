// Package resilience provides fault tolerance for calls into backing services.
package resilience

import (
	"context"
	"errors"
	"time"

	"users_server/pkg/apperr"
	"users_server/pkg/logger"

	"github.com/sony/gobreaker"
)

// StateObserver receives breaker state changes (0 closed, 1 half-open, 2 open).
type StateObserver func(name string, state int)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // requests allowed while half-open
	Interval            time.Duration // closed-state counter reset interval
	Timeout             time.Duration // open-state duration before half-open
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
	// Expected errors are normal outcomes of the wrapped call and do not
	// count as failures.
	Expected []error
}

// DefaultBreakerConfig returns defaults for a named dependency.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		MinRequests:         10,
	}
}

// Breaker wraps gobreaker. Only infrastructure failures count against it;
// application errors with a 4xx status (not found, duplicate key) are
// successful round trips.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker. observe may be nil.
func NewBreaker(cfg BreakerConfig, observe StateObserver) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
			if observe != nil {
				observe(name, int(to))
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || apperr.IsClientError(err) || isExpected(err, cfg.Expected)
		},
	}

	return &Breaker{
		name: cfg.Name,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func isExpected(err error, expected []error) bool {
	for _, target := range expected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Execute runs fn through the breaker. When the breaker rejects the call
// the error is apperr.Unavailable.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperr.Unavailable(b.name, err)
		}
		return zero, err
	}
	if res == nil {
		var zero T
		return zero, nil
	}
	return res.(T), nil
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Check reports the breaker as a readiness probe. It fails while open.
func (b *Breaker) Check(context.Context) error {
	if b.cb.State() == gobreaker.StateOpen {
		return apperr.Unavailable(b.name, errors.New("circuit "+b.State()))
	}
	return nil
}
