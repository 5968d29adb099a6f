package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings tunes the circuit breaker around a provider.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Breaker stops calling a provider that keeps failing. Declines and caller
// cancellations do not count against the provider.
type Breaker struct {
	next     Provider
	initiate *gobreaker.CircuitBreaker[*InitiateResult]
	refund   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreaker(next Provider, s BreakerSettings, log *zap.Logger) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	settings := func(op string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        next.Name() + "." + op,
			MaxRequests: 1,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= s.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, ErrDeclined) ||
					errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("payment provider breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}
	}
	return &Breaker{
		next:     next,
		initiate: gobreaker.NewCircuitBreaker[*InitiateResult](settings("initiate")),
		refund:   gobreaker.NewCircuitBreaker[struct{}](settings("refund")),
	}
}

func (b *Breaker) Name() string { return b.next.Name() }

// Unwrap returns the wrapped provider.
func (b *Breaker) Unwrap() Provider { return b.next }

func (b *Breaker) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	res, err := b.initiate.Execute(func() (*InitiateResult, error) {
		return b.next.Initiate(ctx, req)
	})
	return res, breakerError(err)
}

func (b *Breaker) Refund(ctx context.Context, req RefundRequest) error {
	_, err := b.refund.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Refund(ctx, req)
	})
	return breakerError(err)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	return err
}
