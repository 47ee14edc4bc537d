// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package resilience wraps failure-prone pipeline stages with circuit
// breaking and exponential-backoff retry accounting.
package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/metrics"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call
// without invoking the wrapped operation.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig controls one circuit breaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs, metrics, and the breakers API.
	Name string

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Zero applies the default of 5.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a half-open trial call. Zero applies the default of 60s.
	RecoveryTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	return c
}

// Breaker is a typed circuit breaker around a single operation class.
// CLOSED passes calls through; after FailureThreshold consecutive failures
// it opens and fails fast; after RecoveryTimeout a single trial call is
// admitted, and its outcome closes or re-opens the breaker.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

// NewBreaker builds a breaker from cfg.
func NewBreaker[T any](cfg BreakerConfig) *Breaker[T] {
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}

	metrics.BreakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))

	return &Breaker[T]{
		name: cfg.Name,
		cb:   gobreaker.NewCircuitBreaker[T](settings),
	}
}

// Execute runs op through the breaker. When the breaker is open the
// operation is never invoked and the error satisfies
// errors.Is(err, ErrCircuitOpen).
func (b *Breaker[T]) Execute(op func() (T, error)) (T, error) {
	result, err := b.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	return result, err
}

// IsCircuitOpen reports whether err is a breaker fast-fail rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// BreakerSnapshot is a point-in-time view of one breaker, for the API.
type BreakerSnapshot struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	TotalFailures       uint32 `json:"total_failures"`
	TotalSuccesses      uint32 `json:"total_successes"`
}

// Snapshot returns the breaker's current state and counters.
func (b *Breaker[T]) Snapshot() BreakerSnapshot {
	counts := b.cb.Counts()
	return BreakerSnapshot{
		Name:                b.name,
		State:               b.cb.State().String(),
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalFailures:       counts.TotalFailures,
		TotalSuccesses:      counts.TotalSuccesses,
	}
}

// Name returns the breaker's identifier.
func (b *Breaker[T]) Name() string { return b.name }

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
