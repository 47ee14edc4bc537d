// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package resilience

import (
	"math"
	"sync"
	"time"

	"github.com/calderasec/vigil/internal/logging"
)

// RecoveryConfig controls per-stage error accounting and backoff growth.
type RecoveryConfig struct {
	// MaxRetries is how many consecutive errors a stage may accumulate
	// before ShouldRetry reports false. Zero applies the default of 3.
	MaxRetries int

	// BackoffBase is the exponential growth factor. Zero applies the
	// default of 2.0.
	BackoffBase float64

	// BackoffCap bounds the computed delay. Zero applies the default of
	// 5 minutes.
	BackoffCap time.Duration
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 1 {
		c.BackoffBase = 2.0
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	return c
}

// RecoveryManager tracks consecutive error counts per named stage and
// derives exponential backoff delays from them. Safe for concurrent use.
type RecoveryManager struct {
	mu     sync.Mutex
	cfg    RecoveryConfig
	counts map[string]int
}

// NewRecoveryManager builds a manager from cfg.
func NewRecoveryManager(cfg RecoveryConfig) *RecoveryManager {
	return &RecoveryManager{
		cfg:    cfg.withDefaults(),
		counts: make(map[string]int),
	}
}

// RecordError increments the consecutive error count for stage and returns
// the new count.
func (m *RecoveryManager) RecordError(stage string, err error) int {
	m.mu.Lock()
	m.counts[stage]++
	count := m.counts[stage]
	m.mu.Unlock()

	logging.Warn().
		Str("stage", stage).
		Int("consecutive_errors", count).
		Err(err).
		Msg("Stage error recorded")
	return count
}

// Reset clears the error count for stage after a successful run.
func (m *RecoveryManager) Reset(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, stage)
}

// Errors returns the current consecutive error count for stage.
func (m *RecoveryManager) Errors(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[stage]
}

// Backoff returns the delay to wait before retrying stage: zero when no
// errors are recorded, otherwise base^(n-1) seconds capped at BackoffCap.
func (m *RecoveryManager) Backoff(stage string) time.Duration {
	m.mu.Lock()
	count := m.counts[stage]
	m.mu.Unlock()

	if count == 0 {
		return 0
	}
	seconds := math.Pow(m.cfg.BackoffBase, float64(count-1))
	d := time.Duration(seconds * float64(time.Second))
	if d > m.cfg.BackoffCap || d < 0 {
		return m.cfg.BackoffCap
	}
	return d
}

// Budget returns the configured retry limit.
func (m *RecoveryManager) Budget() int { return m.cfg.MaxRetries }

// ShouldRetry reports whether stage is still within its retry budget.
func (m *RecoveryManager) ShouldRetry(stage string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[stage] < m.cfg.MaxRetries
}
