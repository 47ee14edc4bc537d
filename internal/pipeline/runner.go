// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package pipeline

import (
	"context"
	"time"

	"github.com/calderasec/vigil/internal/logging"
)

// DefaultInterval is the cycle cadence when the config leaves it unset.
const DefaultInterval = 5 * time.Second

// Runner drives the pipeline on a fixed cadence plus whatever backoff the
// recovery manager has accumulated. It implements suture.Service; the
// supervisor restarts it if it ever returns unexpectedly.
type Runner struct {
	pipeline *Pipeline
	interval time.Duration
}

// NewRunner builds a runner. interval <= 0 applies DefaultInterval.
func NewRunner(p *Pipeline, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{pipeline: p, interval: interval}
}

// Serve runs cycles until ctx is cancelled. Cancellation is only observed
// between cycles, so an in-flight cycle always finishes.
func (r *Runner) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", r.interval).
		Msg("Detection pipeline started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Detection pipeline stopping")
			return ctx.Err()
		case <-timer.C:
			r.pipeline.RunCycle(ctx)

			delay := r.interval
			if backoff := r.pipeline.PostCycleDelay(); backoff > 0 {
				logging.Warn().
					Dur("backoff", backoff).
					Msg("Delaying next cycle after stage errors")
				delay += backoff
			}
			timer.Reset(delay)
		}
	}
}

func (r *Runner) String() string { return "detection-pipeline" }
