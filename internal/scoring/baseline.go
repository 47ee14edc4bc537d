// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/logging"
)

// DefaultMinTrainSamples is the warm-up size before the baseline scorer
// reports readiness.
const DefaultMinTrainSamples = 100

const epsilon = 1e-9

// anomalyCutoff is the squashed-score boundary for the baseline's own
// anomaly verdict: 0.5 corresponds to a mean |z| of roughly 2.1.
const anomalyCutoff = 0.5

// Baseline is a statistical anomaly scorer. It maintains running per-feature
// mean and variance (Welford's algorithm) over trained vectors and scores new
// vectors by their average absolute z-score, squashed into [0,1). Until the
// configured number of samples has been observed it reports not-ready instead
// of guessing.
type Baseline struct {
	mu         sync.RWMutex
	minSamples int

	count int
	mean  []float64
	m2    []float64
}

// NewBaseline builds a baseline scorer. minSamples <= 0 applies the default
// warm-up size.
func NewBaseline(minSamples int) *Baseline {
	if minSamples <= 0 {
		minSamples = DefaultMinTrainSamples
	}
	n := len(features.Names)
	return &Baseline{
		minSamples: minSamples,
		mean:       make([]float64, n),
		m2:         make([]float64, n),
	}
}

// Train folds vectors into the running baseline. Repeated calls accumulate;
// training never resets prior state.
func (b *Baseline) Train(ctx context.Context, vectors []*features.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, v := range vectors {
		values := v.Values()
		if len(values) != len(b.mean) {
			return fmt.Errorf("scoring: vector has %d features, baseline expects %d", len(values), len(b.mean))
		}
		b.count++
		for i, x := range values {
			delta := x - b.mean[i]
			b.mean[i] += delta / float64(b.count)
			b.m2[i] += delta * (x - b.mean[i])
		}
	}

	if b.count >= b.minSamples {
		logging.Debug().
			Int("samples", b.count).
			Msg("Baseline scorer trained")
	}
	return nil
}

// Score returns the anomaly score and verdict for v, or ErrScorerNotReady
// while warming up.
func (b *Baseline) Score(ctx context.Context, v *features.Vector) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count < b.minSamples || b.count < 2 {
		return 0, false, ErrScorerNotReady
	}

	values := v.Values()
	if len(values) != len(b.mean) {
		return 0, false, fmt.Errorf("scoring: vector has %d features, baseline expects %d", len(values), len(b.mean))
	}

	var zSum float64
	for i, x := range values {
		dev := math.Abs(x - b.mean[i])
		std := math.Sqrt(b.m2[i] / float64(b.count-1))
		if std < epsilon {
			// Constant baseline feature: any deviation is fully anomalous
			// in its own units.
			if dev > epsilon {
				zSum += dev
			}
			continue
		}
		zSum += dev / std
	}
	avgZ := zSum / float64(len(values))

	// Squash the mean z-score into [0,1): ~0.63 at z=3, ~0.9 at z=7.
	score := 1 - math.Exp(-avgZ/3.0)
	return score, score >= anomalyCutoff, nil
}

// Samples reports how many vectors have been folded into the baseline.
func (b *Baseline) Samples() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Ready reports whether the warm-up threshold has been reached.
func (b *Baseline) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count >= b.minSamples && b.count >= 2
}
