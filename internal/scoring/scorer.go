// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package scoring turns feature vectors into anomaly scores and risk
// classifications. The Scorer interface is the pluggable model port; the
// Classifier maps raw scores onto risk levels and human-readable
// explanations.
package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/models"
)

// ErrScorerNotReady signals the model has not accumulated enough baseline
// to score. Callers treat it as "no verdict yet", not as a failure.
var ErrScorerNotReady = errors.New("scoring: model not ready")

// Scorer is the anomaly-model port. Implementations must be safe for
// concurrent use.
//
// Score returns the anomaly score in [0,1] and the model's own anomaly
// verdict. The verdict is independent of the risk mapping: a model may flag
// a vector anomalous at a score below the lowest risk threshold. A scorer
// still warming up returns ErrScorerNotReady rather than guessing.
type Scorer interface {
	Train(ctx context.Context, vectors []*features.Vector) error
	Score(ctx context.Context, v *features.Vector) (score float64, isAnomaly bool, err error)
}

// FeatureWeight names a feature and its normalized contribution to a score.
type FeatureWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// AnomalyScore is the scored and classified result for one event.
type AnomalyScore struct {
	EventID   string           `json:"event_id"`
	Timestamp time.Time        `json:"timestamp"`
	SourceIP  string           `json:"source_ip"`
	Username  string           `json:"username"`
	EventType models.EventType `json:"event_type"`

	Score        float64          `json:"score"`
	IsAnomaly    bool             `json:"is_anomaly"`
	Risk         models.RiskLevel `json:"risk_level"`
	Confidence   float64          `json:"confidence"`
	Explanations []string         `json:"explanations"`
	Contributing []FeatureWeight  `json:"contributing_features,omitempty"`
}
