// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/models"
)

// Thresholds are the inclusive lower bounds per risk level. A score equal to
// a boundary classifies at the higher level.
type Thresholds struct {
	Low      float64 `koanf:"low"`
	Medium   float64 `koanf:"medium"`
	High     float64 `koanf:"high"`
	Critical float64 `koanf:"critical"`
}

// DefaultThresholds returns the standard risk boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.4, Medium: 0.6, High: 0.8, Critical: 0.9}
}

// Validate rejects threshold sets that are out of range or not strictly
// increasing.
func (t Thresholds) Validate() error {
	bounds := []float64{t.Low, t.Medium, t.High, t.Critical}
	prev := 0.0
	for i, b := range bounds {
		if b <= prev || b > 1.0 {
			return fmt.Errorf("scoring: thresholds must be strictly increasing in (0,1], got %v at position %d", b, i)
		}
		prev = b
	}
	return nil
}

// Classifier maps raw scores from a Scorer onto risk levels and derives
// explanations from the triggering vector.
type Classifier struct {
	scorer     Scorer
	thresholds Thresholds
}

// NewClassifier wraps scorer with the given thresholds.
func NewClassifier(scorer Scorer, thresholds Thresholds) *Classifier {
	return &Classifier{scorer: scorer, thresholds: thresholds}
}

// Classify scores v and builds the full anomaly record. Returns (nil, nil)
// while the underlying scorer is still warming up. Rule explanations and
// contributing weights are only derived for vectors the model flags; normal
// vectors short-circuit to the normal marker.
func (c *Classifier) Classify(ctx context.Context, v *features.Vector) (*AnomalyScore, error) {
	score, isAnomaly, err := c.scorer.Score(ctx, v)
	if err != nil {
		if errors.Is(err, ErrScorerNotReady) {
			return nil, nil
		}
		return nil, fmt.Errorf("scoring %s: %w", v.EventID, err)
	}

	explanations := []string{"Event appears normal"}
	var contributing []FeatureWeight
	if isAnomaly {
		explanations = Explain(v)
		contributing = contributingFeatures(v)
	}

	return &AnomalyScore{
		EventID:      v.EventID,
		Timestamp:    v.Timestamp,
		SourceIP:     v.SourceIP,
		Username:     v.Username,
		EventType:    v.EventType,
		Score:        score,
		IsAnomaly:    isAnomaly,
		Risk:         c.Risk(score),
		Confidence:   math.Min(score*1.5, 1.0),
		Explanations: explanations,
		Contributing: contributing,
	}, nil
}

// Risk maps a score onto a risk level. Boundaries are inclusive: 0.9 is
// CRITICAL, 0.8 is HIGH, and so on.
func (c *Classifier) Risk(score float64) models.RiskLevel {
	switch {
	case score >= c.thresholds.Critical:
		return models.RiskCritical
	case score >= c.thresholds.High:
		return models.RiskHigh
	case score >= c.thresholds.Medium:
		return models.RiskMedium
	case score >= c.thresholds.Low:
		return models.RiskLow
	default:
		return models.RiskNormal
	}
}

// Explain derives ordered human-readable findings from the vector. The rule
// order is fixed so downstream reports stay stable.
func Explain(v *features.Vector) []string {
	var out []string

	if v.IPFailedLogins > 5 {
		out = append(out, fmt.Sprintf("High failed login count from IP: %d attempts", v.IPFailedLogins))
	}
	if v.IPUniqueUsersAttempted > 5 {
		out = append(out, fmt.Sprintf("Credential scanning pattern: %d usernames targeted", v.IPUniqueUsersAttempted))
	}
	if v.IPFailedToSuccessRatio > 0.7 {
		out = append(out, fmt.Sprintf("High failure ratio: %.0f%% of attempts failed", v.IPFailedToSuccessRatio*100))
	}
	if v.UserNewIPDetected {
		out = append(out, fmt.Sprintf("Login from previously unseen IP for user %s", v.Username))
	}
	if v.UserFirstSudoUsage {
		out = append(out, fmt.Sprintf("First observed privilege escalation for user %s", v.Username))
	}
	if v.UserFailedSudoAttempts > 3 {
		out = append(out, fmt.Sprintf("Repeated failed sudo attempts: %d", v.UserFailedSudoAttempts))
	}
	if v.SessionLoginToPrivescSeconds > 0 && v.SessionLoginToPrivescSeconds < 60 {
		out = append(out, fmt.Sprintf("Rapid privilege escalation: %.0fs after login", v.SessionLoginToPrivescSeconds))
	}
	if v.SessionLolbinExecuted {
		out = append(out, "Living-off-the-land binary executed in session")
	}

	if len(out) == 0 {
		return []string{"Event appears normal"}
	}
	return out
}

// contributingFeatures normalizes each feature value into [0,1], keeps those
// above the noise floor, and orders them by weight descending.
func contributingFeatures(v *features.Vector) []FeatureWeight {
	values := v.Values()
	out := make([]FeatureWeight, 0, len(values))
	for i, val := range values {
		w := math.Min(math.Abs(val), 1.0)
		if w > 0.1 {
			out = append(out, FeatureWeight{Name: features.Names[i], Weight: w})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}
