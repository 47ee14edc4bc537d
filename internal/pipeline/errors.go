// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package pipeline orchestrates the detection cycle: ingest events, extract
// features, score, and respond. A cycle absorbs stage failures instead of
// propagating them; the process never dies because a stage did.
package pipeline

import "fmt"

// Stage names used in errors, logs, metrics, and recovery accounting.
const (
	StageIngest  = "ingest"
	StageExtract = "extract"
	StageScore   = "score"
	StageAct     = "act"
)

// IngestionError wraps a failure pulling events from the source.
type IngestionError struct {
	Err error
}

func (e *IngestionError) Error() string { return fmt.Sprintf("ingestion: %v", e.Err) }
func (e *IngestionError) Unwrap() error { return e.Err }

// FeatureExtractionError wraps a per-event extraction failure.
type FeatureExtractionError struct {
	EventType string
	Err       error
}

func (e *FeatureExtractionError) Error() string {
	return fmt.Sprintf("feature extraction (%s): %v", e.EventType, e.Err)
}
func (e *FeatureExtractionError) Unwrap() error { return e.Err }

// ScoringError wraps a per-vector scoring failure.
type ScoringError struct {
	EventID string
	Err     error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %s: %v", e.EventID, e.Err)
}
func (e *ScoringError) Unwrap() error { return e.Err }

// ResponseExecutionError wraps a per-anomaly response failure.
type ResponseExecutionError struct {
	EventID string
	Err     error
}

func (e *ResponseExecutionError) Error() string {
	return fmt.Sprintf("response for %s: %v", e.EventID, e.Err)
}
func (e *ResponseExecutionError) Unwrap() error { return e.Err }
