// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package report generates incident reports and the append-only alert
// stream consumed by downstream tooling.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/mitre"
	"github.com/calderasec/vigil/internal/response"
	"github.com/calderasec/vigil/internal/scoring"
)

// IncidentReport is the full record written for one detected anomaly.
type IncidentReport struct {
	ID          string                     `json:"incident_id"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Anomaly     *scoring.AnomalyScore      `json:"anomaly"`
	Vector      *features.Vector           `json:"features"`
	Techniques  []mitre.Technique          `json:"mitre_techniques"`
	Actions     []response.ExecutionResult `json:"actions"`
}

// Generator writes incident reports as paired JSON and plain-text files
// under a report directory.
type Generator struct {
	dir string
	seq atomic.Uint64
	now func() time.Time
}

// NewGenerator ensures dir exists and returns a generator writing into it.
func NewGenerator(dir string) (*Generator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir: %w", err)
	}
	return &Generator{dir: dir, now: time.Now}, nil
}

// Generate builds and persists the report for one anomaly. The incident ID
// is INC-YYYYMMDD-NNNNNN with a per-process sequence.
func (g *Generator) Generate(anomaly *scoring.AnomalyScore, vector *features.Vector,
	actions []response.ExecutionResult) (*IncidentReport, error) {

	now := g.now()
	rep := &IncidentReport{
		ID:          fmt.Sprintf("INC-%s-%06d", now.Format("20060102"), g.seq.Add(1)),
		GeneratedAt: now,
		Anomaly:     anomaly,
		Vector:      vector,
		Techniques:  mitre.TechniquesFor(vector),
		Actions:     actions,
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report %s: encode: %w", rep.ID, err)
	}
	jsonPath := filepath.Join(g.dir, rep.ID+".json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("report %s: %w", rep.ID, err)
	}

	textPath := filepath.Join(g.dir, rep.ID+".txt")
	if err := os.WriteFile(textPath, []byte(rep.Render()), 0o644); err != nil {
		return nil, fmt.Errorf("report %s: %w", rep.ID, err)
	}

	logging.Info().
		Str("incident_id", rep.ID).
		Str("risk_level", string(anomaly.Risk)).
		Str("path", jsonPath).
		Msg("Incident report written")
	return rep, nil
}

// Render produces the human-readable form of the report.
func (r *IncidentReport) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "INCIDENT REPORT %s\n", r.ID)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	fmt.Fprintf(&b, "Risk:       %s (score %.2f, confidence %.2f)\n",
		r.Anomaly.Risk, r.Anomaly.Score, r.Anomaly.Confidence)
	fmt.Fprintf(&b, "Event:      %s\n", r.Anomaly.EventType)
	fmt.Fprintf(&b, "Source IP:  %s\n", r.Anomaly.SourceIP)
	fmt.Fprintf(&b, "Username:   %s\n", r.Anomaly.Username)
	fmt.Fprintf(&b, "Occurred:   %s\n\n", r.Anomaly.Timestamp.UTC().Format(time.RFC3339))

	b.WriteString("Findings:\n")
	for _, e := range r.Anomaly.Explanations {
		fmt.Fprintf(&b, "  - %s\n", e)
	}

	if len(r.Techniques) > 0 {
		b.WriteString("\nMITRE ATT&CK:\n")
		for _, t := range r.Techniques {
			fmt.Fprintf(&b, "  - %s %s (%s)\n", t.ID, t.Name, t.Tactic)
		}
	}

	if len(r.Actions) > 0 {
		b.WriteString("\nResponse actions:\n")
		for _, a := range r.Actions {
			status := "executed"
			switch {
			case a.Skipped:
				status = "skipped: " + a.SkipReason
			case a.Error != "":
				status = "failed: " + a.Error
			}
			fmt.Fprintf(&b, "  - %s %s -> %s\n", a.Action.Type, a.Action.Target, status)
			if a.ReversalHint != "" {
				fmt.Fprintf(&b, "    undo: %s\n", a.ReversalHint)
			}
		}
	}

	return b.String()
}
