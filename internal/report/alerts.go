// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/calderasec/vigil/internal/models"
)

// Alert is one line in the JSONL alert stream.
type Alert struct {
	ID        string           `json:"alert_id"`
	Timestamp time.Time        `json:"timestamp"`
	Level     string           `json:"level"`
	Message   string           `json:"message"`
	EventID   string           `json:"event_id,omitempty"`
	SourceIP  string           `json:"source_ip,omitempty"`
	Username  string           `json:"username,omitempty"`
	Risk      models.RiskLevel `json:"risk_level,omitempty"`
	Score     float64          `json:"score,omitempty"`
}

// AlertWriter persists a single alert.
type AlertWriter interface {
	Write(alert Alert) error
}

// AlertStream appends alerts as JSON lines to a writer. Writes are
// serialized so concurrent producers never interleave lines.
type AlertStream struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewAlertStream wraps w as an alert sink.
func NewAlertStream(w io.Writer) *AlertStream {
	return &AlertStream{w: w, now: time.Now}
}

// Write assigns the alert an ID and timestamp if missing and appends it.
func (s *AlertStream) Write(alert Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now()
	}

	line, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("report: encode alert: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("report: write alert: %w", err)
	}
	return nil
}
