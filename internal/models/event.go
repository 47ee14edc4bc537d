// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package models defines the shared data types that flow through the
// detection pipeline: normalized security events and the ordered risk
// classification scale.
package models

import (
	"strings"
	"time"
)

// EventType classifies a normalized security observation.
type EventType string

const (
	// EventLoginSuccess is a successful interactive authentication.
	EventLoginSuccess EventType = "login_success"

	// EventLoginFailed is a failed authentication attempt.
	EventLoginFailed EventType = "login_failed"

	// EventInvalidUser is an authentication attempt for a nonexistent account.
	EventInvalidUser EventType = "invalid_user_attempt"

	// EventDisconnect is a session disconnect.
	EventDisconnect EventType = "disconnect"

	// EventSudoSuccess is a successful privilege escalation.
	EventSudoSuccess EventType = "sudo_success"

	// EventSudoFailure is a denied privilege escalation attempt.
	EventSudoFailure EventType = "sudo_failure"

	// EventProcessExec is a process execution observation.
	EventProcessExec EventType = "process_execution"
)

// IsFailedLogin reports whether the event type denotes a failed
// authentication attempt. Matches by substring so collaborator-defined
// variants like "login_failed_publickey" classify correctly; escalation
// failures (sudo_failure) are not login failures.
func (t EventType) IsFailedLogin() bool {
	return strings.Contains(string(t), "failed")
}

// IsEscalation reports whether the event type is privilege-escalation related.
func (t EventType) IsEscalation() bool {
	return strings.Contains(string(t), "sudo")
}

// UnknownSentinel is the aggregation key used when an event carries no
// source IP or username. Unknown-keyed events aggregate separately from
// real values.
const UnknownSentinel = "unknown"

// Event is a normalized security observation produced by an external
// ingestion collaborator. Events are immutable once created.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Host       string    `json:"host,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	SourcePort int       `json:"source_port,omitempty"`
	Username   string    `json:"username,omitempty"`
	AuthMethod string    `json:"auth_method,omitempty"`
	Type       EventType `json:"event_type"`
	Service    string    `json:"service,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// IPKey returns the per-IP aggregation key, substituting the unknown
// sentinel for missing source addresses.
func (e *Event) IPKey() string {
	if e.SourceIP == "" {
		return UnknownSentinel
	}
	return e.SourceIP
}

// UserKey returns the per-user aggregation key, substituting the unknown
// sentinel for missing usernames.
func (e *Event) UserKey() string {
	if e.Username == "" {
		return UnknownSentinel
	}
	return e.Username
}
