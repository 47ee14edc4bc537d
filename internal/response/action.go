// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package response decides and executes containment actions for scored
// anomalies: alerting, IP blocking, account locking, and session
// termination, all guarded by per-target cooldowns and a global dry-run
// switch.
package response

import (
	"time"

	"github.com/calderasec/vigil/internal/models"
	"github.com/calderasec/vigil/internal/scoring"
)

// ActionType enumerates the response actions.
type ActionType string

const (
	ActionAlertOnly        ActionType = "alert_only"
	ActionBlockIP          ActionType = "block_ip"
	ActionUnblockIP        ActionType = "unblock_ip"
	ActionLockAccount      ActionType = "lock_account"
	ActionUnlockAccount    ActionType = "unlock_account"
	ActionTerminateSession ActionType = "terminate_session"
)

// Action is one decided response, bound to the anomaly that triggered it.
// Reversible actions carry an undo command in their execution result.
type Action struct {
	Type       ActionType       `json:"action"`
	Target     string           `json:"target"`
	Risk       models.RiskLevel `json:"risk_level"`
	EventID    string           `json:"event_id"`
	Reason     string           `json:"reason"`
	Reversible bool             `json:"reversible"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ExecutionResult records what the executor did with an action.
type ExecutionResult struct {
	Action       Action    `json:"action_detail"`
	Success      bool      `json:"success"`
	Skipped      bool      `json:"skipped"`
	SkipReason   string    `json:"skip_reason,omitempty"`
	Error        string    `json:"error,omitempty"`
	ReversalHint string    `json:"reversal_hint,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// DecisionConfig holds the risk floors for each containment action.
type DecisionConfig struct {
	BlockIPAt     models.RiskLevel `koanf:"block_ip_at"`
	LockAccountAt models.RiskLevel `koanf:"lock_account_at"`
	TerminateAt   models.RiskLevel `koanf:"terminate_at"`
}

// DefaultDecisionConfig returns the standard escalation floors.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		BlockIPAt:     models.RiskHigh,
		LockAccountAt: models.RiskHigh,
		TerminateAt:   models.RiskCritical,
	}
}

// DecisionEngine maps a scored anomaly to the ordered set of actions to
// attempt. The alert always comes first so it is emitted even when every
// containment action is later skipped or fails.
type DecisionEngine struct {
	cfg DecisionConfig
}

// NewDecisionEngine builds an engine from cfg, filling invalid levels with
// defaults.
func NewDecisionEngine(cfg DecisionConfig) *DecisionEngine {
	def := DefaultDecisionConfig()
	if !cfg.BlockIPAt.Valid() {
		cfg.BlockIPAt = def.BlockIPAt
	}
	if !cfg.LockAccountAt.Valid() {
		cfg.LockAccountAt = def.LockAccountAt
	}
	if !cfg.TerminateAt.Valid() {
		cfg.TerminateAt = def.TerminateAt
	}
	return &DecisionEngine{cfg: cfg}
}

// Decide returns the actions for anomaly in execution order. Containment
// actions targeting the unknown sentinel are never emitted: there is nothing
// concrete to block or lock.
func (e *DecisionEngine) Decide(anomaly *scoring.AnomalyScore) []Action {
	reason := "anomaly detected"
	if len(anomaly.Explanations) > 0 {
		reason = anomaly.Explanations[0]
	}

	base := Action{
		Risk:      anomaly.Risk,
		EventID:   anomaly.EventID,
		Reason:    reason,
		Timestamp: anomaly.Timestamp,
	}

	alert := base
	alert.Type = ActionAlertOnly
	alert.Target = anomaly.SourceIP
	actions := []Action{alert}

	if anomaly.Risk.AtLeast(e.cfg.BlockIPAt) && anomaly.SourceIP != models.UnknownSentinel {
		a := base
		a.Type = ActionBlockIP
		a.Target = anomaly.SourceIP
		a.Reversible = true
		actions = append(actions, a)
	}
	if anomaly.Risk.AtLeast(e.cfg.LockAccountAt) && anomaly.Username != models.UnknownSentinel {
		a := base
		a.Type = ActionLockAccount
		a.Target = anomaly.Username
		a.Reversible = true
		actions = append(actions, a)
	}
	if anomaly.Risk.AtLeast(e.cfg.TerminateAt) && anomaly.Username != models.UnknownSentinel {
		a := base
		a.Type = ActionTerminateSession
		a.Target = anomaly.Username
		actions = append(actions, a)
	}

	return actions
}
