// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package response

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/metrics"
)

// CommandRunner executes a host command. The production runner shells out;
// tests substitute a recorder.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// ExecutorConfig controls the safe executor.
type ExecutorConfig struct {
	// EnableActions arms containment. When false every non-alert action is
	// a logged dry run.
	EnableActions bool

	// Audit receives one JSON line per execution result. Nil disables the
	// audit trail.
	Audit io.Writer

	// Runner overrides the host command runner, for tests.
	Runner CommandRunner
}

// Executor runs a decided action and reports what happened. Implementations
// must not return control-flow errors; failures belong in the result.
type Executor interface {
	Execute(ctx context.Context, action Action) ExecutionResult
}

// SafeExecutor runs decided actions with cooldown throttling, a dry-run
// guard, and a JSONL audit trail. Alerts always pass; containment actions
// are gated.
type SafeExecutor struct {
	enabled   bool
	cooldowns *CooldownManager
	runner    CommandRunner

	auditMu sync.Mutex
	audit   io.Writer

	now func() time.Time
}

// NewSafeExecutor builds an executor around the given cooldown manager.
func NewSafeExecutor(cfg ExecutorConfig, cooldowns *CooldownManager) *SafeExecutor {
	runner := cfg.Runner
	if runner == nil {
		runner = execRunner{}
	}
	return &SafeExecutor{
		enabled:   cfg.EnableActions,
		cooldowns: cooldowns,
		runner:    runner,
		audit:     cfg.Audit,
		now:       time.Now,
	}
}

// Execute runs one action and returns the result. Execute never returns an
// error: failures are captured in the result so one bad action cannot stop
// the rest of a batch.
func (e *SafeExecutor) Execute(ctx context.Context, action Action) ExecutionResult {
	result := ExecutionResult{Action: action, ExecutedAt: e.now()}

	if action.Type != ActionAlertOnly {
		if !e.cooldowns.Allowed(action.Type, action.Target) {
			result.Skipped = true
			result.SkipReason = fmt.Sprintf("cooldown active (%s remaining)",
				e.cooldowns.Remaining(action.Type, action.Target).Round(time.Second))
			e.finish(&result, "skipped")
			return result
		}
		if !e.enabled {
			result.Skipped = true
			result.SkipReason = "actions disabled (dry run)"
			e.finish(&result, "dry_run")
			return result
		}
	}

	cmd, args, hint := commandFor(action)
	if cmd != "" {
		if err := e.runner.Run(ctx, cmd, args...); err != nil {
			result.Error = err.Error()
			e.finish(&result, "failure")
			return result
		}
	}

	result.Success = true
	result.ReversalHint = hint
	if action.Type != ActionAlertOnly {
		e.cooldowns.MarkExecuted(action.Type, action.Target)
	}
	e.finish(&result, "success")
	return result
}

// commandFor maps an action to its host command and the command that would
// undo it.
func commandFor(a Action) (name string, args []string, reversal string) {
	switch a.Type {
	case ActionBlockIP:
		return "iptables", []string{"-A", "INPUT", "-s", a.Target, "-j", "DROP"},
			fmt.Sprintf("iptables -D INPUT -s %s -j DROP", a.Target)
	case ActionUnblockIP:
		return "iptables", []string{"-D", "INPUT", "-s", a.Target, "-j", "DROP"}, ""
	case ActionLockAccount:
		return "usermod", []string{"-L", a.Target},
			fmt.Sprintf("usermod -U %s", a.Target)
	case ActionUnlockAccount:
		return "usermod", []string{"-U", a.Target}, ""
	case ActionTerminateSession:
		return "pkill", []string{"-KILL", "-u", a.Target}, ""
	default:
		return "", nil, ""
	}
}

func (e *SafeExecutor) finish(result *ExecutionResult, outcome string) {
	metrics.ActionsTotal.WithLabelValues(string(result.Action.Type), outcome).Inc()

	evt := logging.Info()
	if result.Error != "" {
		evt = logging.Error()
	}
	evt.Str("action", string(result.Action.Type)).
		Str("target", result.Action.Target).
		Str("risk_level", string(result.Action.Risk)).
		Str("outcome", outcome).
		Msg("Response action processed")

	e.writeAudit(result)
}

func (e *SafeExecutor) writeAudit(result *ExecutionResult) {
	if e.audit == nil {
		return
	}
	line, err := json.Marshal(result)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to encode audit record")
		return
	}
	e.auditMu.Lock()
	defer e.auditMu.Unlock()
	if _, err := e.audit.Write(append(line, '\n')); err != nil {
		logging.Error().Err(err).Msg("Failed to write audit record")
	}
}
