// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Command vigild runs the behavioral anomaly detection daemon: it ingests
// auth events, scores them against a learned baseline, and executes guarded
// response actions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calderasec/vigil/internal/api"
	"github.com/calderasec/vigil/internal/config"
	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/ingest"
	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/models"
	"github.com/calderasec/vigil/internal/pipeline"
	"github.com/calderasec/vigil/internal/report"
	"github.com/calderasec/vigil/internal/resilience"
	"github.com/calderasec/vigil/internal/response"
	"github.com/calderasec/vigil/internal/scoring"
	"github.com/calderasec/vigil/internal/supervisor"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vigild %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("ingest_mode", cfg.Ingest.Mode).
		Bool("actions_enabled", cfg.Response.EnableActions).
		Msg("Vigil starting")

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Vigil exited")
	}
	logging.Info().Msg("Vigil stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := buildSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	aggregator := features.NewAggregator(features.Config{
		Window:          cfg.Features.Window(),
		MaxLoginSamples: cfg.Features.MaxLoginSamples,
		LOLBins:         cfg.Features.LOLBins,
	})
	scorer := scoring.NewBaseline(cfg.Scoring.MinTrainSamples)
	classifier := scoring.NewClassifier(scorer, cfg.Scoring.Thresholds)

	decisions := response.NewDecisionEngine(response.DecisionConfig{
		BlockIPAt:     models.RiskLevel(cfg.Response.BlockIPAt),
		LockAccountAt: models.RiskLevel(cfg.Response.LockAccountAt),
		TerminateAt:   models.RiskLevel(cfg.Response.TerminateAt),
	})
	cooldowns, err := response.NewCooldownManager(map[response.ActionType]time.Duration{
		response.ActionBlockIP:          time.Duration(cfg.Response.BlockCooldownSeconds) * time.Second,
		response.ActionLockAccount:      time.Duration(cfg.Response.LockCooldownSeconds) * time.Second,
		response.ActionTerminateSession: time.Duration(cfg.Response.TerminateCooldownSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	audit, err := openAppend(cfg.Response.AuditPath)
	if err != nil {
		return err
	}
	defer audit.Close()
	executor := response.NewSafeExecutor(response.ExecutorConfig{
		EnableActions: cfg.Response.EnableActions,
		Audit:         audit,
	}, cooldowns)

	reports, err := report.NewGenerator(cfg.Reports.Dir)
	if err != nil {
		return err
	}
	alertsFile, err := openAppend(cfg.Reports.AlertsPath)
	if err != nil {
		return err
	}
	defer alertsFile.Close()

	alerts := pipeline.NewAlertBuffer(cfg.Pipeline.AlertCapacity)
	recovery := resilience.NewRecoveryManager(resilience.RecoveryConfig{
		MaxRetries:  cfg.Resilience.MaxRetries,
		BackoffBase: cfg.Resilience.BackoffBase,
		BackoffCap:  time.Duration(cfg.Resilience.BackoffCapSeconds) * time.Second,
	})

	p := pipeline.New(pipeline.Deps{
		Source:     source,
		Aggregator: aggregator,
		Scorer:     scorer,
		Classifier: classifier,
		Decisions:  decisions,
		Executor:   executor,
		Reports:    reports,
		Alerts:     alerts,
		Recovery:   recovery,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: uint32(cfg.Resilience.FailureThreshold),
			RecoveryTimeout:  time.Duration(cfg.Resilience.RecoveryTimeoutSeconds) * time.Second,
		},
		ReportAt: models.RiskLevel(cfg.Pipeline.ReportAt),
	})

	runner := pipeline.NewRunner(p, time.Duration(cfg.Pipeline.IntervalSeconds)*time.Second)
	consumer := supervisor.NewAlertConsumer(alerts, report.NewAlertStream(alertsFile), time.Second)
	apiServer := api.NewServer(cfg.Server.Addr, p, aggregator)

	return supervisor.Tree(runner, consumer, apiServer).Serve(ctx)
}

func buildSource(cfg *config.Config) (ingest.Source, error) {
	switch cfg.Ingest.Mode {
	case "file":
		return ingest.NewFileSource(cfg.Ingest.File.Path, cfg.Ingest.File.MaxBatch)
	default:
		return ingest.NewNATSSource(ingest.NATSConfig{
			URL:        cfg.Ingest.NATS.URL,
			Subject:    cfg.Ingest.NATS.Subject,
			Queue:      cfg.Ingest.NATS.Queue,
			BufferSize: cfg.Ingest.NATS.BufferSize,
			MaxBatch:   cfg.Ingest.NATS.MaxBatch,
		})
	}
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
