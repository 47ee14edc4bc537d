// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then VIGIL_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/calderasec/vigil/internal/models"
	"github.com/calderasec/vigil/internal/scoring"
)

// Config is the full daemon configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Server     ServerConfig     `koanf:"server"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Features   FeaturesConfig   `koanf:"features"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Response   ResponseConfig   `koanf:"response"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Reports    ReportsConfig    `koanf:"reports"`
}

// LoggingConfig mirrors the logging package options.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// IngestConfig selects and configures the event source.
type IngestConfig struct {
	// Mode is "nats" or "file".
	Mode string           `koanf:"mode"`
	NATS NATSIngestConfig `koanf:"nats"`
	File FileIngestConfig `koanf:"file"`
}

// NATSIngestConfig configures the NATS source.
type NATSIngestConfig struct {
	URL        string `koanf:"url"`
	Subject    string `koanf:"subject"`
	Queue      string `koanf:"queue"`
	BufferSize int    `koanf:"buffer_size"`
	MaxBatch   int    `koanf:"max_batch"`
}

// FileIngestConfig configures the JSONL file source.
type FileIngestConfig struct {
	Path     string `koanf:"path"`
	MaxBatch int    `koanf:"max_batch"`
}

// FeaturesConfig configures the sliding-window aggregator.
type FeaturesConfig struct {
	WindowSeconds   int      `koanf:"window_seconds"`
	MaxLoginSamples int      `koanf:"max_login_samples"`
	LOLBins         []string `koanf:"lolbins"`
}

// Window returns the aggregation window as a duration.
func (c FeaturesConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ScoringConfig configures the baseline scorer and risk thresholds.
type ScoringConfig struct {
	MinTrainSamples int                `koanf:"min_train_samples"`
	Thresholds      scoring.Thresholds `koanf:"thresholds"`
}

// ResponseConfig configures the decision engine and executor.
type ResponseConfig struct {
	EnableActions bool   `koanf:"enable_actions"`
	AuditPath     string `koanf:"audit_path"`

	BlockIPAt     string `koanf:"block_ip_at"`
	LockAccountAt string `koanf:"lock_account_at"`
	TerminateAt   string `koanf:"terminate_at"`

	BlockCooldownSeconds     int `koanf:"block_cooldown_seconds"`
	LockCooldownSeconds      int `koanf:"lock_cooldown_seconds"`
	TerminateCooldownSeconds int `koanf:"terminate_cooldown_seconds"`
}

// ResilienceConfig configures circuit breakers and retry backoff.
type ResilienceConfig struct {
	FailureThreshold       int     `koanf:"failure_threshold"`
	RecoveryTimeoutSeconds int     `koanf:"recovery_timeout_seconds"`
	MaxRetries             int     `koanf:"max_retries"`
	BackoffBase            float64 `koanf:"backoff_base"`
	BackoffCapSeconds      int     `koanf:"backoff_cap_seconds"`
}

// PipelineConfig configures the detection cycle.
type PipelineConfig struct {
	IntervalSeconds int    `koanf:"interval_seconds"`
	AlertCapacity   int    `koanf:"alert_capacity"`
	ReportAt        string `koanf:"report_at"`
}

// ReportsConfig configures report and alert output.
type ReportsConfig struct {
	Dir        string `koanf:"dir"`
	AlertsPath string `koanf:"alerts_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Server:  ServerConfig{Addr: ":8080"},
		Ingest: IngestConfig{
			Mode: "nats",
			NATS: NATSIngestConfig{
				URL:        "nats://127.0.0.1:4222",
				Subject:    "vigil.events",
				Queue:      "vigil",
				BufferSize: 4096,
				MaxBatch:   1000,
			},
			File: FileIngestConfig{MaxBatch: 1000},
		},
		Features: FeaturesConfig{
			WindowSeconds:   3600,
			MaxLoginSamples: 512,
		},
		Scoring: ScoringConfig{
			MinTrainSamples: 100,
			Thresholds:      scoring.DefaultThresholds(),
		},
		Response: ResponseConfig{
			EnableActions:            false,
			AuditPath:                "vigil-audit.jsonl",
			BlockIPAt:                string(models.RiskHigh),
			LockAccountAt:            string(models.RiskHigh),
			TerminateAt:              string(models.RiskCritical),
			BlockCooldownSeconds:     600,
			LockCooldownSeconds:      300,
			TerminateCooldownSeconds: 180,
		},
		Resilience: ResilienceConfig{
			FailureThreshold:       5,
			RecoveryTimeoutSeconds: 60,
			MaxRetries:             3,
			BackoffBase:            2.0,
			BackoffCapSeconds:      300,
		},
		Pipeline: PipelineConfig{
			IntervalSeconds: 5,
			AlertCapacity:   1024,
			ReportAt:        string(models.RiskMedium),
		},
		Reports: ReportsConfig{
			Dir:        "reports",
			AlertsPath: "vigil-alerts.jsonl",
		},
	}
}

// envMap binds environment variables to config keys. Unlisted variables are
// ignored.
var envMap = map[string]string{
	"VIGIL_LOG_LEVEL":         "logging.level",
	"VIGIL_LOG_FORMAT":        "logging.format",
	"VIGIL_SERVER_ADDR":       "server.addr",
	"VIGIL_INGEST_MODE":       "ingest.mode",
	"VIGIL_NATS_URL":          "ingest.nats.url",
	"VIGIL_NATS_SUBJECT":      "ingest.nats.subject",
	"VIGIL_NATS_QUEUE":        "ingest.nats.queue",
	"VIGIL_INGEST_FILE":       "ingest.file.path",
	"VIGIL_ENABLE_ACTIONS":    "response.enable_actions",
	"VIGIL_AUDIT_PATH":        "response.audit_path",
	"VIGIL_REPORT_DIR":        "reports.dir",
	"VIGIL_ALERTS_PATH":       "reports.alerts_path",
	"VIGIL_PIPELINE_INTERVAL": "pipeline.interval_seconds",
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("VIGIL_", ".", func(key string) string {
		return envMap[key]
	}), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Ingest.Mode {
	case "nats":
		if c.Ingest.NATS.URL == "" {
			return fmt.Errorf("config: ingest.nats.url is required in nats mode")
		}
	case "file":
		if c.Ingest.File.Path == "" {
			return fmt.Errorf("config: ingest.file.path is required in file mode")
		}
		if _, err := os.Stat(c.Ingest.File.Path); err != nil {
			return fmt.Errorf("config: ingest file: %w", err)
		}
	default:
		return fmt.Errorf("config: ingest.mode must be nats or file, got %q", c.Ingest.Mode)
	}

	if c.Features.WindowSeconds <= 0 {
		return fmt.Errorf("config: features.window_seconds must be positive")
	}
	if c.Scoring.MinTrainSamples < 2 {
		return fmt.Errorf("config: scoring.min_train_samples must be at least 2")
	}
	if err := c.Scoring.Thresholds.Validate(); err != nil {
		return err
	}

	for key, level := range map[string]string{
		"response.block_ip_at":     c.Response.BlockIPAt,
		"response.lock_account_at": c.Response.LockAccountAt,
		"response.terminate_at":    c.Response.TerminateAt,
		"pipeline.report_at":       c.Pipeline.ReportAt,
	} {
		if !models.RiskLevel(level).Valid() {
			return fmt.Errorf("config: %s: unknown risk level %q", key, level)
		}
	}

	if c.Pipeline.IntervalSeconds <= 0 {
		return fmt.Errorf("config: pipeline.interval_seconds must be positive")
	}
	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("config: resilience.failure_threshold must be positive")
	}
	return nil
}
