// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package metrics defines the Prometheus instruments exported at /metrics.
// Instruments are registered once at init via promauto; callers use the
// package-level vars directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vigil"

var (
	// CyclesTotal counts pipeline cycles by outcome (success, degraded,
	// failure).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "cycles_total",
		Help:      "Pipeline cycles by outcome.",
	}, []string{"result"})

	// CycleDuration observes wall time per pipeline cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "cycle_duration_seconds",
		Help:      "Pipeline cycle duration.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// StageErrorsTotal counts recovered errors by pipeline stage.
	StageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_errors_total",
		Help:      "Errors recovered per pipeline stage.",
	}, []string{"stage"})

	// EventsIngestedTotal counts events pulled from the ingest source.
	EventsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Events ingested.",
	})

	// ExtractionFailuresTotal counts events rejected by the feature
	// aggregator.
	ExtractionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "features",
		Name:      "extraction_failures_total",
		Help:      "Events rejected during feature extraction.",
	})

	// AnomaliesTotal counts detected anomalies by risk level.
	AnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "detection",
		Name:      "anomalies_total",
		Help:      "Anomalies detected by risk level.",
	}, []string{"risk_level"})

	// ActionsTotal counts response actions by type and outcome.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "response",
		Name:      "actions_total",
		Help:      "Response actions by type and result.",
	}, []string{"action", "result"})

	// AlertsDroppedTotal counts alerts discarded because the buffer was
	// full.
	AlertsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "dropped_total",
		Help:      "Alerts dropped from the bounded buffer.",
	})

	// BreakerState exposes circuit breaker state per breaker:
	// 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "resilience",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
)
