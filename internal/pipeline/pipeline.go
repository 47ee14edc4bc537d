// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/ingest"
	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/metrics"
	"github.com/calderasec/vigil/internal/models"
	"github.com/calderasec/vigil/internal/report"
	"github.com/calderasec/vigil/internal/resilience"
	"github.com/calderasec/vigil/internal/response"
	"github.com/calderasec/vigil/internal/scoring"
)

// Deps wires the pipeline's collaborators. Source, Aggregator, Scorer,
// Classifier, Decisions, and Executor are required; Reports may be nil to
// disable incident files.
type Deps struct {
	Source     ingest.Source
	Aggregator *features.Aggregator
	Scorer     scoring.Scorer
	Classifier *scoring.Classifier
	Decisions  *response.DecisionEngine
	Executor   response.Executor
	Reports    *report.Generator
	Alerts     *AlertBuffer
	Recovery   *resilience.RecoveryManager

	// Breaker is the base breaker configuration; the pipeline derives one
	// breaker per guarded stage from it.
	Breaker resilience.BreakerConfig

	// ReportAt is the risk floor for writing incident reports. Invalid
	// values default to MEDIUM.
	ReportAt models.RiskLevel
}

// detection pairs a scored anomaly with the vector that produced it.
type detection struct {
	anomaly *scoring.AnomalyScore
	vector  *features.Vector
}

// Pipeline runs the detect-and-respond cycle. RunCycle never returns an
// error and never panics outward: stage failures are recorded, counted, and
// absorbed so the next cycle always runs.
type Pipeline struct {
	source     ingest.Source
	aggregator *features.Aggregator
	scorer     scoring.Scorer
	classifier *scoring.Classifier
	decisions  *response.DecisionEngine
	executor   response.Executor
	reports    *report.Generator
	alerts     AlertSink
	recovery   *resilience.RecoveryManager

	ingestBreaker *resilience.Breaker[[]*models.Event]
	scoreBreaker  *resilience.Breaker[*scoring.AnomalyScore]
	actBreaker    *resilience.Breaker[[]response.ExecutionResult]

	reportAt models.RiskLevel
	started  time.Time

	mu                sync.Mutex
	cyclesCompleted   uint64
	cyclesFailed      uint64
	eventsProcessed   uint64
	anomaliesDetected uint64
	errorsRecovered   uint64
}

// New builds a pipeline from deps.
func New(deps Deps) *Pipeline {
	if deps.Alerts == nil {
		deps.Alerts = NewAlertBuffer(DefaultAlertCapacity)
	}
	if deps.Recovery == nil {
		deps.Recovery = resilience.NewRecoveryManager(resilience.RecoveryConfig{})
	}
	if !deps.ReportAt.Valid() {
		deps.ReportAt = models.RiskMedium
	}

	breakerFor := func(stage string) resilience.BreakerConfig {
		cfg := deps.Breaker
		cfg.Name = stage
		return cfg
	}

	return &Pipeline{
		source:        deps.Source,
		aggregator:    deps.Aggregator,
		scorer:        deps.Scorer,
		classifier:    deps.Classifier,
		decisions:     deps.Decisions,
		executor:      deps.Executor,
		reports:       deps.Reports,
		alerts:        deps.Alerts,
		recovery:      deps.Recovery,
		ingestBreaker: resilience.NewBreaker[[]*models.Event](breakerFor(StageIngest)),
		scoreBreaker:  resilience.NewBreaker[*scoring.AnomalyScore](breakerFor(StageScore)),
		actBreaker:    resilience.NewBreaker[[]response.ExecutionResult](breakerFor(StageAct)),
		reportAt:      deps.ReportAt,
		started:       time.Now(),
	}
}

// RunCycle executes one full detection cycle and returns the anomalies it
// found. It never returns an error: stage failures are absorbed into
// counters and a trailing recover() catches anything a collaborator throws.
func (p *Pipeline) RunCycle(ctx context.Context) (anomalies []*scoring.AnomalyScore) {
	start := time.Now()
	failed := false

	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			failed = true
			logging.Error().
				Interface("panic", r).
				Msg("Pipeline cycle panicked, recovered")
		}
		p.countCycle(failed)
	}()

	events, err := p.ingestBreaker.Execute(func() ([]*models.Event, error) {
		return p.source.IngestBatch(ctx)
	})
	if err != nil {
		// An ingest failure ends the cycle early but the cycle itself
		// completed; only panics count as failed cycles.
		p.stageFailed(StageIngest, &IngestionError{Err: err})
		return nil
	}
	p.recovery.Reset(StageIngest)
	metrics.EventsIngestedTotal.Add(float64(len(events)))

	vectors := p.extract(events)
	detections := p.score(ctx, vectors)
	p.act(ctx, detections)

	anomalies = make([]*scoring.AnomalyScore, 0, len(detections))
	for _, d := range detections {
		anomalies = append(anomalies, d.anomaly)
	}
	return anomalies
}

func (p *Pipeline) extract(events []*models.Event) []*features.Vector {
	vectors := make([]*features.Vector, 0, len(events))
	for _, ev := range events {
		v, err := p.aggregator.Extract(ev)
		if err != nil {
			metrics.ExtractionFailuresTotal.Inc()
			p.noteRecovered()
			eventType := "invalid"
			if ev != nil {
				eventType = string(ev.Type)
			}
			logging.Warn().
				Err(&FeatureExtractionError{EventType: eventType, Err: err}).
				Msg("Event skipped")
			continue
		}
		vectors = append(vectors, v)
	}

	p.mu.Lock()
	p.eventsProcessed += uint64(len(vectors))
	p.mu.Unlock()
	return vectors
}

func (p *Pipeline) score(ctx context.Context, vectors []*features.Vector) []detection {
	var out []detection
	var train []*features.Vector

	for _, v := range vectors {
		vec := v
		anomaly, err := p.scoreBreaker.Execute(func() (*scoring.AnomalyScore, error) {
			return p.classifier.Classify(ctx, vec)
		})
		if err != nil {
			// A scoring failure invalidates the batch: the cycle ends with
			// no detections so partial scores never trigger responses.
			p.stageFailed(StageScore, &ScoringError{EventID: vec.EventID, Err: err})
			return nil
		}
		p.recovery.Reset(StageScore)

		if anomaly == nil || !anomaly.IsAnomaly {
			// Warm-up and normal traffic both feed the baseline.
			train = append(train, vec)
			continue
		}
		out = append(out, detection{anomaly: anomaly, vector: vec})
	}

	if len(train) > 0 {
		if err := p.scorer.Train(ctx, train); err != nil {
			logging.Warn().Err(err).Msg("Baseline training failed")
			p.noteRecovered()
		}
	}
	return out
}

func (p *Pipeline) act(ctx context.Context, detections []detection) {
	for _, d := range detections {
		p.noteAnomaly(d.anomaly)

		det := d
		results, err := p.actBreaker.Execute(func() ([]response.ExecutionResult, error) {
			return p.respond(ctx, det)
		})
		if err != nil {
			p.stageFailed(StageAct, &ResponseExecutionError{EventID: det.anomaly.EventID, Err: err})
			continue
		}
		p.recovery.Reset(StageAct)

		if p.reports != nil && det.anomaly.Risk.AtLeast(p.reportAt) {
			if _, err := p.reports.Generate(det.anomaly, det.vector, results); err != nil {
				logging.Warn().Err(err).Msg("Incident report failed")
				p.noteRecovered()
			}
		}
	}
}

// respond runs the decided actions. It reports an error only when every
// attempted containment action failed, which is the signal the breaker
// watches for.
func (p *Pipeline) respond(ctx context.Context, d detection) ([]response.ExecutionResult, error) {
	actions := p.decisions.Decide(d.anomaly)
	results := make([]response.ExecutionResult, 0, len(actions))

	attempted, failures := 0, 0
	for _, a := range actions {
		result := p.executor.Execute(ctx, a)
		results = append(results, result)
		if a.Type == response.ActionAlertOnly || result.Skipped {
			continue
		}
		attempted++
		if result.Error != "" {
			failures++
		}
	}
	if attempted > 0 && failures == attempted {
		return results, fmt.Errorf("all %d containment actions failed", attempted)
	}
	return results, nil
}

func (p *Pipeline) noteAnomaly(anomaly *scoring.AnomalyScore) {
	p.mu.Lock()
	p.anomaliesDetected++
	p.mu.Unlock()
	metrics.AnomaliesTotal.WithLabelValues(string(anomaly.Risk)).Inc()

	message := fmt.Sprintf("%s anomaly from %s", anomaly.Risk, anomaly.SourceIP)
	if len(anomaly.Explanations) > 0 {
		message = anomaly.Explanations[0]
	}
	p.alerts.Push(report.Alert{
		Level:    strings.ToLower(string(anomaly.Risk)),
		Message:  message,
		EventID:  anomaly.EventID,
		SourceIP: anomaly.SourceIP,
		Username: anomaly.Username,
		Risk:     anomaly.Risk,
		Score:    anomaly.Score,
	})

	logging.Info().
		Str("event_id", anomaly.EventID).
		Str("risk_level", string(anomaly.Risk)).
		Float64("score", anomaly.Score).
		Str("source_ip", anomaly.SourceIP).
		Str("username", anomaly.Username).
		Msg("Anomaly detected")
}

func (p *Pipeline) stageFailed(stage string, err error) {
	count := p.recovery.RecordError(stage, err)
	metrics.StageErrorsTotal.WithLabelValues(stage).Inc()
	p.noteRecovered()

	// One degradation alert when the retry budget is first exhausted.
	if count == p.recovery.Budget() {
		p.alerts.Push(report.Alert{
			Level:   "error",
			Message: fmt.Sprintf("stage %s failing persistently: %v", stage, err),
		})
	}
}

func (p *Pipeline) noteRecovered() {
	p.mu.Lock()
	p.errorsRecovered++
	p.mu.Unlock()
}

func (p *Pipeline) countCycle(failed bool) {
	p.mu.Lock()
	if failed {
		p.cyclesFailed++
	} else {
		p.cyclesCompleted++
	}
	p.mu.Unlock()

	result := "success"
	if failed {
		result = "failure"
	}
	metrics.CyclesTotal.WithLabelValues(result).Inc()
}

// PostCycleDelay returns the extra wait before the next cycle: the largest
// backoff any stage has accumulated, zero when everything is healthy.
func (p *Pipeline) PostCycleDelay() time.Duration {
	var max time.Duration
	for _, stage := range []string{StageIngest, StageScore, StageAct} {
		if d := p.recovery.Backoff(stage); d > max {
			max = d
		}
	}
	return max
}

// Breakers returns snapshots of the stage breakers for the API.
func (p *Pipeline) Breakers() []resilience.BreakerSnapshot {
	return []resilience.BreakerSnapshot{
		p.ingestBreaker.Snapshot(),
		p.scoreBreaker.Snapshot(),
		p.actBreaker.Snapshot(),
	}
}

// Stats is the operational summary exposed at /api/v1/stats.
type Stats struct {
	CyclesCompleted   uint64  `json:"cycles_completed"`
	CyclesFailed      uint64  `json:"cycles_failed"`
	EventsProcessed   uint64  `json:"events_processed"`
	AnomaliesDetected uint64  `json:"anomalies_detected"`
	ErrorsRecovered   uint64  `json:"errors_recovered"`
	AlertsBuffered    int     `json:"alerts_buffered"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	SuccessRate       float64 `json:"success_rate"`
}

// Stats returns a point-in-time operational snapshot.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.cyclesCompleted + p.cyclesFailed
	rate := 1.0
	if total > 0 {
		rate = float64(p.cyclesCompleted) / float64(total)
	}
	return Stats{
		CyclesCompleted:   p.cyclesCompleted,
		CyclesFailed:      p.cyclesFailed,
		EventsProcessed:   p.eventsProcessed,
		AnomaliesDetected: p.anomaliesDetected,
		ErrorsRecovered:   p.errorsRecovered,
		AlertsBuffered:    p.alerts.Len(),
		UptimeSeconds:     time.Since(p.started).Seconds(),
		SuccessRate:       rate,
	}
}
