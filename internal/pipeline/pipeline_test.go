// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/calderasec/vigil/internal/features"
	"github.com/calderasec/vigil/internal/models"
	"github.com/calderasec/vigil/internal/report"
	"github.com/calderasec/vigil/internal/resilience"
	"github.com/calderasec/vigil/internal/response"
	"github.com/calderasec/vigil/internal/scoring"
)

var testBase = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

// staticSource hands out queued batches, then empty ones.
type staticSource struct {
	mu      sync.Mutex
	batches [][]*models.Event
}

func (s *staticSource) IngestBatch(ctx context.Context) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *staticSource) Close() error { return nil }

// failingSource always errors.
type failingSource struct{}

func (failingSource) IngestBatch(ctx context.Context) ([]*models.Event, error) {
	return nil, errors.New("source unavailable")
}

func (failingSource) Close() error { return nil }

// stubScorer returns a fixed score and verdict, optionally panicking or
// failing, and records training batches.
type stubScorer struct {
	mu        sync.Mutex
	score     float64
	anomalous bool
	ready     bool
	panics    bool
	err       error // returned once calls exceed failAfter
	failAfter int
	calls     int
	trained   [][]*features.Vector
}

func (s *stubScorer) Train(ctx context.Context, vectors []*features.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trained = append(s.trained, vectors)
	return nil
}

func (s *stubScorer) Score(ctx context.Context, v *features.Vector) (float64, bool, error) {
	if s.panics {
		panic("model exploded")
	}
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()
	if s.err != nil && calls > s.failAfter {
		return 0, false, s.err
	}
	if !s.ready {
		return 0, false, scoring.ErrScorerNotReady
	}
	return s.score, s.anomalous, nil
}

func (s *stubScorer) trainCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trained)
}

// recordingRunner collects commands instead of executing them.
type recordingRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	return r.err
}

func failedLoginBatch(n int) []*models.Event {
	batch := make([]*models.Event, n)
	for i := range batch {
		batch[i] = &models.Event{
			Timestamp: testBase.Add(time.Duration(i) * time.Second),
			Host:      "web-01",
			SourceIP:  "203.0.113.99",
			Username:  "root",
			Type:      models.EventLoginFailed,
		}
	}
	return batch
}

func newTestPipeline(t *testing.T, source interface {
	IngestBatch(ctx context.Context) ([]*models.Event, error)
	Close() error
}, scorer scoring.Scorer, runner response.CommandRunner) (*Pipeline, string) {
	t.Helper()

	cooldowns, err := response.NewCooldownManager(nil)
	if err != nil {
		t.Fatalf("NewCooldownManager: %v", err)
	}
	reportDir := t.TempDir()
	reports, err := report.NewGenerator(reportDir)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	execCfg := response.ExecutorConfig{EnableActions: runner != nil, Runner: runner}
	p := New(Deps{
		Source:     source,
		Aggregator: features.NewAggregator(features.Config{Window: time.Hour}),
		Scorer:     scorer,
		Classifier: scoring.NewClassifier(scorer, scoring.DefaultThresholds()),
		Decisions:  response.NewDecisionEngine(response.DefaultDecisionConfig()),
		Executor:   response.NewSafeExecutor(execCfg, cooldowns),
		Reports:    reports,
		Alerts:     NewAlertBuffer(64),
		Breaker:    resilience.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute},
	})
	return p, reportDir
}

func TestRunCycleDetectsAndResponds(t *testing.T) {
	source := &staticSource{batches: [][]*models.Event{failedLoginBatch(3)}}
	scorer := &stubScorer{score: 0.95, anomalous: true, ready: true}
	runner := &recordingRunner{}
	p, reportDir := newTestPipeline(t, source, scorer, runner)

	anomalies := p.RunCycle(context.Background())

	if len(anomalies) != 3 {
		t.Fatalf("RunCycle returned %d anomalies, want 3", len(anomalies))
	}
	for _, a := range anomalies {
		if !a.IsAnomaly || a.Risk != models.RiskCritical {
			t.Errorf("anomaly = %+v, want critical", a)
		}
	}

	stats := p.Stats()
	if stats.CyclesCompleted != 1 || stats.CyclesFailed != 0 {
		t.Fatalf("stats = %+v, want one completed cycle", stats)
	}
	if stats.EventsProcessed != 3 {
		t.Errorf("EventsProcessed = %d, want 3", stats.EventsProcessed)
	}
	if stats.AnomaliesDetected != 3 {
		t.Errorf("AnomaliesDetected = %d, want 3", stats.AnomaliesDetected)
	}
	if stats.AlertsBuffered != 3 {
		t.Errorf("AlertsBuffered = %d, want 3", stats.AlertsBuffered)
	}

	// CRITICAL risk executes containment and writes reports.
	runner.mu.Lock()
	calls := len(runner.calls)
	runner.mu.Unlock()
	if calls == 0 {
		t.Error("critical anomaly should execute containment commands")
	}
	entries, err := os.ReadDir(reportDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Error("critical anomaly should write incident reports")
	}
}

func TestRunCycleNormalTrafficTrains(t *testing.T) {
	source := &staticSource{batches: [][]*models.Event{failedLoginBatch(2)}}
	scorer := &stubScorer{score: 0.1, ready: true}
	p, _ := newTestPipeline(t, source, scorer, nil)

	p.RunCycle(context.Background())

	stats := p.Stats()
	if stats.AnomaliesDetected != 0 {
		t.Errorf("AnomaliesDetected = %d, want 0 for normal scores", stats.AnomaliesDetected)
	}
	if scorer.trainCalls() != 1 {
		t.Errorf("trainCalls = %d, want normal vectors fed to baseline", scorer.trainCalls())
	}
}

func TestRunCycleWarmUpTrains(t *testing.T) {
	source := &staticSource{batches: [][]*models.Event{failedLoginBatch(2)}}
	scorer := &stubScorer{ready: false}
	p, _ := newTestPipeline(t, source, scorer, nil)

	p.RunCycle(context.Background())

	if scorer.trainCalls() != 1 {
		t.Errorf("trainCalls = %d, want warm-up vectors fed to baseline", scorer.trainCalls())
	}
	if got := p.Stats().AnomaliesDetected; got != 0 {
		t.Errorf("AnomaliesDetected = %d, want 0 during warm-up", got)
	}
}

func TestRunCycleSurvivesFailingSource(t *testing.T) {
	scorer := &stubScorer{ready: true}
	p, _ := newTestPipeline(t, failingSource{}, scorer, nil)

	for i := 0; i < 10; i++ {
		if anomalies := p.RunCycle(context.Background()); len(anomalies) != 0 {
			t.Fatalf("cycle %d returned %d anomalies, want none", i, len(anomalies))
		}
	}

	// Ingest failures end the cycle early but the cycle itself completed.
	stats := p.Stats()
	if stats.CyclesCompleted != 10 || stats.CyclesFailed != 0 {
		t.Errorf("cycles = (%d completed, %d failed), want (10, 0)",
			stats.CyclesCompleted, stats.CyclesFailed)
	}
	if stats.ErrorsRecovered == 0 {
		t.Error("ErrorsRecovered should count absorbed stage errors")
	}

	// The ingest breaker opened after the threshold and fast-fails.
	var ingest resilience.BreakerSnapshot
	for _, b := range p.Breakers() {
		if b.Name == StageIngest {
			ingest = b
		}
	}
	if ingest.State != "open" {
		t.Errorf("ingest breaker state = %s, want open", ingest.State)
	}

	// Backoff accumulated for the retry delay.
	if p.PostCycleDelay() == 0 {
		t.Error("PostCycleDelay should reflect accumulated ingest errors")
	}
}

func TestRunCycleScoringFailureEndsCycle(t *testing.T) {
	// The first vector scores critical; the second fails. No partial
	// detections may reach the act stage.
	source := &staticSource{batches: [][]*models.Event{failedLoginBatch(3)}}
	scorer := &stubScorer{
		score:     0.95,
		anomalous: true,
		ready:     true,
		err:       errors.New("model unavailable"),
		failAfter: 1,
	}
	runner := &recordingRunner{}
	p, reportDir := newTestPipeline(t, source, scorer, runner)

	anomalies := p.RunCycle(context.Background())

	if len(anomalies) != 0 {
		t.Fatalf("RunCycle returned %d anomalies, want none after scoring failure", len(anomalies))
	}
	stats := p.Stats()
	if stats.CyclesCompleted != 1 || stats.CyclesFailed != 0 {
		t.Errorf("cycles = (%d completed, %d failed), want (1, 0)",
			stats.CyclesCompleted, stats.CyclesFailed)
	}
	if stats.AnomaliesDetected != 0 {
		t.Errorf("AnomaliesDetected = %d, want 0", stats.AnomaliesDetected)
	}

	runner.mu.Lock()
	calls := len(runner.calls)
	runner.mu.Unlock()
	if calls != 0 {
		t.Errorf("containment commands executed = %d, want none", calls)
	}
	entries, err := os.ReadDir(reportDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("incident reports written = %d, want none", len(entries))
	}
}

func TestRunCycleSurvivesPanickingScorer(t *testing.T) {
	source := &staticSource{batches: [][]*models.Event{failedLoginBatch(1)}}
	scorer := &stubScorer{panics: true}
	p, _ := newTestPipeline(t, source, scorer, nil)

	p.RunCycle(context.Background())

	stats := p.Stats()
	if stats.CyclesFailed != 1 {
		t.Errorf("CyclesFailed = %d, want 1 after panic", stats.CyclesFailed)
	}

	// The next cycle still runs.
	scorer.panics = false
	scorer.ready = true
	p.RunCycle(context.Background())
	if got := p.Stats().CyclesCompleted; got != 1 {
		t.Errorf("CyclesCompleted = %d, want recovery after panic", got)
	}
}

func TestRunCycleSkipsMalformedEvents(t *testing.T) {
	batch := []*models.Event{
		nil,
		{Timestamp: testBase, Type: models.EventLoginFailed, SourceIP: "203.0.113.1"},
		{Type: models.EventLoginFailed}, // zero timestamp
	}
	source := &staticSource{batches: [][]*models.Event{batch}}
	scorer := &stubScorer{score: 0.1, ready: true}
	p, _ := newTestPipeline(t, source, scorer, nil)

	p.RunCycle(context.Background())

	stats := p.Stats()
	if stats.CyclesCompleted != 1 {
		t.Errorf("CyclesCompleted = %d, want 1 despite malformed events", stats.CyclesCompleted)
	}
	if stats.EventsProcessed != 1 {
		t.Errorf("EventsProcessed = %d, want only the valid event", stats.EventsProcessed)
	}
	if stats.ErrorsRecovered != 2 {
		t.Errorf("ErrorsRecovered = %d, want 2", stats.ErrorsRecovered)
	}
}

func TestRunCycleEmptyBatch(t *testing.T) {
	source := &staticSource{}
	p, _ := newTestPipeline(t, source, &stubScorer{ready: true}, nil)

	p.RunCycle(context.Background())
	stats := p.Stats()
	if stats.CyclesCompleted != 1 || stats.EventsProcessed != 0 {
		t.Errorf("stats = %+v, want clean empty cycle", stats)
	}
}

func TestStatsSuccessRate(t *testing.T) {
	source := &staticSource{batches: [][]*models.Event{failedLoginBatch(1)}}
	p, _ := newTestPipeline(t, source, &stubScorer{panics: true}, nil)

	if got := p.Stats().SuccessRate; got != 1.0 {
		t.Errorf("SuccessRate with no cycles = %f, want 1.0", got)
	}

	p.RunCycle(context.Background())
	if got := p.Stats().SuccessRate; got != 0.0 {
		t.Errorf("SuccessRate after one failed cycle = %f, want 0.0", got)
	}
}

func TestAlertBufferDropOldest(t *testing.T) {
	buf := NewAlertBuffer(3)

	for i := 0; i < 5; i++ {
		evicted := buf.Push(report.Alert{Message: fmt.Sprintf("alert-%d", i)})
		if i < 3 && evicted {
			t.Errorf("push %d should not evict", i)
		}
		if i >= 3 && !evicted {
			t.Errorf("push %d should evict oldest", i)
		}
	}

	if buf.Len() != 3 {
		t.Fatalf("Len = %d, want 3", buf.Len())
	}
	if buf.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", buf.Dropped())
	}

	batch := buf.PopBatch(2)
	if len(batch) != 2 || batch[0].Message != "alert-2" || batch[1].Message != "alert-3" {
		t.Errorf("PopBatch = %+v, want oldest surviving alerts in order", batch)
	}

	rest := buf.PopBatch(0)
	if len(rest) != 1 || rest[0].Message != "alert-4" {
		t.Errorf("PopBatch(0) = %+v, want remaining alert", rest)
	}
	if buf.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", buf.Len())
	}
}

func TestRunnerServeStopsOnCancel(t *testing.T) {
	source := &staticSource{batches: [][]*models.Event{failedLoginBatch(1)}}
	p, _ := newTestPipeline(t, source, &stubScorer{ready: true}, nil)
	runner := NewRunner(p, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Serve(ctx) }()

	time.Sleep(40 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after cancel")
	}

	if got := p.Stats().CyclesCompleted; got == 0 {
		t.Error("Serve should have completed at least one cycle")
	}
}
