// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calderasec/vigil/internal/models"
)

func eventLine(ts, et string) string {
	return `{"timestamp":"` + ts + `","host":"web-01","source_ip":"203.0.113.99","username":"root","event_type":"` + et + `"}` + "\n"
}

func TestParseEvent(t *testing.T) {
	ev, err := parseEvent([]byte(`{"timestamp":"2026-03-15T10:00:00Z","event_type":"login_failed","source_ip":"203.0.113.99"}`))
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if ev.Type != models.EventLoginFailed || ev.SourceIP != "203.0.113.99" {
		t.Errorf("parsed = %+v", ev)
	}

	tests := []struct {
		name string
		data string
	}{
		{"not json", "garbage"},
		{"missing timestamp", `{"event_type":"login_failed"}`},
		{"missing type", `{"timestamp":"2026-03-15T10:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseEvent([]byte(tt.data)); err == nil {
				t.Error("parseEvent should reject payload")
			}
		})
	}
}

func TestFileSourceBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	f.WriteString(eventLine("2026-03-15T10:00:00Z", "login_failed"))
	f.WriteString(eventLine("2026-03-15T10:00:01Z", "login_failed"))
	f.WriteString(eventLine("2026-03-15T10:00:02Z", "login_success"))

	src, err := NewFileSource(path, 100)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	batch, err := src.IngestBatch(ctx)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("first batch = %d events, want 3", len(batch))
	}
	if batch[2].Type != models.EventLoginSuccess {
		t.Errorf("batch[2].Type = %s", batch[2].Type)
	}

	// Nothing new yet.
	batch, err = src.IngestBatch(ctx)
	if err != nil || len(batch) != 0 {
		t.Fatalf("idle batch = (%d, %v), want empty", len(batch), err)
	}

	// Appended lines show up next cycle.
	f.WriteString(eventLine("2026-03-15T10:01:00Z", "sudo_success"))
	batch, err = src.IngestBatch(ctx)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(batch) != 1 || batch[0].Type != models.EventSudoSuccess {
		t.Errorf("appended batch = %+v", batch)
	}
}

func TestFileSourcePartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	line := eventLine("2026-03-15T10:00:00Z", "login_failed")
	half := len(line) / 2
	f.WriteString(line[:half])

	src, err := NewFileSource(path, 100)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	batch, err := src.IngestBatch(ctx)
	if err != nil || len(batch) != 0 {
		t.Fatalf("partial line batch = (%d, %v), want empty", len(batch), err)
	}

	f.WriteString(line[half:])
	batch, err = src.IngestBatch(ctx)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(batch) != 1 || batch[0].Type != models.EventLoginFailed {
		t.Errorf("completed line batch = %+v", batch)
	}
}

func TestFileSourceSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := eventLine("2026-03-15T10:00:00Z", "login_failed") +
		"not json at all\n" +
		"\n" +
		eventLine("2026-03-15T10:00:05Z", "login_failed")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src, err := NewFileSource(path, 100)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	batch, err := src.IngestBatch(context.Background())
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("batch = %d events, want 2 (malformed and blank lines skipped)", len(batch))
	}
}

func TestNATSSourceDrain(t *testing.T) {
	s := &NATSSource{
		events:   make(chan *models.Event, 16),
		maxBatch: 3,
	}
	for i := 0; i < 5; i++ {
		s.events <- &models.Event{
			Timestamp: time.Date(2026, 3, 15, 10, 0, i, 0, time.UTC),
			Type:      models.EventLoginFailed,
		}
	}

	ctx := context.Background()
	batch, err := s.IngestBatch(ctx)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Errorf("first drain = %d, want capped at 3", len(batch))
	}

	batch, err = s.IngestBatch(ctx)
	if err != nil || len(batch) != 2 {
		t.Errorf("second drain = (%d, %v), want 2 remaining", len(batch), err)
	}

	batch, err = s.IngestBatch(ctx)
	if err != nil || len(batch) != 0 {
		t.Errorf("empty drain = (%d, %v), want empty without blocking", len(batch), err)
	}
}

func TestNATSSourceHandleBackpressure(t *testing.T) {
	s := &NATSSource{
		events:   make(chan *models.Event, 1),
		maxBatch: 10,
	}

	// handle is exercised through parseEvent + buffered send semantics.
	ev1, _ := parseEvent([]byte(`{"timestamp":"2026-03-15T10:00:00Z","event_type":"login_failed"}`))
	s.events <- ev1

	// A full buffer must not block: simulate a second arrival.
	select {
	case s.events <- ev1:
		t.Fatal("buffer should be full")
	default:
	}

	batch, err := s.IngestBatch(context.Background())
	if err != nil || len(batch) != 1 {
		t.Errorf("drain = (%d, %v), want 1", len(batch), err)
	}
}
