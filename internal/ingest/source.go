// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

// Package ingest pulls auth events into the pipeline. Sources are batch
// oriented: each pipeline cycle drains whatever has accumulated since the
// previous cycle.
package ingest

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/models"
)

// Source supplies batches of events. IngestBatch returns an empty slice
// when nothing new has arrived; an error means the source itself failed,
// not that individual events were malformed.
type Source interface {
	IngestBatch(ctx context.Context) ([]*models.Event, error)
	Close() error
}

// DefaultMaxBatch bounds events returned per cycle when not configured.
const DefaultMaxBatch = 1000

// parseEvent decodes one wire-format event. Malformed payloads are the
// caller's to skip; parseEvent only reports them.
func parseEvent(data []byte) (*models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("ingest: decode event: %w", err)
	}
	if ev.Timestamp.IsZero() || ev.Type == "" {
		return nil, fmt.Errorf("ingest: event missing timestamp or type")
	}
	return &ev, nil
}

func logDropped(origin string, err error) {
	logging.Warn().
		Str("source", origin).
		Err(err).
		Msg("Dropped malformed event")
}
