// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package supervisor

import (
	"context"
	"time"

	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/pipeline"
	"github.com/calderasec/vigil/internal/report"
)

// drainBatchSize bounds alerts written per tick so a burst cannot stall the
// consumer loop.
const drainBatchSize = 256

// AlertConsumer moves alerts from the pipeline's bounded buffer to the
// persistent alert stream. It implements suture.Service.
type AlertConsumer struct {
	buffer   *pipeline.AlertBuffer
	stream   report.AlertWriter
	interval time.Duration
}

// NewAlertConsumer builds a consumer. interval <= 0 applies one second.
func NewAlertConsumer(buffer *pipeline.AlertBuffer, stream report.AlertWriter, interval time.Duration) *AlertConsumer {
	if interval <= 0 {
		interval = time.Second
	}
	return &AlertConsumer{buffer: buffer, stream: stream, interval: interval}
}

// Serve drains the buffer on a ticker until ctx is cancelled, then performs
// one final drain so shutdown does not lose buffered alerts.
func (c *AlertConsumer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return ctx.Err()
		case <-ticker.C:
			c.drain()
		}
	}
}

func (c *AlertConsumer) drain() {
	for {
		batch := c.buffer.PopBatch(drainBatchSize)
		if len(batch) == 0 {
			return
		}
		for _, alert := range batch {
			if err := c.stream.Write(alert); err != nil {
				logging.Warn().Err(err).Msg("Alert write failed")
			}
		}
	}
}

func (c *AlertConsumer) String() string { return "alert-consumer" }
