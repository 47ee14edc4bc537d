// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/calderasec/vigil/internal/logging"
	"github.com/calderasec/vigil/internal/models"
)

// NATSConfig configures the NATS event source.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Queue   string `koanf:"queue"`

	// BufferSize is the in-memory backlog between cycles. Zero applies
	// 4096.
	BufferSize int `koanf:"buffer_size"`

	// MaxBatch bounds events returned per IngestBatch. Zero applies
	// DefaultMaxBatch.
	MaxBatch int `koanf:"max_batch"`
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = "vigil.events"
	}
	if c.Queue == "" {
		c.Queue = "vigil"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	return c
}

// NATSSource subscribes to an event subject and buffers decoded events
// between pipeline cycles. When the buffer is full the oldest backlog wins:
// new messages are dropped and counted, never blocking the NATS callback.
type NATSSource struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	events   chan *models.Event
	maxBatch int
}

// NewNATSSource connects and subscribes. The connection retries forever
// with backoff, so a broker restart does not kill the source.
func NewNATSSource(cfg NATSConfig) (*NATSSource, error) {
	cfg = cfg.withDefaults()

	conn, err := nats.Connect(cfg.URL,
		nats.Name("vigil"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: connect %s: %w", cfg.URL, err)
	}

	s := &NATSSource{
		conn:     conn,
		events:   make(chan *models.Event, cfg.BufferSize),
		maxBatch: cfg.MaxBatch,
	}

	sub, err := conn.QueueSubscribe(cfg.Subject, cfg.Queue, s.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingest: subscribe %s: %w", cfg.Subject, err)
	}
	s.sub = sub

	logging.Info().
		Str("url", cfg.URL).
		Str("subject", cfg.Subject).
		Str("queue", cfg.Queue).
		Msg("NATS event source ready")
	return s, nil
}

func (s *NATSSource) handle(msg *nats.Msg) {
	ev, err := parseEvent(msg.Data)
	if err != nil {
		logDropped(msg.Subject, err)
		return
	}
	select {
	case s.events <- ev:
	default:
		logging.Warn().Str("subject", msg.Subject).Msg("Event buffer full, message dropped")
	}
}

// IngestBatch drains buffered events up to the batch limit without blocking.
func (s *NATSSource) IngestBatch(ctx context.Context) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.conn != nil && s.conn.IsClosed() {
		return nil, fmt.Errorf("ingest: nats connection closed")
	}

	out := make([]*models.Event, 0, s.maxBatch)
	for len(out) < s.maxBatch {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Close drains the subscription and closes the connection.
func (s *NATSSource) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			logging.Warn().Err(err).Msg("NATS unsubscribe failed")
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
