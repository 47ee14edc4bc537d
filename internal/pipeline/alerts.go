// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package pipeline

import (
	"sync"

	"github.com/calderasec/vigil/internal/metrics"
	"github.com/calderasec/vigil/internal/report"
)

// DefaultAlertCapacity bounds the alert buffer when not configured.
const DefaultAlertCapacity = 1024

// AlertSink receives alerts produced during a cycle. The pipeline only
// pushes and inspects depth; draining is the consumer's job.
type AlertSink interface {
	Push(alert report.Alert) bool
	Len() int
}

// AlertBuffer is a bounded FIFO between the detection cycle and the alert
// consumer. When full, the oldest alert is dropped so fresh signal always
// fits.
type AlertBuffer struct {
	mu       sync.Mutex
	buf      []report.Alert
	capacity int
	dropped  uint64
}

// NewAlertBuffer builds a buffer holding at most capacity alerts.
func NewAlertBuffer(capacity int) *AlertBuffer {
	if capacity <= 0 {
		capacity = DefaultAlertCapacity
	}
	return &AlertBuffer{capacity: capacity}
}

// Push appends alert, evicting the oldest entry when full. Returns true if
// an eviction happened.
func (b *AlertBuffer) Push(alert report.Alert) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if len(b.buf) >= b.capacity {
		b.buf = b.buf[1:]
		b.dropped++
		evicted = true
		metrics.AlertsDroppedTotal.Inc()
	}
	b.buf = append(b.buf, alert)
	return evicted
}

// PopBatch removes and returns up to max alerts in arrival order.
func (b *AlertBuffer) PopBatch(max int) []report.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) == 0 {
		return nil
	}
	n := len(b.buf)
	if max > 0 && n > max {
		n = max
	}
	out := make([]report.Alert, n)
	copy(out, b.buf[:n])
	b.buf = append(b.buf[:0], b.buf[n:]...)
	return out
}

// Len returns the number of buffered alerts.
func (b *AlertBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Dropped returns how many alerts have been evicted since start.
func (b *AlertBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
