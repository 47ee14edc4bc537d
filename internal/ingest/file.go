// Vigil - Behavioral Anomaly Detection and Response
// Copyright 2026 Caldera Security
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calderasec/vigil

package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/calderasec/vigil/internal/models"
)

// FileSource tails a JSONL event file. Each IngestBatch reads the complete
// lines appended since the previous call; a trailing partial line is held
// back until its newline arrives.
type FileSource struct {
	path     string
	f        *os.File
	r        *bufio.Reader
	partial  string
	maxBatch int
}

// NewFileSource opens path and reads from the beginning.
func NewFileSource(path string, maxBatch int) (*FileSource, error) {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	return &FileSource{
		path:     path,
		f:        f,
		r:        bufio.NewReader(f),
		maxBatch: maxBatch,
	}, nil
}

// IngestBatch returns newly appended events, skipping malformed lines.
func (s *FileSource) IngestBatch(ctx context.Context) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*models.Event
	for len(out) < s.maxBatch {
		line, err := s.r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			s.partial += line
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("ingest: read %s: %w", s.path, err)
		}

		full := strings.TrimSpace(s.partial + line)
		s.partial = ""
		if full == "" {
			continue
		}

		ev, perr := parseEvent([]byte(full))
		if perr != nil {
			logDropped(s.path, perr)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}
