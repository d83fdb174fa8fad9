// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes pipeline stream events to an HTTP response in the SSE
// wire format (event: type\ndata: json\n\n).
//
// # Description
//
// SSEWriter abstracts event serialization and flushing so streaming
// handlers can be tested without a live connection. Each event is
// assigned an Id (UUID v4) and a CreatedAt millisecond timestamp at
// delivery time.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the pipeline may emit
// status and token events from different goroutines.
//
// # Assumptions
//
//   - Caller has set the SSE headers via SetSSEHeaders before the first
//     write.
type SSEWriter interface {
	// WriteEvent serializes and writes one event, flushing immediately.
	WriteEvent(event datatypes.StreamEvent) error
}

// =============================================================================
// Implementation
// =============================================================================

type sseWriter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter wraps a ResponseWriter for SSE output. Fails if the
// writer does not support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.NewString()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the response headers required for SSE streaming.
// Must be called before any writes.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
