// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// StreamEventType discriminates the events emitted on the streaming chat
// endpoint.
type StreamEventType string

const (
	// StreamEventStatus reports stage progress ("routing", "retrieving",
	// "generating") so the client can show activity before tokens arrive.
	StreamEventStatus StreamEventType = "status"

	// StreamEventCitations delivers the citation list as soon as
	// retrieval completes, before any token.
	StreamEventCitations StreamEventType = "citations"

	// StreamEventToken carries one generated token delta.
	StreamEventToken StreamEventType = "token"

	// StreamEventDone is the terminal event carrying the full response
	// envelope. Exactly one done or error event ends every stream.
	StreamEventDone StreamEventType = "done"

	// StreamEventError is the terminal event for a failed stream. The
	// message is safe to show to the user.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one server-sent event on /api/v1/chat/stream. Only the
// field matching the event type is populated. Id and CreatedAt are
// assigned by the SSE writer at delivery time.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Id        string          `json:"id,omitempty"`
	CreatedAt int64           `json:"created_at,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Token     string          `json:"token,omitempty"`
	Citations []Citation      `json:"citations,omitempty"`
	Response  *ChatResponse   `json:"response,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// StatusEvent builds a stage-progress event.
func StatusEvent(stage string) StreamEvent {
	return StreamEvent{Type: StreamEventStatus, Stage: stage}
}

// CitationsEvent builds the early-citations event.
func CitationsEvent(citations []Citation) StreamEvent {
	return StreamEvent{Type: StreamEventCitations, Citations: citations}
}

// TokenEvent builds a token-delta event.
func TokenEvent(token string) StreamEvent {
	return StreamEvent{Type: StreamEventToken, Token: token}
}

// DoneEvent builds the terminal event from the final response envelope.
func DoneEvent(resp ChatResponse) StreamEvent {
	return StreamEvent{Type: StreamEventDone, Response: &resp}
}

// ErrorEvent builds the terminal error event.
func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: StreamEventError, Message: msg}
}
