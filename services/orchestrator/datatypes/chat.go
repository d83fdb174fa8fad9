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

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New(validator.WithRequiredStructEnabled())
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatMessage is one prior turn of conversation history supplied by the
// caller. History is accepted per request only; the service stores
// nothing between requests.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the body for POST /api/v1/chat and /api/v1/chat/stream.
type ChatRequest struct {
	// Message is the user's question. Required and bounded to keep a
	// single turn from swamping the embedder and the LLM context window.
	Message string `json:"message" validate:"required,min=1,max=8000"`

	// History is the caller-supplied prior context, oldest first.
	History []ChatMessage `json:"history,omitempty" validate:"omitempty,max=50,dive"`

	// SessionID groups turns for logging and tracing. Generated when
	// absent.
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`

	// UserID identifies the caller for logging only. Generated when
	// absent.
	UserID string `json:"user_id,omitempty" validate:"omitempty,max=128"`
}

// Validate checks the request against its struct tags.
//
// # Outputs
//
//   - error: nil if the request is valid, a validator error otherwise.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults fills in identifiers the caller omitted. Call after
// Validate, before handing the request to the pipeline.
func (r *ChatRequest) EnsureDefaults() {
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	if r.UserID == "" {
		r.UserID = "anonymous"
	}
}

// =============================================================================
// Chat Response
// =============================================================================

// Diagnostics surfaces routing and safety outcomes for one turn. It is
// informational; callers should not branch on it.
type Diagnostics struct {
	Intent      string   `json:"intent,omitempty"`
	Confidence  float64  `json:"confidence"`
	Namespaces  []string `json:"namespaces,omitempty"`
	SafetyFlags []string `json:"safety_flags,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ChatResponse is the body returned by POST /api/v1/chat.
type ChatResponse struct {
	Response    string      `json:"response"`
	Citations   []Citation  `json:"citations,omitempty"`
	SessionID   string      `json:"session_id"`
	MessageID   string      `json:"message_id"`
	Status      TurnStatus  `json:"status"`
	Diagnostics Diagnostics `json:"diagnostics"`
	Timestamp   string      `json:"timestamp"`
}

// NewChatResponse assembles the response envelope from a terminal state.
func NewChatResponse(state *ConversationState) ChatResponse {
	return ChatResponse{
		Response:    state.FinalResponse,
		Citations:   state.Citations,
		SessionID:   state.SessionID,
		MessageID:   state.MessageID,
		Status:      state.Status,
		Diagnostics: state.Diagnostics(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// Knowledge Catalog
// =============================================================================

// CatalogNamespace describes one knowledge namespace for the catalog
// endpoint.
type CatalogNamespace struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SourceCount int    `json:"source_count"`
}

// CatalogResponse is the body returned by GET /api/v1/knowledge/catalog.
type CatalogResponse struct {
	Namespaces []CatalogNamespace `json:"namespaces"`
}
