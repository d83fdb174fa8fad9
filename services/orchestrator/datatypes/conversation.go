// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the conversation
// pipeline: the per-turn ConversationState threaded through the stage
// graph, retrieved Chunks, user-facing Citations, and the HTTP
// request/response/stream types.
package datatypes

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Turn Status
// =============================================================================

// TurnStatus is the lifecycle status of one conversational turn.
type TurnStatus string

const (
	// StatusProcessing means the turn is moving through the stage graph.
	StatusProcessing TurnStatus = "processing"

	// StatusStreaming means generation is in flight and tokens are being
	// delivered incrementally.
	StatusStreaming TurnStatus = "streaming"

	// StatusComplete means the turn finished with a final response.
	StatusComplete TurnStatus = "complete"

	// StatusError means the turn finished on a failure path. A fallback
	// response is still populated for the caller.
	StatusError TurnStatus = "error"
)

// =============================================================================
// Chunks and Citations
// =============================================================================

// ChunkMetadata carries the source attribution for one retrieved passage.
type ChunkMetadata struct {
	Namespace   string   `json:"namespace"`
	SourceTitle string   `json:"source_title"`
	SourceURL   string   `json:"source_url"`
	YouTubeURL  string   `json:"youtube_url"`
	Timestamp   string   `json:"timestamp"`
	Tags        []string `json:"tags,omitempty"`
	ChunkIndex  int      `json:"chunk_index"`
	Checksum    string   `json:"checksum"`
}

// Chunk is one retrieved passage of source text.
//
// # Ownership
//
// Chunks are created by the librarian stage and consumed read-only by the
// interpreter. Text is non-empty after trimming; empty passages are
// discarded at formation time.
type Chunk struct {
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Citation is a de-duplicated, user-facing reference derived from chunk
// metadata. Two citations are equal when all four fields match.
type Citation struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	YouTubeURL string `json:"youtube_url,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// CitationsFromChunks derives the unique citation list for a chunk
// sequence, preserving chunk order.
//
// # Description
//
// Chunks without a source title are skipped (a citation must name its
// source; the URL is optional). When a YouTube URL is present it becomes
// the primary URL, since transcripts are the dominant source type and the
// video link is the most useful reference. Duplicates under full
// structural equality are dropped.
//
// Both the librarian (early streaming) and the interpreter (final answer)
// derive citations through this one function so the two derivations can
// never disagree on the dedup rule.
func CitationsFromChunks(chunks []Chunk) []Citation {
	seen := make(map[Citation]bool, len(chunks))
	citations := make([]Citation, 0, len(chunks))

	for _, chunk := range chunks {
		meta := chunk.Metadata
		if meta.SourceTitle == "" {
			continue
		}
		url := meta.SourceURL
		if meta.YouTubeURL != "" {
			url = meta.YouTubeURL
		}
		citation := Citation{
			Title:      meta.SourceTitle,
			URL:        url,
			YouTubeURL: meta.YouTubeURL,
			Timestamp:  meta.Timestamp,
		}
		if seen[citation] {
			continue
		}
		seen[citation] = true
		citations = append(citations, citation)
	}
	return citations
}

// =============================================================================
// Conversation State
// =============================================================================

// ConversationState is the single mutable record threaded through the
// pipeline for one user turn.
//
// # Ownership
//
// Exactly one stage owns the state at a time; stages mutate it in place
// and hand it to the next stage. Turns never share a state object, so no
// locking is needed.
//
// # Termination Invariant
//
// At termination exactly one of these holds: FinalResponse is set with
// Status complete, or Status is error (with a fallback FinalResponse still
// populated for the caller). The state is never returned half-populated.
type ConversationState struct {
	// Identity, assigned by the caller.
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`

	// Input.
	UserMessage string        `json:"user_message"`
	History     []ChatMessage `json:"history,omitempty"`

	// Routing.
	Intent             string   `json:"intent,omitempty"`
	Confidence         float64  `json:"confidence"`
	SelectedNamespaces []string `json:"selected_namespaces,omitempty"`

	// SelectedAgents is retained for the legacy per-topic routing mode
	// where each namespace had a named specialist agent. May be empty.
	SelectedAgents []string `json:"selected_agents,omitempty"`

	// Retrieval.
	RetrievedChunks []Chunk `json:"retrieved_chunks,omitempty"`
	RerankedChunks  []Chunk `json:"reranked_chunks,omitempty"`

	// Generation.
	SystemPrompt   string     `json:"system_prompt,omitempty"`
	ResponseTokens []string   `json:"response_tokens,omitempty"`
	FinalResponse  string     `json:"final_response"`
	Citations      []Citation `json:"citations,omitempty"`

	// Safety. Flags are append-only within a turn.
	SafetyFlags []string `json:"safety_flags,omitempty"`

	// Accounting, best effort.
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`

	// Control.
	CurrentNode string     `json:"current_node,omitempty"`
	NextNode    string     `json:"next_node,omitempty"`
	Error       string     `json:"error,omitempty"`
	Status      TurnStatus `json:"status"`
}

// NewConversationState builds the initial state for one turn.
func NewConversationState(userMessage string, history []ChatMessage) *ConversationState {
	return &ConversationState{
		MessageID:   uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		UserMessage: userMessage,
		History:     history,
		Status:      StatusProcessing,
	}
}

// AddSafetyFlag appends a flag if not already present. Flags are never
// removed once set within a turn.
func (s *ConversationState) AddSafetyFlag(flag string) {
	for _, existing := range s.SafetyFlags {
		if existing == flag {
			return
		}
	}
	s.SafetyFlags = append(s.SafetyFlags, flag)
}

// SetError records a stage failure without terminating the turn. The
// pipeline keeps driving the state so the caller still receives prose.
func (s *ConversationState) SetError(msg string) {
	if s.Error == "" {
		s.Error = msg
	} else {
		s.Error = s.Error + "; " + msg
	}
}

// HasNonGeneralNamespace reports whether routing selected any namespace
// other than the general fallback. Retrieval is skipped entirely when it
// did not, to save latency and cost on low-signal queries.
func (s *ConversationState) HasNonGeneralNamespace() bool {
	for _, ns := range s.SelectedNamespaces {
		if ns != "general" {
			return true
		}
	}
	return false
}

// Diagnostics summarizes the turn for the caller.
func (s *ConversationState) Diagnostics() Diagnostics {
	return Diagnostics{
		Intent:      s.Intent,
		Confidence:  s.Confidence,
		Namespaces:  s.SelectedNamespaces,
		SafetyFlags: s.SafetyFlags,
		Error:       s.Error,
	}
}

// TrimmedMessage returns the user message with surrounding whitespace
// removed.
func (s *ConversationState) TrimmedMessage() string {
	return strings.TrimSpace(s.UserMessage)
}
