// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/llm"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
)

// Stage stubs record the order they ran in and apply scripted state
// mutations.

type stageLog struct {
	order []string
}

type stubRouter struct {
	log        *stageLog
	namespaces []string
}

func (s *stubRouter) Route(_ context.Context, state *datatypes.ConversationState) {
	s.log.order = append(s.log.order, "router")
	state.Intent = "money"
	state.Confidence = 0.9
	state.SelectedNamespaces = s.namespaces
	state.CurrentNode = "router"
	if state.HasNonGeneralNamespace() {
		state.NextNode = "librarian"
	} else {
		state.NextNode = "interpreter"
	}
}

type stubLibrarian struct {
	log    *stageLog
	chunks []datatypes.Chunk
}

func (s *stubLibrarian) Retrieve(_ context.Context, state *datatypes.ConversationState) {
	s.log.order = append(s.log.order, "librarian")
	state.RetrievedChunks = s.chunks
	state.Citations = datatypes.CitationsFromChunks(s.chunks)
	state.CurrentNode = "librarian"
	state.NextNode = "interpreter"
}

type stubInterpreter struct {
	log      *stageLog
	response string
	tokens   []string
}

func (s *stubInterpreter) Interpret(_ context.Context, state *datatypes.ConversationState) {
	s.log.order = append(s.log.order, "interpreter")
	state.FinalResponse = s.response
	state.Citations = datatypes.CitationsFromChunks(state.RetrievedChunks)
	state.CurrentNode = "interpreter"
	state.NextNode = "safety"
}

func (s *stubInterpreter) InterpretStream(ctx context.Context, state *datatypes.ConversationState, onDelta llm.StreamHandler) {
	s.Interpret(ctx, state)
	for _, token := range s.tokens {
		onDelta(token)
	}
}

type stubGate struct {
	log *stageLog
}

func (s *stubGate) Check(_ context.Context, state *datatypes.ConversationState) {
	s.log.order = append(s.log.order, "safety")
	state.AddSafetyFlag("safe")
	state.CurrentNode = "safety"
	state.NextNode = ""
	state.Status = datatypes.StatusComplete
}

func testPipeline(namespaces []string, chunks []datatypes.Chunk) (*Pipeline, *stageLog) {
	log := &stageLog{}
	logger := logging.New(logging.Config{Level: logging.LevelError, Service: "test"})
	p := New(
		&stubRouter{log: log, namespaces: namespaces},
		&stubLibrarian{log: log, chunks: chunks},
		&stubInterpreter{log: log, response: "wisdom", tokens: []string{"wis", "dom"}},
		&stubGate{log: log},
		nil,
		logger,
	)
	return p, log
}

func chatRequest(message string) *datatypes.ChatRequest {
	req := &datatypes.ChatRequest{Message: message}
	req.EnsureDefaults()
	return req
}

func TestNextTransitions(t *testing.T) {
	toLibrarian := &datatypes.ConversationState{NextNode: "librarian"}
	toInterpreter := &datatypes.ConversationState{NextNode: "interpreter"}

	assert.Equal(t, StageLibrarian, Next(StageRouter, toLibrarian))
	assert.Equal(t, StageInterpreter, Next(StageRouter, toInterpreter))
	assert.Equal(t, StageInterpreter, Next(StageLibrarian, toLibrarian))
	assert.Equal(t, StageSafety, Next(StageInterpreter, toLibrarian))
	assert.Equal(t, StageDone, Next(StageSafety, toLibrarian))
	assert.Equal(t, StageDone, Next(StageDone, toLibrarian))
}

func TestNextIsPure(t *testing.T) {
	state := &datatypes.ConversationState{NextNode: "librarian"}
	first := Next(StageRouter, state)
	second := Next(StageRouter, state)
	assert.Equal(t, first, second)
	assert.Equal(t, "librarian", state.NextNode, "Next does not mutate the state")
}

func TestProcessRunsStagesInOrder(t *testing.T) {
	p, log := testPipeline([]string{"money"}, nil)

	resp := p.Process(context.Background(), chatRequest("How do I save?"))

	assert.Equal(t, []string{"router", "librarian", "interpreter", "safety"}, log.order)
	assert.Equal(t, "wisdom", resp.Response)
	assert.Equal(t, datatypes.StatusComplete, resp.Status)
	assert.Equal(t, "money", resp.Diagnostics.Intent)
	assert.Equal(t, []string{"safe"}, resp.Diagnostics.SafetyFlags)
}

func TestProcessSkipsRetrievalForGeneralOnly(t *testing.T) {
	p, log := testPipeline([]string{"general"}, nil)

	p.Process(context.Background(), chatRequest("hello"))

	assert.Equal(t, []string{"router", "interpreter", "safety"}, log.order)
}

func TestProcessPreservesRequestIdentity(t *testing.T) {
	p, _ := testPipeline([]string{"money"}, nil)

	req := &datatypes.ChatRequest{Message: "q", SessionID: "s-1", UserID: "u-1"}
	resp := p.Process(context.Background(), req)

	assert.Equal(t, "s-1", resp.SessionID)
	assert.NotEmpty(t, resp.MessageID)
}

func TestProcessStreamEventSequence(t *testing.T) {
	chunks := []datatypes.Chunk{
		{Text: "save first", Metadata: datatypes.ChunkMetadata{SourceTitle: "Money Talk"}},
	}
	p, _ := testPipeline([]string{"money"}, chunks)

	var events []datatypes.StreamEvent
	resp := p.ProcessStream(context.Background(), chatRequest("How do I save?"), func(ev datatypes.StreamEvent) {
		events = append(events, ev)
	})

	types := make([]datatypes.StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Equal(t, []datatypes.StreamEventType{
		datatypes.StreamEventStatus,    // routing
		datatypes.StreamEventStatus,    // retrieving
		datatypes.StreamEventCitations, // before any token
		datatypes.StreamEventStatus,    // generating
		datatypes.StreamEventToken,
		datatypes.StreamEventToken,
		datatypes.StreamEventDone,
	}, types)

	citations := events[2]
	require.Len(t, citations.Citations, 1)
	assert.Equal(t, "Money Talk", citations.Citations[0].Title)

	done := events[len(events)-1]
	require.NotNil(t, done.Response)
	assert.Equal(t, "wisdom", done.Response.Response)
	assert.Equal(t, resp.MessageID, done.Response.MessageID)
}

func TestProcessNilStagesAreSkipped(t *testing.T) {
	logger := logging.New(logging.Config{Level: logging.LevelError, Service: "test"})
	p := New(nil, nil, nil, nil, nil, logger)

	resp := p.Process(context.Background(), chatRequest("q"))

	// With no interpreter the turn ends with the apology fallback, never
	// a panic or a raw error.
	assert.Equal(t, datatypes.StatusComplete, resp.Status)
}

func TestProcessIndependentTurnsDoNotShareState(t *testing.T) {
	p, _ := testPipeline([]string{"money"}, nil)

	first := p.Process(context.Background(), chatRequest("first"))
	second := p.Process(context.Background(), chatRequest("second"))

	assert.NotEqual(t, first.MessageID, second.MessageID)
}

func TestProcessRepeatedQueryIsDeterministic(t *testing.T) {
	chunks := []datatypes.Chunk{
		{Text: "save first", Metadata: datatypes.ChunkMetadata{SourceTitle: "Money Talk"}},
	}
	p, _ := testPipeline([]string{"money"}, chunks)

	first := p.Process(context.Background(), chatRequest("How do I save?"))
	second := p.Process(context.Background(), chatRequest("How do I save?"))

	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.Citations, second.Citations)
	assert.Equal(t, first.Status, second.Status)
}

// failingInterpreter simulates a generation failure that degrades to the
// canned apology.
type failingInterpreter struct{}

func (f *failingInterpreter) Interpret(_ context.Context, state *datatypes.ConversationState) {
	state.FinalResponse = "I apologize, but I'm having trouble generating a response right now. Please try rephrasing your question."
	state.SetError("interpretation failed: model unavailable")
	state.NextNode = "safety"
}

func (f *failingInterpreter) InterpretStream(ctx context.Context, state *datatypes.ConversationState, _ llm.StreamHandler) {
	f.Interpret(ctx, state)
}

func TestProcessStageErrorYieldsErrorStatusWithProse(t *testing.T) {
	log := &stageLog{}
	logger := logging.New(logging.Config{Level: logging.LevelError, Service: "test"})
	p := New(
		&stubRouter{log: log, namespaces: []string{"general"}},
		nil,
		&failingInterpreter{},
		&stubGate{log: log},
		nil,
		logger,
	)

	resp := p.Process(context.Background(), chatRequest("q"))

	assert.Equal(t, datatypes.StatusError, resp.Status)
	assert.NotEmpty(t, resp.Response, "the caller always receives prose")
	assert.Contains(t, resp.Diagnostics.Error, "interpretation failed")
}
