// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives one conversational turn through the stage
// graph: router, librarian, interpreter, safety gate.
//
// # Description
//
// The pipeline is a small deterministic state machine. Stages mutate the
// shared ConversationState in place and the pure Next function decides
// the following stage from the state alone, so transitions are testable
// without any stage running. Stages are strictly sequential; only the
// librarian fans out internally.
//
// # Error Handling
//
// Process never returns an error. Every stage degrades internally, and
// the state that comes out the far end always carries presentable prose
// plus diagnostics.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/llm"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/observability"
)

var pipelineTracer = otel.Tracer("wisdom.pipeline")

// =============================================================================
// Stages
// =============================================================================

// Stage identifies one node of the turn state machine.
type Stage string

const (
	StageRouter      Stage = "router"
	StageLibrarian   Stage = "librarian"
	StageInterpreter Stage = "interpreter"
	StageSafety      Stage = "safety"

	// StageDone is the terminal pseudo-stage.
	StageDone Stage = "done"
)

// Next returns the stage that follows the given one for this state. It
// is a pure function of its inputs.
//
// The router decides whether retrieval runs at all: when it selected
// only the general namespace it sets NextNode past the librarian, and
// the transition honors that.
func Next(stage Stage, state *datatypes.ConversationState) Stage {
	switch stage {
	case StageRouter:
		if state.NextNode == string(StageLibrarian) {
			return StageLibrarian
		}
		return StageInterpreter
	case StageLibrarian:
		return StageInterpreter
	case StageInterpreter:
		return StageSafety
	case StageSafety:
		return StageDone
	default:
		return StageDone
	}
}

// =============================================================================
// Stage Contracts
// =============================================================================

// IntentRouter classifies the message and selects namespaces.
type IntentRouter interface {
	Route(ctx context.Context, state *datatypes.ConversationState)
}

// Retriever fetches supporting chunks for the selected namespaces.
type Retriever interface {
	Retrieve(ctx context.Context, state *datatypes.ConversationState)
}

// ResponseGenerator synthesizes the final response from the chunks.
type ResponseGenerator interface {
	Interpret(ctx context.Context, state *datatypes.ConversationState)
	InterpretStream(ctx context.Context, state *datatypes.ConversationState, onDelta llm.StreamHandler)
}

// ResponseGate applies the terminal safety decision.
type ResponseGate interface {
	Check(ctx context.Context, state *datatypes.ConversationState)
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline wires the four stages together for one deployment.
//
// Any stage may be nil; a nil stage is skipped and the turn continues,
// which keeps partially configured deployments (no vector store, no
// safety table) functional instead of panicking.
type Pipeline struct {
	router      IntentRouter
	librarian   Retriever
	interpreter ResponseGenerator
	safety      ResponseGate
	metrics     *observability.PipelineMetrics
	logger      *logging.Logger
}

// New builds a Pipeline. Metrics may be nil.
func New(
	router IntentRouter,
	librarian Retriever,
	interpreter ResponseGenerator,
	safety ResponseGate,
	metrics *observability.PipelineMetrics,
	logger *logging.Logger,
) *Pipeline {
	return &Pipeline{
		router:      router,
		librarian:   librarian,
		interpreter: interpreter,
		safety:      safety,
		metrics:     metrics,
		logger:      logger,
	}
}

// Process runs one turn to completion and returns the response envelope.
// It never returns an error; internal failures surface as diagnostics on
// the response.
func (p *Pipeline) Process(ctx context.Context, req *datatypes.ChatRequest) datatypes.ChatResponse {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Process")
	defer span.End()

	state := p.newState(req)
	p.run(ctx, state, nil, nil)

	span.SetAttributes(
		attribute.String("status", string(state.Status)),
		attribute.String("intent", state.Intent),
	)
	p.metrics.RecordTurn(observability.EndpointChat, string(state.Status))
	return datatypes.NewChatResponse(state)
}

// ProcessStream runs one turn, emitting stream events as stages resolve:
// status events per stage, one citations event after retrieval, token
// events during generation, and a terminal done event with the full
// envelope. Emission failures (client gone) are ignored; the turn still
// runs to completion so metrics and logs stay truthful.
func (p *Pipeline) ProcessStream(ctx context.Context, req *datatypes.ChatRequest, emit func(datatypes.StreamEvent)) datatypes.ChatResponse {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.ProcessStream")
	defer span.End()

	p.metrics.StreamStarted()
	defer p.metrics.StreamEnded()

	state := p.newState(req)
	state.Status = datatypes.StatusStreaming

	p.run(ctx, state, emit, func(delta string) {
		emit(datatypes.TokenEvent(delta))
	})

	span.SetAttributes(attribute.String("status", string(state.Status)))
	p.metrics.RecordTurn(observability.EndpointChatStream, string(state.Status))

	resp := datatypes.NewChatResponse(state)
	emit(datatypes.DoneEvent(resp))
	return resp
}

func (p *Pipeline) newState(req *datatypes.ChatRequest) *datatypes.ConversationState {
	state := datatypes.NewConversationState(req.Message, req.History)
	state.UserID = req.UserID
	state.SessionID = req.SessionID
	return state
}

// run drives the state machine from the router to the terminal stage.
// emit and onDelta are nil for the non-streaming path.
func (p *Pipeline) run(ctx context.Context, state *datatypes.ConversationState, emit func(datatypes.StreamEvent), onDelta llm.StreamHandler) {
	for stage := StageRouter; stage != StageDone; stage = Next(stage, state) {
		p.notify(emit, stage)
		start := time.Now()

		switch stage {
		case StageRouter:
			if p.router != nil {
				p.router.Route(ctx, state)
			}
		case StageLibrarian:
			if p.librarian != nil {
				p.librarian.Retrieve(ctx, state)
			}
			p.metrics.RecordRetrievedChunks(len(state.RetrievedChunks))
			if emit != nil {
				// Citations go out as soon as retrieval resolves, ahead of
				// generation, derived from the same chunks the interpreter
				// will cite.
				emit(datatypes.CitationsEvent(datatypes.CitationsFromChunks(state.RetrievedChunks)))
			}
		case StageInterpreter:
			if p.interpreter != nil {
				if onDelta != nil {
					p.interpreter.InterpretStream(ctx, state, onDelta)
				} else {
					p.interpreter.Interpret(ctx, state)
				}
			}
		case StageSafety:
			if p.safety != nil {
				p.safety.Check(ctx, state)
			} else {
				state.Status = datatypes.StatusComplete
			}
			p.metrics.RecordSafetyFlags(state.SafetyFlags)
		}

		p.metrics.RecordStageDuration(string(stage), time.Since(start).Seconds())
	}

	p.metrics.RecordTokens(state.PromptTokens, state.CompletionTokens)

	// A turn that accumulated an error terminates in error status. Either
	// way the caller always receives prose, never an empty response.
	if state.Error != "" {
		state.Status = datatypes.StatusError
	}
	if state.FinalResponse == "" {
		state.FinalResponse = "I apologize, but I'm having trouble generating a response right now. Please try rephrasing your question."
	}

	p.logger.Info("turn complete",
		"status", state.Status,
		"intent", state.Intent,
		"flags", state.SafetyFlags,
		"message_id", state.MessageID,
		"session_id", state.SessionID,
	)
}

// notify emits a stage-progress event on the streaming path. Generation
// progress is implied by token events, so only pre-generation stages
// report status.
func (p *Pipeline) notify(emit func(datatypes.StreamEvent), stage Stage) {
	if emit == nil {
		return
	}
	switch stage {
	case StageRouter:
		emit(datatypes.StatusEvent("routing"))
	case StageLibrarian:
		emit(datatypes.StatusEvent("retrieving"))
	case StageInterpreter:
		emit(datatypes.StatusEvent("generating"))
	}
}
