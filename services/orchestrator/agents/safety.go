// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/llm"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/agents/rulesets"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
)

var safetyTracer = otel.Tracer("wisdom.agents.safety")

// Safety flag values recorded on the state. Exactly one outcome flag is
// set per turn.
const (
	FlagBlocked       = "blocked"
	FlagToneAdjusted  = "tone_adjusted"
	FlagSafe          = "safe"
	FlagEmptyResponse = "empty_response"
)

// SafetyVerdict is the transient decision produced while gating one
// response. It never leaves the safety stage.
type SafetyVerdict struct {
	Block               bool
	Crisis              bool
	DisclaimerType      string
	DisclaimerTemplate  string
	NeedsToneAdjustment bool
	Reason              string
}

// SafetyGate is the terminal pipeline stage. It scans the generated
// response and blocks, disclaims, tone-repairs, or passes it through.
//
// # Description
//
// The four outcomes are mutually exclusive and checked in precedence
// order: block, disclaimer, tone repair, pass-through. The decision is
// single-shot; a modified response is not re-scanned. Whatever branch
// fires, the stage marks the turn complete.
type SafetyGate struct {
	llm    llm.LLMClient
	rules  *rulesets.SafetyRules
	logger *logging.Logger
}

// NewSafetyGate builds a SafetyGate over the given model client and rule
// table. The model is only invoked for tone repair.
func NewSafetyGate(client llm.LLMClient, rules *rulesets.SafetyRules, logger *logging.Logger) *SafetyGate {
	return &SafetyGate{llm: client, rules: rules, logger: logger}
}

// Check gates the response on the state and terminates the turn.
func (g *SafetyGate) Check(ctx context.Context, state *datatypes.ConversationState) {
	ctx, span := safetyTracer.Start(ctx, "SafetyGate.Check")
	defer span.End()

	state.CurrentNode = "safety"
	state.NextNode = ""

	// An empty response short-circuits before any keyword scan.
	if state.FinalResponse == "" {
		state.AddSafetyFlag(FlagEmptyResponse)
		g.finish(span, state)
		return
	}

	verdict := g.evaluate(state.FinalResponse)
	switch {
	case verdict.Block:
		state.FinalResponse = g.refusalFor(verdict)
		state.AddSafetyFlag(FlagBlocked)
		state.AddSafetyFlag(verdict.Reason)
	case verdict.DisclaimerType != "":
		state.FinalResponse = state.FinalResponse + "\n\n" + verdict.DisclaimerTemplate
		state.AddSafetyFlag("disclaimer_added_" + verdict.DisclaimerType)
	case verdict.NeedsToneAdjustment:
		state.FinalResponse = g.adjustTone(ctx, state)
		state.AddSafetyFlag(FlagToneAdjusted)
	default:
		state.AddSafetyFlag(FlagSafe)
	}

	g.finish(span, state)
}

func (g *SafetyGate) finish(span trace.Span, state *datatypes.ConversationState) {
	state.Status = datatypes.StatusComplete
	span.SetAttributes(attribute.StringSlice("safety_flags", state.SafetyFlags))
	g.logger.Info("safety check complete",
		"flags", state.SafetyFlags, "message_id", state.MessageID)
}

// evaluate produces the verdict for a response without mutating anything.
func (g *SafetyGate) evaluate(response string) SafetyVerdict {
	if keyword, crisis, found := g.rules.FindHarmful(response); found {
		return SafetyVerdict{Block: true, Crisis: crisis, Reason: "harmful_content_" + keyword}
	}
	if disclaimer, found := g.rules.FindDisclaimer(response); found {
		return SafetyVerdict{DisclaimerType: disclaimer.Type, DisclaimerTemplate: disclaimer.Template}
	}
	if g.rules.NeedsToneRepair(response) {
		return SafetyVerdict{NeedsToneAdjustment: true, Reason: "tone_adjustment_needed"}
	}
	return SafetyVerdict{}
}

// refusalFor picks the crisis-resource refusal for self-harm triggers
// and the generic refusal otherwise.
func (g *SafetyGate) refusalFor(verdict SafetyVerdict) string {
	if verdict.Crisis {
		return g.rules.Refusals.Crisis
	}
	return g.rules.Refusals.Generic
}

// adjustTone asks the model for a warmer rewrite, keeping the original
// on failure.
func (g *SafetyGate) adjustTone(ctx context.Context, state *datatypes.ConversationState) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: toneRepairPrompt},
		{Role: llm.RoleUser, Content: "Original response: " + state.FinalResponse},
	}
	rewritten, usage, err := g.llm.GenerateChat(ctx, messages, llm.GenerationParams{})
	if err != nil {
		g.logger.Warn("tone adjustment failed, keeping original response",
			"error", err, "message_id", state.MessageID)
		return state.FinalResponse
	}
	state.PromptTokens += usage.PromptTokens
	state.CompletionTokens += usage.CompletionTokens
	return rewritten
}

const toneRepairPrompt = `Please adjust the tone of the following response to be more warm, respectful, and approachable while maintaining all the factual content. Make it sound like Herman Siu's compassionate and wise voice.

Guidelines:
- Remove any dismissive or harsh language
- Add warmth and compassion
- Maintain all factual information
- Keep the practical advice
- Make it conversational and caring`
