// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agents implements the four pipeline stages: intent routing,
// namespace retrieval, grounded interpretation, and safety gating.
//
// Each stage mutates the ConversationState in place and never returns an
// error to the pipeline. Stage failures degrade to conservative defaults
// and are recorded on the state, so a turn always resolves to prose.
package agents

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/llm"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/agents/rulesets"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
)

var routerTracer = otel.Tracer("wisdom.agents.router")

var (
	intentLinePattern     = regexp.MustCompile(`(?im)^\s*intent:\s*([a-z_]+)\s*$`)
	confidenceLinePattern = regexp.MustCompile(`(?im)^\s*confidence:\s*([0-9]*\.?[0-9]+)\s*$`)
)

const (
	defaultIntent     = "general"
	defaultConfidence = 0.5
)

// Router classifies the user message and selects knowledge namespaces.
//
// # Description
//
// The router asks the model to classify the message into one of the
// configured namespace categories and parses the reply leniently. Any
// failure along the way (model error, unparseable reply) degrades to the
// general intent at 0.5 confidence. The router never fails a turn.
type Router struct {
	llm    llm.LLMClient
	rules  *rulesets.RoutingRules
	logger *logging.Logger
}

// NewRouter builds a Router over the given model client and rule table.
func NewRouter(client llm.LLMClient, rules *rulesets.RoutingRules, logger *logging.Logger) *Router {
	return &Router{llm: client, rules: rules, logger: logger}
}

// Route classifies the message on the state and selects namespaces.
//
// # Description
//
// Selection policy, in order:
//
//  1. Any holistic keyword in the message short-circuits to the fixed
//     holistic namespace set, bypassing the confidence check.
//  2. Otherwise, with model confidence at or above the threshold, every
//     namespace whose keywords contain the intent label or match the
//     message is selected, in table order.
//  3. An empty selection falls back to the single general namespace.
//  4. The selection is truncated to the configured maximum, preserving
//     discovery order.
//
// # Outputs
//
// Mutates state: Intent, Confidence, SelectedNamespaces, SelectedAgents,
// CurrentNode, NextNode. Retrieval is skipped (NextNode set to the
// interpreter) when only general was selected.
func (r *Router) Route(ctx context.Context, state *datatypes.ConversationState) {
	ctx, span := routerTracer.Start(ctx, "Router.Route")
	defer span.End()

	state.CurrentNode = "router"

	intent, confidence := r.classify(ctx, state)
	state.Intent = intent
	state.Confidence = confidence

	message := state.TrimmedMessage()
	var selected []string
	switch {
	case r.rules.IsHolistic(message):
		selected = append(selected, r.rules.Holistic.Namespaces...)
	case confidence >= r.rules.ConfidenceThreshold:
		selected = r.rules.MatchNamespaces(intent, message)
	}
	if len(selected) == 0 {
		selected = []string{"general"}
	}
	if len(selected) > r.rules.MaxNamespaces {
		selected = selected[:r.rules.MaxNamespaces]
	}
	state.SelectedNamespaces = selected
	state.SelectedAgents = legacyAgentLabels(selected)

	if state.HasNonGeneralNamespace() {
		state.NextNode = "librarian"
	} else {
		state.NextNode = "interpreter"
	}

	span.SetAttributes(
		attribute.String("intent", intent),
		attribute.Float64("confidence", confidence),
		attribute.StringSlice("namespaces", selected),
	)
	r.logger.Info("routing decision",
		"intent", intent,
		"confidence", confidence,
		"namespaces", selected,
		"message_id", state.MessageID,
	)
}

// classify calls the model and parses its reply. Failures return the
// general default.
func (r *Router) classify(ctx context.Context, state *datatypes.ConversationState) (string, float64) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: r.classificationPrompt()},
		{Role: llm.RoleUser, Content: state.TrimmedMessage()},
	}

	temperature := float32(0.0)
	reply, usage, err := r.llm.GenerateChat(ctx, messages, llm.GenerationParams{
		Temperature: &temperature,
	})
	if err != nil {
		r.logger.Warn("intent classification call failed, using general fallback",
			"error", err, "message_id", state.MessageID)
		return defaultIntent, defaultConfidence
	}
	state.PromptTokens += usage.PromptTokens
	state.CompletionTokens += usage.CompletionTokens

	return parseClassification(reply, r.rules)
}

// classificationPrompt enumerates the namespaces with their glosses and
// pins the exact reply shape.
func (r *Router) classificationPrompt() string {
	var b strings.Builder
	b.WriteString("You classify a user's question into exactly one topic category.\n\n")
	b.WriteString("Categories:\n")
	for _, ns := range r.rules.Namespaces {
		fmt.Fprintf(&b, "- %s: %s\n", ns.Name, ns.Description)
	}
	b.WriteString("\nReply with exactly two lines and nothing else:\n")
	b.WriteString("Intent: <category>\n")
	b.WriteString("Confidence: <number between 0.0 and 1.0>\n")
	return b.String()
}

// parseClassification extracts the Intent and Confidence lines from a
// model reply. Either line missing or malformed yields the defaults for
// that line; an intent not in the rule table is coerced to general.
func parseClassification(reply string, rules *rulesets.RoutingRules) (string, float64) {
	intent := defaultIntent
	if m := intentLinePattern.FindStringSubmatch(reply); m != nil {
		candidate := strings.ToLower(m[1])
		for _, name := range rules.NamespaceNames() {
			if name == candidate {
				intent = candidate
				break
			}
		}
	}

	confidence := defaultConfidence
	if m := confidenceLinePattern.FindStringSubmatch(reply); m != nil {
		if parsed, err := strconv.ParseFloat(m[1], 64); err == nil && parsed >= 0 && parsed <= 1 {
			confidence = parsed
		}
	}
	return intent, confidence
}

// legacyAgentLabels maps namespaces to the specialist-agent names used by
// the earlier per-topic routing mode. Kept for response compatibility
// with clients that still display them.
func legacyAgentLabels(namespaces []string) []string {
	labels := map[string]string{
		"relationships":         "Relationship Specialist",
		"money":                 "Money Specialist",
		"business":              "Money Specialist",
		"feng_shui":             "Feng Shui Specialist",
		"diet_food":             "TCM Specialist",
		"exercise_martial_arts": "TCM Specialist",
		"meditation":            "TCM Specialist",
	}
	var agents []string
	seen := make(map[string]bool, len(namespaces))
	for _, ns := range namespaces {
		label, ok := labels[ns]
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		agents = append(agents, label)
	}
	return agents
}
