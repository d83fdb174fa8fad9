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
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/llm"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
	"github.com/wwhd-ai/wisdom-engine/services/rag"
)

var interpreterTracer = otel.Tracer("wisdom.agents.interpreter")

// GroundingPolicy selects how tightly generation is bound to retrieved
// context.
type GroundingPolicy string

const (
	// GroundingStrict allows the model to use only the supplied context
	// and forces a fixed refusal sentence when the context cannot answer
	// the question.
	GroundingStrict GroundingPolicy = "strict"

	// GroundingLoose lets the model blend retrieved context with its own
	// reasoning in the persona voice, citing sources inline.
	GroundingLoose GroundingPolicy = "loose"
)

// ParseGroundingPolicy maps a config string to a policy, defaulting to
// strict.
func ParseGroundingPolicy(s string) GroundingPolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(GroundingLoose)) {
		return GroundingLoose
	}
	return GroundingStrict
}

// NoInformationResponse is the exact sentence the strict policy pins for
// unanswerable questions. Clients match on it, so it must not drift.
const NoInformationResponse = "I don't have specific information about that topic in my knowledge base. Could you ask about something else or try rephrasing your question?"

// interpreterFallback is returned whenever generation fails outright.
const interpreterFallback = "I apologize, but I'm having trouble generating a response right now. Please try rephrasing your question."

// noContextMarker is placed in the prompt when retrieval produced
// nothing, so the strict policy can refuse deliberately instead of
// hallucinating.
const noContextMarker = "No relevant context found in the knowledge base."

// knowledgeBaseKeywords match meta-questions about the knowledge base
// itself, which are answered from the catalog instead of retrieval.
var knowledgeBaseKeywords = []string{
	"what documents",
	"what do you have access to",
	"what's in your knowledge base",
	"what information do you have",
	"list documents",
	"show me what",
	"what topics",
	"what can you tell me about",
}

// Interpreter synthesizes retrieved chunks into the final answer.
//
// # Description
//
// Context is built one numbered block per chunk, each followed by a
// Source line; chunks from video transcripts additionally carry an
// instruction pinning the markdown link format for citing them.
// Citations returned to the caller are always derived from the input
// chunk list, never parsed out of the model's text, so citation
// correctness does not depend on the model echoing sources faithfully.
//
// # Limitations
//
// Any generation failure yields a fixed apologetic fallback with no
// citations. The turn is tagged with an error but still completes.
type Interpreter struct {
	llm     llm.LLMClient
	catalog rag.Catalog
	policy  GroundingPolicy
	logger  *logging.Logger
}

// NewInterpreter builds an Interpreter. The catalog may be nil; the
// knowledge-base meta-question path then uses its canned fallback.
func NewInterpreter(client llm.LLMClient, catalog rag.Catalog, policy GroundingPolicy, logger *logging.Logger) *Interpreter {
	return &Interpreter{llm: client, catalog: catalog, policy: policy, logger: logger}
}

// Interpret generates the final response onto the state.
func (a *Interpreter) Interpret(ctx context.Context, state *datatypes.ConversationState) {
	a.interpret(ctx, state, nil)
}

// InterpretStream generates the final response, forwarding token deltas
// to onDelta as they arrive. The canned paths (meta-questions, strict
// refusals, fallbacks) deliver their full text as a single delta.
func (a *Interpreter) InterpretStream(ctx context.Context, state *datatypes.ConversationState, onDelta llm.StreamHandler) {
	a.interpret(ctx, state, onDelta)
}

func (a *Interpreter) interpret(ctx context.Context, state *datatypes.ConversationState, onDelta llm.StreamHandler) {
	ctx, span := interpreterTracer.Start(ctx, "Interpreter.Interpret")
	defer span.End()

	state.CurrentNode = "interpreter"
	state.NextNode = "safety"

	if isKnowledgeBaseQuery(state.TrimmedMessage()) {
		a.answerKnowledgeBaseQuery(ctx, state, onDelta)
		span.SetAttributes(attribute.Bool("knowledge_base_query", true))
		return
	}

	contextBlock := buildContext(state.RetrievedChunks)
	state.SystemPrompt = a.systemPrompt(contextBlock)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: state.SystemPrompt},
		{Role: llm.RoleUser, Content: a.userPrompt(state)},
	}

	var (
		response string
		usage    llm.Usage
		err      error
	)
	if onDelta != nil {
		response, usage, err = a.llm.GenerateChatStream(ctx, messages, llm.GenerationParams{}, func(delta string) {
			state.ResponseTokens = append(state.ResponseTokens, delta)
			onDelta(delta)
		})
	} else {
		response, usage, err = a.llm.GenerateChat(ctx, messages, llm.GenerationParams{})
	}
	if err != nil {
		a.logger.Error("interpretation failed, using fallback",
			"error", err, "message_id", state.MessageID)
		state.SetError("interpretation failed: " + err.Error())
		// Forward the apology only if no tokens made it out yet.
		a.deliver(state, interpreterFallback, onDelta, len(state.ResponseTokens) == 0)
		state.Citations = nil
		return
	}

	state.PromptTokens += usage.PromptTokens
	state.CompletionTokens += usage.CompletionTokens
	state.FinalResponse = response
	state.Citations = datatypes.CitationsFromChunks(state.RetrievedChunks)

	span.SetAttributes(
		attribute.Int("citations", len(state.Citations)),
		attribute.String("grounding_policy", string(a.policy)),
	)
}

// deliver sets a canned response and forwards it as one delta when
// streaming and nothing was streamed yet.
func (a *Interpreter) deliver(state *datatypes.ConversationState, response string, onDelta llm.StreamHandler, forward bool) {
	state.FinalResponse = response
	if onDelta != nil && forward {
		state.ResponseTokens = append(state.ResponseTokens, response)
		onDelta(response)
	}
}

func (a *Interpreter) systemPrompt(contextBlock string) string {
	if a.policy == GroundingLoose {
		return loosePromptPrefix + "\n\nContext from the knowledge base:\n" + contextBlock
	}
	return strictPromptPrefix + "\n\nContext from your knowledge base:\n" + contextBlock
}

func (a *Interpreter) userPrompt(state *datatypes.ConversationState) string {
	var b strings.Builder
	if len(state.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, msg := range state.History {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n\n", state.TrimmedMessage())
	b.WriteString("Please provide your wisdom and guidance on this question, drawing from the context provided above. Remember to cite sources using [Source X] format and maintain your authentic voice.")
	return b.String()
}

// answerKnowledgeBaseQuery summarizes catalog contents for meta-questions
// about what the assistant knows, without a retrieval pass.
func (a *Interpreter) answerKnowledgeBaseQuery(ctx context.Context, state *datatypes.ConversationState, onDelta llm.StreamHandler) {
	state.Citations = nil
	if a.catalog == nil {
		a.deliver(state, knowledgeBaseUnavailable, onDelta, true)
		return
	}

	namespaces, err := a.catalog.ListNamespaces(ctx)
	if err != nil || len(namespaces) == 0 {
		if err != nil {
			a.logger.Warn("catalog listing failed", "error", err, "message_id", state.MessageID)
		}
		a.deliver(state, knowledgeBaseUnavailable, onDelta, true)
		return
	}

	var sections []string
	for _, namespace := range namespaces {
		titles, err := a.catalog.ListSources(ctx, namespace, 3)
		if err != nil {
			a.logger.Warn("catalog source listing failed",
				"namespace", namespace, "error", err, "message_id", state.MessageID)
			continue
		}
		if len(titles) == 0 {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "**%s:**\n", titleCaseNamespace(namespace))
		for _, title := range titles {
			fmt.Fprintf(&b, "- %s\n", title)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(sections) == 0 {
		a.deliver(state, knowledgeBaseUnavailable, onDelta, true)
		return
	}

	response := "Here's what I have access to in my knowledge base:\n\n" +
		strings.Join(sections, "\n\n") +
		"\n\nFeel free to ask me questions about any of these topics, and I'll provide guidance based on the specific content in my knowledge base."
	a.deliver(state, response, onDelta, true)
}

const knowledgeBaseUnavailable = "I have access to a knowledge base, but I'm having trouble retrieving the specific document list right now. Please ask me about any topics you're interested in, and I'll see what information I can provide."

func isKnowledgeBaseQuery(message string) bool {
	lower := strings.ToLower(message)
	for _, keyword := range knowledgeBaseKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// titleCaseNamespace renders a snake_case namespace for display, e.g.
// feng_shui becomes Feng Shui.
func titleCaseNamespace(namespace string) string {
	parts := strings.Split(namespace, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

// buildContext renders one numbered block per chunk with source
// attribution. Transcript chunks carry an extra line pinning the
// markdown link format for citing the video at its timestamp.
func buildContext(chunks []datatypes.Chunk) string {
	if len(chunks) == 0 {
		return noContextMarker
	}

	blocks := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		meta := chunk.Metadata
		title := meta.SourceTitle
		if title == "" {
			title = "Unknown Source"
		}

		var b strings.Builder
		fmt.Fprintf(&b, "[%d] %s\nSource: %s", i+1, chunk.Text, title)
		if meta.Timestamp != "" {
			fmt.Fprintf(&b, " (%s)", meta.Timestamp)
		}
		if meta.YouTubeURL != "" {
			fmt.Fprintf(&b, "\nYouTube: %s", meta.YouTubeURL)
			if meta.Timestamp != "" {
				fmt.Fprintf(&b,
					"\nUse this format for YouTube links: [📹 Watch: %q (%s)](%s&t=%ds)",
					title, meta.Timestamp, meta.YouTubeURL, timestampSeconds(meta.Timestamp))
			}
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// timestampSeconds converts "MM:SS" or "HH:MM:SS" to total seconds.
// Unparseable timestamps yield zero.
func timestampSeconds(timestamp string) int {
	parts := strings.Split(timestamp, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

const strictPromptPrefix = `You are Herman Siu, but you can ONLY respond based on information contained in the provided knowledge base context.

CRITICAL RULES:
1. ONLY USE PROVIDED CONTEXT: You cannot access any knowledge, wisdom, or information outside what is provided in the context below.
2. NO HALLUCINATION: Never create answers that aren't directly supported by the context.
3. MANDATORY KNOWLEDGE BASE CHECK: If the context doesn't contain specific, relevant information to answer the question, you MUST respond EXACTLY with: "` + NoInformationResponse + `"
4. QUOTE DIRECTLY: Always start your response by directly quoting the relevant text from the context.
5. NO EXTERNAL KNOWLEDGE: You do not have access to any wisdom, teachings, or information beyond what is explicitly provided in the context below.

VOICE GUIDELINES:
- Use "compassion" never "empathy"
- Be direct and practical, not overly philosophical
- Ground advice in real experience and results
- Emphasize personal responsibility and action
- Use simple, powerful language
- Draw from martial arts, business, and life experience
- Focus on discipline, balance, and continuous improvement

RESPONSE STRUCTURE (only when context is relevant):
1. Start with exact quotes from sources that answer the question
2. Interpret and expand based ONLY on the provided context, in the authentic voice
3. Include [Source 1], [Source 2] references
4. When quoting from video transcripts, cite with the clickable link format given in the context`

const loosePromptPrefix = `You are Herman Siu, sharing practical wisdom drawn from decades of martial arts, business, and life experience.

Prefer the provided knowledge base context and quote it where it answers the question, citing sources with [Source X] references. Where the context is thin, you may blend in your own reasoning, staying in the same grounded, practical voice.

VOICE GUIDELINES:
- Use "compassion" never "empathy"
- Be direct and practical, not overly philosophical
- Ground advice in real experience and results
- Emphasize personal responsibility and action
- Use simple, powerful language
- When quoting from video transcripts, cite with the clickable link format given in the context`
