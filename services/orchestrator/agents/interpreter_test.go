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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
)

func chunkWithSource(text, title, youtube, timestamp string) datatypes.Chunk {
	return datatypes.Chunk{
		Text:  text,
		Score: 0.8,
		Metadata: datatypes.ChunkMetadata{
			Namespace:   "money",
			SourceTitle: title,
			YouTubeURL:  youtube,
			Timestamp:   timestamp,
		},
	}
}

func TestInterpretGeneratesResponseWithCitations(t *testing.T) {
	model := &stubLLM{reply: "Save before you spend. [Source 1]"}
	interp := NewInterpreter(model, nil, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("How do I start saving?", nil)
	state.RetrievedChunks = []datatypes.Chunk{
		chunkWithSource("pay yourself first", "Money Talk", "", ""),
	}
	interp.Interpret(context.Background(), state)

	assert.Equal(t, "Save before you spend. [Source 1]", state.FinalResponse)
	require.Len(t, state.Citations, 1)
	assert.Equal(t, "Money Talk", state.Citations[0].Title)
	assert.Equal(t, "safety", state.NextNode)
	assert.Empty(t, state.Error)
}

func TestInterpretCitationsComeFromChunksNotModelText(t *testing.T) {
	// The model fabricates a source; citations still reflect the input
	// chunk list only.
	model := &stubLLM{reply: "According to [Source 99: Made Up Book], do this."}
	interp := NewInterpreter(model, nil, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("q", nil)
	state.RetrievedChunks = []datatypes.Chunk{
		chunkWithSource("real text", "Real Source", "", ""),
	}
	interp.Interpret(context.Background(), state)

	require.Len(t, state.Citations, 1)
	assert.Equal(t, "Real Source", state.Citations[0].Title)
}

func TestInterpretFailureYieldsFallback(t *testing.T) {
	model := &stubLLM{fail: true}
	interp := NewInterpreter(model, nil, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("q", nil)
	state.RetrievedChunks = []datatypes.Chunk{chunkWithSource("text", "Source", "", "")}
	interp.Interpret(context.Background(), state)

	assert.Equal(t, interpreterFallback, state.FinalResponse)
	assert.Empty(t, state.Citations)
	assert.Contains(t, state.Error, "interpretation failed")
	assert.Equal(t, "safety", state.NextNode, "the turn still completes")
}

func TestInterpretStreamForwardsTokens(t *testing.T) {
	model := &stubLLM{reply: "token stream"}
	interp := NewInterpreter(model, nil, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("q", nil)
	var deltas []string
	interp.InterpretStream(context.Background(), state, func(delta string) {
		deltas = append(deltas, delta)
	})

	assert.Equal(t, []string{"token stream"}, deltas)
	assert.Equal(t, "token stream", state.FinalResponse)
	assert.Equal(t, []string{"token stream"}, state.ResponseTokens)
}

func TestInterpretKnowledgeBaseQuery(t *testing.T) {
	catalog := &stubCatalog{
		namespaces: []string{"money", "feng_shui"},
		sources: map[string][]string{
			"money":     {"Money Talk", "Debt Basics"},
			"feng_shui": {"Home Harmony"},
		},
	}
	model := &stubLLM{reply: "should not be called"}
	interp := NewInterpreter(model, catalog, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("What do you have access to?", nil)
	interp.Interpret(context.Background(), state)

	assert.Empty(t, model.calls, "meta-questions bypass the model")
	assert.Contains(t, state.FinalResponse, "Here's what I have access to")
	assert.Contains(t, state.FinalResponse, "**Money:**")
	assert.Contains(t, state.FinalResponse, "- Money Talk")
	assert.Contains(t, state.FinalResponse, "**Feng Shui:**")
	assert.Empty(t, state.Citations)
}

func TestInterpretKnowledgeBaseQueryCatalogFailure(t *testing.T) {
	interp := NewInterpreter(&stubLLM{}, &stubCatalog{fail: true}, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("what's in your knowledge base?", nil)
	interp.Interpret(context.Background(), state)

	assert.Equal(t, knowledgeBaseUnavailable, state.FinalResponse)
}

func TestInterpretStrictPromptPinsRefusalSentence(t *testing.T) {
	model := &stubLLM{reply: "answer"}
	interp := NewInterpreter(model, nil, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("q", nil)
	interp.Interpret(context.Background(), state)

	require.Len(t, model.calls, 1)
	system := model.calls[0][0].Content
	assert.Contains(t, system, NoInformationResponse)
	assert.Contains(t, system, noContextMarker, "empty retrieval is made explicit to the model")
}

func TestInterpretLoosePrompt(t *testing.T) {
	model := &stubLLM{reply: "answer"}
	interp := NewInterpreter(model, nil, GroundingLoose, testLogger())

	state := datatypes.NewConversationState("q", nil)
	interp.Interpret(context.Background(), state)

	require.Len(t, model.calls, 1)
	system := model.calls[0][0].Content
	assert.NotContains(t, system, NoInformationResponse)
	assert.Contains(t, system, "blend in your own reasoning")
}

func TestInterpretIncludesHistoryInPrompt(t *testing.T) {
	model := &stubLLM{reply: "answer"}
	interp := NewInterpreter(model, nil, GroundingStrict, testLogger())

	state := datatypes.NewConversationState("and then?", []datatypes.ChatMessage{
		{Role: "user", Content: "tell me about saving"},
		{Role: "assistant", Content: "Pay yourself first."},
	})
	interp.Interpret(context.Background(), state)

	require.Len(t, model.calls, 1)
	user := model.calls[0][1].Content
	assert.Contains(t, user, "tell me about saving")
	assert.Contains(t, user, "Pay yourself first.")
	assert.Contains(t, user, "Question: and then?")
}

func TestBuildContext(t *testing.T) {
	chunks := []datatypes.Chunk{
		chunkWithSource("pay yourself first", "Money Talk", "https://youtube.com/watch?v=abc", "12:45"),
		chunkWithSource("spend less than you earn", "Thrift", "", ""),
	}
	contextBlock := buildContext(chunks)

	assert.Contains(t, contextBlock, "[1] pay yourself first\nSource: Money Talk (12:45)")
	assert.Contains(t, contextBlock, "YouTube: https://youtube.com/watch?v=abc")
	assert.Contains(t, contextBlock, "&t=765s", "12:45 is 765 seconds")
	assert.Contains(t, contextBlock, "\n\n[2] spend less than you earn\nSource: Thrift")
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Equal(t, noContextMarker, buildContext(nil))
}

func TestTimestampSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"12:45", 765},
		{"0:30", 30},
		{"1:02:03", 3723},
		{"bogus", 0},
		{"", 0},
		{"-1:00", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, timestampSeconds(tt.in))
		})
	}
}

func TestIsKnowledgeBaseQuery(t *testing.T) {
	assert.True(t, isKnowledgeBaseQuery("What do you have access to?"))
	assert.True(t, isKnowledgeBaseQuery("please list documents you know"))
	assert.False(t, isKnowledgeBaseQuery("How do I save money?"))
}

func TestParseGroundingPolicy(t *testing.T) {
	assert.Equal(t, GroundingStrict, ParseGroundingPolicy(""))
	assert.Equal(t, GroundingStrict, ParseGroundingPolicy("strict"))
	assert.Equal(t, GroundingLoose, ParseGroundingPolicy("loose"))
	assert.Equal(t, GroundingLoose, ParseGroundingPolicy(" LOOSE "))
	assert.Equal(t, GroundingStrict, ParseGroundingPolicy("other"))
}
