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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
	"github.com/wwhd-ai/wisdom-engine/services/rag"
)

func passage(ns, text string, score float64) rag.Passage {
	return rag.Passage{
		Text:        text,
		Score:       score,
		Namespace:   ns,
		SourceTitle: "Source for " + ns,
	}
}

func TestRetrieveMergesAndSorts(t *testing.T) {
	searcher := &stubSearcher{
		passages: map[string][]rag.Passage{
			"money":     {passage("money", "save first", 0.8), passage("money", "cut debt", 0.6)},
			"feng_shui": {passage("feng_shui", "face the door", 0.9)},
		},
	}
	librarian := NewLibrarian(&stubEmbedder{}, searcher, testLogger())

	state := datatypes.NewConversationState("desk and debt", nil)
	state.SelectedNamespaces = []string{"money", "feng_shui"}
	librarian.Retrieve(context.Background(), state)

	require.Len(t, state.RetrievedChunks, 3)
	assert.Equal(t, "face the door", state.RetrievedChunks[0].Text)
	assert.Equal(t, "save first", state.RetrievedChunks[1].Text)
	assert.Equal(t, "cut debt", state.RetrievedChunks[2].Text)
	assert.Equal(t, "interpreter", state.NextNode)
	assert.Len(t, state.Citations, 2, "one citation per distinct source")
}

func TestRetrieveStableSortPreservesDiscoveryOrder(t *testing.T) {
	// Equal scores keep namespace-selection order.
	searcher := &stubSearcher{
		passages: map[string][]rag.Passage{
			"money":      {passage("money", "first", 0.5)},
			"meditation": {passage("meditation", "second", 0.5)},
		},
	}
	librarian := NewLibrarian(&stubEmbedder{}, searcher, testLogger())

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money", "meditation"}
	librarian.Retrieve(context.Background(), state)

	require.Len(t, state.RetrievedChunks, 2)
	assert.Equal(t, "first", state.RetrievedChunks[0].Text)
	assert.Equal(t, "second", state.RetrievedChunks[1].Text)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	var passages []rag.Passage
	for i := 0; i < 8; i++ {
		passages = append(passages, passage("money", "chunk", float64(i)/10))
	}
	searcher := &stubSearcher{passages: map[string][]rag.Passage{"money": passages}}
	librarian := NewLibrarian(&stubEmbedder{}, searcher, testLogger(), WithTopK(8))

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money"}
	librarian.Retrieve(context.Background(), state)
	assert.Len(t, state.RetrievedChunks, 8)

	librarian = NewLibrarian(&stubEmbedder{}, searcher, testLogger())
	state = datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money"}
	librarian.Retrieve(context.Background(), state)
	assert.Len(t, state.RetrievedChunks, DefaultTopK)
}

func TestRetrieveSkipsMissingNamespace(t *testing.T) {
	searcher := &stubSearcher{
		passages: map[string][]rag.Passage{"money": {passage("money", "save", 0.8)}},
		missing:  map[string]bool{"feng_shui": true},
	}
	librarian := NewLibrarian(&stubEmbedder{}, searcher, testLogger())

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money", "feng_shui"}
	librarian.Retrieve(context.Background(), state)

	assert.Len(t, state.RetrievedChunks, 1)
	assert.Empty(t, state.Error, "a missing namespace is not an error")
}

func TestRetrieveFailingNamespaceDoesNotAbortOthers(t *testing.T) {
	searcher := &stubSearcher{
		passages: map[string][]rag.Passage{"money": {passage("money", "save", 0.8)}},
		failing:  map[string]bool{"meditation": true},
	}
	librarian := NewLibrarian(&stubEmbedder{}, searcher, testLogger())

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"meditation", "money"}
	librarian.Retrieve(context.Background(), state)

	assert.Len(t, state.RetrievedChunks, 1)
	assert.Equal(t, "money", state.RetrievedChunks[0].Metadata.Namespace)
	assert.Empty(t, state.Error)
}

func TestRetrieveEmbeddingFailureAbortsRetrieval(t *testing.T) {
	searcher := &stubSearcher{
		passages: map[string][]rag.Passage{"money": {passage("money", "save", 0.8)}},
	}
	librarian := NewLibrarian(&stubEmbedder{fail: true}, searcher, testLogger())

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money"}
	librarian.Retrieve(context.Background(), state)

	assert.Empty(t, state.RetrievedChunks)
	assert.Empty(t, state.Citations)
	assert.Contains(t, state.Error, "retrieval failed")
	assert.Equal(t, "interpreter", state.NextNode, "the turn still proceeds to generation")
}

func TestRetrieveDropsEmptyChunks(t *testing.T) {
	searcher := &stubSearcher{
		passages: map[string][]rag.Passage{
			"money": {
				passage("money", "   ", 0.9),
				passage("money", "", 0.8),
				passage("money", "real content", 0.7),
			},
		},
	}
	librarian := NewLibrarian(&stubEmbedder{}, searcher, testLogger())

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money"}
	librarian.Retrieve(context.Background(), state)

	require.Len(t, state.RetrievedChunks, 1)
	assert.Equal(t, "real content", state.RetrievedChunks[0].Text)
}

// reverseReranker reverses the candidate order so tests can observe that
// it ran.
type reverseReranker struct {
	fail   bool
	called bool
}

func (r *reverseReranker) Rerank(_ context.Context, _ string, chunks []datatypes.Chunk) ([]datatypes.Chunk, error) {
	r.called = true
	if r.fail {
		return nil, errors.New("rerank backend down")
	}
	out := make([]datatypes.Chunk, len(chunks))
	for i, c := range chunks {
		out[len(chunks)-1-i] = c
	}
	return out, nil
}

func TestRerankerOnlyRunsAboveCandidateGate(t *testing.T) {
	few := map[string][]rag.Passage{
		"money": {passage("money", "a", 0.9), passage("money", "b", 0.8)},
	}
	reranker := &reverseReranker{}
	librarian := NewLibrarian(&stubEmbedder{}, &stubSearcher{passages: few}, testLogger(), WithReranker(reranker))

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money"}
	librarian.Retrieve(context.Background(), state)
	assert.False(t, reranker.called, "reranker is gated on more than five candidates")

	var many []rag.Passage
	for i := 0; i < 7; i++ {
		many = append(many, passage("money", "chunk", 0.9-float64(i)/100))
	}
	librarian = NewLibrarian(&stubEmbedder{},
		&stubSearcher{passages: map[string][]rag.Passage{"money": many}},
		testLogger(), WithReranker(reranker), WithTopK(10))

	state = datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money"}
	librarian.Retrieve(context.Background(), state)
	assert.True(t, reranker.called)
}

func TestRerankerFailureKeepsScoreOrder(t *testing.T) {
	var many []rag.Passage
	for i := 0; i < 7; i++ {
		many = append(many, passage("money", "chunk", 0.9-float64(i)/100))
	}
	reranker := &reverseReranker{fail: true}
	librarian := NewLibrarian(&stubEmbedder{},
		&stubSearcher{passages: map[string][]rag.Passage{"money": many}},
		testLogger(), WithReranker(reranker), WithTopK(10))

	state := datatypes.NewConversationState("q", nil)
	state.SelectedNamespaces = []string{"money"}
	librarian.Retrieve(context.Background(), state)

	require.Len(t, state.RetrievedChunks, 7)
	assert.InDelta(t, 0.9, state.RetrievedChunks[0].Score, 1e-9)
	assert.Empty(t, state.Error)
}
