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
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/datatypes"
	"github.com/wwhd-ai/wisdom-engine/services/rag"
)

var librarianTracer = otel.Tracer("wisdom.agents.librarian")

const (
	// DefaultTopK bounds both the per-namespace search and the final
	// merged chunk list.
	DefaultTopK = 5

	// DefaultScoreThreshold is deliberately low so the generator is not
	// starved of context on loosely phrased questions.
	DefaultScoreThreshold = 0.3
)

// Reranker reorders and optionally truncates a merged candidate list.
// Implementations may call external scoring services; a nil Reranker
// disables the stage.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []datatypes.Chunk) ([]datatypes.Chunk, error)
}

// rerankMinCandidates gates the reranker: with five or fewer merged
// candidates the score ordering is trusted as-is.
const rerankMinCandidates = 5

// Librarian retrieves supporting passages for a routed message.
//
// # Description
//
// The message is embedded once, then every selected namespace is searched
// concurrently. A namespace whose backing class does not exist is skipped
// with a warning. Results are merged, sorted by score descending with a
// stable sort, optionally reranked, and truncated to TopK.
//
// # Limitations
//
// An embedding failure aborts retrieval for the whole turn, leaving the
// chunk list empty. The turn still proceeds to generation with an
// explicit no-context marker rather than failing.
type Librarian struct {
	embedder       rag.Embedder
	searcher       rag.Searcher
	reranker       Reranker
	logger         *logging.Logger
	topK           int
	scoreThreshold float64
}

// LibrarianOption configures optional Librarian behavior.
type LibrarianOption func(*Librarian)

// WithReranker plugs in a reranking stage for merged candidates.
func WithReranker(r Reranker) LibrarianOption {
	return func(l *Librarian) { l.reranker = r }
}

// WithTopK overrides the retrieval depth.
func WithTopK(k int) LibrarianOption {
	return func(l *Librarian) {
		if k > 0 {
			l.topK = k
		}
	}
}

// WithScoreThreshold overrides the minimum similarity score.
func WithScoreThreshold(threshold float64) LibrarianOption {
	return func(l *Librarian) { l.scoreThreshold = threshold }
}

// NewLibrarian builds a Librarian with default depth and threshold.
func NewLibrarian(embedder rag.Embedder, searcher rag.Searcher, logger *logging.Logger, opts ...LibrarianOption) *Librarian {
	l := &Librarian{
		embedder:       embedder,
		searcher:       searcher,
		logger:         logger,
		topK:           DefaultTopK,
		scoreThreshold: DefaultScoreThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Retrieve populates the state with merged, ranked chunks and their
// citations. It never fails the turn.
func (l *Librarian) Retrieve(ctx context.Context, state *datatypes.ConversationState) {
	ctx, span := librarianTracer.Start(ctx, "Librarian.Retrieve")
	defer span.End()

	state.CurrentNode = "librarian"
	state.NextNode = "interpreter"

	vector, err := l.embedder.Embed(ctx, state.TrimmedMessage())
	if err != nil {
		l.logger.Error("query embedding failed, skipping retrieval",
			"error", err, "message_id", state.MessageID)
		state.SetError("retrieval failed: " + err.Error())
		state.RetrievedChunks = nil
		state.Citations = nil
		return
	}

	merged := l.searchNamespaces(ctx, state, vector)
	merged = l.rank(ctx, state.TrimmedMessage(), merged)

	state.RetrievedChunks = merged
	state.Citations = datatypes.CitationsFromChunks(merged)

	span.SetAttributes(
		attribute.Int("chunks", len(merged)),
		attribute.StringSlice("namespaces", state.SelectedNamespaces),
	)
	l.logger.Info("retrieval complete",
		"chunks", len(merged),
		"namespaces", len(state.SelectedNamespaces),
		"message_id", state.MessageID,
	)
}

// searchNamespaces fans out one similarity search per namespace. A slow
// or failing namespace never delays or fails the others; failures
// contribute zero chunks.
func (l *Librarian) searchNamespaces(ctx context.Context, state *datatypes.ConversationState, vector []float32) []datatypes.Chunk {
	// Each worker writes only its own slot, so no locking is needed.
	results := make([][]datatypes.Chunk, len(state.SelectedNamespaces))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, namespace := range state.SelectedNamespaces {
		group.Go(func() error {
			passages, err := l.searcher.SearchNamespace(groupCtx, namespace, vector, l.topK, l.scoreThreshold)
			if err != nil {
				if errors.Is(err, rag.ErrNamespaceNotFound) {
					l.logger.Warn("namespace has no backing class, skipping",
						"namespace", namespace, "message_id", state.MessageID)
				} else {
					l.logger.Warn("namespace search failed, skipping",
						"namespace", namespace, "error", err, "message_id", state.MessageID)
				}
				return nil
			}
			results[i] = chunksFromPassages(passages)
			return nil
		})
	}
	// Workers swallow their own errors, so Wait is only a join point.
	_ = group.Wait()

	var merged []datatypes.Chunk
	for _, chunks := range results {
		merged = append(merged, chunks...)
	}
	return merged
}

// rank sorts merged candidates by score descending (stable, so ties keep
// discovery order), applies the optional reranker when enough candidates
// are present, and truncates to TopK.
func (l *Librarian) rank(ctx context.Context, query string, merged []datatypes.Chunk) []datatypes.Chunk {
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if l.reranker != nil && len(merged) > rerankMinCandidates {
		reranked, err := l.reranker.Rerank(ctx, query, merged)
		if err != nil {
			l.logger.Warn("reranking failed, keeping score order", "error", err)
		} else {
			merged = reranked
		}
	}

	if len(merged) > l.topK {
		merged = merged[:l.topK]
	}
	return merged
}

// chunksFromPassages converts store passages to pipeline chunks, dropping
// empty or whitespace-only text.
func chunksFromPassages(passages []rag.Passage) []datatypes.Chunk {
	chunks := make([]datatypes.Chunk, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		chunks = append(chunks, datatypes.Chunk{
			Text:  p.Text,
			Score: p.Score,
			Metadata: datatypes.ChunkMetadata{
				Namespace:   p.Namespace,
				SourceTitle: p.SourceTitle,
				SourceURL:   p.SourceURL,
				YouTubeURL:  p.YouTubeURL,
				Timestamp:   p.Timestamp,
				Tags:        p.Tags,
				ChunkIndex:  p.ChunkIndex,
				Checksum:    p.Checksum,
			},
		})
	}
	return chunks
}
