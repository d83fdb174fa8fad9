// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rag provides the retrieval building blocks for the conversation
// pipeline: text embedding and namespace-partitioned vector search over
// Weaviate.
//
// The package exposes small interfaces (Embedder, Searcher, Catalog) so the
// agents depending on retrieval can be tested with function-typed stubs, and
// concrete implementations backed by OpenAI and Weaviate.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var embedTracer = otel.Tracer("wisdom.rag.embeddings")

// Embedder turns text into fixed-length vectors.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the librarian may embed
// from multiple in-flight turns.
type Embedder interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for several texts in one call.
	// The result slice is index-aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder implements Embedder via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder from environment configuration.
//
// # Description
//
// Reads OPENAI_API_KEY (required) and OPENAI_EMBEDDING_MODEL (optional,
// defaults to text-embedding-3-small).
//
// # Outputs
//
//   - *OpenAIEmbedder: Ready-to-use embedder.
//   - error: Non-nil when the API key is missing.
func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	model := openai.EmbeddingModel(os.Getenv("OPENAI_EMBEDDING_MODEL"))
	if model == "" {
		model = openai.SmallEmbedding3
		slog.Warn("OPENAI_EMBEDDING_MODEL not set, defaulting to text-embedding-3-small")
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Embed computes the embedding vector for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch computes embedding vectors for several texts in one API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := embedTracer.Start(ctx, "OpenAIEmbedder.EmbedBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", string(e.model)),
		attribute.Int("embedding.inputs", len(texts)),
	)

	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI embeddings call failed", "error", err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
