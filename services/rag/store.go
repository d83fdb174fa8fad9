// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var storeTracer = otel.Tracer("wisdom.rag.store")

// ErrNamespaceNotFound reports that a knowledge namespace has no backing
// class in Weaviate. Callers distinguish this from a failed search: a
// missing namespace is skipped with a warning, not treated as an error.
var ErrNamespaceNotFound = errors.New("namespace not found")

// Passage is one retrieved unit of source text with its relevance score
// and source metadata.
type Passage struct {
	Text        string
	Score       float64
	Namespace   string
	SourceTitle string
	SourceURL   string
	YouTubeURL  string
	Timestamp   string
	Tags        []string
	ChunkIndex  int
	Checksum    string
}

// Searcher performs nearest-neighbor search within a single namespace.
type Searcher interface {
	// SearchNamespace returns up to limit passages from the namespace whose
	// certainty is at least scoreThreshold, best first. Returns
	// ErrNamespaceNotFound when the namespace has no backing store.
	SearchNamespace(ctx context.Context, namespace string, vector []float32, limit int, scoreThreshold float64) ([]Passage, error)
}

// Catalog lists the contents of the knowledge base for meta-questions
// ("what do you have access to").
type Catalog interface {
	// ListNamespaces returns the namespaces that have a backing store.
	ListNamespaces(ctx context.Context) ([]string, error)

	// ListSources returns up to limit distinct source titles stored in the
	// namespace.
	ListSources(ctx context.Context, namespace string, limit int) ([]string, error)
}

// WeaviateStore implements Searcher and Catalog over a Weaviate instance,
// mapping each knowledge namespace to its own class.
//
// # Thread Safety
//
// WeaviateStore is safe for concurrent use. The underlying client handles
// connection pooling.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore wraps an initialized Weaviate client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// ClassForNamespace maps a namespace to its Weaviate class name.
// Namespaces are snake_case; classes are the CamelCase form with a Wisdom
// prefix (money -> WisdomMoney, feng_shui -> WisdomFengShui).
func ClassForNamespace(namespace string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(namespace)), "_")
	var sb strings.Builder
	sb.WriteString("Wisdom")
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}

// NamespaceForClass is the inverse of ClassForNamespace. Returns "" for
// classes that are not wisdom knowledge partitions.
func NamespaceForClass(class string) string {
	const prefix = "Wisdom"
	if !strings.HasPrefix(class, prefix) || len(class) == len(prefix) {
		return ""
	}
	rest := class[len(prefix):]
	var parts []string
	start := 0
	for i := 1; i < len(rest); i++ {
		if rest[i] >= 'A' && rest[i] <= 'Z' {
			parts = append(parts, strings.ToLower(rest[start:i]))
			start = i
		}
	}
	parts = append(parts, strings.ToLower(rest[start:]))
	return strings.Join(parts, "_")
}

// passageResult mirrors the GraphQL field selection for a knowledge class.
type passageResult struct {
	Content             string   `json:"content"`
	SourceTitle         string   `json:"source_title"`
	SourceURL           string   `json:"source_url"`
	YouTubeURL          string   `json:"youtube_url"`
	TranscriptTimestamp string   `json:"transcript_timestamp"`
	Tags                []string `json:"tags"`
	ChunkIndex          int      `json:"chunk_index"`
	Checksum            string   `json:"checksum"`
	Additional          struct {
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// SearchNamespace implements Searcher.
//
// # Description
//
// Verifies the namespace has a backing class, then issues a NearVector
// query limited to limit results with the given certainty floor. Certainty
// (always in [0,1]) is used as the passage score.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - namespace: Knowledge namespace (e.g. "money", "feng_shui").
//   - vector: Query embedding. Dimensions must match the stored vectors.
//   - limit: Maximum passages to return. Values < 1 default to 5.
//   - scoreThreshold: Minimum certainty. Values <= 0 disable the floor.
//
// # Outputs
//
//   - []Passage: Matching passages, best first. Never nil on success.
//   - error: ErrNamespaceNotFound when the class is absent; otherwise a
//     wrapped search or parse error.
func (s *WeaviateStore) SearchNamespace(ctx context.Context, namespace string, vector []float32, limit int, scoreThreshold float64) ([]Passage, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.SearchNamespace")
	defer span.End()

	className := ClassForNamespace(namespace)
	span.SetAttributes(
		attribute.String("rag.namespace", namespace),
		attribute.String("rag.class", className),
		attribute.Int("rag.limit", limit),
	)

	if limit < 1 {
		limit = 5
	}

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema check failed")
		return nil, fmt.Errorf("schema check for %s failed: %w", className, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	if scoreThreshold > 0 {
		nearVector = nearVector.WithCertainty(float32(scoreThreshold))
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source_title"},
		{Name: "source_url"},
		{Name: "youtube_url"},
		{Name: "transcript_timestamp"},
		{Name: "tags"},
		{Name: "chunk_index"},
		{Name: "checksum"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("weaviate search in %s failed: %w", className, err)
	}

	results, err := parseGetResponse[passageResult](result, className)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse search results for %s: %w", className, err)
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		var score float64
		if r.Additional.Certainty != nil {
			score = float64(*r.Additional.Certainty)
		}
		passages = append(passages, Passage{
			Text:        r.Content,
			Score:       score,
			Namespace:   namespace,
			SourceTitle: r.SourceTitle,
			SourceURL:   r.SourceURL,
			YouTubeURL:  r.YouTubeURL,
			Timestamp:   r.TranscriptTimestamp,
			Tags:        r.Tags,
			ChunkIndex:  r.ChunkIndex,
			Checksum:    r.Checksum,
		})
	}

	span.SetAttributes(attribute.Int("rag.results", len(passages)))
	slog.Debug("Namespace search complete", "namespace", namespace, "results", len(passages))
	return passages, nil
}

// ListNamespaces implements Catalog by scanning the schema for wisdom
// knowledge classes.
func (s *WeaviateStore) ListNamespaces(ctx context.Context) ([]string, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.ListNamespaces")
	defer span.End()

	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema fetch failed")
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}

	var namespaces []string
	for _, class := range schema.Classes {
		if ns := NamespaceForClass(class.Class); ns != "" {
			namespaces = append(namespaces, ns)
		}
	}
	return namespaces, nil
}

// ListSources implements Catalog.
//
// Weaviate has no DISTINCT, so this over-fetches objects and deduplicates
// titles client-side. Good enough for the small per-namespace catalogs the
// meta-question summary needs.
func (s *WeaviateStore) ListSources(ctx context.Context, namespace string, limit int) ([]string, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.ListSources")
	defer span.End()
	span.SetAttributes(attribute.String("rag.namespace", namespace))

	if limit < 1 {
		limit = 3
	}
	className := ClassForNamespace(namespace)

	result, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(graphql.Field{Name: "source_title"}).
		WithLimit(limit * 10).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list sources in %s: %w", className, err)
	}

	results, err := parseGetResponse[passageResult](result, className)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source listing for %s: %w", className, err)
	}

	seen := make(map[string]bool)
	var titles []string
	for _, r := range results {
		if r.SourceTitle == "" || seen[r.SourceTitle] {
			continue
		}
		seen[r.SourceTitle] = true
		titles = append(titles, r.SourceTitle)
		if len(titles) >= limit {
			break
		}
	}
	return titles, nil
}

// parseGetResponse converts a Weaviate GraphQL Get response into typed
// results for the given class. The marshal/unmarshal round trip converts
// the dynamic map[string]models.JSONObject payload into structs.
func parseGetResponse[T any](resp *models.GraphQLResponse, className string) ([]T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var envelope struct {
		Get map[string][]T `json:"Get"`
	}
	if err := json.Unmarshal(respBytes, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return envelope.Get[className], nil
}

var (
	_ Searcher = (*WeaviateStore)(nil)
	_ Catalog  = (*WeaviateStore)(nil)
)
