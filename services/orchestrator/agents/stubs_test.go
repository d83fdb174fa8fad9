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

	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/llm"
	"github.com/wwhd-ai/wisdom-engine/services/rag"
)

// stubLLM returns a fixed reply, or errors when fail is set. Calls are
// recorded so tests can assert on prompts.
type stubLLM struct {
	reply string
	fail  bool
	calls [][]llm.Message
}

func (s *stubLLM) GenerateChat(_ context.Context, messages []llm.Message, _ llm.GenerationParams) (string, llm.Usage, error) {
	s.calls = append(s.calls, messages)
	if s.fail {
		return "", llm.Usage{}, errors.New("model unavailable")
	}
	return s.reply, llm.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func (s *stubLLM) GenerateChatStream(ctx context.Context, messages []llm.Message, params llm.GenerationParams, onDelta llm.StreamHandler) (string, llm.Usage, error) {
	reply, usage, err := s.GenerateChat(ctx, messages, params)
	if err != nil {
		return "", usage, err
	}
	onDelta(reply)
	return reply, usage, nil
}

// stubEmbedder returns a fixed vector, or errors when fail is set.
type stubEmbedder struct {
	fail bool
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("embedding service down")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v, err := s.Embed(ctx, "")
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// stubSearcher serves canned passages per namespace. Namespaces in the
// missing set return ErrNamespaceNotFound; those in failing return a
// generic error.
type stubSearcher struct {
	passages map[string][]rag.Passage
	missing  map[string]bool
	failing  map[string]bool
}

func (s *stubSearcher) SearchNamespace(_ context.Context, namespace string, _ []float32, limit int, _ float64) ([]rag.Passage, error) {
	if s.missing[namespace] {
		return nil, rag.ErrNamespaceNotFound
	}
	if s.failing[namespace] {
		return nil, errors.New("search backend error")
	}
	results := s.passages[namespace]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// stubCatalog serves a fixed namespace and source listing.
type stubCatalog struct {
	namespaces []string
	sources    map[string][]string
	fail       bool
}

func (s *stubCatalog) ListNamespaces(_ context.Context) ([]string, error) {
	if s.fail {
		return nil, errors.New("catalog unavailable")
	}
	return s.namespaces, nil
}

func (s *stubCatalog) ListSources(_ context.Context, namespace string, limit int) ([]string, error) {
	if s.fail {
		return nil, errors.New("catalog unavailable")
	}
	titles := s.sources[namespace]
	if len(titles) > limit {
		titles = titles[:limit]
	}
	return titles, nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Service: "test"})
}
