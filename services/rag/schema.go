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
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// KnowledgeClassSchema returns the class definition for one knowledge
// namespace. All namespaces share the same property layout; only the class
// name differs.
//
// Vectorizer is "none": embeddings are computed by the Embedder and
// supplied with each object, matching the ingestion tooling.
func KnowledgeClassSchema(namespace string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassForNamespace(namespace),
		Description: fmt.Sprintf("Knowledge passages for the %s namespace.", namespace),
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The passage text.",
				Tokenization: "word",
			},
			{
				Name:            "source_title",
				DataType:        []string{"text"},
				Description:     "Human-readable title of the source document or video.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source_url",
				DataType:        []string{"text"},
				Description:     "Canonical URL of the source, if any.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "youtube_url",
				DataType:        []string{"text"},
				Description:     "YouTube URL when the source is a video transcript.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "transcript_timestamp",
				DataType:        []string{"text"},
				Description:     "MM:SS position within the transcript, if any.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "tags",
				DataType:        []string{"text[]"},
				Description:     "Free-form topic tags assigned at ingestion.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of this chunk within its source document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "checksum",
				DataType:        []string{"text"},
				Description:     "Content checksum for idempotent re-ingestion.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureSchema creates the backing class for each namespace that does not
// already have one. Existing classes are left untouched.
//
// # Outputs
//
//   - error: Non-nil if a class creation fails. A failed existence check
//     for one namespace does not stop the others.
func EnsureSchema(client *weaviate.Client, namespaces []string) error {
	var firstErr error
	for _, namespace := range namespaces {
		class := KnowledgeClassSchema(namespace)
		slog.Info("Checking schema", "class", class.Class)

		exists, err := client.Schema().ClassExistenceChecker().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Warn("Schema existence check failed, skipping", "class", class.Class, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if exists {
			slog.Info("Schema already exists", "class", class.Class)
			continue
		}

		slog.Info("Schema not found, creating it", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
			slog.Error("Failed to create schema", "class", class.Class, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
			}
			continue
		}
		slog.Info("Successfully created schema", "class", class.Class)
	}
	return firstErr
}
