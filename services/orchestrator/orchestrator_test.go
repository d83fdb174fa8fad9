// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port, "default port should be 12210")
	assert.Equal(t, "openai", result.LLMBackend, "default LLM backend should be openai")
	assert.Equal(t, "wisdom-otel-collector:4317", result.OTelEndpoint,
		"default OTel endpoint should be wisdom-otel-collector:4317")
	assert.Equal(t, "strict", result.GroundingPolicy,
		"default grounding policy should be strict")
	assert.False(t, result.DisableMetrics, "metrics should be enabled by default")
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:            8080,
		LLMBackend:      "ollama",
		OTelEndpoint:    "custom-collector:4317",
		WeaviateURL:     "http://weaviate:8080",
		GroundingPolicy: "loose",
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "ollama", result.LLMBackend)
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint)
	assert.Equal(t, "http://weaviate:8080", result.WeaviateURL)
	assert.Equal(t, "loose", result.GroundingPolicy)
}

func TestApplyConfigDefaults_PartialConfig(t *testing.T) {
	result := applyConfigDefaults(Config{Port: 9999})

	assert.Equal(t, 9999, result.Port, "custom port should be preserved")
	assert.Equal(t, "openai", result.LLMBackend, "default LLM backend should be applied")
	assert.Equal(t, "wisdom-otel-collector:4317", result.OTelEndpoint,
		"default OTel endpoint should be applied")
}

// =============================================================================
// Rule Table Loading Tests
// =============================================================================

func TestInitRules_EmbeddedTables(t *testing.T) {
	s := &service{
		config: applyConfigDefaults(Config{}),
		logger: logging.Default(),
	}

	err := s.initRules()

	require.NoError(t, err)
	require.NotNil(t, s.routingRules)
	require.NotNil(t, s.safetyRules)
	assert.Contains(t, s.routingRules.NamespaceNames(), "general",
		"embedded routing table should include the general namespace")
}

func TestInitRules_MissingOverrideFile(t *testing.T) {
	s := &service{
		config: applyConfigDefaults(Config{
			RoutingRulesPath: "/nonexistent/routing.yaml",
		}),
		logger: logging.Default(),
	}

	err := s.initRules()

	require.Error(t, err, "a configured but unreadable override should fail loudly")
	assert.Contains(t, err.Error(), "routing rules")
}

// =============================================================================
// Weaviate Initialization Tests
// =============================================================================

func TestInitWeaviate_EmptyURLRunsWithoutRetrieval(t *testing.T) {
	s := &service{
		config: applyConfigDefaults(Config{}),
		logger: logging.Default(),
	}

	err := s.initWeaviate()

	require.NoError(t, err, "missing Weaviate URL is not an error")
	assert.Nil(t, s.store, "store should stay nil without a URL")
}

func TestInitWeaviate_QuotedEmptyURL(t *testing.T) {
	// Container runtimes sometimes pass quoted empty strings literally.
	s := &service{
		config: applyConfigDefaults(Config{WeaviateURL: `""`}),
		logger: logging.Default(),
	}

	err := s.initWeaviate()

	require.NoError(t, err)
	assert.Nil(t, s.store)
}

func TestInitWeaviate_InvalidURL(t *testing.T) {
	s := &service{
		config: applyConfigDefaults(Config{WeaviateURL: "http://"}),
		logger: logging.Default(),
	}

	err := s.initWeaviate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid Weaviate URL")
}
