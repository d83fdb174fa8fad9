// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the wisdom-engine HTTP server.
//
// This is the main entry point for the containerized orchestrator service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: openai)
//   - WEAVIATE_SERVICE_URL: Weaviate knowledge store URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: wisdom-otel-collector:4317)
//   - GROUNDING_POLICY: interpreter grounding - strict, loose (default: strict)
//   - ROUTING_RULES_PATH: YAML override for the routing rule table (optional)
//   - SAFETY_RULES_PATH: YAML override for the safety rule table (optional)
//   - LOG_DIR: directory for JSON log files (optional, stderr only if unset)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/wwhd-ai/wisdom-engine/services/orchestrator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := orchestrator.Config{
		Port:             getEnvInt("ORCHESTRATOR_PORT", 12210),
		LLMBackend:       getEnvString("LLM_BACKEND_TYPE", "openai"),
		WeaviateURL:      os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "wisdom-otel-collector:4317"),
		GroundingPolicy:  getEnvString("GROUNDING_POLICY", "strict"),
		RoutingRulesPath: os.Getenv("ROUTING_RULES_PATH"),
		SafetyRulesPath:  os.Getenv("SAFETY_RULES_PATH"),
		LogDir:           os.Getenv("LOG_DIR"),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
		"grounding_policy", cfg.GroundingPolicy,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
