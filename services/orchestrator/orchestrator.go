// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles and runs the wisdom-engine service.
//
// The package wires the conversation pipeline (intent router, librarian,
// interpreter, safety gate) to its collaborators: the LLM backend, the
// Weaviate knowledge store, embedded rule tables, OpenTelemetry tracing,
// and Prometheus metrics. Construction is all-or-nothing for the pieces
// a chat turn cannot run without (LLM client, rule tables) and degrades
// gracefully for the rest: a missing Weaviate or embedder drops retrieval
// and the catalog endpoint but the service still answers.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, LLMBackend: "openai"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/wwhd-ai/wisdom-engine/pkg/logging"
	"github.com/wwhd-ai/wisdom-engine/services/llm"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/agents"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/agents/rulesets"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/handlers"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/observability"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/pipeline"
	"github.com/wwhd-ai/wisdom-engine/services/orchestrator/routes"
	"github.com/wwhd-ai/wisdom-engine/services/rag"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle contract.
//
// # Limitations
//
//   - Run() blocks until the server stops
//   - No graceful shutdown method yet
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for integration testing.
	// Callers must not register additional routes.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// All fields are optional; New applies defaults for zero values. Values
// normally come from environment variables (see cmd/orchestrator) but can
// be set programmatically for tests.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// LLMBackend selects the LLM provider.
	// Valid values: "openai", "ollama". Default: "openai"
	LLMBackend string

	// WeaviateURL is the Weaviate knowledge store URL.
	// If empty, retrieval and the knowledge catalog are disabled.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "wisdom-otel-collector:4317"
	OTelEndpoint string

	// GroundingPolicy controls how the interpreter treats retrieved
	// context. Valid values: "strict", "loose". Default: "strict"
	GroundingPolicy string

	// RoutingRulesPath overrides the embedded routing rule table with an
	// external YAML file. Empty uses the embedded table.
	RoutingRulesPath string

	// SafetyRulesPath overrides the embedded safety rule table with an
	// external YAML file. Empty uses the embedded table.
	SafetyRulesPath string

	// LogDir enables file logging when non-empty.
	LogDir string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// DisableMetrics turns off the Prometheus registry. Metrics are on
	// by default; tests disable them to avoid duplicate registration.
	DisableMetrics bool
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "openai"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "wisdom-otel-collector:4317"
	}
	if cfg.GroundingPolicy == "" {
		cfg.GroundingPolicy = string(agents.GroundingStrict)
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// All fields are read-only after New returns, so the type is safe for
// concurrent request handling.
type service struct {
	config        Config
	logger        *logging.Logger
	router        *gin.Engine
	llmClient     llm.LLMClient
	store         *rag.WeaviateStore
	routingRules  *rulesets.RoutingRules
	safetyRules   *rulesets.SafetyRules
	pipeline      *pipeline.Pipeline
	metrics       *observability.PipelineMetrics
	tracerCleanup func(context.Context)
}

// New creates a ready-to-run orchestrator Service.
//
// # Description
//
// Initialization order:
//  1. Apply configuration defaults and build the logger
//  2. Initialize OpenTelemetry tracing
//  3. Initialize Prometheus metrics
//  4. Load routing and safety rule tables (embedded or file override)
//  5. Create the LLM client for the configured backend
//  6. Connect to Weaviate if configured (non-fatal on failure)
//  7. Assemble the pipeline and register HTTP routes
//
// Rule table or LLM client failures abort construction; a chat turn
// cannot run without them. Weaviate and embedder failures only log a
// warning and disable retrieval.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if a required component fails to initialize
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}
	s.logger = logging.New(logging.Config{
		Service: "orchestrator",
		LogDir:  s.config.LogDir,
	})

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if !s.config.DisableMetrics {
		s.metrics = observability.InitMetrics()
		s.logger.Info("Initialized Prometheus pipeline metrics")
	}

	if err := s.initRules(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load rule tables: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Optional. Without Weaviate the service answers from the model alone.
	if err := s.initWeaviate(); err != nil {
		s.logger.Warn("Weaviate initialization failed, running without retrieval",
			"error", err)
	}

	s.initPipeline()
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for the internal network
// the collector lives on. Returns a cleanup function to flush spans on
// shutdown.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("wisdom-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRules loads the routing and safety rule tables, preferring file
// overrides when configured.
func (s *service) initRules() error {
	var err error

	if s.config.RoutingRulesPath != "" {
		s.routingRules, err = rulesets.LoadRoutingRulesFile(s.config.RoutingRulesPath)
	} else {
		s.routingRules, err = rulesets.LoadRoutingRules()
	}
	if err != nil {
		return fmt.Errorf("routing rules: %w", err)
	}

	if s.config.SafetyRulesPath != "" {
		s.safetyRules, err = rulesets.LoadSafetyRulesFile(s.config.SafetyRulesPath)
	} else {
		s.safetyRules, err = rulesets.LoadSafetyRules()
	}
	if err != nil {
		return fmt.Errorf("safety rules: %w", err)
	}

	s.logger.Info("Loaded rule tables",
		"namespaces", len(s.routingRules.NamespaceNames()),
		"routing_override", s.config.RoutingRulesPath != "",
		"safety_override", s.config.SafetyRulesPath != "",
	)
	return nil
}

// initLLMClient creates the LLM client for the configured backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		s.logger.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		s.logger.Info("Using Ollama LLM backend")
	default:
		s.logger.Warn("Unknown LLM backend, defaulting to openai",
			"backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewOpenAIClient()
	}

	return err
}

// initWeaviate connects to the Weaviate knowledge store.
//
// Returns nil without connecting when no URL is configured. On success
// the knowledge class schema is ensured for every routing namespace;
// schema failures are logged and skipped so a read-only credential can
// still serve queries.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		s.logger.Info("Weaviate URL not configured, running without retrieval")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	if err := rag.EnsureSchema(client, s.routingRules.NamespaceNames()); err != nil {
		s.logger.Warn("Schema check failed, continuing with existing classes",
			"error", err)
	}

	s.store = rag.NewWeaviateStore(client)
	s.logger.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initPipeline assembles the four conversation stages.
//
// The librarian requires both the store and an embedder; if either is
// unavailable the stage is left nil and the pipeline skips retrieval.
// The interpreter's knowledge catalog is likewise optional.
func (s *service) initPipeline() {
	router := agents.NewRouter(s.llmClient, s.routingRules, s.logger)
	safety := agents.NewSafetyGate(s.llmClient, s.safetyRules, s.logger)

	var retriever pipeline.Retriever
	var catalog rag.Catalog
	if s.store != nil {
		catalog = s.store
		if embedder, err := rag.NewOpenAIEmbedder(); err != nil {
			s.logger.Warn("Embedder initialization failed, running without retrieval",
				"error", err)
		} else {
			retriever = agents.NewLibrarian(embedder, s.store, s.logger)
		}
	}

	policy := agents.ParseGroundingPolicy(s.config.GroundingPolicy)
	interpreter := agents.NewInterpreter(s.llmClient, catalog, policy, s.logger)

	s.pipeline = pipeline.New(router, retriever, interpreter, safety, s.metrics, s.logger)
	s.logger.Info("Pipeline assembled",
		"retrieval_enabled", retriever != nil,
		"grounding_policy", string(policy),
	)
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("wisdom-orchestrator"))

	var catalog rag.Catalog
	if s.store != nil {
		catalog = s.store
	}

	chat := handlers.NewChatHandler(s.pipeline, s.logger)
	knowledge := handlers.NewKnowledgeHandler(catalog, s.routingRules, s.logger)
	routes.SetupRoutes(s.router, chat, knowledge)
}

// cleanup releases resources held by the service. Called when Run exits
// or on initialization failure.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	if s.logger != nil {
		if err := s.logger.Close(); err != nil {
			s.logger.Warn("log file close error", "error", err)
		}
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
