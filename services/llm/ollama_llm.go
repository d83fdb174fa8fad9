package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("wisdom.llm.ollama")

type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	CreatedAt       string  `json:"created_at"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

func NewOllamaClient() (*OllamaClient, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	model := os.Getenv("OLLAMA_MODEL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	if model == "" {
		slog.Warn("OLLAMA_MODEL not set, defaulting to gpt-oss")
		model = "gpt-oss"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "default_model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// GenerateChat implements the LLMClient interface.
func (o *OllamaClient) GenerateChat(ctx context.Context, messages []Message, params GenerationParams) (string, Usage, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.GenerateChat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	slog.Debug("Generating chat completion via Ollama", "model", o.model)

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  o.buildOptions(params),
	}

	respBody, err := o.post(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", Usage{}, err
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", Usage{}, fmt.Errorf("failed to parse response from Ollama: %w", err)
	}

	usage := Usage{
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
	}
	return chatResp.Message.Content, usage, nil
}

// GenerateChatStream implements the LLMClient interface.
//
// Ollama streams newline-delimited JSON objects; each line carries one
// message fragment. The final object has done=true and token counts.
func (o *OllamaClient) GenerateChatStream(ctx context.Context, messages []Message, params GenerationParams, onDelta StreamHandler) (string, Usage, error) {
	if onDelta == nil {
		return o.GenerateChat(ctx, messages, params)
	}

	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.GenerateChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Options:  o.buildOptions(params),
	}
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama API call failed", "error", err)
		return "", Usage{}, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", Usage{}, err
	}

	var sb strings.Builder
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			slog.Warn("Skipping malformed stream chunk from Ollama", "error", err)
			continue
		}
		if chunk.Message.Content != "" {
			sb.WriteString(chunk.Message.Content)
			onDelta(chunk.Message.Content)
		}
		if chunk.Done {
			usage.PromptTokens = chunk.PromptEvalCount
			usage.CompletionTokens = chunk.EvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sb.String(), usage, fmt.Errorf("Ollama stream read failed: %w", err)
	}

	return sb.String(), usage, nil
}

func (o *OllamaClient) buildOptions(params GenerationParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

func (o *OllamaClient) post(ctx context.Context, payload ollamaChatRequest) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		slog.Error("Ollama API call failed", "error", err)
		return nil, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from Ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

var (
	_ LLMClient = (*OpenAIClient)(nil)
	_ LLMClient = (*OllamaClient)(nil)
)
