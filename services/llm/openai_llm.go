package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openaiTracer = otel.Tracer("wisdom.llm.openai")

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// GenerateChat implements the LLMClient interface.
func (o *OpenAIClient) GenerateChat(ctx context.Context, messages []Message, params GenerationParams) (string, Usage, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.GenerateChat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.messages", len(messages)),
	)
	slog.Debug("Generating chat completion via OpenAI", "model", o.model)

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(messages, params, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return "", Usage{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", Usage{}, fmt.Errorf("OpenAI returned no choices")
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, usage, nil
}

// GenerateChatStream implements the LLMClient interface.
//
// Deltas are forwarded to onDelta as they arrive from the API. The full
// accumulated text is returned so callers can run post-processing on the
// complete response. Token usage is estimated from delta count when the
// API omits usage on streamed responses.
func (o *OpenAIClient) GenerateChatStream(ctx context.Context, messages []Message, params GenerationParams, onDelta StreamHandler) (string, Usage, error) {
	if onDelta == nil {
		return o.GenerateChat(ctx, messages, params)
	}

	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.GenerateChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	req := o.buildRequest(messages, params, true)
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", Usage{}, fmt.Errorf("OpenAI stream start failed: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	var usage Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return sb.String(), usage, fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			sb.WriteString(delta)
			onDelta(delta)
		}
	}

	span.SetAttributes(attribute.Int("llm.completion_tokens", usage.CompletionTokens))
	return sb.String(), usage, nil
}

func (o *OpenAIClient) buildRequest(messages []Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		switch role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			role = openai.ChatMessageRoleUser
		}
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: apiMessages,
		Stream:   stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}
