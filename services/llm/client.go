package llm

import "context"

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged turn in a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single generation call. Nil fields use the
// backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Usage reports best-effort token accounting for one call. Backends that
// do not report usage leave the fields at zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StreamHandler receives incremental response text during a streaming
// generation. Deltas arrive in display order and may split words.
type StreamHandler func(delta string)

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// GenerateChat runs one chat completion over role-tagged messages and
	// returns the full response text.
	GenerateChat(ctx context.Context, messages []Message, params GenerationParams) (string, Usage, error)

	// GenerateChatStream runs one chat completion, forwarding deltas to
	// onDelta as they arrive, and returns the accumulated response text.
	// onDelta may be nil, in which case this behaves like GenerateChat.
	GenerateChatStream(ctx context.Context, messages []Message, params GenerationParams, onDelta StreamHandler) (string, Usage, error)
}
