// Package llm talks to the Anthropic Messages API, blocking or
// streaming. Everything above it depends only on the Provider
// interface, so the backend stays swappable.
package llm

import "context"

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StopReason describes why the model stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to Complete and Stream.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Token is one streaming event. Exactly one terminal token arrives per
// stream: either Done=true carrying final usage counts, or Error set.
type Token struct {
	Text         string
	Done         bool
	Error        error
	InputTokens  int // set on the Done token
	OutputTokens int // set on the Done token
}

// Provider is the language model abstraction the orchestrator builds on.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a completion request and delivers tokens to out. The
	// channel is closed after the terminal token; the caller must drain
	// it.
	Stream(ctx context.Context, req CompletionRequest, out chan<- Token) error

	// ModelID returns the current model identifier string.
	ModelID() string
}
