package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/daybook-hq/daybook/internal/errors"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
	defaultModel        = "claude-sonnet-4-5"
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// AnthropicOption configures the provider.
type AnthropicOption func(*AnthropicProvider)

func WithModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) { p.model = model }
}

func WithMaxTokens(n int) AnthropicOption {
	return func(p *AnthropicProvider) { p.maxTokens = n }
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

func WithBaseURL(url string) AnthropicOption {
	return func(p *AnthropicProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

func WithLogger(l zerolog.Logger) AnthropicOption {
	return func(p *AnthropicProvider) { p.logger = l }
}

// NewAnthropicProvider constructs a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:    apiKey,
		baseURL:   anthropicAPIBase,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AnthropicProvider) ModelID() string { return p.model }

// ---- Anthropic wire types ----

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) buildRequest(req CompletionRequest, stream bool) anthropicRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	return anthropicRequest{
		Model:       model,
		MaxTokens:   maxTok,
		System:      req.SystemPrompt,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (p *AnthropicProvider) doRequest(ctx context.Context, ar anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic http: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.upstreamError(resp)
	}
	return resp, nil
}

// upstreamError maps a non-200 response onto the error taxonomy so
// callers can tell "the provider throttled us" from our own limits.
func (p *AnthropicProvider) upstreamError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := http.StatusText(resp.StatusCode)
	var ae anthropicError
	if err := json.Unmarshal(raw, &ae); err == nil && ae.Error.Message != "" {
		message = ae.Error.Message
	}

	ue := apperrors.NewUpstreamError("anthropic", resp.StatusCode, message)
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		ue.RetryAfter = time.Duration(secs) * time.Second
	}

	p.logger.Warn().
		Int("status", resp.StatusCode).
		Str("message", message).
		Msg("anthropic request failed")
	return ue
}

// Complete sends a blocking completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.doRequest(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	out := &CompletionResponse{
		StopReason:   ar.StopReason,
		InputTokens:  ar.Usage.InputTokens,
		OutputTokens: ar.Usage.OutputTokens,
	}
	for _, block := range ar.Content {
		if block.Type == "text" {
			out.Text += block.Text
		}
	}

	p.logger.Debug().
		Str("model", p.model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("anthropic complete")
	return out, nil
}

// Stream sends a completion request and forwards server-sent events to
// out. Text deltas arrive as they are generated; the terminal Done
// token carries the usage totals from the stream's bookkeeping events.
// deliver hands a terminal token to the consumer, giving up instead of
// blocking when the consumer already walked away.
func deliver(ctx context.Context, out chan<- Token, tok Token) {
	select {
	case out <- tok:
	case <-ctx.Done():
	}
}

func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest, out chan<- Token) error {
	resp, err := p.doRequest(ctx, p.buildRequest(req, true))
	if err != nil {
		return err
	}

	go func() {
		defer resp.Body.Close()
		defer close(out)

		var inTokens, outTokens int
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var ev struct {
				Type    string `json:"type"`
				Message struct {
					Usage anthropicUsage `json:"usage"`
				} `json:"message"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Usage anthropicUsage `json:"usage"`
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "message_start":
				inTokens = ev.Message.Usage.InputTokens
			case "content_block_delta":
				if ev.Delta.Text == "" {
					continue
				}
				select {
				case out <- Token{Text: ev.Delta.Text}:
				case <-ctx.Done():
					deliver(ctx, out, Token{Error: ctx.Err()})
					return
				}
			case "message_delta":
				if ev.Usage.OutputTokens > 0 {
					outTokens = ev.Usage.OutputTokens
				}
			case "error":
				deliver(ctx, out, Token{Error: apperrors.NewUpstreamError("anthropic", http.StatusBadGateway, ev.Error.Message)})
				return
			case "message_stop":
				deliver(ctx, out, Token{Done: true, InputTokens: inTokens, OutputTokens: outTokens})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			deliver(ctx, out, Token{Error: err})
			return
		}
		// Stream ended without message_stop
		deliver(ctx, out, Token{Error: io.ErrUnexpectedEOF})
	}()

	return nil
}
