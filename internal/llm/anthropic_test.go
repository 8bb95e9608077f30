package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/daybook-hq/daybook/internal/errors"
)

func TestComplete_Success(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		fmt.Fprint(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"content": [
				{"type": "text", "text": "Hello, "},
				{"type": "text", "text": "world."}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithBaseURL(srv.URL), WithModel("test-model"))
	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "You are terse.",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
		Temperature:  0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, world.", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)

	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "You are terse.", gotReq.System)
	assert.Equal(t, 0.5, gotReq.Temperature)
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestComplete_RequestOverridesDefaults(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"content":[],"stop_reason":"end_turn","usage":{}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithBaseURL(srv.URL), WithMaxTokens(100))
	_, err := p.Complete(context.Background(), CompletionRequest{
		Model:     "claude-haiku-4",
		MaxTokens: 256,
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku-4", gotReq.Model)
	assert.Equal(t, 256, gotReq.MaxTokens)
}

func TestComplete_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"overloaded"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var ue *apperrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "anthropic", ue.Service)
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
	assert.Equal(t, "overloaded", ue.Message)
	assert.Equal(t, 30*time.Second, ue.RetryAfter)
	assert.True(t, ue.Throttled())
	assert.True(t, apperrors.IsRetryable(err))
}

func TestComplete_UpstreamErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	var ue *apperrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	assert.Equal(t, "Service Unavailable", ue.Message)
}

func sseBody(events ...string) string {
	out := ""
	for _, ev := range events {
		out += "data: " + ev + "\n\n"
	}
	return out
}

func TestStream_DeltasThenDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"type":"message_start","message":{"usage":{"input_tokens":9,"output_tokens":0}}}`,
			`{"type":"content_block_start","content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop"}`,
			`{"type":"message_delta","usage":{"output_tokens":4}}`,
			`{"type":"message_stop"}`,
		))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithBaseURL(srv.URL))
	out := make(chan Token, 16)
	err := p.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, out)
	require.NoError(t, err)

	var text string
	var done Token
	for tok := range out {
		require.NoError(t, tok.Error)
		if tok.Done {
			done = tok
			continue
		}
		text += tok.Text
	}

	assert.Equal(t, "Hello", text)
	assert.True(t, done.Done)
	assert.Equal(t, 9, done.InputTokens)
	assert.Equal(t, 4, done.OutputTokens)
}

func TestStream_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`,
			`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
		))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithBaseURL(srv.URL))
	out := make(chan Token, 16)
	require.NoError(t, p.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, out))

	var last Token
	for tok := range out {
		last = tok
	}
	require.Error(t, last.Error)

	var ue *apperrors.UpstreamError
	require.ErrorAs(t, last.Error, &ue)
	assert.Equal(t, "overloaded", ue.Message)
}

func TestStream_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(
			`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"cut off"}}`,
		))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithBaseURL(srv.URL))
	out := make(chan Token, 16)
	require.NoError(t, p.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, out))

	var last Token
	for tok := range out {
		last = tok
	}
	assert.ErrorIs(t, last.Error, io.ErrUnexpectedEOF)
}

func TestStream_HTTPErrorReturnsBeforeGoroutine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithBaseURL(srv.URL))
	out := make(chan Token, 16)
	err := p.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, out)
	require.Error(t, err)

	var ue *apperrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Throttled())
}

func TestModelID(t *testing.T) {
	p := NewAnthropicProvider("k")
	assert.Equal(t, defaultModel, p.ModelID())

	p = NewAnthropicProvider("k", WithModel("claude-haiku-4"))
	assert.Equal(t, "claude-haiku-4", p.ModelID())
}
