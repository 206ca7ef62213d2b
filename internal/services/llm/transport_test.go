package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/service"
	xerrors "Consilium/pkg/errors"
)

func anthropicServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicTransportCall(t *testing.T) {
	msg := map[string]interface{}{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-20250514",
		"stop_reason": "end_turn",
		"content":     []map[string]string{{"type": "text", "text": validReply}},
		"usage":       map[string]int{"input_tokens": 2400, "output_tokens": 650},
	}
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	srv := anthropicServer(t, http.StatusOK, string(b))

	tr := NewAnthropicTransport(TransportConfig{APIKey: "test-key", BaseURL: srv.URL, MaxTokens: 512})
	raw, err := tr.Call(context.Background(), service.TransportRequest{System: "persona", Prompt: "analyze AAPL"})
	require.NoError(t, err)
	assert.Equal(t, int64(2400), raw.InputTokens)
	assert.Equal(t, int64(650), raw.OutputTokens)
	assert.Equal(t, "end_turn", raw.StopReason)

	_, err = ParseAgentOutput(raw.Text)
	assert.NoError(t, err)
}

func TestAnthropicTransportClassifiesStatus(t *testing.T) {
	errBody := `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`

	srv := anthropicServer(t, http.StatusTooManyRequests, errBody)
	_, err := NewAnthropicTransport(TransportConfig{APIKey: "test-key", BaseURL: srv.URL}).
		Call(context.Background(), service.TransportRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrRateLimited)
	assert.True(t, xerrors.IsRetryable(err))

	srv = anthropicServer(t, http.StatusUnauthorized, errBody)
	_, err = NewAnthropicTransport(TransportConfig{APIKey: "test-key", BaseURL: srv.URL}).
		Call(context.Background(), service.TransportRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrPermanent)
}

func TestOpenAITransportCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1735833600,
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": validReply},
			}},
			"usage": map[string]int{"prompt_tokens": 900, "completion_tokens": 300, "total_tokens": 1200},
		})
	}))
	defer srv.Close()

	tr := NewOpenAITransport(TransportConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-4o-mini", MaxTokens: 256})
	raw, err := tr.Call(context.Background(), service.TransportRequest{System: "persona", Prompt: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, int64(900), raw.InputTokens)
	assert.Equal(t, "stop", raw.StopReason)
}

func TestNewTransportRejectsUnknownProvider(t *testing.T) {
	_, err := NewTransport(TransportConfig{Provider: "gemini"})
	assert.ErrorIs(t, err, xerrors.ErrConfiguration)

	tr, err := NewTransport(TransportConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "openai", tr.Name())
}
