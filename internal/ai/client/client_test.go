package client_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go"
	"github.com/robalyx/sentinel/internal/ai/client"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func completionBody(content, finishReason string) string {
	return `{"id":"c1","object":"chat.completion","created":1,"model":"vendor/scam-small",` +
		`"choices":[{"index":0,"finish_reason":"` + finishReason + `","logprobs":null,` +
		`"message":{"role":"assistant","content":` + quote(content) + `,"refusal":null}}]}`
}

func quote(s string) string {
	out, _ := sonic.MarshalString(s)
	return out
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *client.AIClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return client.NewClient(&config.OpenAI{
		BaseURL:       server.URL,
		APIKey:        "test",
		MaxConcurrent: 2,
		ModelMappings: map[string]string{"scam": "vendor/scam-small"},
	}, &config.CircuitBreaker{MaxRequests: 1, Timeout: 60000}, zap.NewNop())
}

func TestChatMapsModel(t *testing.T) {
	t.Parallel()

	var requestedModel atomic.Value

	ai := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		_ = sonic.Unmarshal(body, &req)
		requestedModel.Store(req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody(`{"isScam":false,"confidence":0.1}`, "stop"))
	})

	resp, err := ai.Chat().New(t.Context(), openai.ChatCompletionNewParams{
		Model:    "scam",
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "vendor/scam-small", requestedModel.Load())
	assert.JSONEq(t, `{"isScam":false,"confidence":0.1}`, resp.Choices[0].Message.Content)
}

func TestChatUnknownModel(t *testing.T) {
	t.Parallel()

	ai := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := ai.Chat().New(t.Context(), openai.ChatCompletionNewParams{
		Model:    "missing",
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")},
	})
	require.ErrorIs(t, err, client.ErrNoProvidersAvailable)
}

func TestChatContentFilter(t *testing.T) {
	t.Parallel()

	ai := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody("", "content_filter"))
	})

	_, err := ai.Chat().New(t.Context(), openai.ChatCompletionNewParams{
		Model:    "scam",
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")},
	})
	require.ErrorIs(t, err, client.ErrContentBlocked)
}

func TestChatBreakerOpensWithoutBlocking(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	ai := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	})

	params := openai.ChatCompletionNewParams{
		Model:    "scam",
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")},
	}

	for range 10 {
		_, err := ai.Chat().New(t.Context(), params)
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, ai.BreakerState())

	_, err := ai.Chat().New(t.Context(), params)
	require.ErrorIs(t, err, client.ErrCircuitOpen)
	assert.Equal(t, int32(10), calls.Load())
}
