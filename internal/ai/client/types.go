package client

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
)

var (
	ErrNoProvidersAvailable = errors.New("no providers available")
	ErrContentBlocked       = errors.New("content was blocked by the provider")
	ErrCircuitOpen          = errors.New("circuit breaker is open")
)

// Client provides a unified interface for making AI requests.
type Client interface {
	Chat() ChatCompletions
}

// ChatCompletions provides chat completion methods.
type ChatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}
