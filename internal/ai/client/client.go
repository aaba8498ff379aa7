package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/robalyx/sentinel/internal/setup/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// defaultMaxTokens bounds completion size for classifier requests.
const defaultMaxTokens = 512

// AIClient implements the Client interface on an OpenAI-compatible API.
// Requests are bounded by a semaphore and guarded by a circuit breaker.
// An open breaker fails requests immediately.
type AIClient struct {
	client        *openai.Client
	breaker       *gobreaker.CircuitBreaker
	semaphore     *semaphore.Weighted
	modelMappings map[string]string
	logger        *zap.Logger
}

// NewClient creates a new AIClient.
func NewClient(cfg *config.OpenAI, breakerCfg *config.CircuitBreaker, logger *zap.Logger, opts ...option.RequestOption) *AIClient {
	logger = logger.Named("ai_client")

	requestOpts := append([]option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}, opts...)

	client := openai.NewClient(requestOpts...)

	settings := gobreaker.Settings{
		Name:        "openai",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    time.Duration(breakerCfg.Interval) * time.Millisecond,
		Timeout:     time.Duration(breakerCfg.Timeout) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Cancellations and filtered content say nothing about provider health.
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, ErrContentBlocked)
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &AIClient{
		client:        &client,
		breaker:       gobreaker.NewCircuitBreaker(settings),
		semaphore:     semaphore.NewWeighted(maxConcurrent),
		modelMappings: cfg.ModelMappings,
		logger:        logger,
	}
}

// Chat returns a ChatCompletions implementation.
func (c *AIClient) Chat() ChatCompletions {
	return &chatCompletions{client: c}
}

// BreakerState returns the current circuit breaker state.
func (c *AIClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// chatCompletions implements the ChatCompletions interface.
type chatCompletions struct {
	client *AIClient
}

// New makes a chat completion request.
func (c *chatCompletions) New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	originalModel := params.Model

	mappedModel, ok := c.client.modelMappings[originalModel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvidersAvailable, originalModel)
	}

	params.Model = mappedModel
	params.SetExtraFields(ExtraFields(mappedModel, defaultMaxTokens))

	if err := c.client.semaphore.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire semaphore: %w", err)
	}
	defer c.client.semaphore.Release(1)

	result, err := c.client.breaker.Execute(func() (any, error) {
		resp, err := c.client.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}

		if err := c.checkBlockReasons(resp, params.Model); err != nil {
			return nil, err
		}

		return resp, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.client.logger.Warn("Circuit breaker rejected request", zap.String("model", params.Model))
			return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		case errors.Is(err, ErrContentBlocked):
			return nil, err
		default:
			c.client.logger.Warn("Failed to make request",
				zap.Error(err),
				zap.String("model", params.Model))
			return nil, err
		}
	}

	return result.(*openai.ChatCompletion), nil
}

// checkBlockReasons checks if the response was blocked by content filtering.
func (c *chatCompletions) checkBlockReasons(resp *openai.ChatCompletion, model string) error {
	if resp == nil || len(resp.Choices) == 0 {
		c.client.logger.Warn("Received empty response", zap.String("model", model))
		return fmt.Errorf("%w: received empty response", ErrContentBlocked)
	}

	switch finishReason := resp.Choices[0].FinishReason; finishReason {
	case "stop", "length":
		return nil
	case "content_filter":
		c.client.logger.Warn("Content blocked", zap.String("model", model))
		return ErrContentBlocked
	default:
		c.client.logger.Warn("Unknown finish reason",
			zap.String("model", model),
			zap.String("finishReason", finishReason))
		return fmt.Errorf("%w: finish reason %q", ErrContentBlocked, finishReason)
	}
}
