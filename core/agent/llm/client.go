// Package llm wraps the OpenAI API for classification, subject gating,
// prototype expansion and embeddings, behind a circuit breaker.
package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	embeddingDim   int
	maxTokens      int
	temperature    float32
	chatTimeout    time.Duration
	embedTimeout   time.Duration
	breaker        *gobreaker.CircuitBreaker
}

type ClientConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	EmbeddingDim   int
	MaxTokens      int
	Temperature    float64
	ChatTimeout    time.Duration
	EmbedTimeout   time.Duration
}

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

func NewClient(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	chatTimeout := cfg.ChatTimeout
	if chatTimeout == 0 {
		chatTimeout = 30 * time.Second
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout == 0 {
		embedTimeout = 5 * time.Second
	}

	return &Client{
		client:         openai.NewClient(cfg.APIKey),
		model:          model,
		embeddingModel: embeddingModel,
		embeddingDim:   cfg.EmbeddingDim,
		maxTokens:      maxTokens,
		temperature:    float32(temperature),
		chatTimeout:    chatTimeout,
		embedTimeout:   embedTimeout,
		breaker:        breaker,
	}
}

// Complete sends a system+user prompt pair and returns the raw assistant text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: system,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: user,
				},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Embed returns the embedding vector for a single input.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.embeddingModel),
			Input: texts,
		})
		if err != nil {
			return nil, err
		}
		vecs := make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vecs[i] = data.Embedding
		}
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}
	vecs := result.([][]float32)
	if err := validateDims(vecs, c.embeddingDim); err != nil {
		return nil, err
	}
	return vecs, nil
}

// validateDims rejects vectors whose length disagrees with the
// configured dimensionality; a mismatch would corrupt the vector
// columns downstream.
func validateDims(vecs [][]float32, want int) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), want)
		}
	}
	return nil
}
