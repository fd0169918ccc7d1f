// Package ai provides embedding clients for the indexing pipeline and the
// query path. All providers are batchable and interchangeable behind Client.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahsantfw/Vector-search-awards/internal/chunker"
)

// Client turns text into fixed-length vectors.
type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Provider is the enumeration of supported embedding providers.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for embedding clients.
type ClientConfig struct {
	Provider   Provider
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string

	// MaxRPS caps embedding requests per second; 0 disables the limiter.
	MaxRPS float64
}

// RateLimitError reports a provider 429. RetryAfter carries the server's
// wait hint when one was supplied.
type RateLimitError struct {
	Retry time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Retry > 0 {
		return fmt.Sprintf("embedding provider rate limited, retry after %s", e.Retry)
	}
	return "embedding provider rate limited"
}

// RetryAfter implements retry.Hinted.
func (e *RateLimitError) RetryAfter() time.Duration { return e.Retry }

// ProviderError reports a non-rate-limit provider failure.
type ProviderError struct {
	Provider Provider
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s embedding failed (status %d): %s", e.Provider, e.Status, e.Message)
}

// NewClient creates an embedding client for the configured provider. When
// MaxRPS is set, the client is wrapped with a request rate limiter.
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	var c Client
	var err error
	switch config.Provider {
	case ProviderOpenAI:
		c = NewOpenAIClient(config)
	case ProviderVertexAI:
		c, err = NewVertexAIClient(ctx, config)
	case ProviderStub:
		c = NewStubClient(config.Dim)
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
	if err != nil {
		return nil, err
	}

	if config.MaxRPS > 0 {
		c = &limitedClient{
			inner:   c,
			limiter: rate.NewLimiter(rate.Limit(config.MaxRPS), 1),
		}
	}
	return c, nil
}

// TokenizerFor returns the tokenizer matching a provider's embedding model.
// Every hosted provider currently gets the whitespace approximation.
func TokenizerFor(p Provider) chunker.Tokenizer {
	return chunker.Whitespace{}
}

// limitedClient throttles Embed calls with a token bucket. Exceeding the
// budget queues the caller rather than failing it.
type limitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

func (l *limitedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.Embed(ctx, texts)
}

func (l *limitedClient) Dim() int { return l.inner.Dim() }

// StubClient returns zero vectors. Used for local development and tests.
type StubClient struct {
	dim int
}

// NewStubClient creates a StubClient with the given dimension.
func NewStubClient(dim int) *StubClient {
	if dim == 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed returns a zero vector per input text.
func (s *StubClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

// Dim returns the embedding dimension.
func (s *StubClient) Dim() int { return s.dim }
