package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const openAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"

// OpenAIClient embeds text against the OpenAI-compatible embeddings API.
type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client

	// baseURL is overridable for tests and compatible gateways.
	baseURL string
}

// NewOpenAIClient creates an OpenAI embeddings client with model defaults.
func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-large"
	}
	if config.Dim == 0 {
		switch config.EmbedModel {
		case "text-embedding-3-large":
			config.Dim = 3072
		case "text-embedding-ada-002":
			config.Dim = 1536
		default:
			config.Dim = 1536
		}
	}

	transport := &http.Transport{}
	// Corporate proxies sometimes need this.
	if skipTLS, _ := strconv.ParseBool(os.Getenv("AWARDSEARCH_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &OpenAIClient{
		config:  config,
		http:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		baseURL: openAIEmbeddingsURL,
	}
}

// Embed submits one batch of texts and returns their vectors in input order.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: "API key unset"}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"input":      texts,
		"model":      c.config.EmbedModel,
		"dimensions": c.config.Dim,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Retry: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, &ProviderError{Provider: ProviderOpenAI, Status: resp.StatusCode, Message: msg}
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: ProviderOpenAI,
			Status:   resp.StatusCode,
			Message:  "embedding count does not match input count",
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &ProviderError{Provider: ProviderOpenAI, Message: "embedding index out of range"}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Dim returns the embedding dimension.
func (c *OpenAIClient) Dim() int { return c.config.Dim }

func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}

// parseRetryAfter handles the delay-seconds form of the Retry-After header.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
