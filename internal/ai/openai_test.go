package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewOpenAIClient(&ClientConfig{
		Provider:   ProviderOpenAI,
		APIKey:     "sk-test",
		EmbedModel: "text-embedding-3-large",
		Dim:        4,
	})
	c.baseURL = srv.URL
	return c
}

func TestOpenAIEmbedBatch(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		// Return out of order to exercise index-based mapping.
		fmt.Fprint(w, `{"data":[
			{"index":1,"embedding":[4,5,6,7]},
			{"index":0,"embedding":[0,1,2,3]}
		]}`)
	})

	vecs, err := c.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text-embedding-3-large", gotBody["model"])
	assert.Equal(t, float64(4), gotBody["dimensions"])

	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0, 1, 2, 3}, vecs[0])
	assert.Equal(t, []float32{4, 5, 6, 7}, vecs[1])
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})

	vecs, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOpenAIEmbedRateLimited(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Embed(context.Background(), []string{"x"})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 2*time.Second, rl.RetryAfter())
}

func TestOpenAIEmbedRateLimitedWithoutHint(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Embed(context.Background(), []string{"x"})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Zero(t, rl.RetryAfter())
}

func TestOpenAIEmbedProviderError(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid model"}}`)
	})

	_, err := c.Embed(context.Background(), []string{"x"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.Contains(t, pe.Message, "invalid model")
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,2,3,4]}]}`)
	})

	_, err := c.Embed(context.Background(), []string{"a", "b"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "does not match")
}

func TestOpenAIEmbedMissingAPIKey(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI})

	_, err := c.Embed(context.Background(), []string{"x"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "API key")
}

func TestOpenAIModelDefaults(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test"})
	assert.Equal(t, 3072, c.Dim())

	c = NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test", EmbedModel: "text-embedding-ada-002"})
	assert.Equal(t, 1536, c.Dim())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-number"))
}
