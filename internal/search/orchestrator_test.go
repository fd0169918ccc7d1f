package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

type fakeEmbedder struct {
	embedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embedFunc != nil {
		return f.embedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dim() int { return 3 }

type fakeLexical struct {
	searchFunc func(ctx context.Context, query string, k int) ([]models.LexicalHit, error)
	calls      int
}

func (f *fakeLexical) LexicalSearch(ctx context.Context, query string, k int) ([]models.LexicalHit, error) {
	f.calls++
	return f.searchFunc(ctx, query, k)
}

type fakeSemantic struct {
	searchFunc func(ctx context.Context, vec []float32, k int) ([]models.SemanticHit, error)
	calls      int
}

func (f *fakeSemantic) SemanticSearch(ctx context.Context, vec []float32, k int) ([]models.SemanticHit, error) {
	f.calls++
	return f.searchFunc(ctx, vec, k)
}

func newTestService(lexical *fakeLexical, semantic *fakeSemantic) *Service {
	return NewService(&fakeEmbedder{}, lexical, semantic, Options{
		DefaultTopK: 10,
		MaxTopK:     100,
		Alpha:       0.5,
		Beta:        10.0,
	})
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	svc := newTestService(
		&fakeLexical{searchFunc: func(context.Context, string, int) ([]models.LexicalHit, error) { return nil, nil }},
		&fakeSemantic{searchFunc: func(context.Context, []float32, int) ([]models.SemanticHit, error) { return nil, nil }},
	)

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := svc.Search(context.Background(), q, Params{})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	}
}

func TestSearchQueriesBothSides(t *testing.T) {
	lexical := &fakeLexical{searchFunc: func(_ context.Context, q string, k int) ([]models.LexicalHit, error) {
		return []models.LexicalHit{lex("A", 1.0)}, nil
	}}
	semantic := &fakeSemantic{searchFunc: func(_ context.Context, vec []float32, k int) ([]models.SemanticHit, error) {
		return []models.SemanticHit{sem("A", 0, 0.8), sem("B", 0, 0.6)}, nil
	}}
	svc := newTestService(lexical, semantic)

	resp, err := svc.Search(context.Background(), "solar research", Params{})
	require.NoError(t, err)

	assert.Equal(t, 1, lexical.calls)
	assert.Equal(t, 1, semantic.calls)
	assert.Equal(t, "solar research", resp.Query)
	assert.Equal(t, []string{"A", "B"}, awardIDs(resp.HybridResults))
	assert.Len(t, resp.LexicalResults, 1)
	assert.Len(t, resp.SemanticResults, 2)
	assert.False(t, resp.Metadata.Degraded)
	assert.Equal(t, 2, resp.Metadata.HybridCount)
	assert.GreaterOrEqual(t, resp.Metadata.SearchTimeMs, 0.0)
}

func TestSearchDegradesWhenLexicalFails(t *testing.T) {
	lexical := &fakeLexical{searchFunc: func(context.Context, string, int) ([]models.LexicalHit, error) {
		return nil, errors.New("connection refused")
	}}
	semantic := &fakeSemantic{searchFunc: func(context.Context, []float32, int) ([]models.SemanticHit, error) {
		return []models.SemanticHit{sem("A", 0, 0.8)}, nil
	}}
	svc := newTestService(lexical, semantic)

	resp, err := svc.Search(context.Background(), "fusion energy", Params{})
	require.NoError(t, err)

	assert.True(t, resp.Metadata.Degraded)
	assert.Contains(t, resp.Metadata.LexicalError, "connection refused")
	assert.Empty(t, resp.Metadata.SemanticError)
	assert.Empty(t, resp.LexicalResults)
	assert.Equal(t, []string{"A"}, awardIDs(resp.HybridResults))
}

func TestSearchDegradesWhenSemanticFails(t *testing.T) {
	lexical := &fakeLexical{searchFunc: func(context.Context, string, int) ([]models.LexicalHit, error) {
		return []models.LexicalHit{lex("A", 1.0)}, nil
	}}
	semantic := &fakeSemantic{searchFunc: func(context.Context, []float32, int) ([]models.SemanticHit, error) {
		return nil, errors.New("index missing")
	}}
	svc := newTestService(lexical, semantic)

	resp, err := svc.Search(context.Background(), "battery storage", Params{})
	require.NoError(t, err)

	assert.True(t, resp.Metadata.Degraded)
	assert.Contains(t, resp.Metadata.SemanticError, "index missing")
	assert.Equal(t, []string{"A"}, awardIDs(resp.HybridResults))
	assert.Empty(t, resp.SemanticResults)
}

func TestSearchDegradesWhenEmbeddingFails(t *testing.T) {
	lexical := &fakeLexical{searchFunc: func(context.Context, string, int) ([]models.LexicalHit, error) {
		return []models.LexicalHit{lex("A", 1.0)}, nil
	}}
	semantic := &fakeSemantic{searchFunc: func(context.Context, []float32, int) ([]models.SemanticHit, error) {
		return []models.SemanticHit{sem("A", 0, 0.9)}, nil
	}}
	svc := NewService(&fakeEmbedder{
		embedFunc: func(context.Context, []string) ([][]float32, error) {
			return nil, errors.New("provider down")
		},
	}, lexical, semantic, Options{Alpha: 0.5, Beta: 10})

	resp, err := svc.Search(context.Background(), "grid", Params{})
	require.NoError(t, err)

	assert.True(t, resp.Metadata.Degraded)
	assert.Contains(t, resp.Metadata.SemanticError, "provider down")
	assert.Zero(t, semantic.calls)
}

func TestSearchFailsWhenBothSidesFail(t *testing.T) {
	lexical := &fakeLexical{searchFunc: func(context.Context, string, int) ([]models.LexicalHit, error) {
		return nil, errors.New("lexical down")
	}}
	semantic := &fakeSemantic{searchFunc: func(context.Context, []float32, int) ([]models.SemanticHit, error) {
		return nil, errors.New("semantic down")
	}}
	svc := newTestService(lexical, semantic)

	_, err := svc.Search(context.Background(), "anything", Params{})
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestSearchTopKDefaultsAndClamping(t *testing.T) {
	var gotK int
	lexical := &fakeLexical{searchFunc: func(_ context.Context, _ string, k int) ([]models.LexicalHit, error) {
		gotK = k
		return nil, nil
	}}
	semantic := &fakeSemantic{searchFunc: func(context.Context, []float32, int) ([]models.SemanticHit, error) {
		return nil, nil
	}}
	svc := newTestService(lexical, semantic)

	_, err := svc.Search(context.Background(), "q", Params{})
	require.NoError(t, err)
	assert.Equal(t, 10, gotK)

	_, err = svc.Search(context.Background(), "q", Params{TopK: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, gotK)

	_, err = svc.Search(context.Background(), "q", Params{TopK: -3})
	require.NoError(t, err)
	assert.Equal(t, 10, gotK)
}

func TestSearchExplicitZeroWeightsHonored(t *testing.T) {
	lexical := &fakeLexical{searchFunc: func(context.Context, string, int) ([]models.LexicalHit, error) {
		return []models.LexicalHit{lex("L", 5.0)}, nil
	}}
	semantic := &fakeSemantic{searchFunc: func(context.Context, []float32, int) ([]models.SemanticHit, error) {
		return []models.SemanticHit{sem("S", 0, 0.9)}, nil
	}}
	svc := newTestService(lexical, semantic)

	zero := 0.0
	resp, err := svc.Search(context.Background(), "q", Params{Beta: &zero})
	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, awardIDs(resp.HybridResults))

	resp, err = svc.Search(context.Background(), "q", Params{Alpha: &zero})
	require.NoError(t, err)
	assert.Equal(t, []string{"L"}, awardIDs(resp.HybridResults))
}
