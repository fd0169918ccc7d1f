// Package search runs lexical and semantic retrieval concurrently and
// fuses both result sets into a single ranked list.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ahsantfw/Vector-search-awards/internal/ai"
	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

// ErrInvalidQuery rejects queries that are empty after trimming.
var ErrInvalidQuery = errors.New("search: query must not be empty")

// ErrSearchUnavailable is returned only when both backends fail; a single
// failing side degrades instead.
var ErrSearchUnavailable = errors.New("search: both lexical and semantic backends unavailable")

// LexicalSearcher is the keyword-matching capability, typically backed by
// Postgres full-text search.
type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, query string, k int) ([]models.LexicalHit, error)
}

// SemanticSearcher is the vector-similarity capability, typically backed
// by pgvector.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, queryVec []float32, k int) ([]models.SemanticHit, error)
}

// Options carries ranking defaults and limits.
type Options struct {
	DefaultTopK int
	MaxTopK     int
	Alpha       float64 // default semantic weight
	Beta        float64 // default lexical boost
}

// Params are per-request overrides. Nil Alpha/Beta fall back to the
// configured defaults; an explicit zero is honored, not replaced.
type Params struct {
	TopK  int
	Alpha *float64
	Beta  *float64
}

// Service is the query orchestrator.
type Service struct {
	Client   ai.Client
	Lexical  LexicalSearcher
	Semantic SemanticSearcher
	opts     Options
}

// NewService creates the orchestrator with the provided adapters.
func NewService(client ai.Client, lexical LexicalSearcher, semantic SemanticSearcher, opts Options) *Service {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 10
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 100
	}
	return &Service{Client: client, Lexical: lexical, Semantic: semantic, opts: opts}
}

// Search issues lexical and semantic retrieval concurrently for the same
// query, so total latency is bounded by the slower side. One failing
// adapter degrades the response to the surviving result set, with the
// failure recorded in metadata; when both fail the whole request fails
// with ErrSearchUnavailable.
func (s *Service) Search(ctx context.Context, query string, p Params) (*models.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	topK := p.TopK
	if topK <= 0 {
		topK = s.opts.DefaultTopK
	}
	if topK > s.opts.MaxTopK {
		topK = s.opts.MaxTopK
	}
	alpha := s.opts.Alpha
	if p.Alpha != nil {
		alpha = *p.Alpha
	}
	beta := s.opts.Beta
	if p.Beta != nil {
		beta = *p.Beta
	}

	start := time.Now()

	var (
		wg       sync.WaitGroup
		lexical  []models.LexicalHit
		lexErr   error
		semantic []models.SemanticHit
		semErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		lexical, lexErr = s.Lexical.LexicalSearch(ctx, query, topK)
	}()
	go func() {
		defer wg.Done()
		vecs, err := s.Client.Embed(ctx, []string{query})
		if err != nil {
			semErr = fmt.Errorf("embed query: %w", err)
			return
		}
		if len(vecs) == 0 {
			semErr = errors.New("embed query: no vector returned")
			return
		}
		semantic, semErr = s.Semantic.SemanticSearch(ctx, vecs[0], topK)
	}()
	wg.Wait()

	if lexErr != nil && semErr != nil {
		log.Error().Err(lexErr).AnErr("semantic_err", semErr).Str("query", query).
			Msg("both search backends failed")
		return nil, fmt.Errorf("%w: lexical: %v; semantic: %v", ErrSearchUnavailable, lexErr, semErr)
	}

	meta := models.SearchMetadata{}
	if lexErr != nil {
		log.Warn().Err(lexErr).Str("query", query).Msg("lexical search degraded")
		lexical = nil
		meta.Degraded = true
		meta.LexicalError = lexErr.Error()
	}
	if semErr != nil {
		log.Warn().Err(semErr).Str("query", query).Msg("semantic search degraded")
		semantic = nil
		meta.Degraded = true
		meta.SemanticError = semErr.Error()
	}

	scorer := Scorer{Alpha: alpha, Beta: beta}
	resp := &models.SearchResponse{
		Query:           query,
		HybridResults:   scorer.Fuse(lexical, semantic, topK),
		LexicalResults:  DedupLexical(lexical, topK),
		SemanticResults: DedupSemantic(semantic, topK),
	}
	meta.HybridCount = len(resp.HybridResults)
	meta.LexicalCount = len(resp.LexicalResults)
	meta.SemanticCount = len(resp.SemanticResults)
	meta.SearchTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	resp.Metadata = meta

	log.Debug().Str("query", query).Int("top_k", topK).
		Float64("alpha", alpha).Float64("beta", beta).
		Int("hybrid", meta.HybridCount).Int("lexical", meta.LexicalCount).Int("semantic", meta.SemanticCount).
		Float64("search_time_ms", meta.SearchTimeMs).
		Msg("search served")
	return resp, nil
}
