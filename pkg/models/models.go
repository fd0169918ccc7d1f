package models

import "time"

// Award is a searchable funding record. Award rows are owned by the
// Postgres store; the core only reads and writes them through adapters.
type Award struct {
	AwardID       string            `json:"award_id"`
	AwardNumber   string            `json:"award_number,omitempty"`
	Title         string            `json:"title"`
	Agency        string            `json:"agency,omitempty"`
	Institution   string            `json:"institution,omitempty"`
	PI            string            `json:"pi,omitempty"`
	PM            string            `json:"pm,omitempty"`
	Status        string            `json:"award_status,omitempty"`
	Abstract      string            `json:"public_abstract,omitempty"`
	URL           string            `json:"url,omitempty"`
	AbstractURL   string            `json:"public_abstract_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	IndexedHash   string            `json:"-"`
	LastAwardDate string            `json:"most_recent_award_date,omitempty"`
	CreatedAt     time.Time         `json:"created_at,omitempty"`
}

// Chunk is a token-bounded slice of an award's text. (AwardID, ChunkIndex)
// is unique; ContentHash is unique across the corpus and keys the stored
// embedding. Chunks are never mutated in place: re-indexing replaces an
// award's chunk set wholesale.
type Chunk struct {
	ID          string    `json:"id"`
	AwardID     string    `json:"award_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Text        string    `json:"chunk_text"`
	ContentHash string    `json:"content_hash"`
	TokenCount  int       `json:"token_count"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// LexicalHit is one full-text match returned by the lexical adapter.
type LexicalHit struct {
	AwardID     string  `json:"award_id"`
	AwardNumber string  `json:"award_number,omitempty"`
	Title       string  `json:"title"`
	Agency      string  `json:"agency,omitempty"`
	Institution string  `json:"institution,omitempty"`
	PI          string  `json:"pi,omitempty"`
	Status      string  `json:"award_status,omitempty"`
	URL         string  `json:"url,omitempty"`
	Snippet     string  `json:"snippet,omitempty"`
	Score       float64 `json:"lexical_score"`
}

// SemanticHit is one chunk-level match returned by the semantic adapter.
type SemanticHit struct {
	ChunkID     string  `json:"chunk_id"`
	AwardID     string  `json:"award_id"`
	ChunkIndex  int     `json:"chunk_index"`
	AwardNumber string  `json:"award_number,omitempty"`
	Title       string  `json:"title"`
	Agency      string  `json:"agency,omitempty"`
	Institution string  `json:"institution,omitempty"`
	PI          string  `json:"pi,omitempty"`
	Status      string  `json:"award_status,omitempty"`
	URL         string  `json:"url,omitempty"`
	Text        string  `json:"chunk_text,omitempty"`
	Score       float64 `json:"semantic_score"`
}

// ChunkMatch records one chunk's contribution to a SearchHit.
type ChunkMatch struct {
	ChunkIndex    int     `json:"chunk_index"`
	Text          string  `json:"chunk_text,omitempty"`
	SemanticScore float64 `json:"semantic_score"`
}

// SearchHit is one per-query, per-award result. Multiple chunk or field
// matches for the same award are grouped under a single hit; the award-level
// semantic and lexical scores are the best (max) contributing match.
// Never persisted.
type SearchHit struct {
	AwardID        string       `json:"award_id"`
	AwardNumber    string       `json:"award_number,omitempty"`
	Title          string       `json:"title"`
	Agency         string       `json:"agency,omitempty"`
	Institution    string       `json:"institution,omitempty"`
	PI             string       `json:"pi,omitempty"`
	Status         string       `json:"award_status,omitempty"`
	URL            string       `json:"url,omitempty"`
	Snippet        string       `json:"snippet,omitempty"`
	FinalScore     float64      `json:"final_score"`
	LexicalScore   *float64     `json:"lexical_score"`
	SemanticScore  *float64     `json:"semantic_score"`
	BestChunkIndex int          `json:"best_chunk_index"`
	Chunks         []ChunkMatch `json:"chunks,omitempty"`
}

// Lexical returns the lexical score, or 0 when the lexical side is missing.
func (h *SearchHit) Lexical() float64 {
	if h.LexicalScore == nil {
		return 0
	}
	return *h.LexicalScore
}

// Semantic returns the semantic score, or 0 when the semantic side is missing.
func (h *SearchHit) Semantic() float64 {
	if h.SemanticScore == nil {
		return 0
	}
	return *h.SemanticScore
}

// SearchMetadata annotates a SearchResponse. A degraded response (one
// adapter down) is always labeled: the failing side's error is recorded and
// Degraded is set, so an empty list is distinguishable from an outage.
type SearchMetadata struct {
	HybridCount   int     `json:"hybrid_count"`
	LexicalCount  int     `json:"lexical_count"`
	SemanticCount int     `json:"semantic_count"`
	SearchTimeMs  float64 `json:"search_time_ms"`
	Degraded      bool    `json:"degraded,omitempty"`
	LexicalError  string  `json:"lexical_error,omitempty"`
	SemanticError string  `json:"semantic_error,omitempty"`
}

// SearchResponse is the full payload for one query: the fused hybrid list
// plus both raw per-side lists, each deduplicated per award.
type SearchResponse struct {
	Query           string         `json:"query"`
	HybridResults   []SearchHit    `json:"hybrid_results"`
	LexicalResults  []SearchHit    `json:"lexical_results"`
	SemanticResults []SearchHit    `json:"semantic_results"`
	Metadata        SearchMetadata `json:"metadata"`
}
