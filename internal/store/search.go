package store

import (
	"context"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

// LexicalSearch runs a keyword query against the generated tsvector column
// and returns ranked award-level hits with headline snippets.
func (s *Store) LexicalSearch(ctx context.Context, query string, k int) ([]models.LexicalHit, error) {
	const q = `
WITH q AS (
  SELECT websearch_to_tsquery('english', $1) AS tq
)
SELECT
  award_id,
  award_number,
  title,
  agency,
  institution,
  pi,
  award_status,
  COALESCE(NULLIF(url, ''), public_abstract_url) AS url,
  ts_rank_cd(ts_fielded, (SELECT tq FROM q)) AS score,
  ts_headline('english', public_abstract, (SELECT tq FROM q),
    'MaxWords=40, MinWords=15, MaxFragments=1') AS snippet
FROM awards
WHERE ts_fielded @@ (SELECT tq FROM q)
ORDER BY score DESC, award_id
LIMIT $2;`

	rows, err := s.pool.Query(ctx, q, query, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LexicalHit
	for rows.Next() {
		var h models.LexicalHit
		if err := rows.Scan(&h.AwardID, &h.AwardNumber, &h.Title, &h.Agency, &h.Institution,
			&h.PI, &h.Status, &h.URL, &h.Score, &h.Snippet); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SemanticSearch returns the k chunks nearest to the query vector by cosine
// distance, joined with their owning award's display fields.
func (s *Store) SemanticSearch(ctx context.Context, queryVec []float32, k int) ([]models.SemanticHit, error) {
	const q = `
SELECT
  c.id,
  c.award_id,
  c.chunk_index,
  a.award_number,
  a.title,
  a.agency,
  a.institution,
  a.pi,
  a.award_status,
  COALESCE(NULLIF(a.url, ''), a.public_abstract_url) AS url,
  c.chunk_text,
  1 - (e.embedding <=> $1) AS score
FROM award_chunks c
JOIN chunk_embeddings e ON e.content_hash = c.content_hash
JOIN awards a ON a.award_id = c.award_id
ORDER BY e.embedding <=> $1, c.id
LIMIT $2;`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SemanticHit
	for rows.Next() {
		var h models.SemanticHit
		if err := rows.Scan(&h.ChunkID, &h.AwardID, &h.ChunkIndex, &h.AwardNumber, &h.Title,
			&h.Agency, &h.Institution, &h.PI, &h.Status, &h.URL, &h.Text, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
