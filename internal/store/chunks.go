package store

import (
	"context"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

// ExistingEmbeddingHashes reports which of the given content hashes already
// have a stored embedding. The pipeline skips embedding calls for these.
func (s *Store) ExistingEmbeddingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content_hash FROM chunk_embeddings WHERE content_hash = ANY($1)`, hashes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = struct{}{}
	}
	return out, rows.Err()
}

// UpsertEmbeddings stores vectors keyed by content hash. An existing hash is
// left untouched: the first stored embedding for a given text wins, and any
// chunk with that hash references it.
func (s *Store) UpsertEmbeddings(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO chunk_embeddings (content_hash, embedding, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (content_hash) DO NOTHING;`
	for hash, vec := range vectors {
		if _, err := tx.Exec(ctx, q, hash, pgvector.NewVector(vec)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReplaceChunks swaps an award's chunk set in one transaction and records
// the body hash the chunks were derived from. Chunk rows only ever reference
// embeddings that are already stored, so a reader never observes a chunk
// pointing at a half-written embedding.
func (s *Store) ReplaceChunks(ctx context.Context, awardID string, chunks []models.Chunk, bodyHash string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM award_chunks WHERE award_id = $1`, awardID); err != nil {
		return err
	}

	const q = `
		INSERT INTO award_chunks (id, award_id, chunk_index, chunk_text, content_hash, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now());`
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, q, c.ID, c.AwardID, c.ChunkIndex, c.Text, c.ContentHash, c.TokenCount); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE awards SET indexed_hash = $2 WHERE award_id = $1`, awardID, bodyHash); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
