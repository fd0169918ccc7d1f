// Package store provides Postgres-backed persistence for awards, chunks
// and chunk embeddings, plus the full-text and vector search adapters.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies schema setup: extensions, tables, the generated tsvector
// column with its GIN index, and the ivfflat cosine index over embeddings.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS awards (
  award_id      TEXT PRIMARY KEY,
  award_number  TEXT NOT NULL DEFAULT '',
  title         TEXT NOT NULL DEFAULT '',
  agency        TEXT NOT NULL DEFAULT '',
  institution   TEXT NOT NULL DEFAULT '',
  pi            TEXT NOT NULL DEFAULT '',
  pm            TEXT NOT NULL DEFAULT '',
  award_status  TEXT NOT NULL DEFAULT '',
  public_abstract TEXT NOT NULL DEFAULT '',
  url           TEXT NOT NULL DEFAULT '',
  public_abstract_url TEXT NOT NULL DEFAULT '',
  most_recent_award_date TEXT NOT NULL DEFAULT '',
  metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
  indexed_hash  TEXT NOT NULL DEFAULT '',
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  ts_fielded    tsvector GENERATED ALWAYS AS (
	setweight(to_tsvector('english', coalesce(title,'')), 'A') ||
	setweight(to_tsvector('english', coalesce(public_abstract,'')), 'B') ||
	setweight(to_tsvector('english',
	  coalesce(institution,'') || ' ' || coalesce(pi,'') || ' ' || coalesce(agency,'')
	), 'C')
  ) STORED
);

CREATE INDEX IF NOT EXISTS awards_ts_fielded_gin
  ON awards USING GIN (ts_fielded);

CREATE TABLE IF NOT EXISTS award_chunks (
  id           TEXT PRIMARY KEY,
  award_id     TEXT NOT NULL REFERENCES awards(award_id) ON DELETE CASCADE,
  chunk_index  INT NOT NULL,
  chunk_text   TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  token_count  INT NOT NULL DEFAULT 0,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS award_chunks_award_seq_uidx
  ON award_chunks (award_id, chunk_index);

CREATE INDEX IF NOT EXISTS award_chunks_hash_idx
  ON award_chunks (content_hash);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
  content_hash TEXT PRIMARY KEY,
  embedding    vector(%d) NOT NULL,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunk_embeddings_vec_idx
  ON chunk_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim))
	return err
}

// AwardFilter narrows FetchAwards. Zero value selects the whole corpus.
type AwardFilter struct {
	IDs       []string // explicit award ids
	SinceDate string   // most_recent_award_date >= SinceDate (ISO date)
}

const awardColumns = `award_id, award_number, title, agency, institution, pi, pm,
  award_status, public_abstract, url, public_abstract_url,
  most_recent_award_date, metadata, indexed_hash, created_at`

// FetchAwards returns one page of awards matching the filter, ordered by
// award_id so paging is stable under concurrent writes.
func (s *Store) FetchAwards(ctx context.Context, page, pageSize int, f AwardFilter) ([]models.Award, error) {
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("invalid page %d / page size %d", page, pageSize)
	}

	where := "TRUE"
	args := []any{pageSize, page * pageSize}
	if len(f.IDs) > 0 {
		where = "award_id = ANY($3)"
		args = append(args, f.IDs)
	} else if f.SinceDate != "" {
		where = "most_recent_award_date >= $3"
		args = append(args, f.SinceDate)
	}

	q := fmt.Sprintf(`SELECT %s FROM awards WHERE %s ORDER BY award_id LIMIT $1 OFFSET $2`,
		awardColumns, where)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Award
	for rows.Next() {
		a, err := scanAward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAwards returns the number of awards matching the filter.
func (s *Store) CountAwards(ctx context.Context, f AwardFilter) (int, error) {
	where := "TRUE"
	var args []any
	if len(f.IDs) > 0 {
		where = "award_id = ANY($1)"
		args = append(args, f.IDs)
	} else if f.SinceDate != "" {
		where = "most_recent_award_date >= $1"
		args = append(args, f.SinceDate)
	}

	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM awards WHERE "+where, args...).Scan(&n)
	return n, err
}

// GetAward fetches a single award by id.
func (s *Store) GetAward(ctx context.Context, awardID string) (models.Award, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM awards WHERE award_id = $1`, awardColumns)
	row := s.pool.QueryRow(ctx, q, awardID)
	a, err := scanAward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Award{}, false, nil
		}
		return models.Award{}, false, err
	}
	return a, true, nil
}

// UpsertAward inserts or updates an award row. The generated tsvector
// column tracks the new text automatically.
func (s *Store) UpsertAward(ctx context.Context, a models.Award) error {
	const q = `
		INSERT INTO awards (
			award_id, award_number, title, agency, institution, pi, pm,
			award_status, public_abstract, url, public_abstract_url,
			most_recent_award_date, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (award_id) DO UPDATE SET
			award_number  = EXCLUDED.award_number,
			title         = EXCLUDED.title,
			agency        = EXCLUDED.agency,
			institution   = EXCLUDED.institution,
			pi            = EXCLUDED.pi,
			pm            = EXCLUDED.pm,
			award_status  = EXCLUDED.award_status,
			public_abstract = EXCLUDED.public_abstract,
			url           = EXCLUDED.url,
			public_abstract_url = EXCLUDED.public_abstract_url,
			most_recent_award_date = EXCLUDED.most_recent_award_date,
			metadata      = EXCLUDED.metadata,
			created_at    = awards.created_at;`

	meta := a.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, q,
		a.AwardID, a.AwardNumber, a.Title, a.Agency, a.Institution, a.PI, a.PM,
		a.Status, a.Abstract, a.URL, a.AbstractURL, a.LastAwardDate, meta,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAward(r rowScanner) (models.Award, error) {
	var a models.Award
	err := r.Scan(
		&a.AwardID, &a.AwardNumber, &a.Title, &a.Agency, &a.Institution, &a.PI, &a.PM,
		&a.Status, &a.Abstract, &a.URL, &a.AbstractURL,
		&a.LastAwardDate, &a.Metadata, &a.IndexedHash, &a.CreatedAt,
	)
	return a, err
}
