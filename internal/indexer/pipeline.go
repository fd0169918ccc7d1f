// Package indexer implements the document indexing pipeline: paged award
// fetch, concurrent chunking, batched embedding under admission control,
// and idempotent chunk writes keyed by content hash.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/ahsantfw/Vector-search-awards/internal/ai"
	"github.com/ahsantfw/Vector-search-awards/internal/chunker"
	"github.com/ahsantfw/Vector-search-awards/internal/jobs"
	"github.com/ahsantfw/Vector-search-awards/internal/retry"
	"github.com/ahsantfw/Vector-search-awards/internal/store"
	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

// DocumentStore is the persistence capability the pipeline needs. The
// Postgres store implements it; tests wire an in-memory fake.
type DocumentStore interface {
	CountAwards(ctx context.Context, f store.AwardFilter) (int, error)
	FetchAwards(ctx context.Context, page, pageSize int, f store.AwardFilter) ([]models.Award, error)
	ExistingEmbeddingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error)
	UpsertEmbeddings(ctx context.Context, vectors map[string][]float32) error
	ReplaceChunks(ctx context.Context, awardID string, chunks []models.Chunk, bodyHash string) error
}

// Config tunes pipeline throughput and resilience.
type Config struct {
	Provider           ai.Provider // embedding provider, selects the chunk tokenizer
	PageSize           int         // awards fetched per page
	ChunkWorkers       int         // CPU-bound chunking pool width
	ChunkSize          int         // tokens per chunk
	ChunkOverlap       int         // shared tokens between consecutive chunks
	EmbedBatchSize     int         // chunks per embedding request
	MaxInFlightBatches int         // concurrent embedding batches
	HashCacheSize      int         // LRU of content hashes known embedded
	Retry              retry.Config
}

func (c *Config) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.ChunkWorkers <= 0 {
		c.ChunkWorkers = runtime.NumCPU()
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 400
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 40
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 64
	}
	if c.MaxInFlightBatches <= 0 {
		c.MaxInFlightBatches = 4
	}
	if c.HashCacheSize <= 0 {
		c.HashCacheSize = 8192
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
}

// Pipeline indexes awards into the vector store.
type Pipeline struct {
	store    DocumentStore
	client   ai.Client
	splitter *chunker.Splitter
	cfg      Config

	// seen caches content hashes that are known to have a stored
	// embedding, saving an existence query on re-runs within a process.
	seen *lru.Cache[string, struct{}]
}

// New validates the chunk geometry and builds a pipeline.
func New(st DocumentStore, client ai.Client, cfg Config) (*Pipeline, error) {
	cfg.defaults()
	splitter, err := chunker.NewSplitter(ai.TokenizerFor(cfg.Provider), cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New[string, struct{}](cfg.HashCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{store: st, client: client, splitter: splitter, cfg: cfg, seen: seen}, nil
}

// docWork is one award's derived chunk set, ready for embedding.
type docWork struct {
	award    models.Award
	bodyHash string
	chunks   []models.Chunk
	skipped  bool // body hash unchanged, nothing to do
}

// Run executes one indexing job to completion. Batch-level failures are
// recorded on the job and never abort the run; the returned error is
// reserved for unrecoverable conditions (storage unreachable, cancelled).
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job) error {
	filter, skipUnchanged, err := p.plan(job)
	if err != nil {
		return err
	}

	total, err := p.store.CountAwards(ctx, filter)
	if err != nil {
		return fmt.Errorf("count awards: %w", err)
	}
	job.SetTotal(total)
	log.Info().Str("job_id", job.ID()).Str("kind", string(job.Kind())).
		Int("total", total).Int("page_size", p.cfg.PageSize).Msg("indexing run started")

	sem := semaphore.NewWeighted(int64(p.cfg.MaxInFlightBatches))
	var pages sync.WaitGroup
	start := time.Now()

	var runErr error
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		awards, err := p.store.FetchAwards(ctx, page, p.cfg.PageSize, filter)
		if err != nil {
			runErr = fmt.Errorf("fetch awards page %d: %w", page, err)
			break
		}
		if len(awards) == 0 {
			break
		}

		docs := p.chunkConcurrently(ctx, awards, skipUnchanged, job)

		// Batches and writes for this page run in the background so the
		// next page can be fetched while embeddings are in flight. The
		// semaphore alone bounds concurrent embedding batches.
		p.processPage(ctx, docs, sem, &pages, job)
	}

	pages.Wait()

	if runErr != nil {
		return runErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := job.Snapshot()
	log.Info().Str("job_id", job.ID()).
		Int("processed", snap.Progress.Processed).Int("total", snap.Progress.Total).
		Int("failed_chunks", snap.FailedChunks).
		Dur("elapsed", time.Since(start)).Msg("indexing run finished")
	return nil
}

// plan maps the job kind to a fetch filter and incremental behavior.
func (p *Pipeline) plan(job *jobs.Job) (store.AwardFilter, bool, error) {
	params := job.Params()
	switch job.Kind() {
	case jobs.KindFull:
		return store.AwardFilter{}, false, nil
	case jobs.KindIncremental:
		return store.AwardFilter{IDs: params.AwardIDs, SinceDate: params.SinceDate}, !params.Force, nil
	case jobs.KindSingle:
		if params.AwardID == "" {
			return store.AwardFilter{}, false, errors.New("single indexing requires an award id")
		}
		return store.AwardFilter{IDs: []string{params.AwardID}}, false, nil
	default:
		return store.AwardFilter{}, false, fmt.Errorf("unknown job kind %q", job.Kind())
	}
}

// chunkConcurrently splits one page of awards across a fixed worker pool.
// Chunking is CPU-bound tokenization, so the pool width tracks cores.
func (p *Pipeline) chunkConcurrently(ctx context.Context, awards []models.Award, skipUnchanged bool, job *jobs.Job) []docWork {
	workCh := make(chan int)
	out := make([]docWork, len(awards))

	var wg sync.WaitGroup
	workers := p.cfg.ChunkWorkers
	if workers > len(awards) {
		workers = len(awards)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				out[i] = p.chunkAward(awards[i], skipUnchanged)
			}
		}()
	}
	for i := range awards {
		select {
		case workCh <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(workCh)
	wg.Wait()

	docs := out[:0]
	for _, d := range out {
		if d.skipped {
			// Unchanged body: zero embedding calls, zero writes.
			job.AddProcessed(1)
			continue
		}
		if d.award.AwardID != "" {
			docs = append(docs, d)
		}
	}
	return docs
}

func (p *Pipeline) chunkAward(a models.Award, skipUnchanged bool) docWork {
	body := a.Title
	if a.Abstract != "" {
		body = a.Title + "\n\n" + a.Abstract
	}
	bodyHash := chunker.Hash(body)
	if skipUnchanged && a.IndexedHash == bodyHash {
		return docWork{award: a, bodyHash: bodyHash, skipped: true}
	}

	pieces := p.splitter.Split(body)
	chunks := make([]models.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		chunks = append(chunks, models.Chunk{
			ID:          fmt.Sprintf("%s#%d", a.AwardID, piece.Index),
			AwardID:     a.AwardID,
			ChunkIndex:  piece.Index,
			Text:        piece.Text,
			ContentHash: piece.Hash,
			TokenCount:  piece.TokenCount,
		})
	}
	return docWork{award: a, bodyHash: bodyHash, chunks: chunks}
}

// processPage embeds a page's pending chunks in bounded-concurrency
// batches and finalizes each award's chunk rows once its hashes are all
// stored. Admission stops on cancellation; in-flight batches complete.
func (p *Pipeline) processPage(ctx context.Context, docs []docWork, sem *semaphore.Weighted, pages *sync.WaitGroup, job *jobs.Job) {
	if len(docs) == 0 {
		return
	}

	var okMu sync.Mutex
	okHashes := make(map[string]struct{})
	pending := make(map[string]string) // hash -> text

	for _, d := range docs {
		for _, c := range d.chunks {
			if p.seen.Contains(c.ContentHash) {
				okHashes[c.ContentHash] = struct{}{}
				continue
			}
			pending[c.ContentHash] = c.Text
		}
	}

	if len(pending) > 0 {
		hashes := make([]string, 0, len(pending))
		for h := range pending {
			hashes = append(hashes, h)
		}
		existing, err := p.existingHashes(ctx, hashes)
		if err != nil {
			// Storage lookup failed after retry: the whole page's pending
			// chunks are marked failed, the run continues.
			log.Error().Err(err).Int("hashes", len(hashes)).Msg("embedding existence check failed")
			for _, d := range docs {
				job.AddFailedChunks(countMissing(d.chunks, okHashes))
			}
			return
		}
		for h := range existing {
			okHashes[h] = struct{}{}
			p.seen.Add(h, struct{}{})
			delete(pending, h)
		}
	}

	batches := p.batches(pending)
	var batchWG sync.WaitGroup
	for _, batch := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled: no new batches are admitted. Chunks that never
			// embedded are accounted for at finalize time.
			break
		}
		batchWG.Add(1)
		go func(b embedBatch) {
			defer sem.Release(1)
			defer batchWG.Done()
			p.runBatch(ctx, b, okHashes, &okMu)
		}(batch)
	}

	pages.Add(1)
	go func() {
		defer pages.Done()
		batchWG.Wait()
		p.finalizeDocs(ctx, docs, okHashes, &okMu, job)
	}()
}

type embedBatch struct {
	hashes []string
	texts  []string
}

func (p *Pipeline) batches(pending map[string]string) []embedBatch {
	var out []embedBatch
	cur := embedBatch{}
	for h, t := range pending {
		cur.hashes = append(cur.hashes, h)
		cur.texts = append(cur.texts, t)
		if len(cur.hashes) == p.cfg.EmbedBatchSize {
			out = append(out, cur)
			cur = embedBatch{}
		}
	}
	if len(cur.hashes) > 0 {
		out = append(out, cur)
	}
	return out
}

// runBatch embeds one batch and stores its vectors. Failures are batch
// scoped: the hashes simply never become ok and their documents are
// counted as failed at finalize time.
func (p *Pipeline) runBatch(ctx context.Context, b embedBatch, okHashes map[string]struct{}, okMu *sync.Mutex) {
	var vecs [][]float32
	attempt := 0
	err := retry.Do(ctx, p.cfg.Retry, func() error {
		attempt++
		var embedErr error
		vecs, embedErr = p.client.Embed(ctx, b.texts)
		if embedErr == nil {
			return nil
		}
		// Rate limits get the full backoff budget; other provider errors
		// get exactly one more attempt.
		var rl *ai.RateLimitError
		if !errors.As(embedErr, &rl) && attempt >= 2 {
			return retry.Permanent(embedErr)
		}
		return embedErr
	})
	if err != nil {
		log.Warn().Err(err).Int("chunks", len(b.texts)).Int("attempts", attempt).
			Msg("embedding batch failed")
		return
	}
	if len(vecs) != len(b.hashes) {
		log.Warn().Int("want", len(b.hashes)).Int("got", len(vecs)).
			Msg("embedding batch returned wrong count")
		return
	}

	vectors := make(map[string][]float32, len(b.hashes))
	for i, h := range b.hashes {
		vectors[h] = vecs[i]
	}
	err = retry.Do(ctx, retry.Config{MaxAttempts: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}, func() error {
		return p.store.UpsertEmbeddings(ctx, vectors)
	})
	if err != nil {
		log.Warn().Err(err).Int("chunks", len(b.hashes)).Msg("embedding write failed")
		return
	}

	okMu.Lock()
	for _, h := range b.hashes {
		okHashes[h] = struct{}{}
	}
	okMu.Unlock()
	for _, h := range b.hashes {
		p.seen.Add(h, struct{}{})
	}
}

// finalizeDocs writes chunk rows for every award whose hashes all have a
// stored embedding. An award with any failed chunk is skipped wholesale,
// so no chunk row ever references a missing embedding.
func (p *Pipeline) finalizeDocs(ctx context.Context, docs []docWork, okHashes map[string]struct{}, okMu *sync.Mutex, job *jobs.Job) {
	okMu.Lock()
	defer okMu.Unlock()

	for _, d := range docs {
		missing := countMissing(d.chunks, okHashes)
		if missing > 0 {
			job.AddFailedChunks(missing)
			continue
		}
		err := retry.Do(ctx, retry.Config{MaxAttempts: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}, func() error {
			return p.store.ReplaceChunks(ctx, d.award.AwardID, d.chunks, d.bodyHash)
		})
		if err != nil {
			log.Warn().Err(err).Str("award_id", d.award.AwardID).Msg("chunk write failed")
			job.AddFailedChunks(len(d.chunks))
			continue
		}
		job.AddProcessed(1)
	}
}

func (p *Pipeline) existingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	var existing map[string]struct{}
	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}, func() error {
		var lookupErr error
		existing, lookupErr = p.store.ExistingEmbeddingHashes(ctx, hashes)
		return lookupErr
	})
	return existing, err
}

func countMissing(chunks []models.Chunk, okHashes map[string]struct{}) int {
	missing := 0
	for _, c := range chunks {
		if _, ok := okHashes[c.ContentHash]; !ok {
			missing++
		}
	}
	return missing
}
