package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ahsantfw/Vector-search-awards/internal/ai"
	"github.com/ahsantfw/Vector-search-awards/internal/config"
	"github.com/ahsantfw/Vector-search-awards/internal/indexer"
	"github.com/ahsantfw/Vector-search-awards/internal/jobs"
	"github.com/ahsantfw/Vector-search-awards/internal/retry"
	"github.com/ahsantfw/Vector-search-awards/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("awardsearch-indexer", pflag.ExitOnError)
	fs.String("mode", "full", "Indexing mode (full|incremental|single)")
	fs.String("award-id", "", "Award to index in single mode")
	fs.StringSlice("award-ids", nil, "Awards to index in incremental mode")
	fs.String("since-date", "", "Only index awards updated on or after this date (YYYY-MM-DD)")
	fs.Bool("force", false, "Re-embed even when content is unchanged")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	var clientConfig *ai.ClientConfig
	switch provider {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			MaxRPS:     float64(cfg.EmbedRPS),
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			MaxRPS:     float64(cfg.EmbedRPS),
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", provider)
	}

	mode := jobs.KindFull
	if v, _ := fs.GetString("mode"); v != "" {
		mode = jobs.Kind(v)
	}
	params := jobs.Params{}
	params.AwardID, _ = fs.GetString("award-id")
	params.AwardIDs, _ = fs.GetStringSlice("award-ids")
	params.SinceDate, _ = fs.GetString("since-date")
	params.Force, _ = fs.GetBool("force")

	switch mode {
	case jobs.KindFull, jobs.KindIncremental, jobs.KindSingle:
	default:
		log.Fatalf("unsupported mode: %s", mode)
	}
	if mode == jobs.KindSingle && params.AwardID == "" {
		log.Fatal("--award-id is required in single mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if c.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal(err)
	}

	pipeline, err := indexer.New(st, c, indexer.Config{
		Provider:           clientConfig.Provider,
		PageSize:           cfg.Indexing.PageSize,
		ChunkWorkers:       cfg.Indexing.ChunkWorkers,
		ChunkSize:          cfg.Indexing.ChunkSize,
		ChunkOverlap:       cfg.Indexing.ChunkOverlap,
		EmbedBatchSize:     cfg.Indexing.EmbedBatchSize,
		MaxInFlightBatches: cfg.Indexing.MaxInFlightBatches,
		Retry:              retry.DefaultConfig(),
	})
	if err != nil {
		log.Fatal(err)
	}

	// One-shot run through the same manager the API uses, so progress
	// accounting and failure semantics match.
	manager := jobs.NewManager(jobs.ManagerConfig{SingleFlight: true})
	job, err := manager.Submit(ctx, mode, params, func(jctx context.Context, j *jobs.Job) error {
		return pipeline.Run(jctx, j)
	})
	if err != nil {
		log.Fatal(err)
	}
	manager.Wait()

	snap := job.Snapshot()
	log.Printf("job %s finished: status=%s processed=%d/%d failed_chunks=%d",
		snap.JobID, snap.Status, snap.Progress.Processed, snap.Progress.Total, snap.FailedChunks)
	if snap.Status == jobs.StateFailed {
		log.Fatalf("indexing failed: %s", snap.Error)
	}
}
