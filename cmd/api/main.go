package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ahsantfw/Vector-search-awards/internal/ai"
	"github.com/ahsantfw/Vector-search-awards/internal/auth"
	"github.com/ahsantfw/Vector-search-awards/internal/config"
	"github.com/ahsantfw/Vector-search-awards/internal/indexer"
	"github.com/ahsantfw/Vector-search-awards/internal/jobs"
	"github.com/ahsantfw/Vector-search-awards/internal/retry"
	"github.com/ahsantfw/Vector-search-awards/internal/search"
	"github.com/ahsantfw/Vector-search-awards/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// triggerRequest is the body accepted by the indexing trigger endpoints.
type triggerRequest struct {
	AwardIDs  []string `json:"award_ids,omitempty"`
	SinceDate string   `json:"since_date,omitempty"`
	AwardID   string   `json:"award_id,omitempty"`
	Force     bool     `json:"force,omitempty"`
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("awardsearch-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.Auth.APIKey != "").Msg("starting awardsearch api")

	// Create AI client configuration
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			MaxRPS:     float64(cfg.EmbedRPS),
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
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
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	auth.InitializeAuth(cfg.Auth.APIKey, cfg.Auth.JwtSecret)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// Use the AI client's dimension for database migration
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	svc := search.NewService(c, st, st, search.Options{
		DefaultTopK: cfg.Search.DefaultTopK,
		MaxTopK:     cfg.Search.MaxTopK,
		Alpha:       cfg.Search.SemanticWeight,
		Beta:        cfg.Search.LexicalBoost,
	})

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
		log.Fatalf("Failed to create indexing pipeline: %v", err)
	}

	manager := jobs.NewManager(jobs.ManagerConfig{
		SingleFlight: true,
		MaxRetained:  cfg.Indexing.MaxJobs,
	})
	runner := func(jctx context.Context, j *jobs.Job) error {
		return pipeline.Run(jctx, j)
	}

	// Jobs must outlive the triggering request, so submissions derive
	// from the process context rather than the request context.
	submit := func(w http.ResponseWriter, r *http.Request, kind jobs.Kind) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req triggerRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		params := jobs.Params{
			AwardIDs:  req.AwardIDs,
			SinceDate: req.SinceDate,
			AwardID:   req.AwardID,
			Force:     req.Force,
		}
		if kind == jobs.KindSingle && params.AwardID == "" {
			writeError(w, http.StatusBadRequest, "award_id is required")
			return
		}
		job, err := manager.Submit(ctx, kind, params, runner)
		if err != nil {
			if errors.Is(err, jobs.ErrAlreadyRunning) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, job.Snapshot())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := r.URL.Query().Get("q")

		var p search.Params
		if v := r.URL.Query().Get("k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid k parameter")
				return
			}
			p.TopK = n
		}
		if v := r.URL.Query().Get("alpha"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				writeError(w, http.StatusBadRequest, "invalid alpha parameter")
				return
			}
			p.Alpha = &f
		}
		if v := r.URL.Query().Get("beta"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				writeError(w, http.StatusBadRequest, "invalid beta parameter")
				return
			}
			p.Beta = &f
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res, err := svc.Search(ctx, q, p)
		if err != nil {
			switch {
			case errors.Is(err, search.ErrInvalidQuery):
				writeError(w, http.StatusBadRequest, "query must not be empty")
			case errors.Is(err, search.ErrSearchUnavailable):
				writeError(w, http.StatusServiceUnavailable, "search backends unavailable")
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, res)

		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Int("k", p.TopK).
			Int("results", len(res.HybridResults)).Bool("degraded", res.Metadata.Degraded).
			Dur("dur", time.Since(start)).Msg("served")
	})

	mux.HandleFunc("/indexing/trigger", auth.APIKeyMiddleware(func(w http.ResponseWriter, r *http.Request) {
		submit(w, r, jobs.KindFull)
	}))
	mux.HandleFunc("/indexing/incremental", auth.APIKeyMiddleware(func(w http.ResponseWriter, r *http.Request) {
		submit(w, r, jobs.KindIncremental)
	}))
	mux.HandleFunc("/indexing/single", auth.APIKeyMiddleware(func(w http.ResponseWriter, r *http.Request) {
		submit(w, r, jobs.KindSingle)
	}))

	mux.HandleFunc("/indexing/jobs", auth.APIKeyMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, manager.List())
	}))

	mux.HandleFunc("/indexing/status/", auth.APIKeyMiddleware(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/indexing/status/")
		job, err := manager.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job.Snapshot())
	}))

	// /indexing/jobs/{id} DELETE purges a terminal job;
	// /indexing/jobs/{id}/cancel POST cancels a live one.
	mux.HandleFunc("/indexing/jobs/", auth.APIKeyMiddleware(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/indexing/jobs/")
		rel = strings.TrimSuffix(rel, "/")

		if id, ok := strings.CutSuffix(rel, "/cancel"); ok {
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			switch err := manager.Cancel(id); {
			case err == nil:
				writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "cancelling"})
			case errors.Is(err, jobs.ErrNotFound):
				writeError(w, http.StatusNotFound, "job not found")
			case errors.Is(err, jobs.ErrFinished):
				writeError(w, http.StatusConflict, "job already finished")
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		switch err := manager.Purge(rel); {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrNotTerminal):
			writeError(w, http.StatusConflict, "job still running")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
