package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/promptforge/internal/civitai"
	"github.com/hyperjump/promptforge/internal/config"
	"github.com/hyperjump/promptforge/internal/cursor"
	"github.com/hyperjump/promptforge/internal/embedding"
	"github.com/hyperjump/promptforge/internal/fetcher"
	"github.com/hyperjump/promptforge/internal/ingest"
	"github.com/hyperjump/promptforge/internal/job"
	"github.com/hyperjump/promptforge/internal/rag"
	"github.com/hyperjump/promptforge/internal/refine"
	"github.com/hyperjump/promptforge/internal/seen"
	"github.com/hyperjump/promptforge/internal/server"
	"github.com/hyperjump/promptforge/internal/session"
	"github.com/hyperjump/promptforge/internal/storage"
	"github.com/hyperjump/promptforge/internal/vector"
)

// Components holds initialized services.
type Components struct {
	DB         *sql.DB
	Cursor     *cursor.Store
	Embedder   *embedding.Provider
	Index      vector.Index
	Seen       seen.Registry
	Categories *config.Categories
	Engine     *fetcher.Engine
	Pipeline   *ingest.Pipeline
	Retrieval  *rag.Service
	History    *session.HistoryIndex // nil unless requested
	Sessions   *session.Store
	Refiner    *refine.Service
	Runner     *job.Runner
}

// componentOptions selects the optional parts of initializeComponents.
type componentOptions struct {
	// history opens the Bleve prompt-history index. Bleve holds an exclusive
	// lock, so only one process may open it at a time.
	history  bool
	progress func(fetcher.Progress)
}

func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Seen != nil {
		_ = c.Seen.Close()
	}
	if c.History != nil {
		_ = c.History.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

// Deps returns the server dependencies.
func (c *Components) Deps() server.Deps {
	return server.Deps{
		Runner:     c.Runner,
		Cursor:     c.Cursor,
		Pipeline:   c.Pipeline,
		Retrieval:  c.Retrieval,
		Refiner:    c.Refiner,
		Sessions:   c.Sessions,
		Index:      c.Index,
		Embedder:   c.Embedder,
		Seen:       c.Seen,
		Categories: c.Categories,
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	db, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.DB = db
	c.Cursor = cursor.NewStore(db, cursor.WithLogger(logger))

	c.Embedder = embedding.NewProvider(
		embedding.FactoryFromConfig(cfg.Embedding),
		cfg.Embedding.Dimensions,
		embedding.WithLogger(logger),
	)

	idx, err := vector.NewIndex(ctx, cfg.Vector, cfg.Embedding.Dimensions, cfg.Storage.SnapshotPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.Index = idx
	logger.Info("vector index initialized",
		zap.String("type", cfg.Vector.Type),
		zap.String("collection", cfg.Vector.Collection))

	c.Seen, err = seen.NewRegistry(ctx, cfg.Seen, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize seen registry: %w", err)
	}

	c.Categories = config.NewCategories(cfg.Ingest.Categories)

	apiKey, err := cfg.Upstream.APIKey()
	if err != nil {
		logger.Warn("requesting upstream without authentication", zap.Error(err))
	}
	client := civitai.NewClient(civitai.Options{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  apiKey,
		Sort:    cfg.Upstream.Sort,
		Period:  cfg.Upstream.Period,
		Timeout: time.Duration(cfg.Upstream.TimeoutSecs) * time.Second,
	}, civitai.WithLogger(logger))

	engineOpts := []fetcher.EngineOption{
		fetcher.WithLogger(logger),
		fetcher.WithPageSize(cfg.Upstream.PageSize),
	}
	if cfg.Upstream.RequestsPerSecond > 0 {
		engineOpts = append(engineOpts, fetcher.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Upstream.RequestsPerSecond), 1)))
	}
	if opts.progress != nil {
		engineOpts = append(engineOpts, fetcher.WithProgress(opts.progress))
	}
	c.Engine = fetcher.NewEngine(client, c.Cursor, engineOpts...)

	c.Pipeline = ingest.NewPipeline(c.Index, c.Embedder,
		ingest.WithLogger(logger),
		ingest.WithSeenRegistry(c.Seen),
	)
	c.Retrieval = rag.NewService(c.Index, c.Embedder,
		rag.WithLogger(logger),
		rag.WithTopK(cfg.RAG.TopK),
	)

	storeOpts := []session.StoreOption{session.WithLogger(logger)}
	if opts.history {
		c.History, err = session.OpenHistoryIndex(cfg.Storage.HistoryIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize history index: %w", err)
		}
		storeOpts = append(storeOpts, session.WithHistoryIndex(c.History))
	}
	c.Sessions = session.NewStore(db, storeOpts...)

	ollama := refine.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, time.Duration(cfg.LLM.TimeoutSecs)*time.Second)
	c.Refiner = refine.NewService(c.Retrieval, ollama, c.Sessions,
		refine.WithLogger(logger),
		refine.WithContextLimits(cfg.RAG.TopK, cfg.RAG.MaxContextChars),
	)

	c.Runner = job.NewRunner(c.Engine, c.Pipeline, c.Categories,
		job.WithLogger(logger),
		job.WithSeenRegistry(c.Seen),
	)

	ok = true
	return c, nil
}
