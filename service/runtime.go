package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/shubhambtra/chatapp-api-sub000/app/agent"
	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/loader/chunker"
	"github.com/shubhambtra/chatapp-api-sub000/loader/extract"
	indexer "github.com/shubhambtra/chatapp-api-sub000/loader/service"
	"github.com/shubhambtra/chatapp-api-sub000/loader/source"
	"github.com/shubhambtra/chatapp-api-sub000/model"
	"github.com/shubhambtra/chatapp-api-sub000/store"
)

// Runtime is the fully wired pipeline shared by the API server and the
// drop-folder loader.
type Runtime struct {
	Service *Service
	Indexer *indexer.Indexer
	Store   store.DBStorer

	redis  *redis.Client
	logger *slog.Logger
}

// NewRuntime connects to the configured backends. Without a Postgres host
// documents live in memory; without a Redis address indexing locks are
// process-local.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	var storer store.DBStorer
	if cfg.Postgres.Enabled() {
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN(), cfg.Postgres.MaxConns, logger)
		if err != nil {
			return nil, fmt.Errorf("error connecting to Postgres: %w", err)
		}
		if err := pg.Init(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("error migrating database: %w", err)
		}
		storer = pg
	} else {
		logger.Warn("pg host not set, documents are kept in memory")
		storer = store.NewMemoryStore()
	}

	rt := &Runtime{Store: storer, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	sources, err := source.NewFileStore(cfg.Server.UploadsDir)
	if err != nil {
		return nil, err
	}
	embedder, err := model.NewEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	generator, err := model.NewGenerator(cfg.Generation, logger)
	if err != nil {
		return nil, err
	}
	rt.redis, err = indexer.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("error connecting to Redis: %w", err)
	}

	rt.Indexer = indexer.New(
		cfg.Indexer,
		storer,
		extract.New(sources, logger),
		chunker.New(cfg.Chunking),
		embedder,
		indexer.NewLocker(rt.redis, cfg.Redis),
		logger,
	)

	counter := model.NewTiktokenCounter(model.ApproxCounter{TokensPerWord: cfg.Chunking.TokensPerWord})
	retriever := agent.NewRetriever(storer, embedder, agent.NormalizeQuery, logger)
	gate := agent.NewGate(retriever, generator, counter, cfg.Retrieval, logger)

	rt.Service = New(storer, sources, rt.Indexer, retriever, gate, cfg.Retrieval, logger)
	ok = true
	return rt, nil
}

func (rt *Runtime) Close() error {
	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		rt.logger.Error("error closing runtime", "error", err)
	}
	return err
}
