package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askql/askql/internal/api"
	"github.com/askql/askql/internal/auth"
	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/catalog/introspect"
	"github.com/askql/askql/internal/config"
	"github.com/askql/askql/internal/database"
	"github.com/askql/askql/internal/demo/seed"
	"github.com/askql/askql/internal/embedding"
	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/guard"
	"github.com/askql/askql/internal/indexer"
	"github.com/askql/askql/internal/nl2sql"
	"github.com/askql/askql/internal/observability"
	"github.com/askql/askql/internal/pipeline"
	"github.com/askql/askql/internal/prompt"
	"github.com/askql/askql/internal/query/sqlexec"
	"github.com/askql/askql/internal/retrieval"
	s3store "github.com/askql/askql/internal/storage/s3"
	"github.com/askql/askql/internal/vectorstore"
	vectorpostgres "github.com/askql/askql/internal/vectorstore/postgres"
	"github.com/askql/askql/internal/vectorstore/snapshot"
)

func main() {
	cfg, err := config.LoadFromEnv("askql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.close()

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      app.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		app.close()
		os.Exit(1)
	}
}

type explainChecker interface {
	CheckExplain(ctx context.Context) error
}

// requireExplain refuses to start against an engine that cannot plan, since
// every candidate statement is verified with EXPLAIN.
func requireExplain(ctx context.Context, db explainChecker) error {
	if err := db.CheckExplain(ctx); err != nil {
		return failure.Wrap(failure.ConfigurationError, err, "database cannot explain statements").WithStage("startup")
	}
	return nil
}

type application struct {
	handler    http.Handler
	controller *pipeline.Controller
	refresher  *indexer.Refresher
	closers    []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// build wires every component from cfg. On error, everything opened so far
// is closed again.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	dialect, err := database.ParseDialect(cfg.DB.Driver)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, database.Config{
		Dialect:         dialect,
		DSN:             cfg.DB.DSN,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.closers = append(app.closers, db.Close)
	if err := requireExplain(ctx, db); err != nil {
		return nil, err
	}

	schema, err := loadCatalog(ctx, cfg, db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", slog.String("catalog", schema.Name()), slog.Int("tables", schema.Len()))

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store, storeCheck, err := newStore(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	var snapshots *snapshot.Manager
	var objectCheck api.ReadinessCheck
	if cfg.ObjectStore.Enabled {
		objects, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		objectCheck = objects.HealthCheck
		snapshots = snapshot.NewManager(objects, schema.Name())
		if cfg.Embedding.SnapshotKey != "" {
			snapshots.Pin(cfg.Embedding.SnapshotKey)
		}
		restoreSnapshot(ctx, cfg, snapshots, store, embedder.Model(), logger)
	}

	ix, err := indexer.New(embedder, store, indexer.Options{
		Concurrency: cfg.Retrieval.IndexConcurrency,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	var saver indexer.SnapshotSaver
	if snapshots != nil {
		saver = snapshots
	}
	app.refresher, err = indexer.NewRefresher(ix, schema, saver)
	if err != nil {
		return nil, err
	}
	app.refresher.RetainSnapshots(cfg.Embedding.SnapshotRetain)
	if cfg.Retrieval.IndexOnStartup {
		if _, err := app.refresher.Refresh(ctx, false); err != nil {
			// Retrieval falls back or fails per question until a reindex succeeds.
			logger.Error("startup index failed", slog.Any("error", err))
		}
	}

	retriever, err := retrieval.New(schema, embedder, store, logger)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	generator, err := nl2sql.NewGenerator(backend, nl2sql.GeneratorOptions{
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	validator, err := guard.NewValidator(db, guard.Options{
		PlanTimeout: cfg.DB.StatementTimeout,
		Dialect:     dialect,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	executor, err := sqlexec.New(db, sqlexec.Options{
		MaxRows:          cfg.Exec.MaxRows,
		StatementTimeout: cfg.DB.StatementTimeout,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	app.controller, err = pipeline.New(pipeline.Components{
		Retriever: retriever,
		Builder: prompt.NewBuilder(prompt.Options{
			Dialect:    dialect,
			SchemaName: schema.Name(),
			Backend:    generator.Backend(),
			Sampling: prompt.Sampling{
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
			},
		}),
		Generator: generator,
		Validator: validator,
		Executor:  executor,
	}, pipeline.Options{
		DefaultMode:    pipeline.Mode(cfg.Retrieval.Mode),
		TopK:           cfg.Retrieval.TopK,
		FallbackToFull: cfg.Retrieval.FallbackToFull,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	deps := api.Dependencies{
		Logger:     logger,
		Controller: app.controller,
		Reindexer:  app.refresher,
		Readiness: api.CombineReadinessChecks(
			db.Ping,
			api.CheckCatalog(app.controller),
			storeCheck,
			objectCheck,
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		keys, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return nil, fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, keys)
	}
	app.handler = api.NewHandler(cfg, deps)
	return app, nil
}

func loadCatalog(ctx context.Context, cfg config.Config, db *database.DB, logger *slog.Logger) (catalog.Catalog, error) {
	switch cfg.Catalog.Source {
	case "file":
		return catalog.LoadFile(cfg.Catalog.Path)
	case "introspect":
		return introspect.Load(ctx, db, cfg.Catalog.Schema)
	case "demo":
		// A private in-memory database starts empty.
		if db.Dialect() == database.DuckDB && cfg.DB.DSN == "" {
			summary, err := seed.Apply(ctx, db, seed.Options{})
			if err != nil {
				return catalog.Catalog{}, fmt.Errorf("seed demo schema: %w", err)
			}
			logger.Info("demo schema seeded", slog.Int("tables", summary.Tables), slog.Int("orders", summary.Orders))
		}
		return seed.Catalog()
	default:
		return catalog.Catalog{}, fmt.Errorf("unsupported catalog source %q", cfg.Catalog.Source)
	}
}

func newEmbedder(cfg config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "hashing":
		return embedding.NewHashing(cfg.Embedding.Dimensions)
	case "openai":
		return embedding.NewOpenAI(embedding.OpenAIConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
	case "ollama":
		return embedding.NewOllama(embedding.OllamaConfig{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Embedding.Provider)
	}
}

func newStore(ctx context.Context, cfg config.Config, app *application) (vectorstore.Store, api.ReadinessCheck, error) {
	switch cfg.Embedding.Store {
	case "memory":
		return vectorstore.NewMemory(), nil, nil
	case "postgres":
		db, err := vectorpostgres.Open(ctx, vectorpostgres.DBConfig{
			DSN:             cfg.Embedding.StoreDSN,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open embedding store: %w", err)
		}
		app.closers = append(app.closers, db.Close)
		store := vectorpostgres.NewStore(db)
		return store, store.HealthCheck, nil
	default:
		return nil, nil, fmt.Errorf("unsupported embedding store %q", cfg.Embedding.Store)
	}
}

func newBackend(cfg config.Config) (nl2sql.Backend, error) {
	client := &http.Client{Timeout: cfg.LLM.Timeout + 5*time.Second}
	switch cfg.LLM.Backend {
	case "openai":
		return nl2sql.NewOpenAIBackend(nl2sql.OpenAIConfig{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey,
			AllowAnonymous: cfg.LLM.AllowAnonymous,
			HTTPClient:     client,
		})
	case "ollama":
		return nl2sql.NewOllamaBackend(nl2sql.OllamaConfig{
			BaseURL:    cfg.LLM.BaseURL,
			HTTPClient: client,
		})
	default:
		return nil, fmt.Errorf("unsupported llm backend %q", cfg.LLM.Backend)
	}
}

// restoreSnapshot seeds the store from object storage. A missing or broken
// snapshot only costs a full reindex, so errors are logged.
func restoreSnapshot(ctx context.Context, cfg config.Config, snapshots *snapshot.Manager, store vectorstore.Store, model string, logger *slog.Logger) {
	if key := cfg.Embedding.SnapshotKey; key != "" {
		info, err := snapshots.Inspect(ctx, key)
		if err != nil {
			logger.Warn("inspect pinned embedding snapshot failed", slog.String("key", key), slog.Any("error", err))
			return
		}
		if info.Model != "" && info.Model != model {
			logger.Warn("pinned embedding snapshot was built with another model",
				slog.String("key", key), slog.String("snapshot_model", info.Model), slog.String("model", model))
			return
		}
		count, err := snapshots.RestoreKey(ctx, store, key)
		if err != nil {
			logger.Warn("restore pinned embedding snapshot failed", slog.String("key", key), slog.Any("error", err))
			return
		}
		logger.Info("embedding snapshot restored", slog.String("key", key), slog.Int("records", count))
		return
	}
	key, count, err := snapshots.Restore(ctx, store, model)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		logger.Info("no embedding snapshot found", slog.String("model", model))
	case err != nil:
		logger.Warn("restore embedding snapshot failed", slog.Any("error", err))
	default:
		logger.Info("embedding snapshot restored", slog.String("key", key), slog.Int("records", count))
	}
}
