package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/personal-vault/internal/ask"
	"github.com/connexus-ai/personal-vault/internal/cache"
	"github.com/connexus-ai/personal-vault/internal/chunker"
	"github.com/connexus-ai/personal-vault/internal/config"
	"github.com/connexus-ai/personal-vault/internal/connector"
	"github.com/connexus-ai/personal-vault/internal/eval"
	"github.com/connexus-ai/personal-vault/internal/handler"
	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/intent"
	"github.com/connexus-ai/personal-vault/internal/memory"
	"github.com/connexus-ai/personal-vault/internal/middleware"
	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/oracle"
	"github.com/connexus-ai/personal-vault/internal/reflection"
	"github.com/connexus-ai/personal-vault/internal/repository"
	"github.com/connexus-ai/personal-vault/internal/retrieval"
	"github.com/connexus-ai/personal-vault/internal/router"
	"github.com/connexus-ai/personal-vault/internal/sqldraft"
	"github.com/connexus-ai/personal-vault/internal/sqlguard"
	"github.com/connexus-ai/personal-vault/internal/watcher"
	"github.com/connexus-ai/personal-vault/migrations"
)

const version = "0.1.0"

func buildCompletion(cfg *config.Config) oracle.TextCompletion {
	if cfg.OpenAIAPIKey == "" {
		return oracle.NullCompletion{}
	}
	return oracle.NewOpenAICompletion(cfg.OpenAIAPIBase, cfg.OpenAIAPIKey, cfg.CompletionModel)
}

func buildEncoder(cfg *config.Config) oracle.VectorEncoder {
	if cfg.EmbedBackend != "openai" || cfg.OpenAIAPIKey == "" {
		return oracle.NewLocalEncoder(cfg.EmbeddingDimensions)
	}
	return oracle.NewOpenAIEncoder(cfg.OpenAIAPIBase, cfg.OpenAIAPIKey, cfg.OpenAIEmbedModel, cfg.EmbeddingDimensions)
}

// cacheInvalidatingSyncer wraps the ingestion coordinator so the watcher's
// background sync passes drop any stale cached retrieval alongside the
// newly indexed documents.
type cacheInvalidatingSyncer struct {
	*ingest.Coordinator
	cache *retrieval.CachedRetriever
}

func (s cacheInvalidatingSyncer) Sync(ctx context.Context, conn ingest.Connector) (ingest.SyncStats, error) {
	stats, err := s.Coordinator.Sync(ctx, conn)
	if err != nil {
		return ingest.SyncStats{}, err
	}
	s.cache.InvalidateAll()
	return stats, nil
}

func buildConnectors(sourceRepo *repository.SourceRepo) map[model.Source]ingest.Connector {
	return map[model.Source]ingest.Connector{
		model.SourceFiles: connector.NewFilesConnector(sourceRepo),
		model.SourceMail:  connector.NewMailConnector(),
		model.SourceChatA: connector.NewChatConnector(model.SourceChatA),
		model.SourceChatB: connector.NewChatConnector(model.SourceChatB),
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("db pool: %w", err)
	}
	defer pool.Close()

	documents := repository.NewDocumentRepo(pool)
	chunks := repository.NewChunkRepo(pool)
	sources := repository.NewSourceRepo(pool)
	runs := repository.NewRunRepo(pool)
	memories := repository.NewMemoryRepo(pool)

	ch := chunker.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	encoder := buildEncoder(cfg)
	completion := buildCompletion(cfg)

	coordinator := ingest.New(documents, chunks, sources, ch, encoder)
	connectors := buildConnectors(sources)

	cachedEncoder := oracle.NewCachedEncoder(encoder, cache.DefaultEmbeddingTTL())
	baseRetriever := retrieval.New(chunks, chunks, cachedEncoder)
	queryCache := cache.New(2 * time.Minute)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cachedEncoder.Cache().UseRedis(redisClient, "vault:emb:")
		queryCache.UseRedis(redisClient, "vault:qc:")
		slog.Info("redis second-tier cache enabled", "addr", cfg.RedisAddr)
	}
	cachedRetriever := retrieval.NewCached(baseRetriever, queryCache)
	intentRouter := intent.New(completion)
	drafter := sqldraft.New(completion)
	guardCfg := sqlguard.DefaultConfig()
	guardCfg.DefaultLimit = cfg.SQLDefaultLimit
	guardCfg.MaxLimit = cfg.SQLMaxLimit
	guardCfg.MaxSQLLength = cfg.SQLMaxLength
	guardCfg.StatementTimeoutMS = cfg.SQLTimeoutMS
	guardCfg.MaxSQLAttempts = cfg.MaxSQLAttempts
	executor := sqlguard.NewExecutor(pool, guardCfg)

	memManager := memory.New(memories)
	reflectionEngine := reflection.New()

	orchestrator := ask.New(runs, memManager, memories, memories, cachedRetriever, intentRouter, drafter, executor, completion, reflectionEngine)
	evalRunner := eval.New(memories, func() string { return uuid.NewString() })

	fileWatcher := watcher.New(cacheInvalidatingSyncer{coordinator, cachedRetriever}, connectors[model.SourceFiles], time.Duration(cfg.WatcherDebounce)*time.Second)
	fileWatcher.Start(ctx)
	defer fileWatcher.Stop()

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitPerMinute,
		Window:      time.Minute,
	})

	deps := &router.Dependencies{
		DB:                 pool,
		Version:            version,
		InternalAuthSecret: cfg.InternalAuthSecret,
		RateLimiter:        rateLimiter,
		Metrics:            metrics,
		MetricsReg:         metricsReg,
		Ask:                orchestrator,
		Feedback: handler.FeedbackDeps{
			Store:      runs,
			Candidates: memories,
			Reflection: reflectionEngine,
		},
		Memory: handler.MemoryReviewDeps{
			Lister:     memories,
			Approver:   memManager,
			Rejecter:   memManager,
			Deprecator: memManager,
		},
		Sources: handler.SourcesDeps{
			States:     sources,
			Syncer:     coordinator,
			Connectors: connectors,
			Allowlist:  sources,
			Cache:      cachedRetriever,
		},
		Eval: evalRunner,
	}

	mux := router.New(deps)

	srv := &http.Server{
		Addr:         ":" + portString(cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("personal-vault starting", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func portString(p int) string {
	if p <= 0 {
		return "8080"
	}
	return fmt.Sprintf("%d", p)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
