package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vekku/brain/internal/config"
	dbRedis "github.com/vekku/brain/internal/db/redis"
	"github.com/vekku/brain/internal/domain"
	logpkg "github.com/vekku/brain/internal/logger"
	"github.com/vekku/brain/internal/metrics"
	budgetrepo "github.com/vekku/brain/internal/repository/budget"
	"github.com/vekku/brain/internal/repository/embcache"
	pointrepo "github.com/vekku/brain/internal/repository/point"
	chiTransport "github.com/vekku/brain/internal/transport/chi"
	openaiEmb "github.com/vekku/brain/internal/transport/openai"
	embeddinguc "github.com/vekku/brain/internal/usecase/embedding"
	healthuc "github.com/vekku/brain/internal/usecase/health"
	keyworduc "github.com/vekku/brain/internal/usecase/keyword"
	retrievaluc "github.com/vekku/brain/internal/usecase/retrieval"
	segmentuc "github.com/vekku/brain/internal/usecase/segment"
	taguc "github.com/vekku/brain/internal/usecase/tag"
	usageuc "github.com/vekku/brain/internal/usecase/usage"
	"github.com/vekku/brain/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting brain API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:       cfg.Database.Addrs,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		DB:          cfg.Database.DB,
		ScanListing: cfg.Database.Driver == "valkey",
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterTaggingMetrics()

	// Pass a nil interface, not a typed nil pointer, when no budget is configured.
	var (
		budget        *embeddinguc.BudgetTracker
		budgetChecker embeddinguc.BudgetChecker
		budgetReader  usageuc.BudgetReader
	)
	if cfg.Embedding.Budget.Enabled() {
		action := embeddinguc.BudgetActionWarn
		if cfg.Embedding.Budget.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		budget = embeddinguc.NewBudgetTracker(embeddinguc.BudgetConfig{
			Provider:     cfg.Embedding.Provider,
			KeyPrefix:    cfg.Index.KeyPrefix,
			DailyLimit:   cfg.Embedding.Budget.DailyTokenLimit,
			MonthlyLimit: cfg.Embedding.Budget.MonthlyTokenLimit,
			Action:       action,
		}, logger).WithStore(ctx, budgetrepo.New(store))
		budgetChecker, budgetReader = budget, budget
	}

	base := embeddinguc.NewLazy(openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		User:       cfg.Embedding.User,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	}))
	embedder, err := buildEmbedder(cfg, base, store, budgetChecker, logger)
	if err != nil {
		logger.Fatal("Failed to build embedder", zap.Error(err))
	}
	pool := embeddinguc.NewPool(embedder, cfg.Embedding.PoolBatchSize, cfg.Embedding.PoolConcurrency)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	points := pointrepo.New(store, pointrepo.Config{
		KeyPrefix:  cfg.Index.KeyPrefix,
		Collection: cfg.Index.Collection,
		Dimensions: cfg.Embedding.Dimensions,
		Flat:       cfg.Index.Algorithm == "flat",
		HNSW:       pointrepo.HNSWConfig{M: cfg.Index.HNSWM, EFConstruct: cfg.Index.HNSWEFConstruct},
	})
	// Failure is not fatal: the index is created again on first use.
	if err := points.Initialize(ctx); err != nil {
		logger.Warn("Vector index not initialized", zap.Error(err))
	}

	tc := cfg.Tagging
	retrieval := retrievaluc.New(points, pool, segmentuc.New(pool), retrievaluc.Config{
		Threshold:        tc.Threshold,
		RawTopK:          tc.RawTopK,
		RegionTopK:       tc.RegionTopK,
		CombinedTopK:     tc.CombinedTopK,
		Overfetch:        tc.Overfetch,
		SummaryChars:     tc.SummaryChars,
		SegmentThreshold: tc.SegmentThreshold,
		Concurrency:      tc.Concurrency,
	}, logger)
	keywords, err := keyworduc.New(retrieval, pool, keyworduc.Config{
		MinLength:          tc.Keyword.MinLength,
		PoolSize:           tc.Keyword.PoolSize,
		ExclusionThreshold: tc.Keyword.ExclusionThreshold,
		MaxCandidates:      tc.Keyword.MaxCandidates,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create keyword extractor", zap.Error(err))
	}

	server := chiTransport.NewServer(chiTransport.Services{
		Tags:      taguc.New(points, pool, logger),
		Retrieval: retrieval,
		Keywords:  keywords,
		Health:    healthuc.New(points, base, 0),
		Usage:     usageuc.New(budgetReader),
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain, innermost first:
// provider (lazy) -> Redis cache -> budget + batching -> in-process LRU.
func buildEmbedder(
	cfg config.Config,
	base domain.Embedder,
	store *dbRedis.Store,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) (domain.Embedder, error) {
	embedder := base
	if cfg.Cache.Redis {
		namespace := fmt.Sprintf("%semb:%s:%d:", cfg.Index.KeyPrefix, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		embedder = embcache.New(embedder, store, namespace, ttl, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Embedding.Provider, cfg.Embedding.Model, budget, logger,
	).WithMaxBatch(cfg.Embedding.MaxAPIBatch)

	if cfg.Cache.LRUSize > 0 {
		lru, err := embcache.NewLRU(embedder, cfg.Cache.LRUSize, metrics.EmbeddingCacheTotal)
		if err != nil {
			return nil, err
		}
		embedder = lru
	}
	return embedder, nil
}
