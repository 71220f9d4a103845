// Command server runs the ingestion API: it accepts uploads, enqueues
// pipeline work, and serves status/search/list reads against the memory
// DB (§6). This process also registers itself as a queue consumer: with
// QUEUE_BACKEND=memory (the default, single-process dev mode) it is the
// only one; with QUEUE_BACKEND=pubsub, cmd/worker processes consume the
// same subscription alongside it.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/connexus-ai/kernel-memory/internal/cache"
	"github.com/connexus-ai/kernel-memory/internal/config"
	"github.com/connexus-ai/kernel-memory/internal/decoders"
	"github.com/connexus-ai/kernel-memory/internal/generators"
	"github.com/connexus-ai/kernel-memory/internal/handlers"
	"github.com/connexus-ai/kernel-memory/internal/memorydb"
	"github.com/connexus-ai/kernel-memory/internal/middleware"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
	"github.com/connexus-ai/kernel-memory/internal/queue"
	"github.com/connexus-ai/kernel-memory/internal/repository"
	"github.com/connexus-ai/kernel-memory/internal/router"
	"github.com/connexus-ai/kernel-memory/internal/storage"
)

const Version = "0.1.0"

func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// buildDecoders assembles the mime-keyed decoder matrix (§4.3 "Extract").
// PDF and image mimes are only decodable when Document AI is configured;
// without it those mimes are left unregistered and Extract poisons them
// as a FatalError rather than silently dropping the content.
func buildDecoders(ctx context.Context, cfg *config.Config) (*decoders.Registry, error) {
	reg := decoders.NewRegistry()
	reg.Register("text/plain", decoders.PlainTextDecoder{})
	reg.Register("text/markdown", decoders.PlainTextDecoder{})
	reg.Register("text/csv", decoders.PlainTextDecoder{})
	reg.Register("application/json", decoders.PlainTextDecoder{})
	reg.Register("text/html", decoders.HTMLDecoder{})
	reg.Register("application/vnd.openxmlformats-officedocument.wordprocessingml.document", decoders.DocxDecoder{})
	reg.Register("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", decoders.XlsxDecoder{})
	reg.Register("application/vnd.openxmlformats-officedocument.presentationml.presentation", decoders.PptxDecoder{})

	if cfg.DocAIEnabled {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.DocAILocation)
		client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
		if err != nil {
			return nil, fmt.Errorf("main.buildDecoders: document ai client: %w", err)
		}
		processor := fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.GCPProject, cfg.DocAILocation, cfg.DocAIProcessorID)
		docAI := decoders.NewDocAIDecoder(client, processor)
		reg.Register("application/pdf", docAI)
		reg.Register("image/*", docAI)
	}
	return reg, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("main.run: %w", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Environment == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var docStore storage.DocumentStore
	switch cfg.StorageBackend {
	case "gcs":
		docStore, err = storage.NewGCSDocumentStore(ctx, cfg.GCSBucketName)
	default:
		docStore = storage.NewLocalDocumentStore(cfg.StorageDir)
	}
	if err != nil {
		return fmt.Errorf("main.run: document store: %w", err)
	}

	if err := repository.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("main.run: migrate: %w", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("main.run: %w", err)
	}
	defer pool.Close()

	memDB := memorydb.NewPgvectorMemoryDB(pool)
	indexRegistry := repository.NewIndexRegistry(pool)
	auditRepo := repository.NewAuditRepository(pool)

	if cfg.GraphTagIndexEnabled {
		neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			return fmt.Errorf("main.run: neo4j driver: %w", err)
		}
		defer neo4jDriver.Close(ctx)
		memDB.SetGraphTagIndex(memorydb.NewGraphTagIndex(neo4jDriver))
	}

	embedder, err := generators.NewVertexEmbeddingGenerator(ctx, cfg.GCPProject, cfg.EmbeddingLocation, cfg.EmbeddingModel, cfg.EmbeddingDimensions, cfg.EmbeddingMaxTokens, cfg.EmbeddingMaxBatchSize)
	if err != nil {
		return fmt.Errorf("main.run: embedding generator: %w", err)
	}

	var textGen generators.TextGenerator
	if cfg.SummarizeEnabled {
		textGen, err = generators.NewVertexTextGenerator(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel)
		if err != nil {
			return fmt.Errorf("main.run: text generator: %w", err)
		}
	}

	decoderRegistry, err := buildDecoders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("main.run: %w", err)
	}

	var embedCache *cache.RedisQueryCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		embedCache = cache.NewRedisQueryCache(redisClient, cache.DefaultEmbeddingTTL())
	}

	hc := &pipeline.HandlerContext{
		Storage:               docStore,
		MemoryDB:              memDB,
		Decoders:              decoderRegistry,
		Embedder:              embedder,
		TextGen:               textGen,
		Logger:                logger,
		EmbedCache:            embedCache,
		IndexRegistry:         indexRegistry,
		Audit:                 auditRepo,
		MaxTokensPerParagraph: cfg.MaxTokensPerParagraph,
		MaxTokensPerLine:      cfg.MaxTokensPerLine,
		OverlappingTokens:     cfg.OverlappingTokens,
		SummarizeTokenBudget:  cfg.SummarizeTokenBudget,
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case "pubsub":
		q, err = queue.NewPubSubQueue(ctx, cfg.GCPProject)
	default:
		q = queue.NewInMemoryQueue(cfg.WorkerConcurrency)
	}
	if err != nil {
		return fmt.Errorf("main.run: queue: %w", err)
	}

	visibilityTimeout, err := time.ParseDuration(cfg.VisibilityTimeout)
	if err != nil {
		return fmt.Errorf("main.run: QUEUE_VISIBILITY_TIMEOUT: %w", err)
	}
	if err := q.Connect(ctx, cfg.QueueName, queue.ConnectOptions{
		VisibilityTimeout: visibilityTimeout,
		PoisonSuffix:      cfg.PoisonSuffix,
		MaxAttempts:       cfg.MaxAttempts,
	}); err != nil {
		return fmt.Errorf("main.run: queue connect: %w", err)
	}
	defer q.Close(ctx)

	orch := pipeline.NewOrchestrator(docStore, q, hc, logger)
	orch.AddHandler(handlers.ExtractHandler{})
	orch.AddHandler(handlers.PartitionHandler{})
	orch.AddHandler(handlers.GenEmbeddingsHandler{})
	orch.AddHandler(handlers.SaveRecordsHandler{})
	orch.AddHandler(handlers.SummarizeHandler{})
	orch.AddHandler(handlers.DeleteDocumentHandler{})
	orch.AddHandler(handlers.DeleteIndexHandler{})

	if err := q.OnDequeue(orch.HandleMessage); err != nil {
		return fmt.Errorf("main.run: queue on-dequeue: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	uploadLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: 60,
		Window:      time.Minute,
	})
	defer uploadLimiter.Stop()

	queryEmbedCache := cache.NewEmbeddingCache(cache.DefaultEmbeddingTTL())
	defer queryEmbedCache.Stop()

	mux := router.New(&router.Dependencies{
		DB:                 &dbPinger{pool: pool},
		Orchestrator:       orch,
		MemoryDB:           memDB,
		Embedder:           embedder,
		QueryEmbedCache:    queryEmbedCache,
		Version:            Version,
		Metrics:            metrics,
		MetricsReg:         reg,
		InternalAuthSecret: cfg.InternalAuthSecret,
		UploadRateLimiter:  uploadLimiter,
	})

	port := cfg.Port
	if envPort := getPort(); envPort != "" {
		if p, convErr := strconv.Atoi(envPort); convErr == nil {
			port = p
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "version", Version, "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("main.run: server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("main.run: graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// dbPinger adapts *pgxpool.Pool to handler.DBPinger.
type dbPinger struct {
	pool *pgxpool.Pool
}

func (p *dbPinger) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
