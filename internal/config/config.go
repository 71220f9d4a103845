package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	// Document Storage backend (§4.4): "local" or "gcs".
	StorageBackend string
	StorageDir     string // local backend root
	GCSBucketName  string // gcs backend bucket

	// Memory DB backend (§4.5): pgvector over Postgres.
	DatabaseURL      string
	DatabaseMaxConns int

	// Optional graph-backed tag index (§4.5 enrichment) over Neo4j.
	GraphTagIndexEnabled  bool
	Neo4jURI              string
	Neo4jUser             string
	Neo4jPassword         string

	GCPProject string
	GCPRegion  string

	VertexAILocation      string
	VertexAIModel         string
	EmbeddingLocation     string
	EmbeddingModel        string
	EmbeddingDimensions   int
	EmbeddingMaxTokens    int // per-text token budget the embedder enforces (§4.6)
	EmbeddingMaxBatchSize int // GenerateEmbeddingBatch call size cap (§4.6)

	DocAIEnabled     bool
	DocAIProcessorID string
	DocAILocation    string

	// Queue backend (§4.2): "memory" or "pubsub".
	QueueBackend      string
	QueueName         string
	PoisonSuffix      string
	MaxAttempts       int
	VisibilityTimeout string // parsed by the queue adapter, e.g. "30s"

	WorkerConcurrency int

	// Partition budgets (§4.3 "Partition").
	MaxTokensPerParagraph int
	MaxTokensPerLine      int
	OverlappingTokens     int

	SummarizeEnabled     bool
	SummarizeTokenBudget int

	RedisAddr string

	InternalAuthSecret string
}

// Load reads configuration from environment variables. Required variables
// (DATABASE_URL, GOOGLE_CLOUD_PROJECT) cause an error if missing. Optional
// variables use sensible defaults.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		StorageBackend: envStr("STORAGE_BACKEND", "local"),
		StorageDir:     envStr("STORAGE_DIR", "./data/storage"),
		GCSBucketName:  envStr("GCS_BUCKET_NAME", ""),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		GraphTagIndexEnabled: envBool("GRAPH_TAG_INDEX_ENABLED", false),
		Neo4jURI:             envStr("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:            envStr("NEO4J_USER", "neo4j"),
		Neo4jPassword:        envStr("NEO4J_PASSWORD", ""),

		GCPProject: gcpProject,
		GCPRegion:  envStr("GCP_REGION", "us-east4"),

		VertexAILocation:      envStr("VERTEX_AI_LOCATION", "global"),
		VertexAIModel:         envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		EmbeddingLocation:     envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("GCP_REGION", "us-east4")),
		EmbeddingModel:        envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions:   envInt("EMBEDDING_DIMENSIONS", 768),
		EmbeddingMaxTokens:    envInt("EMBEDDING_MAX_TOKENS", 2048),
		EmbeddingMaxBatchSize: envInt("EMBEDDING_MAX_BATCH_SIZE", 250),

		DocAIEnabled:     envBool("DOCUMENT_AI_ENABLED", false),
		DocAIProcessorID: envStr("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocAILocation:    envStr("DOCUMENT_AI_LOCATION", "us"),

		QueueBackend:      envStr("QUEUE_BACKEND", "memory"),
		QueueName:         envStr("QUEUE_NAME", "ingestion"),
		PoisonSuffix:      envStr("QUEUE_POISON_SUFFIX", "-poison"),
		MaxAttempts:       envInt("QUEUE_MAX_ATTEMPTS", 20),
		VisibilityTimeout: envStr("QUEUE_VISIBILITY_TIMEOUT", "30s"),

		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 4),

		MaxTokensPerParagraph: envInt("MAX_TOKENS_PER_PARAGRAPH", 1000),
		MaxTokensPerLine:      envInt("MAX_TOKENS_PER_LINE", 300),
		OverlappingTokens:     envInt("OVERLAPPING_TOKENS", 100),

		SummarizeEnabled:     envBool("SUMMARIZE_ENABLED", false),
		SummarizeTokenBudget: envInt("SUMMARIZE_TOKEN_BUDGET", 500),

		RedisAddr: envStr("REDIS_ADDR", ""),

		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
	}

	if cfg.MaxTokensPerLine > cfg.MaxTokensPerParagraph {
		return nil, fmt.Errorf("config.Load: MAX_TOKENS_PER_LINE (%d) must be <= MAX_TOKENS_PER_PARAGRAPH (%d)", cfg.MaxTokensPerLine, cfg.MaxTokensPerParagraph)
	}
	if cfg.OverlappingTokens >= cfg.MaxTokensPerParagraph {
		return nil, fmt.Errorf("config.Load: OVERLAPPING_TOKENS (%d) must be < MAX_TOKENS_PER_PARAGRAPH (%d)", cfg.OverlappingTokens, cfg.MaxTokensPerParagraph)
	}
	if cfg.StorageBackend == "gcs" && cfg.GCSBucketName == "" {
		return nil, fmt.Errorf("config.Load: GCS_BUCKET_NAME is required when STORAGE_BACKEND=gcs")
	}

	// Internal auth secret is required in non-development environments.
	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
