// Package router wires the HTTP surface (§6) onto a Chi mux: upload,
// status, search, list, health, and metrics.
package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/kernel-memory/internal/cache"
	"github.com/connexus-ai/kernel-memory/internal/generators"
	"github.com/connexus-ai/kernel-memory/internal/handler"
	"github.com/connexus-ai/kernel-memory/internal/middleware"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB          handler.DBPinger
	Orchestrator handler.Orchestrator
	MemoryDB     handler.Searcher
	Embedder     generators.EmbeddingGenerator
	QueryEmbedCache *cache.EmbeddingCache

	FrontendURL        string
	Version            string
	Metrics            *middleware.Metrics
	MetricsReg         *prometheus.Registry
	InternalAuthSecret string

	UploadRateLimiter *middleware.RateLimiter
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	if deps.FrontendURL != "" {
		r.Use(middleware.CORS(deps.FrontendURL))
	}
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public routes (no auth).
	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Protected routes — every ingestion/retrieval call requires the
	// internal service-to-service token (§6: this is a core service, not a
	// public-facing product; callers are trusted collaborators).
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalAuth(deps.InternalAuthSecret))

		uploadMiddleware := []func(http.Handler) http.Handler{middleware.Timeout(120 * time.Second)}
		if deps.UploadRateLimiter != nil {
			uploadMiddleware = append(uploadMiddleware, middleware.RateLimit(deps.UploadRateLimiter))
		}
		r.With(uploadMiddleware...).Post("/api/indexes/{index}/documents", handler.Upload(deps.Orchestrator, nil))
		r.With(uploadMiddleware...).Post("/api/documents", handler.Upload(deps.Orchestrator, nil))

		timeout10s := middleware.Timeout(10 * time.Second)
		r.With(timeout10s).Get("/api/indexes/{index}/documents/{id}/status", handler.Status(deps.Orchestrator))
		r.With(timeout10s).Get("/api/indexes/{index}/documents/{id}/ready", handler.IsReady(deps.Orchestrator))

		timeout30s := middleware.Timeout(30 * time.Second)
		r.With(timeout30s).Post("/api/search", handler.Search(deps.MemoryDB, deps.Embedder, deps.QueryEmbedCache))
		r.With(timeout30s).Post("/api/list", handler.ListRecords(deps.MemoryDB))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
