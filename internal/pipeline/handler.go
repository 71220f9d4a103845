package pipeline

import (
	"context"
	"log/slog"

	"github.com/connexus-ai/kernel-memory/internal/cache"
	"github.com/connexus-ai/kernel-memory/internal/decoders"
	"github.com/connexus-ai/kernel-memory/internal/generators"
	"github.com/connexus-ai/kernel-memory/internal/memorydb"
	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/repository"
	"github.com/connexus-ai/kernel-memory/internal/storage"
)

// HandlerContext is the small, non-owning set of collaborators every
// handler is invoked with — replacing the teacher's direct field
// dependencies (PipelineService.docRepo/parser/redactor/chunker/embedder)
// with a passed-in struct so handlers never hold a back-reference to the
// orchestrator. It lives in this package, not internal/handlers, so the
// Handler interface below can reference it without creating an import
// cycle: internal/handlers depends on internal/pipeline for this type and
// for Outcome/Error, and internal/pipeline never imports internal/handlers
// back — concrete handler types satisfy Handler structurally.
type HandlerContext struct {
	Storage  storage.DocumentStore
	MemoryDB memorydb.MemoryDB
	Decoders *decoders.Registry
	Embedder generators.EmbeddingGenerator
	TextGen  generators.TextGenerator
	Logger   *slog.Logger

	// EmbedCache is the optional distributed cache gen_embeddings consults
	// before calling Embedder, keyed by chunk content hash (§2 domain
	// stack). Nil disables it — every chunk is embedded directly.
	EmbedCache *cache.RedisQueryCache

	// IndexRegistry tracks which index names exist, independent of the
	// per-index embedding tables MemoryDB creates lazily. Nil disables it —
	// handlers that would touch or delete a catalog row simply skip that
	// step.
	IndexRegistry *repository.IndexRegistry

	// Audit records pipeline lifecycle events (upload, completed, failed,
	// poisoned, document/index delete) independent of the per-document
	// status JSON the Document Store holds. Nil disables it.
	Audit *repository.AuditRepository

	// Partition budgets (§4.3 "Partition").
	MaxTokensPerParagraph int
	MaxTokensPerLine      int
	OverlappingTokens     int

	// SummarizeTokenBudget bounds the optional summarize step's output.
	SummarizeTokenBudget int
}

// Log returns hc.Logger, defaulting to slog's package logger so a
// zero-value HandlerContext (as built by tests) never panics.
func (hc *HandlerContext) Log() *slog.Logger {
	if hc.Logger != nil {
		return hc.Logger
	}
	return slog.Default()
}

// Handler is one named, idempotent pipeline step (§4.3). The orchestrator
// holds a HandlerRegistry of these and dispatches to them by name as it
// walks a Pipeline's RemainingSteps.
type Handler interface {
	Name() string
	Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (Outcome, *model.Pipeline, error)
}

// HandlerRegistry maps step names to the Handler that implements them.
type HandlerRegistry struct {
	handlers map[string]Handler
}

// NewHandlerRegistry builds an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds h under its own Name(), overwriting any previous
// registration for that name.
func (r *HandlerRegistry) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Lookup returns the handler registered for step, or an error if none is.
func (r *HandlerRegistry) Lookup(step string) (Handler, error) {
	h, ok := r.handlers[step]
	if !ok {
		return nil, NewError("pipeline.HandlerRegistry.Lookup", KindFatalConfiguration, errUnknownStep(step))
	}
	return h, nil
}

type errUnknownStep string

func (e errUnknownStep) Error() string { return "no handler registered for step " + string(e) }
