// Package memorydb implements the Memory DB (vector + tag store) contract
// of §4.5: per-index collections, DNF tag filters, and cosine similarity
// search.
package memorydb

import (
	"context"
	"iter"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// MemoryDB is the contract every adapter (pgvector, …) implements (§4.5).
type MemoryDB interface {
	CreateIndex(ctx context.Context, index string, vectorSize int) error
	DeleteIndex(ctx context.Context, index string) error
	ListIndexes(ctx context.Context) ([]string, error)

	// Upsert is content-addressed: re-running a handler against the same
	// (document, chunk) overwrites, never duplicates (I5).
	Upsert(ctx context.Context, index string, rec model.EmbeddingRecord) (string, error)

	GetList(ctx context.Context, index string, filters []model.TagFilterGroup, limit int, withEmbeddings bool) (iter.Seq2[model.EmbeddingRecord, error], error)

	GetSimilarList(ctx context.Context, index string, query model.SimilarityQuery, limit int, minRelevance float64, filters []model.TagFilterGroup, withEmbeddings bool) (iter.Seq2[model.ScoredRecord, error], error)

	Delete(ctx context.Context, index string, rec model.EmbeddingRecord) error
}
