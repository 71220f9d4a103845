package handlers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/kernel-memory/internal/cache"
	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
	"github.com/connexus-ai/kernel-memory/internal/storage"
)

// countingEmbedder returns a fixed-dimension vector per text and records
// how many texts it was ever asked to embed, so tests can assert the cache
// actually avoided redundant calls.
type countingEmbedder struct {
	dims         int
	calls        int
	maxTokens    int
	maxBatchSize int
}

func (e *countingEmbedder) MaxTokens() int {
	if e.maxTokens <= 0 {
		return 2048
	}
	return e.maxTokens
}

func (e *countingEmbedder) MaxBatchSize() int {
	if e.maxBatchSize <= 0 {
		return 250
	}
	return e.maxBatchSize
}

func (e *countingEmbedder) CountTokens(text string) int    { return len(strings.Fields(text)) }
func (e *countingEmbedder) GetTokens(text string) []string { return strings.Fields(text) }

func (e *countingEmbedder) GenerateEmbedding(ctx context.Context, text string) (model.Vector, error) {
	out, err := e.GenerateEmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *countingEmbedder) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([]model.Vector, error) {
	e.calls += len(texts)
	out := make([]model.Vector, len(texts))
	for i := range texts {
		vec := make(model.Vector, e.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (e *countingEmbedder) GenerateQueryEmbedding(ctx context.Context, text string) (model.Vector, error) {
	vec := make(model.Vector, e.dims)
	vec[0] = 1
	return vec, nil
}

func (e *countingEmbedder) Dimensions() int { return e.dims }

func writeChunkFile(t *testing.T, store *storage.LocalDocumentStore, p *model.Pipeline, c model.Chunk) {
	t.Helper()
	data, err := marshalChunk(c)
	if err != nil {
		t.Fatalf("marshalChunk: %v", err)
	}
	name := c.FileName()
	if err := store.WriteFile(context.Background(), p.Index, p.DocumentID, name, data, "text/plain"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p.AddFile(model.FileDescriptor{Name: name, Generated: true, GeneratedBy: "partition"})
}

func TestGenEmbeddingsHandler_NoCacheEmbedsEveryChunk(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	p := model.NewPipeline("docs", "doc-1", "exec-1", []string{"gen_embeddings"}, model.TagSet{})

	writeChunkFile(t, store, p, model.Chunk{Index: "docs", DocumentID: "doc-1", SourceFile: "a.txt", Ordinal: 0, Text: "hello world"})
	writeChunkFile(t, store, p, model.Chunk{Index: "docs", DocumentID: "doc-1", SourceFile: "a.txt", Ordinal: 1, Text: "goodbye world"})

	embedder := &countingEmbedder{dims: 4}
	hc := &HandlerContext{Storage: store, Embedder: embedder}

	outcome, _, err := GenEmbeddingsHandler{}.Invoke(context.Background(), hc, p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome != pipeline.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}
	if embedder.calls != 2 {
		t.Fatalf("embedder.calls = %d, want 2", embedder.calls)
	}
}

func TestGenEmbeddingsHandler_CacheAvoidsRedundantEmbedding(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	embedCache := cache.NewRedisQueryCache(client, time.Hour)

	store := storage.NewLocalDocumentStore(t.TempDir())
	embedder := &countingEmbedder{dims: 4}
	hc := &HandlerContext{Storage: store, Embedder: embedder, EmbedCache: embedCache}

	// First document embeds "shared text" fresh.
	p1 := model.NewPipeline("docs", "doc-1", "exec-1", []string{"gen_embeddings"}, model.TagSet{})
	writeChunkFile(t, store, p1, model.Chunk{Index: "docs", DocumentID: "doc-1", SourceFile: "a.txt", Ordinal: 0, Text: "shared text"})
	if _, _, err := (GenEmbeddingsHandler{}).Invoke(context.Background(), hc, p1); err != nil {
		t.Fatalf("Invoke (doc-1): %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("embedder.calls after doc-1 = %d, want 1", embedder.calls)
	}

	// Second document reuses the cached vector for the same chunk text.
	p2 := model.NewPipeline("docs", "doc-2", "exec-2", []string{"gen_embeddings"}, model.TagSet{})
	writeChunkFile(t, store, p2, model.Chunk{Index: "docs", DocumentID: "doc-2", SourceFile: "b.txt", Ordinal: 0, Text: "shared text"})
	if _, _, err := (GenEmbeddingsHandler{}).Invoke(context.Background(), hc, p2); err != nil {
		t.Fatalf("Invoke (doc-2): %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("embedder.calls after doc-2 = %d, want 1 (cache hit expected)", embedder.calls)
	}
}

func TestGenEmbeddingsHandler_NoChunksCompletesWithoutCallingEmbedder(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	p := model.NewPipeline("docs", "doc-1", "exec-1", []string{"gen_embeddings"}, model.TagSet{})
	embedder := &countingEmbedder{dims: 4}
	hc := &HandlerContext{Storage: store, Embedder: embedder}

	outcome, _, err := GenEmbeddingsHandler{}.Invoke(context.Background(), hc, p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome != pipeline.Success {
		t.Fatalf("outcome = %v, want Success (an empty document embeds to zero records, not a failure)", outcome)
	}
	if embedder.calls != 0 {
		t.Fatalf("expected embedder not to be called, got %d calls", embedder.calls)
	}
}

func TestGenEmbeddingsHandler_SplitsOversizedChunkAndAveragesVectors(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	p := model.NewPipeline("docs", "doc-1", "exec-1", []string{"gen_embeddings"}, model.TagSet{})

	longText := strings.Repeat("word ", 50)
	writeChunkFile(t, store, p, model.Chunk{Index: "docs", DocumentID: "doc-1", SourceFile: "a.txt", Ordinal: 0, Text: longText})

	embedder := &countingEmbedder{dims: 4, maxTokens: 10}
	hc := &HandlerContext{Storage: store, Embedder: embedder}

	outcome, _, err := GenEmbeddingsHandler{}.Invoke(context.Background(), hc, p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome != pipeline.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}
	if embedder.calls <= 1 {
		t.Fatalf("expected the oversized chunk to be split into multiple embed calls, got %d", embedder.calls)
	}
}
