package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/connexus-ai/kernel-memory/internal/cache"
	"github.com/connexus-ai/kernel-memory/internal/middleware"
	"github.com/connexus-ai/kernel-memory/internal/model"
)

type stubSearcher struct {
	records []model.ScoredRecord
	list    []model.EmbeddingRecord
	err     error

	gotListFilters    []model.TagFilterGroup
	gotSimilarFilters []model.TagFilterGroup
}

func (s *stubSearcher) GetList(ctx context.Context, index string, filters []model.TagFilterGroup, limit int, withEmbeddings bool) (iter.Seq2[model.EmbeddingRecord, error], error) {
	s.gotListFilters = filters
	if s.err != nil {
		return nil, s.err
	}
	return func(yield func(model.EmbeddingRecord, error) bool) {
		for _, r := range s.list {
			if !yield(r, nil) {
				return
			}
		}
	}, nil
}

func (s *stubSearcher) GetSimilarList(ctx context.Context, index string, query model.SimilarityQuery, limit int, minRelevance float64, filters []model.TagFilterGroup, withEmbeddings bool) (iter.Seq2[model.ScoredRecord, error], error) {
	s.gotSimilarFilters = filters
	if s.err != nil {
		return nil, s.err
	}
	return func(yield func(model.ScoredRecord, error) bool) {
		for _, r := range s.records {
			if !yield(r, nil) {
				return
			}
		}
	}, nil
}

type stubEmbedder struct {
	vector []float32
	calls  int
}

func (s *stubEmbedder) MaxTokens() int                    { return 2048 }
func (s *stubEmbedder) MaxBatchSize() int                 { return 250 }
func (s *stubEmbedder) CountTokens(text string) int       { return len(text) }
func (s *stubEmbedder) GetTokens(text string) []string    { return []string{text} }
func (s *stubEmbedder) Dimensions() int                   { return len(s.vector) }

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string) (model.Vector, error) {
	return model.Vector(s.vector), nil
}

func (s *stubEmbedder) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([]model.Vector, error) {
	out := make([]model.Vector, len(texts))
	for i := range texts {
		out[i] = model.Vector(s.vector)
	}
	return out, nil
}

func (s *stubEmbedder) GenerateQueryEmbedding(ctx context.Context, text string) (model.Vector, error) {
	s.calls++
	return model.Vector(s.vector), nil
}

func TestSearch_ReturnsScoredRecords(t *testing.T) {
	db := &stubSearcher{records: []model.ScoredRecord{
		{Record: model.EmbeddingRecord{ID: "doc-1/a.txt/00000"}, Score: 0.9},
	}}
	embedder := &stubEmbedder{vector: []float32{0.1, 0.2}}

	body, _ := json.Marshal(searchRequest{Index: "docs", Query: "what's the current date?"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	Search(db, embedder, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data []model.ScoredRecord `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Data))
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	db := &stubSearcher{}
	embedder := &stubEmbedder{vector: []float32{0.1}}

	body, _ := json.Marshal(searchRequest{Index: "docs"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	Search(db, embedder, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearch_ScopesFiltersToCallerRole(t *testing.T) {
	db := &stubSearcher{records: []model.ScoredRecord{
		{Record: model.EmbeddingRecord{ID: "doc-1/a.txt/00000"}, Score: 0.9},
	}}
	embedder := &stubEmbedder{vector: []float32{0.1}}

	body, _ := json.Marshal(searchRequest{Index: "docs", Query: "q", Filters: []model.TagFilterGroup{{"type": "news"}}})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	req = req.WithContext(middleware.WithCallerRole(req.Context(), "tenant-a"))
	rec := httptest.NewRecorder()

	Search(db, embedder, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	want := []model.TagFilterGroup{{"type": "news", "tenant": "tenant-a"}}
	if !reflect.DeepEqual(db.gotSimilarFilters, want) {
		t.Errorf("filters reaching Searcher = %+v, want %+v", db.gotSimilarFilters, want)
	}
}

func TestSearch_UnrecognizedRoleDeniesResults(t *testing.T) {
	db := &stubSearcher{records: []model.ScoredRecord{
		{Record: model.EmbeddingRecord{ID: "doc-1/a.txt/00000"}, Score: 0.9},
	}}
	embedder := &stubEmbedder{vector: []float32{0.1}}

	body, _ := json.Marshal(searchRequest{Index: "docs", Query: "q"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	req = req.WithContext(middleware.WithCallerRole(req.Context(), "nonexistent"))
	rec := httptest.NewRecorder()

	Search(db, embedder, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	want := []model.TagFilterGroup{{"tenant": ""}}
	if !reflect.DeepEqual(db.gotSimilarFilters, want) {
		t.Errorf("filters reaching Searcher = %+v, want unsatisfiable %+v", db.gotSimilarFilters, want)
	}
}

func TestListRecords_ScopesFiltersToCallerRole(t *testing.T) {
	db := &stubSearcher{list: []model.EmbeddingRecord{
		{ID: "doc-1/a.txt/00000"},
	}}

	body, _ := json.Marshal(searchRequest{Index: "docs"})
	req := httptest.NewRequest(http.MethodPost, "/api/list", bytes.NewReader(body))
	req = req.WithContext(middleware.WithCallerRole(req.Context(), "tenant-b"))
	rec := httptest.NewRecorder()

	ListRecords(db).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	want := []model.TagFilterGroup{{"tenant": "tenant-b"}}
	if !reflect.DeepEqual(db.gotListFilters, want) {
		t.Errorf("filters reaching Searcher = %+v, want %+v", db.gotListFilters, want)
	}
}

func TestSearch_QueryCacheAvoidsRedundantEmbedding(t *testing.T) {
	db := &stubSearcher{records: []model.ScoredRecord{
		{Record: model.EmbeddingRecord{ID: "doc-1/a.txt/00000"}, Score: 0.9},
	}}
	embedder := &stubEmbedder{vector: []float32{0.1, 0.2}}
	queryCache := cache.NewEmbeddingCache(time.Hour)
	defer queryCache.Stop()

	body, _ := json.Marshal(searchRequest{Index: "docs", Query: "repeated question"})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		Search(db, embedder, queryCache).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("iteration %d: status = %d, want 200, body=%s", i, rec.Code, rec.Body.String())
		}
	}

	if embedder.calls != 1 {
		t.Errorf("embedder.calls = %d, want 1 (second search should hit the query cache)", embedder.calls)
	}
}

func TestListRecords_Success(t *testing.T) {
	db := &stubSearcher{list: []model.EmbeddingRecord{
		{ID: "doc-1/a.txt/00000"},
		{ID: "doc-1/a.txt/00001"},
	}}

	body, _ := json.Marshal(searchRequest{Index: "docs"})
	req := httptest.NewRequest(http.MethodPost, "/api/list", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	ListRecords(db).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data []model.EmbeddingRecord `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 records, got %d", len(resp.Data))
	}
}
