package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

func TestStatus_Found(t *testing.T) {
	p := model.NewPipeline("docs", "doc-1", "exec-1", pipelineStepsForTest(), model.TagSet{})
	orch := &stubOrchestrator{status: p}

	r := chi.NewRouter()
	r.Get("/api/indexes/{index}/documents/{id}/status", Status(orch))

	req := httptest.NewRequest(http.MethodGet, "/api/indexes/docs/documents/doc-1/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp envelope
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success {
		t.Fatalf("expected success")
	}
}

func TestStatus_NotFound(t *testing.T) {
	orch := &stubOrchestrator{status: nil}

	r := chi.NewRouter()
	r.Get("/api/indexes/{index}/documents/{id}/status", Status(orch))

	req := httptest.NewRequest(http.MethodGet, "/api/indexes/docs/documents/missing/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestIsReady_True(t *testing.T) {
	orch := &stubOrchestrator{ready: true}

	r := chi.NewRouter()
	r.Get("/api/indexes/{index}/documents/{id}/ready", IsReady(orch))

	req := httptest.NewRequest(http.MethodGet, "/api/indexes/docs/documents/doc-1/ready", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Data struct {
			Ready bool `json:"ready"`
		} `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Data.Ready {
		t.Fatalf("expected ready=true")
	}
}

func pipelineStepsForTest() []string {
	return []string{"extract", "partition", "gen_embeddings", "save_records"}
}
