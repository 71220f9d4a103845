package handlers

import (
	"context"
	"testing"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
	"github.com/connexus-ai/kernel-memory/internal/storage"
)

func TestDeleteDocumentHandler_DeletesOnlyOwnRecordsAndFiles(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	memDB := newFakeMemoryDB()
	memDB.records["docs"] = map[string]model.EmbeddingRecord{
		"doc-1/a.txt/0": {ID: "doc-1/a.txt/0", Tags: model.TagSet{model.TagDocumentID: {"doc-1"}}},
		"doc-2/b.txt/0": {ID: "doc-2/b.txt/0", Tags: model.TagSet{model.TagDocumentID: {"doc-2"}}},
	}
	hc := &HandlerContext{Storage: store, MemoryDB: memDB}

	if err := store.WriteFile(context.Background(), "docs", "doc-1", "a.txt", []byte("hi"), "text/plain"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := &model.Pipeline{Index: "docs", DocumentID: "doc-1"}
	outcome, _, err := DeleteDocumentHandler{}.Invoke(context.Background(), hc, p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome != pipeline.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}

	if _, ok := memDB.records["docs"]["doc-1/a.txt/0"]; ok {
		t.Fatal("doc-1 record survived delete_document")
	}
	if _, ok := memDB.records["docs"]["doc-2/b.txt/0"]; !ok {
		t.Fatal("doc-2 record was deleted by doc-1's delete_document")
	}
}

func TestDeleteDocumentHandler_IdempotentOnMissingDocument(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	hc := &HandlerContext{Storage: store, MemoryDB: newFakeMemoryDB()}

	p := &model.Pipeline{Index: "docs", DocumentID: "already-gone"}
	outcome, _, err := DeleteDocumentHandler{}.Invoke(context.Background(), hc, p)
	if err != nil {
		t.Fatalf("Invoke on an already-deleted document should succeed: %v", err)
	}
	if outcome != pipeline.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}
}
