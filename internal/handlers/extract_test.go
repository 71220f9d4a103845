package handlers

import (
	"context"
	"testing"

	"github.com/connexus-ai/kernel-memory/internal/decoders"
	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
	"github.com/connexus-ai/kernel-memory/internal/storage"
)

func newExtractTestContext(t *testing.T, store *storage.LocalDocumentStore) *HandlerContext {
	t.Helper()
	reg := decoders.NewRegistry()
	reg.Register("text/plain", decoders.PlainTextDecoder{})
	return &HandlerContext{Storage: store, Decoders: reg}
}

func TestExtractHandler_ExtractsEveryInputFileConcurrently(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	p := model.NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, model.TagSet{})

	names := []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"}
	for _, name := range names {
		if err := store.WriteFile(context.Background(), p.Index, p.DocumentID, name, []byte("hello from "+name), "text/plain"); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
		p.AddFile(model.FileDescriptor{Name: name, MimeType: "text/plain"})
	}

	hc := newExtractTestContext(t, store)
	outcome, _, err := ExtractHandler{}.Invoke(context.Background(), hc, p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome != pipeline.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}

	generated := filesGeneratedBy(p, "extract")
	if len(generated) != len(names) {
		t.Fatalf("generated %d files, want %d", len(generated), len(names))
	}
	for _, name := range names {
		data, err := store.ReadFile(context.Background(), p.Index, p.DocumentID, extractedFileName(name, 0))
		if err != nil {
			t.Fatalf("ReadFile extracted section for %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Fatalf("extracted section for %s is empty", name)
		}
	}
}

func TestExtractHandler_UnknownMimeTypeIsFatal(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	p := model.NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, model.TagSet{})
	if err := store.WriteFile(context.Background(), p.Index, p.DocumentID, "a.bin", []byte("binary"), "application/octet-stream"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p.AddFile(model.FileDescriptor{Name: "a.bin", MimeType: "application/octet-stream"})

	hc := newExtractTestContext(t, store)
	outcome, _, err := ExtractHandler{}.Invoke(context.Background(), hc, p)
	if err == nil {
		t.Fatal("expected error for an unregistered mime type")
	}
	if outcome != pipeline.FatalError {
		t.Fatalf("outcome = %v, want fatal_error for an unrecoverable validation failure", outcome)
	}
}

func TestExtractHandler_SkipsAlreadyGeneratedFiles(t *testing.T) {
	store := storage.NewLocalDocumentStore(t.TempDir())
	p := model.NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, model.TagSet{})
	p.AddFile(model.FileDescriptor{Name: "partition.00000.json", MimeType: "application/json", Generated: true, GeneratedBy: "partition"})

	hc := newExtractTestContext(t, store)
	outcome, _, err := ExtractHandler{}.Invoke(context.Background(), hc, p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if outcome != pipeline.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}
	if len(filesGeneratedBy(p, "extract")) != 0 {
		t.Fatalf("expected no new files when every input is already generated")
	}
}
