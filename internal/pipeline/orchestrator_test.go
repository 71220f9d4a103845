package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/storage"
)

// fakeHandler returns a fixed Outcome/error every time it's invoked, and
// counts how many times Invoke was called.
type fakeHandler struct {
	name    string
	outcome Outcome
	err     error
	calls   int
}

func (h *fakeHandler) Name() string { return h.name }

func (h *fakeHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (Outcome, *model.Pipeline, error) {
	h.calls++
	return h.outcome, p, h.err
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *storage.LocalDocumentStore) {
	t.Helper()
	store := storage.NewLocalDocumentStore(t.TempDir())
	orch := NewOrchestrator(store, nil, &HandlerContext{Storage: store}, nil)
	return orch, store
}

func TestOrchestrator_RunPipelineAdvancesThroughAllStepsOnSuccess(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	step1 := &fakeHandler{name: "step1", outcome: Success}
	step2 := &fakeHandler{name: "step2", outcome: Success}
	orch.AddHandler(step1)
	orch.AddHandler(step2)

	p, err := orch.PrepareUpload("docs", "", model.TagSet{}, []string{"step1", "step2"})
	if err != nil {
		t.Fatalf("PrepareUpload: %v", err)
	}
	if err := orch.RunPipeline(context.Background(), p); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	if step1.calls != 1 || step2.calls != 1 {
		t.Fatalf("calls = %d, %d, want 1, 1", step1.calls, step2.calls)
	}
	if p.Status != model.PipelineCompleted {
		t.Fatalf("Status = %v, want completed", p.Status)
	}
}

func TestOrchestrator_RunPipelineRetriesTransientErrorsThenPoisons(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	flaky := &fakeHandler{name: "flaky", outcome: TransientError, err: NewError("test", KindTransient, errors.New("boom"))}
	orch.AddHandler(flaky)

	p, err := orch.PrepareUpload("docs", "", model.TagSet{}, []string{"flaky"})
	if err != nil {
		t.Fatalf("PrepareUpload: %v", err)
	}
	err = orch.RunPipeline(context.Background(), p)
	if err == nil {
		t.Fatal("expected RunPipeline to eventually poison a persistently transient-failing step")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindPoison {
		t.Fatalf("err = %v, want a KindPoison *Error", err)
	}
	if p.Status != model.PipelineFailed {
		t.Fatalf("Status = %v, want failed", p.Status)
	}
	if flaky.calls == 0 {
		t.Fatal("expected the flaky handler to be retried at least once")
	}
}

func TestOrchestrator_RunPipelineStopsOnFatalError(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	fatal := &fakeHandler{name: "fatal", outcome: FatalError, err: NewError("test", KindFatalValidation, errors.New("bad input"))}
	orch.AddHandler(fatal)

	p, err := orch.PrepareUpload("docs", "", model.TagSet{}, []string{"fatal"})
	if err != nil {
		t.Fatalf("PrepareUpload: %v", err)
	}
	if err := orch.RunPipeline(context.Background(), p); err == nil {
		t.Fatal("expected RunPipeline to return the fatal error")
	}
	if fatal.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on fatal)", fatal.calls)
	}
	if p.Status != model.PipelineFailed {
		t.Fatalf("Status = %v, want failed", p.Status)
	}
}

func TestOrchestrator_ReadStatusReturnsNilForMissingPipeline(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	p, err := orch.ReadStatus(context.Background(), "docs", "never-uploaded")
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if p != nil {
		t.Fatalf("p = %+v, want nil for a missing pipeline", p)
	}
}

func TestOrchestrator_ImportDocumentRejectsUnsupportedMimeType(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	p, err := orch.PrepareUpload("docs", "", model.TagSet{}, []string{"extract"})
	if err != nil {
		t.Fatalf("PrepareUpload: %v", err)
	}
	_, err = orch.ImportDocument(context.Background(), p, []model.UploadFile{
		{Name: "a.exe", MimeType: "application/x-msdownload", Data: []byte("x")},
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported mime type")
	}
}
