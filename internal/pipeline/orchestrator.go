package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/queue"
	"github.com/connexus-ai/kernel-memory/internal/repository"
	"github.com/connexus-ai/kernel-memory/internal/storage"
)

// recordAudit appends a lifecycle audit entry when hc.Audit is configured.
// Failures are logged, never propagated — audit logging must never itself
// cause a pipeline to fail or retry.
func (o *Orchestrator) recordAudit(ctx context.Context, action, index, resourceID, resourceType string) {
	if o.hc == nil || o.hc.Audit == nil {
		return
	}
	if err := o.hc.Audit.Create(ctx, repository.AuditEntry(action, index, resourceID, resourceType)); err != nil {
		o.logger.Warn("audit log write failed", "action", action, "index", index, "resource_id", resourceID, "error", err)
	}
}

// DefaultSteps is the configured default ingestion list substituted when
// prepareUpload is called with no explicit steps (§4.1).
var DefaultSteps = []string{"extract", "partition", "gen_embeddings", "save_records"}

// Orchestrator creates, persists, advances, recovers, and terminates
// pipelines, generalizing the teacher's PipelineService.ProcessDocument
// (a fixed seven-step Go method) into a data-driven step loop dispatching
// to a HandlerRegistry (§4.1).
type Orchestrator struct {
	storage  storage.DocumentStore
	queue    queue.Queue // nil in synchronous-only deployments
	registry *HandlerRegistry
	hc       *HandlerContext
	logger   *slog.Logger

	// processing mirrors the teacher's package-level processingMu/processing
	// concurrency guard, scoped to this Orchestrator instance instead of a
	// package global so multiple Orchestrators (e.g. in tests) don't share
	// state. It enforces per-pipeline serial ordering (§4.1 "Serial
	// ordering") defensively, on top of the single-in-flight-message
	// discipline that is the structural guarantee.
	processingMu sync.Mutex
	processing   map[string]bool

	stopped bool
}

// NewOrchestrator wires an Orchestrator. q may be nil, in which case only
// RunPipeline (synchronous mode) is usable.
func NewOrchestrator(store storage.DocumentStore, q queue.Queue, hc *HandlerContext, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		storage:    store,
		queue:      q,
		registry:   NewHandlerRegistry(),
		hc:         hc,
		logger:     logger,
		processing: make(map[string]bool),
	}
}

// AddHandler registers h under its own name.
func (o *Orchestrator) AddHandler(h Handler) {
	o.registry.Register(h)
}

// PrepareUpload allocates a pipeline with a generated or client-supplied
// document id. Client-supplied ids are validated with the same
// normalization rules as index names (§4.1).
func (o *Orchestrator) PrepareUpload(index, documentID string, tags model.TagSet, steps []string) (*model.Pipeline, error) {
	normalizedIndex, err := model.NormalizeIndexName(index)
	if err != nil {
		return nil, NewError("pipeline.Orchestrator.PrepareUpload", KindFatalValidation, err)
	}

	if documentID == "" {
		documentID = generateDocumentID()
	} else {
		documentID, err = model.NormalizeDocumentID(documentID)
		if err != nil {
			return nil, NewError("pipeline.Orchestrator.PrepareUpload", KindFatalValidation, err)
		}
	}

	if len(steps) == 0 {
		steps = DefaultSteps
	}
	if tags == nil {
		tags = model.TagSet{}
	}

	executionID := generateExecutionID()
	return model.NewPipeline(normalizedIndex, documentID, executionID, steps, tags), nil
}

// ImportDocument uploads input files to storage, persists the pipeline,
// and enqueues the first remaining step (§4.1). It returns the document id.
func (o *Orchestrator) ImportDocument(ctx context.Context, p *model.Pipeline, inputs []model.UploadFile) (string, error) {
	if err := o.storage.CreateIndexDirectory(ctx, p.Index); err != nil {
		return "", NewError("pipeline.Orchestrator.ImportDocument", KindTransient, err)
	}

	for _, f := range inputs {
		if !model.IngestedMimeTypes[f.MimeType] {
			return "", NewError("pipeline.Orchestrator.ImportDocument", KindFatalValidation,
				fmt.Errorf("unsupported mime type %q for file %q", f.MimeType, f.Name))
		}
		if err := o.storage.WriteFile(ctx, p.Index, p.DocumentID, f.Name, f.Data, f.MimeType); err != nil {
			return "", NewError("pipeline.Orchestrator.ImportDocument", KindTransient, err)
		}
		p.AddFile(model.FileDescriptor{Name: f.Name, Size: int64(len(f.Data)), MimeType: f.MimeType})
	}

	// I2: persist before enqueue.
	if err := o.storage.WritePipelineStatus(ctx, p); err != nil {
		return "", NewError("pipeline.Orchestrator.ImportDocument", KindTransient, err)
	}
	o.recordAudit(ctx, model.AuditDocumentUpload, p.Index, p.DocumentID, "document")

	if o.queue != nil {
		if err := o.enqueueNextStep(ctx, p); err != nil {
			return "", err
		}
	}

	return p.DocumentID, nil
}

// RunPipeline is the synchronous mode (§4.1 "Synchronous mode"): it
// substitutes an in-memory loop for the enqueue/dequeue cycle while
// preserving the same persistence discipline as the queue-backed path.
func (o *Orchestrator) RunPipeline(ctx context.Context, p *model.Pipeline) error {
	key := pipelineKey(p.Index, p.DocumentID)
	if !o.beginProcessing(key) {
		return NewError("pipeline.Orchestrator.RunPipeline", KindFatalConfiguration,
			fmt.Errorf("pipeline %s is already being processed", key))
	}
	defer o.endProcessing(key)

	for {
		if len(p.RemainingSteps) == 0 {
			p.Status = model.PipelineCompleted
			if err := o.storage.WritePipelineStatus(ctx, p); err != nil {
				return NewError("pipeline.Orchestrator.RunPipeline", KindTransient, err)
			}
			o.recordAudit(ctx, model.AuditPipelineCompleted, p.Index, p.DocumentID, "document")
			return nil
		}

		outcome, next, err := o.invokeStep(ctx, p)
		p = next

		switch outcome {
		case Success:
			if err := p.AdvanceStep(); err != nil {
				return NewError("pipeline.Orchestrator.RunPipeline", KindFatalConfiguration, err)
			}
			p.Status = model.PipelineInProgress
			if werr := o.storage.WritePipelineStatus(ctx, p); werr != nil {
				return NewError("pipeline.Orchestrator.RunPipeline", KindTransient, werr)
			}
		case TransientError:
			attempt := p.IncrementRetry(p.NextStep())
			o.logger.Warn("pipeline step transient failure, retrying inline", "document_id", p.DocumentID, "step", p.NextStep(), "attempt", attempt, "error", err)
			if attempt >= queue.DefaultMaxAttempts {
				p.Status = model.PipelineFailed
				_ = o.storage.WritePipelineStatus(ctx, p)
				o.recordAudit(ctx, model.AuditPipelineFailed, p.Index, p.DocumentID, "document")
				return NewError("pipeline.Orchestrator.RunPipeline", KindPoison, err)
			}
			continue
		case FatalError:
			p.Status = model.PipelineFailed
			if werr := o.storage.WritePipelineStatus(ctx, p); werr != nil {
				o.logger.Error("failed to persist failed pipeline status", "document_id", p.DocumentID, "error", werr)
			}
			o.recordAudit(ctx, model.AuditPipelineFailed, p.Index, p.DocumentID, "document")
			return err
		}
	}
}

// ReadStatus returns persisted state, or (nil, nil) if absent (§4.1).
func (o *Orchestrator) ReadStatus(ctx context.Context, index, documentID string) (*model.Pipeline, error) {
	p, err := o.storage.ReadPipelineStatus(ctx, index, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, NewError("pipeline.Orchestrator.ReadStatus", KindTransient, err)
	}
	return p, nil
}

// IsReady reports whether the persisted status for (index, documentID) is
// completed (§4.1).
func (o *Orchestrator) IsReady(ctx context.Context, index, documentID string) (bool, error) {
	p, err := o.ReadStatus(ctx, index, documentID)
	if err != nil {
		return false, err
	}
	return p != nil && p.Ready(), nil
}

// StopAllPipelines marks this Orchestrator as stopped; HandleMessage
// refuses new dispatch once set, letting in-flight messages finish via
// their own visibility timeout / requeue rather than being dropped here.
func (o *Orchestrator) StopAllPipelines() {
	o.processingMu.Lock()
	defer o.processingMu.Unlock()
	o.stopped = true
}

// HandleMessage implements the dispatch algorithm of §4.1 for one dequeued
// message, returning the queue.Outcome the caller's OnDequeue callback
// should report back to the broker.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg queue.Message) queue.Outcome {
	o.processingMu.Lock()
	stopped := o.stopped
	o.processingMu.Unlock()
	if stopped {
		return queue.Requeue
	}

	// Step 1: load pipeline; absent or stale executionId => ack-and-drop.
	p, err := o.storage.ReadPipelineStatus(ctx, msg.Index, msg.DocumentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			o.logger.Info("dropping message for missing pipeline", "index", msg.Index, "document_id", msg.DocumentID)
			return queue.Ack
		}
		o.logger.Error("failed to read pipeline status", "index", msg.Index, "document_id", msg.DocumentID, "error", err)
		return queue.Requeue
	}
	if p.ExecutionID != msg.ExecutionID {
		o.logger.Info("dropping stale execution", "index", msg.Index, "document_id", msg.DocumentID, "message_execution", msg.ExecutionID, "pipeline_execution", p.ExecutionID)
		return queue.Ack
	}

	key := pipelineKey(msg.Index, msg.DocumentID)
	if !o.beginProcessing(key) {
		// Another delivery for the same document is in flight; this should
		// not happen under correct single-in-flight-message discipline, but
		// requeue defensively rather than process concurrently.
		return queue.Requeue
	}
	defer o.endProcessing(key)

	// Step 2: no remaining steps => mark completed.
	if len(p.RemainingSteps) == 0 {
		p.Status = model.PipelineCompleted
		if err := o.storage.WritePipelineStatus(ctx, p); err != nil {
			o.logger.Error("failed to persist completed pipeline", "document_id", p.DocumentID, "error", err)
			return queue.Requeue
		}
		o.recordAudit(ctx, model.AuditPipelineCompleted, p.Index, p.DocumentID, "document")
		return queue.Ack
	}

	// Step 3: look up handler; unregistered => poison.
	step := p.NextStep()
	if _, err := o.registry.Lookup(step); err != nil {
		o.logger.Error("no handler registered for step", "document_id", p.DocumentID, "step", step)
		p.Status = model.PipelineFailed
		p.AppendLog(step, "no handler registered", err)
		_ = o.storage.WritePipelineStatus(ctx, p)
		o.recordAudit(ctx, model.AuditMessagePoisoned, p.Index, p.DocumentID, "document")
		return queue.Poison
	}

	// Step 4: invoke handler.
	outcome, p, herr := o.invokeStep(ctx, p)

	switch outcome {
	case Success:
		// Step 5.
		if err := p.AdvanceStep(); err != nil {
			o.logger.Error("advance step failed", "document_id", p.DocumentID, "error", err)
			return queue.Requeue
		}
		if len(p.RemainingSteps) == 0 {
			p.Status = model.PipelineCompleted
		} else {
			p.Status = model.PipelineInProgress
		}
		if err := o.storage.WritePipelineStatus(ctx, p); err != nil {
			o.logger.Error("persist pipeline failed", "document_id", p.DocumentID, "error", err)
			return queue.Requeue
		}
		if p.Status == model.PipelineCompleted {
			o.recordAudit(ctx, model.AuditPipelineCompleted, p.Index, p.DocumentID, "document")
		}
		if len(p.RemainingSteps) > 0 {
			if err := o.enqueueNextStep(ctx, p); err != nil {
				o.logger.Error("enqueue next step failed", "document_id", p.DocumentID, "error", err)
				return queue.Requeue
			}
		}
		return queue.Ack

	case TransientError:
		// Step 6: the queue backend's own attempt cap eventually poisons.
		o.logger.Warn("handler transient failure", "document_id", p.DocumentID, "step", step, "error", herr)
		return queue.Requeue

	default: // FatalError
		// Step 7.
		p.Status = model.PipelineFailed
		p.AppendLog(step, "fatal error", herr)
		if err := o.storage.WritePipelineStatus(ctx, p); err != nil {
			o.logger.Error("persist failed pipeline failed", "document_id", p.DocumentID, "error", err)
		}
		o.recordAudit(ctx, model.AuditMessagePoisoned, p.Index, p.DocumentID, "document")
		return queue.Poison
	}
}

// invokeStep looks up and invokes the handler for p's next step, mapping
// any returned error through OutcomeFor when the handler didn't already
// classify it.
func (o *Orchestrator) invokeStep(ctx context.Context, p *model.Pipeline) (Outcome, *model.Pipeline, error) {
	step := p.NextStep()
	h, err := o.registry.Lookup(step)
	if err != nil {
		return FatalError, p, err
	}

	outcome, next, err := h.Invoke(ctx, o.hc, p)
	if next != nil {
		p = next
	}
	if err != nil && outcome == Success {
		// Defensive: a handler that forgets to set its own Outcome on error
		// still gets classified rather than silently advancing (§4.3
		// "Failure mapping").
		outcome = OutcomeFor(err)
	}
	return outcome, p, err
}

// enqueueNextStep publishes a message for p's current head step.
func (o *Orchestrator) enqueueNextStep(ctx context.Context, p *model.Pipeline) error {
	if o.queue == nil {
		return nil
	}
	err := o.queue.Enqueue(ctx, queue.Message{Index: p.Index, DocumentID: p.DocumentID, ExecutionID: p.ExecutionID})
	if err != nil {
		return NewError("pipeline.Orchestrator.enqueueNextStep", KindTransient, err)
	}
	return nil
}

func (o *Orchestrator) beginProcessing(key string) bool {
	o.processingMu.Lock()
	defer o.processingMu.Unlock()
	if o.processing[key] {
		return false
	}
	o.processing[key] = true
	return true
}

func (o *Orchestrator) endProcessing(key string) {
	o.processingMu.Lock()
	defer o.processingMu.Unlock()
	delete(o.processing, key)
}

func pipelineKey(index, documentID string) string {
	return index + "/" + documentID
}

func generateDocumentID() string {
	return uuid.NewString()
}

func generateExecutionID() string {
	return uuid.NewString()
}
