package handlers

import (
	"context"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
	"github.com/connexus-ai/kernel-memory/internal/repository"
)

// DeleteDocumentHandler generalizes the teacher's ChunkRepo.DeleteByDocumentID
// into the pipeline step contract (§4.3 "DeleteDocument"): remove every
// record tagged with this document from the Memory DB, then remove every
// file — generated and original — from the Document Store. Both halves are
// idempotent: a second run finds nothing left to delete and succeeds.
type DeleteDocumentHandler struct{}

func (DeleteDocumentHandler) Name() string { return "delete_document" }

func (h DeleteDocumentHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (pipeline.Outcome, *model.Pipeline, error) {
	filters := []model.TagFilterGroup{{model.TagDocumentID: p.DocumentID}}
	seq, err := hc.MemoryDB.GetList(ctx, p.Index, filters, 0, false)
	if err != nil {
		p.AppendLog(h.Name(), "list records failed", err)
		perr := pipeline.NewError("handlers.DeleteDocumentHandler.Invoke", pipeline.KindTransient, err)
		return pipeline.OutcomeFor(perr), p, perr
	}

	deleted := 0
	for rec, err := range seq {
		if err != nil {
			p.AppendLog(h.Name(), "iterate records failed", err)
			perr := pipeline.NewError("handlers.DeleteDocumentHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		if err := hc.MemoryDB.Delete(ctx, p.Index, rec); err != nil {
			p.AppendLog(h.Name(), "delete record failed", err)
			perr := pipeline.NewError("handlers.DeleteDocumentHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		deleted++
	}

	// DeleteDocument (RemoveAll / batch object-delete under the hood) is
	// itself idempotent against a document that is already gone.
	if err := hc.Storage.DeleteDocument(ctx, p.Index, p.DocumentID); err != nil {
		p.AppendLog(h.Name(), "delete document files failed", err)
		perr := pipeline.NewError("handlers.DeleteDocumentHandler.Invoke", pipeline.KindTransient, err)
		return pipeline.OutcomeFor(perr), p, perr
	}

	if hc.Audit != nil {
		if err := hc.Audit.Create(ctx, repository.AuditEntry(model.AuditDocumentDelete, p.Index, p.DocumentID, "document")); err != nil {
			hc.Log().Warn("audit log write failed", "error", err)
		}
	}

	hc.Log().Info("deleted document", "document_id", p.DocumentID, "records_deleted", deleted)
	p.AppendLog(h.Name(), "delete_document complete", nil)
	return pipeline.Success, p, nil
}
