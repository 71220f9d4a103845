package handlers

import (
	"context"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
	"github.com/connexus-ai/kernel-memory/internal/repository"
)

// DeleteIndexHandler removes an entire index collection from both the
// Memory DB and the Document Store (§4.3 "DeleteIndex"). Unlike
// DeleteDocument this step is not scoped to a single Pipeline's document —
// it runs against a synthetic pipeline carrying only an Index, dropping
// the whole collection's table and blob prefix in one call.
type DeleteIndexHandler struct{}

func (DeleteIndexHandler) Name() string { return "delete_index" }

func (h DeleteIndexHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (pipeline.Outcome, *model.Pipeline, error) {
	if err := hc.MemoryDB.DeleteIndex(ctx, p.Index); err != nil {
		p.AppendLog(h.Name(), "delete index from memory db failed", err)
		perr := pipeline.NewError("handlers.DeleteIndexHandler.Invoke", pipeline.KindTransient, err)
		return pipeline.OutcomeFor(perr), p, perr
	}
	if err := hc.Storage.DeleteIndex(ctx, p.Index); err != nil {
		p.AppendLog(h.Name(), "delete index from storage failed", err)
		perr := pipeline.NewError("handlers.DeleteIndexHandler.Invoke", pipeline.KindTransient, err)
		return pipeline.OutcomeFor(perr), p, perr
	}

	if hc.IndexRegistry != nil {
		if err := hc.IndexRegistry.Delete(ctx, p.Index); err != nil {
			hc.Log().Warn("index registry delete failed", "index", p.Index, "error", err)
		}
	}
	if hc.Audit != nil {
		if err := hc.Audit.Create(ctx, repository.AuditEntry(model.AuditIndexDelete, p.Index, p.Index, "index")); err != nil {
			hc.Log().Warn("audit log write failed", "error", err)
		}
	}

	hc.Log().Info("deleted index", "index", p.Index)
	p.AppendLog(h.Name(), "delete_index complete", nil)
	return pipeline.Success, p, nil
}
