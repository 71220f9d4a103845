package handlers

import (
	"context"
	"fmt"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
)

// SaveRecordsHandler generalizes the teacher's ChunkRepo.BulkInsert /
// DeleteByDocumentID pair into one idempotent step (§4.3 "SaveRecords"):
// it first removes any record left over from a prior run of this document
// (a reprocessed document can produce fewer chunks than before, and
// content-addressed upsert alone would never clean up the orphans), then
// upserts the freshly embedded set.
type SaveRecordsHandler struct{}

func (SaveRecordsHandler) Name() string { return "save_records" }

func (h SaveRecordsHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (pipeline.Outcome, *model.Pipeline, error) {
	recordFiles := filesGeneratedBy(p, "gen_embeddings")

	if err := h.deletePriorRecords(ctx, hc, p); err != nil {
		p.AppendLog(h.Name(), "delete prior records failed", err)
		perr := pipeline.NewError("handlers.SaveRecordsHandler.Invoke", pipeline.KindTransient, err)
		return pipeline.OutcomeFor(perr), p, perr
	}

	for _, f := range recordFiles {
		data, err := hc.Storage.ReadFile(ctx, p.Index, p.DocumentID, f.Name)
		if err != nil {
			p.AppendLog(h.Name(), "read embedding record failed", err)
			perr := pipeline.NewError("handlers.SaveRecordsHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		record, err := unmarshalEmbeddingRecord(data)
		if err != nil {
			p.AppendLog(h.Name(), "decode embedding record failed", err)
			perr := pipeline.NewError("handlers.SaveRecordsHandler.Invoke", pipeline.KindFatalValidation, err)
			return pipeline.OutcomeFor(perr), p, perr
		}

		if _, err := hc.MemoryDB.Upsert(ctx, p.Index, record); err != nil {
			p.AppendLog(h.Name(), "upsert record failed", err)
			perr := pipeline.NewError("handlers.SaveRecordsHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
	}

	if hc.IndexRegistry != nil {
		if err := hc.IndexRegistry.Touch(ctx, p.Index); err != nil {
			hc.Log().Warn("index registry touch failed", "index", p.Index, "error", err)
		}
	}

	hc.Log().Info("saved records", "document_id", p.DocumentID, "records", len(recordFiles))
	p.AppendLog(h.Name(), "save_records complete", nil)
	return pipeline.Success, p, nil
}

// deletePriorRecords removes every record tagged with this pipeline's
// document id, including those this run rewrites, keyed only on
// __document_id so a document whose file set shrank (fewer source files,
// not just fewer chunks) is still cleaned up.
func (h SaveRecordsHandler) deletePriorRecords(ctx context.Context, hc *HandlerContext, p *model.Pipeline) error {
	filters := []model.TagFilterGroup{{model.TagDocumentID: p.DocumentID}}
	seq, err := hc.MemoryDB.GetList(ctx, p.Index, filters, 0, false)
	if err != nil {
		return fmt.Errorf("handlers.deletePriorRecords: list: %w", err)
	}

	for rec, err := range seq {
		if err != nil {
			return fmt.Errorf("handlers.deletePriorRecords: iterate: %w", err)
		}
		if err := hc.MemoryDB.Delete(ctx, p.Index, rec); err != nil {
			return fmt.Errorf("handlers.deletePriorRecords: delete %s: %w", rec.ID, err)
		}
	}
	return nil
}
