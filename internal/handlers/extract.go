package handlers

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
)

// extractConcurrency bounds how many input files ExtractHandler decodes at
// once; each file's decode-then-write is independent of every other file's,
// so this fans out the same way embedChunks fans out embedding batches.
const extractConcurrency = 4

// ExtractHandler generalizes the teacher's ParserService.Extract step: for
// each input file it picks a decoder by mime type, emits ordered Sections,
// and serializes each to a generated text file (§4.3 "Extract").
type ExtractHandler struct{}

func (ExtractHandler) Name() string { return "extract" }

// extractedFile is one input file's outcome: the generated file descriptors
// it produced and the section count to log, collected by a worker goroutine
// and applied to the Pipeline afterward so concurrent workers never mutate
// shared pipeline state directly.
type extractedFile struct {
	sourceFile string
	sections   int
	files      []model.FileDescriptor
}

func (h ExtractHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (pipeline.Outcome, *model.Pipeline, error) {
	var inputs []model.FileDescriptor
	for _, f := range p.Files {
		if !f.Generated {
			inputs = append(inputs, f)
		}
	}

	results := make([]extractedFile, len(inputs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)

	for i, f := range inputs {
		i, f := i, f
		g.Go(func() error {
			result, err := h.extractFile(gCtx, hc, p, f)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var perr *pipeline.Error
		if !errors.As(err, &perr) {
			perr = pipeline.NewError("handlers.ExtractHandler.Invoke", pipeline.KindFatalValidation, err)
		}
		p.AppendLog(h.Name(), "extraction failed", perr)
		return pipeline.OutcomeFor(perr), p, perr
	}

	for _, result := range results {
		for _, fd := range result.files {
			p.AddFile(fd)
		}
		hc.Log().Info("extracted sections", "document_id", p.DocumentID, "source_file", result.sourceFile, "sections", result.sections)
	}

	p.AppendLog(h.Name(), "extraction complete", nil)
	return pipeline.Success, p, nil
}

// extractFile decodes a single input file and writes one generated section
// file per Section it produces. It touches only its own slice of the
// Document Store namespace (distinct file names), so it is safe to run
// concurrently with extractFile calls for the document's other input files.
func (h ExtractHandler) extractFile(ctx context.Context, hc *HandlerContext, p *model.Pipeline, f model.FileDescriptor) (extractedFile, error) {
	decoder, err := hc.Decoders.Lookup(f.MimeType)
	if err != nil {
		return extractedFile{}, pipeline.NewError("handlers.ExtractHandler.Invoke", pipeline.KindFatalValidation, err)
	}

	data, err := hc.Storage.ReadFile(ctx, p.Index, p.DocumentID, f.Name)
	if err != nil {
		return extractedFile{}, pipeline.NewError("handlers.ExtractHandler.Invoke", pipeline.KindTransient, err)
	}

	sections, err := decoder.Decode(ctx, model.UploadFile{Name: f.Name, MimeType: f.MimeType, Data: data})
	if err != nil {
		return extractedFile{}, pipeline.NewError("handlers.ExtractHandler.Invoke", pipeline.KindFatalValidation, err)
	}

	result := extractedFile{sourceFile: f.Name, sections: len(sections)}
	for _, section := range sections {
		content := model.FileContent{SourceFile: f.Name, MimeType: f.MimeType, Sections: []model.Section{section}}
		generatedName := extractedFileName(f.Name, section.SectionNumber)

		serialized, err := marshalFileContent(content)
		if err != nil {
			return extractedFile{}, pipeline.NewError("handlers.ExtractHandler.Invoke", pipeline.KindFatalValidation, err)
		}

		if err := hc.Storage.WriteFile(ctx, p.Index, p.DocumentID, generatedName, serialized, "application/json"); err != nil {
			return extractedFile{}, pipeline.NewError("handlers.ExtractHandler.Invoke", pipeline.KindTransient, err)
		}

		result.files = append(result.files, model.FileDescriptor{
			Name:        generatedName,
			Size:        int64(len(serialized)),
			MimeType:    "application/json",
			Generated:   true,
			GeneratedBy: h.Name(),
		})
	}
	return result, nil
}

func extractedFileName(sourceFile string, sectionNumber int) string {
	return fmt.Sprintf("%s.extract.%05d.json", sourceFile, sectionNumber)
}
