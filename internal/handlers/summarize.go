package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/kernel-memory/internal/generators"
	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
)

const (
	summarizeSystemPrompt = "Summarize the following document excerpt in a few sentences, preserving concrete facts, names, and figures."
	reduceSystemPrompt    = "Combine the following summaries into a single shorter summary, preserving concrete facts, names, and figures."
	defaultSummaryBudget  = 500
	maxSummarizeRounds    = 4
)

// SummarizeHandler is the optional step (§4.1 step 3b) that condenses a
// document into a short summary via generators.TextGenerator. It follows
// the teacher's SelfRAGService.Reflect shape — a bounded iteration loop
// that keeps reducing until a target is met rather than a single call —
// but applies it to map-reduce summarization of chunk text instead of
// answer reflection, since no ingestion-time equivalent existed in the
// teacher.
type SummarizeHandler struct{}

func (SummarizeHandler) Name() string { return "summarize" }

func (h SummarizeHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (pipeline.Outcome, *model.Pipeline, error) {
	if hc.TextGen == nil {
		perr := pipeline.NewError("handlers.SummarizeHandler.Invoke", pipeline.KindFatalConfiguration,
			fmt.Errorf("no text generator configured"))
		return pipeline.OutcomeFor(perr), p, perr
	}

	chunkFiles := filesGeneratedBy(p, "partition")
	if len(chunkFiles) == 0 {
		// An empty document summarizes to an empty summary, not a failure
		// (§8 boundary behavior, same class as extract/partition/embed).
		p.AppendLog(h.Name(), "summarize complete (no chunks)", nil)
		return pipeline.Success, p, nil
	}

	budget := hc.SummarizeTokenBudget
	if budget <= 0 {
		budget = defaultSummaryBudget
	}

	summaries := make([]string, 0, len(chunkFiles))
	for _, f := range chunkFiles {
		data, err := hc.Storage.ReadFile(ctx, p.Index, p.DocumentID, f.Name)
		if err != nil {
			p.AppendLog(h.Name(), "read chunk failed", err)
			perr := pipeline.NewError("handlers.SummarizeHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		c, err := unmarshalChunk(data)
		if err != nil {
			p.AppendLog(h.Name(), "decode chunk failed", err)
			perr := pipeline.NewError("handlers.SummarizeHandler.Invoke", pipeline.KindFatalValidation, err)
			return pipeline.OutcomeFor(perr), p, perr
		}

		partial := collectText(ctx, hc.TextGen, summarizeSystemPrompt+"\n\n"+c.Text)
		if ctx.Err() != nil {
			p.AppendLog(h.Name(), "map summary failed", ctx.Err())
			perr := pipeline.NewError("handlers.SummarizeHandler.Invoke", pipeline.KindTransient, ctx.Err())
			return pipeline.OutcomeFor(perr), p, perr
		}
		summaries = append(summaries, strings.TrimSpace(partial))
	}

	// Reduce: keep merging summaries batch by batch until a single summary
	// remains that fits the token budget, or maxSummarizeRounds is reached.
	for round := 0; round < maxSummarizeRounds && (len(summaries) > 1 || estimateTokens(summaries[0]) > budget); round++ {
		reduced, err := reduceSummaries(ctx, hc, summaries)
		if err != nil {
			p.AppendLog(h.Name(), "reduce summary failed", err)
			perr := pipeline.NewError("handlers.SummarizeHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		summaries = reduced
	}

	final := strings.TrimSpace(strings.Join(summaries, "\n\n"))
	content := model.FileContent{
		SourceFile: p.DocumentID,
		MimeType:   "text/plain",
		Sections:   []model.Section{{SectionNumber: 0, Text: final, SentencesAreComplete: true}},
	}
	serialized, err := marshalFileContent(content)
	if err != nil {
		perr := pipeline.NewError("handlers.SummarizeHandler.Invoke", pipeline.KindFatalValidation, err)
		return pipeline.OutcomeFor(perr), p, perr
	}

	name := fmt.Sprintf("%s.summary.json", p.DocumentID)
	if err := hc.Storage.WriteFile(ctx, p.Index, p.DocumentID, name, serialized, "application/json"); err != nil {
		p.AppendLog(h.Name(), "write summary failed", err)
		perr := pipeline.NewError("handlers.SummarizeHandler.Invoke", pipeline.KindTransient, err)
		return pipeline.OutcomeFor(perr), p, perr
	}
	p.AddFile(model.FileDescriptor{Name: name, Size: int64(len(serialized)), MimeType: "application/json", Generated: true, GeneratedBy: h.Name()})

	hc.Log().Info("summarized document", "document_id", p.DocumentID, "tokens", estimateTokens(final))
	p.AppendLog(h.Name(), "summarize complete", nil)
	return pipeline.Success, p, nil
}

// reduceSummaries merges summaries in groups of four, cutting the count to
// about a quarter each round; a lone summary is re-summarized on its own.
func reduceSummaries(ctx context.Context, hc *HandlerContext, summaries []string) ([]string, error) {
	const groupSize = 4
	if len(summaries) == 0 {
		return summaries, nil
	}

	var out []string
	for i := 0; i < len(summaries); i += groupSize {
		end := i + groupSize
		if end > len(summaries) {
			end = len(summaries)
		}
		group := summaries[i:end]
		if len(group) == 1 && len(summaries) > 1 {
			out = append(out, group[0])
			continue
		}
		merged := collectText(ctx, hc.TextGen, reduceSystemPrompt+"\n\n"+strings.Join(group, "\n\n"))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("handlers.reduceSummaries: %w", ctx.Err())
		}
		out = append(out, strings.TrimSpace(merged))
	}
	return out, nil
}

// collectText drains a TextGenerator's streamed fragments into a single
// string. Used wherever summarize needs a complete completion rather than
// forwarding fragments to an external caller — the streaming contract
// itself belongs to generators.TextGenerator (§4.6), not to this
// batch-oriented ingestion step.
func collectText(ctx context.Context, gen generators.TextGenerator, prompt string) string {
	var sb strings.Builder
	for frag := range gen.GenerateText(ctx, prompt, generators.GenerateOptions{}) {
		sb.WriteString(frag)
	}
	return sb.String()
}
