package handlers

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
)

// PartitionHandler generalizes the teacher's ChunkerService.Chunk
// (paragraph-then-sentence splitting, word-level overlap) into the
// two-level paragraph/line budget of spec.md §4.3: a chunk is a paragraph
// bounded by MaxTokensPerParagraph, itself composed of lines bounded by
// MaxTokensPerLine, with OverlappingTokens carried between adjacent
// chunks unless suppressed at a section boundary whose source format
// guarantees complete sentences (slides, spreadsheet rows).
type PartitionHandler struct{}

func (PartitionHandler) Name() string { return "partition" }

func (h PartitionHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (pipeline.Outcome, *model.Pipeline, error) {
	maxParagraph := hc.MaxTokensPerParagraph
	maxLine := hc.MaxTokensPerLine
	overlap := hc.OverlappingTokens
	if maxParagraph <= 0 {
		maxParagraph = 1000
	}
	if maxLine <= 0 {
		maxLine = 300
	}
	if overlap < 0 {
		overlap = 100
	}
	if maxLine > maxParagraph {
		perr := pipeline.NewError("handlers.PartitionHandler.Invoke", pipeline.KindFatalConfiguration,
			fmt.Errorf("maxTokensPerLine (%d) must be <= maxTokensPerParagraph (%d)", maxLine, maxParagraph))
		return pipeline.OutcomeFor(perr), p, perr
	}
	if overlap >= maxParagraph {
		perr := pipeline.NewError("handlers.PartitionHandler.Invoke", pipeline.KindFatalConfiguration,
			fmt.Errorf("overlappingTokens (%d) must be < maxTokensPerParagraph (%d)", overlap, maxParagraph))
		return pipeline.OutcomeFor(perr), p, perr
	}

	extracted := filesGeneratedBy(p, "extract")
	if len(extracted) == 0 {
		// An empty document — or one whose decoders produced zero sections —
		// partitions to zero chunks, not a failure (§8 boundary behavior).
		p.AppendLog(h.Name(), "partition complete (no extracted files)", nil)
		return pipeline.Success, p, nil
	}

	// bySourceFile groups sections back into per-file order so overlap
	// suppression can see neighboring sections' sentencesAreComplete flag.
	bySourceFile := map[string][]model.Section{}
	var order []string
	for _, f := range extracted {
		data, err := hc.Storage.ReadFile(ctx, p.Index, p.DocumentID, f.Name)
		if err != nil {
			p.AppendLog(h.Name(), "read extracted file failed", err)
			perr := pipeline.NewError("handlers.PartitionHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		content, err := unmarshalFileContent(data)
		if err != nil {
			p.AppendLog(h.Name(), "decode extracted file failed", err)
			perr := pipeline.NewError("handlers.PartitionHandler.Invoke", pipeline.KindFatalValidation, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		if _, seen := bySourceFile[content.SourceFile]; !seen {
			order = append(order, content.SourceFile)
		}
		bySourceFile[content.SourceFile] = append(bySourceFile[content.SourceFile], content.Sections...)
	}

	for _, sourceFile := range order {
		sections := bySourceFile[sourceFile]
		chunks := partitionSections(sections, maxParagraph, maxLine, overlap)

		for ordinal, c := range chunks {
			c.DocumentID = p.DocumentID
			c.SourceFile = sourceFile
			c.Ordinal = ordinal
			c.Index = p.Index
			c.Tags = p.Tags.Clone()
			c.Tags.Add(model.TagDocumentID, p.DocumentID)
			c.Tags.Add(model.TagFileID, sourceFile)
			c.Tags.Add(model.TagFilePart, fmt.Sprintf("%05d", ordinal))

			serialized, err := marshalChunk(c)
			if err != nil {
				perr := pipeline.NewError("handlers.PartitionHandler.Invoke", pipeline.KindFatalValidation, err)
				return pipeline.OutcomeFor(perr), p, perr
			}
			name := c.FileName()
			if err := hc.Storage.WriteFile(ctx, p.Index, p.DocumentID, name, serialized, "application/json"); err != nil {
				p.AppendLog(h.Name(), "write chunk failed", err)
				perr := pipeline.NewError("handlers.PartitionHandler.Invoke", pipeline.KindTransient, err)
				return pipeline.OutcomeFor(perr), p, perr
			}
			p.AddFile(model.FileDescriptor{Name: name, Size: int64(len(serialized)), MimeType: "application/json", Generated: true, GeneratedBy: h.Name()})
		}

		hc.Log().Info("partitioned file", "document_id", p.DocumentID, "source_file", sourceFile, "chunks", len(chunks))
	}

	p.AppendLog(h.Name(), "partition complete", nil)
	return pipeline.Success, p, nil
}

// partitionSections runs the paragraph/line budget algorithm across a
// section list belonging to one source file.
func partitionSections(sections []model.Section, maxParagraph, maxLine, overlap int) []model.Chunk {
	var paragraphs []paragraphUnit
	for _, sec := range sections {
		for _, para := range splitParagraphs(sec.Text) {
			paragraphs = append(paragraphs, paragraphUnit{text: para, sectionNumber: sec.SectionNumber, sentencesComplete: sec.SentencesAreComplete})
		}
	}

	segments := buildParagraphChunks(paragraphs, maxParagraph, maxLine)
	overlapped := applyParagraphOverlap(segments, overlap)

	chunks := make([]model.Chunk, 0, len(overlapped))
	for _, seg := range overlapped {
		text := strings.TrimSpace(seg.text)
		if text == "" {
			continue
		}
		chunks = append(chunks, model.Chunk{
			Text:                 text,
			TokenCount:           estimateTokens(text),
			SectionNumber:        seg.sectionNumber,
			SentencesAreComplete: seg.sentencesComplete,
		})
	}
	return chunks
}

type paragraphUnit struct {
	text              string
	sectionNumber     int
	sentencesComplete bool
}

// buildParagraphChunks merges paragraphUnits up to maxParagraph tokens,
// splitting any paragraph whose lines exceed maxLine via sentence-aware
// splitting, the same shape as the teacher's buildSegments/
// splitLargeParagraph pair.
func buildParagraphChunks(units []paragraphUnit, maxParagraph, maxLine int) []paragraphUnit {
	var out []paragraphUnit
	var current strings.Builder
	currentSection := 0
	currentComplete := true
	haveCurrent := false

	flush := func() {
		if current.Len() > 0 {
			out = append(out, paragraphUnit{text: current.String(), sectionNumber: currentSection, sentencesComplete: currentComplete})
			current.Reset()
			haveCurrent = false
		}
	}

	for _, u := range units {
		lines := splitIntoLines(u.text, maxLine)
		for _, line := range lines {
			lineTokens := estimateTokens(line)
			currentTokens := estimateTokens(current.String())

			if currentTokens > 0 && currentTokens+lineTokens > maxParagraph {
				flush()
			}
			if !haveCurrent {
				currentSection = u.sectionNumber
				currentComplete = u.sentencesComplete
				haveCurrent = true
			} else if u.sectionNumber != currentSection {
				// a paragraph chunk never silently claims a later
				// section's completeness flag
				currentComplete = currentComplete && u.sentencesComplete
			}
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	flush()
	return out
}

// splitIntoLines bounds each line by maxLine tokens, splitting on sentence
// boundaries first and falling back to word-level splitting for a single
// oversized sentence — ported from the teacher's splitLargeParagraph.
func splitIntoLines(text string, maxLine int) []string {
	if estimateTokens(text) <= maxLine {
		return []string{text}
	}

	sentences := splitSentences(text)
	var lines []string
	var current strings.Builder

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)
		currentTokens := estimateTokens(current.String())

		if currentTokens > 0 && currentTokens+sentTokens > maxLine {
			lines = append(lines, current.String())
			current.Reset()
		}
		if sentTokens > maxLine {
			lines = append(lines, splitByWords(sent, maxLine)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	if len(lines) == 0 {
		lines = splitByWords(text, maxLine)
	}
	return lines
}

// applyParagraphOverlap duplicates the trailing overlap tokens of each
// paragraph chunk as a prefix of the next, suppressed across a section
// boundary when either side guarantees complete sentences.
func applyParagraphOverlap(segments []paragraphUnit, overlapTokens int) []paragraphUnit {
	if len(segments) <= 1 || overlapTokens <= 0 {
		return segments
	}

	result := make([]paragraphUnit, len(segments))
	result[0] = segments[0]

	for i := 1; i < len(segments); i++ {
		prev := segments[i-1]
		crossesBoundary := prev.sectionNumber != segments[i].sectionNumber
		if crossesBoundary && (prev.sentencesComplete || segments[i].sentencesComplete) {
			result[i] = segments[i]
			continue
		}

		overlapWords := int(math.Ceil(float64(overlapTokens) / 1.3))
		tail := lastNWords(prev.text, overlapWords)
		if tail == "" {
			result[i] = segments[i]
			continue
		}
		result[i] = paragraphUnit{
			text:              tail + "\n" + segments[i].text,
			sectionNumber:     segments[i].sectionNumber,
			sentencesComplete: segments[i].sentencesComplete,
		}
	}
	return result
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = []string{strings.TrimSpace(text)}
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}

func splitByWords(text string, budget int) []string {
	words := strings.Fields(text)
	wordsPerLine := int(float64(budget) / 1.3)
	if wordsPerLine <= 0 {
		wordsPerLine = 1
	}
	var out []string
	for i := 0; i < len(words); i += wordsPerLine {
		end := i + wordsPerLine
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

func lastNWords(text string, n int) string {
	words := strings.Fields(text)
	if n >= len(words) {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}
