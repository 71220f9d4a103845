package handlers

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/kernel-memory/internal/cache"
	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
)

// embeddingConcurrency bounds how many batches embedChunks has in flight at
// once, the same cap the teacher's RetrieverService.retrieveWithVec put on
// its own errgroup fan-out.
const embeddingConcurrency = 4

// GenEmbeddingsHandler generalizes the teacher's EmbedderService.Embed: it
// reads the chunk files partition produced, embeds their text in batches
// through the pluggable generators.EmbeddingGenerator, L2-normalizes each
// vector, and writes one embedding-record file per chunk (§4.3
// "GenerateEmbeddings"). save_records is the step that writes these into
// the Memory DB — this step only stages them.
type GenEmbeddingsHandler struct{}

func (GenEmbeddingsHandler) Name() string { return "gen_embeddings" }

func (h GenEmbeddingsHandler) Invoke(ctx context.Context, hc *HandlerContext, p *model.Pipeline) (pipeline.Outcome, *model.Pipeline, error) {
	chunkFiles := filesGeneratedBy(p, "partition")
	if len(chunkFiles) == 0 {
		// A document that partitioned to zero chunks embeds to zero
		// records, not a failure (§8 boundary behavior).
		p.AppendLog(h.Name(), "embedding complete (no chunks)", nil)
		return pipeline.Success, p, nil
	}

	chunks := make([]model.Chunk, 0, len(chunkFiles))
	for _, f := range chunkFiles {
		data, err := hc.Storage.ReadFile(ctx, p.Index, p.DocumentID, f.Name)
		if err != nil {
			p.AppendLog(h.Name(), "read chunk failed", err)
			perr := pipeline.NewError("handlers.GenEmbeddingsHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		c, err := unmarshalChunk(data)
		if err != nil {
			p.AppendLog(h.Name(), "decode chunk failed", err)
			perr := pipeline.NewError("handlers.GenEmbeddingsHandler.Invoke", pipeline.KindFatalValidation, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		chunks = append(chunks, c)
	}

	dims := hc.Embedder.Dimensions()
	vectors, cacheHits, err := embedChunks(ctx, hc, chunks, dims)
	if err != nil {
		p.AppendLog(h.Name(), "embedding failed", err)
		return pipeline.OutcomeFor(err), p, err
	}

	if len(vectors) != len(chunks) {
		perr := pipeline.NewError("handlers.GenEmbeddingsHandler.Invoke", pipeline.KindTransient,
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
		return pipeline.OutcomeFor(perr), p, perr
	}
	if cacheHits > 0 {
		hc.Log().Info("embedding cache hits", "document_id", p.DocumentID, "hits", cacheHits, "total", len(chunks))
	}

	for i, c := range chunks {
		record := model.EmbeddingRecord{
			ID:     model.RecordIDFor(c.DocumentID, c.SourceFile, c.Ordinal),
			Vector: vectors[i],
			Tags:   c.Tags,
			Payload: map[string]any{
				"text":       c.Text,
				"sourceFile": c.SourceFile,
				"ordinal":    c.Ordinal,
			},
		}
		record.UpgradeSchema()

		serialized, err := marshalEmbeddingRecord(record)
		if err != nil {
			perr := pipeline.NewError("handlers.GenEmbeddingsHandler.Invoke", pipeline.KindFatalValidation, err)
			return pipeline.OutcomeFor(perr), p, perr
		}

		name := embeddingRecordFileName(c.SourceFile, c.Ordinal)
		if err := hc.Storage.WriteFile(ctx, p.Index, p.DocumentID, name, serialized, "application/json"); err != nil {
			p.AppendLog(h.Name(), "write embedding record failed", err)
			perr := pipeline.NewError("handlers.GenEmbeddingsHandler.Invoke", pipeline.KindTransient, err)
			return pipeline.OutcomeFor(perr), p, perr
		}
		p.AddFile(model.FileDescriptor{Name: name, Size: int64(len(serialized)), MimeType: "application/json", Generated: true, GeneratedBy: h.Name()})
	}

	hc.Log().Info("embedded chunks", "document_id", p.DocumentID, "chunks", len(chunks))
	p.AppendLog(h.Name(), "embedding complete", nil)
	return pipeline.Success, p, nil
}

func embeddingRecordFileName(sourceFile string, ordinal int) string {
	return fmt.Sprintf("%s.record.%05d.json", sourceFile, ordinal)
}

// embedUnit is one embedder call's worth of text: either a whole chunk or
// one token-budget-sized piece of a chunk that was too large to embed in
// a single call.
type embedUnit struct {
	chunkIdx int
	text     string
}

// embedChunks resolves one vector per chunk, consulting hc.EmbedCache (if
// configured) before falling through to hc.Embedder for the texts it missed
// on, splitting any chunk whose text exceeds the embedder's MaxTokens into
// multiple pieces embedded separately and averaged back into one vector
// (§4.3 "Generators must reject inputs exceeding their token budget; the
// handler splits or fails accordingly"), and normalizing every resulting
// vector to unit length. It returns how many of the vectors came from
// cache, purely for logging.
func embedChunks(ctx context.Context, hc *HandlerContext, chunks []model.Chunk, dims int) ([]model.Vector, int, error) {
	vectors := make([]model.Vector, len(chunks))
	keys := make([]string, len(chunks))
	var missIdx []int
	cacheHits := 0

	for i, c := range chunks {
		if hc.EmbedCache == nil {
			missIdx = append(missIdx, i)
			continue
		}
		keys[i] = cache.ContentHash(c.Text)
		vec, ok, err := hc.EmbedCache.GetEmbedding(ctx, keys[i])
		if err != nil {
			hc.Log().Warn("embedding cache lookup failed, falling back to embedder", "error", err)
			missIdx = append(missIdx, i)
			continue
		}
		if !ok {
			missIdx = append(missIdx, i)
			continue
		}
		vectors[i] = vec
		cacheHits++
	}

	maxTokens := hc.Embedder.MaxTokens()
	maxBatchSize := hc.Embedder.MaxBatchSize()
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}

	var units []embedUnit
	for _, i := range missIdx {
		text := chunks[i].Text
		if maxTokens > 0 && hc.Embedder.CountTokens(text) > maxTokens {
			for _, piece := range splitForTokenBudget(text, maxTokens, hc.Embedder.CountTokens, hc.Embedder.GetTokens) {
				units = append(units, embedUnit{chunkIdx: i, text: piece})
			}
			continue
		}
		units = append(units, embedUnit{chunkIdx: i, text: text})
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embeddingConcurrency)

	pieces := make(map[int][]model.Vector)
	var piecesMu sync.Mutex

	for start := 0; start < len(units); start += maxBatchSize {
		start := start
		end := start + maxBatchSize
		if end > len(units) {
			end = len(units)
		}
		batchUnits := units[start:end]

		g.Go(func() error {
			texts := make([]string, len(batchUnits))
			for j, u := range batchUnits {
				texts[j] = u.text
			}
			batch, err := hc.Embedder.GenerateEmbeddingBatch(gCtx, texts)
			if err != nil {
				return pipeline.NewError("handlers.embedChunks", pipeline.KindTransient, err)
			}
			piecesMu.Lock()
			defer piecesMu.Unlock()
			for j, vec := range batch {
				if dims > 0 && len(vec) != dims {
					return pipeline.NewError("handlers.embedChunks", pipeline.KindFatalConfiguration,
						fmt.Errorf("vector for chunk %d has %d dimensions, want %d", batchUnits[j].chunkIdx, len(vec), dims))
				}
				chunkIdx := batchUnits[j].chunkIdx
				pieces[chunkIdx] = append(pieces[chunkIdx], vec)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	for chunkIdx, vecs := range pieces {
		vec := l2Normalize(averageVectors(vecs))
		vectors[chunkIdx] = vec
		if hc.EmbedCache != nil {
			if err := hc.EmbedCache.SetEmbedding(ctx, keys[chunkIdx], vec); err != nil {
				hc.Log().Warn("embedding cache write failed", "error", err)
			}
		}
	}

	return vectors, cacheHits, nil
}

// splitForTokenBudget breaks text into pieces no larger than maxTokens,
// measured by countTokens, grouping the generator's own token units
// (GetTokens) so the pieces actually respect the same budget the generator
// enforces rather than an independent approximation.
func splitForTokenBudget(text string, maxTokens int, countTokens func(string) int, getTokens func(string) []string) []string {
	tokens := getTokens(text)
	if len(tokens) == 0 {
		return []string{text}
	}

	var pieces []string
	var current []string
	for _, tok := range tokens {
		candidate := append(append([]string{}, current...), tok)
		if len(current) > 0 && countTokens(joinTokens(candidate)) > maxTokens {
			pieces = append(pieces, joinTokens(current))
			current = []string{tok}
			continue
		}
		current = candidate
	}
	if len(current) > 0 {
		pieces = append(pieces, joinTokens(current))
	}
	if len(pieces) == 0 {
		return []string{text}
	}
	return pieces
}

func joinTokens(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

// averageVectors combines the embeddings of a chunk's split pieces into one
// vector by element-wise mean; the caller L2-normalizes the result.
func averageVectors(vecs []model.Vector) model.Vector {
	if len(vecs) == 1 {
		return vecs[0]
	}
	out := make(model.Vector, len(vecs[0]))
	for _, vec := range vecs {
		for i, v := range vec {
			out[i] += v
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

// l2Normalize normalizes a vector to unit length, mirroring the teacher's
// defensive re-normalization even when the backend claims to already
// return unit vectors.
func l2Normalize(vec model.Vector) model.Vector {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make(model.Vector, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
