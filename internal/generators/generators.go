// Package generators implements the embedding and text-generation contracts
// of §4.6: pluggable backends the partition/embed/summarize handlers call
// through an interface, never a concrete client.
package generators

import (
	"context"
	"iter"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// EmbeddingGenerator turns chunk text into dense vectors (§4.6). Callers
// must respect MaxTokens and MaxBatchSize themselves — a generator rejects
// a call that violates either rather than silently truncating it.
type EmbeddingGenerator interface {
	// MaxTokens is the largest single text this generator accepts.
	MaxTokens() int
	// MaxBatchSize is the largest number of texts GenerateEmbeddingBatch
	// accepts in one call.
	MaxBatchSize() int
	// CountTokens reports how many tokens text would consume.
	CountTokens(text string) int
	// GetTokens returns text split into this generator's token units, used
	// by callers that need to split an over-budget text themselves.
	GetTokens(text string) []string
	// Dimensions reports the vector width this generator produces, used to
	// size a Memory DB index at creation time.
	Dimensions() int

	// GenerateEmbedding embeds a single piece of text for storage.
	GenerateEmbedding(ctx context.Context, text string) (model.Vector, error)
	// GenerateEmbeddingBatch embeds up to MaxBatchSize texts in one call;
	// a longer batch, or a text exceeding MaxTokens, is an error.
	GenerateEmbeddingBatch(ctx context.Context, texts []string) ([]model.Vector, error)
	// GenerateQueryEmbedding embeds a search query. Some backends use an
	// asymmetric retrieval task type distinct from GenerateEmbedding(Batch).
	GenerateQueryEmbedding(ctx context.Context, text string) (model.Vector, error)
}

// GenerateOptions controls a single TextGenerator call (§4.6).
type GenerateOptions struct {
	Temperature      float32
	TopP             float32
	PresencePenalty  float32
	FrequencyPenalty float32
	MaxTokens        int
	StopSequences    []string
	// TokenBias maps a token to an additive logit bias.
	TokenBias map[string]float32
}

// TextGenerator produces text completions for the optional summarize step
// (§4.1 step 3b) and for any downstream answer-synthesis caller (§1
// external collaborator). GenerateText streams its response as a lazy
// sequence of text fragments so a caller can cancel mid-generation via ctx
// without waiting for the full completion.
type TextGenerator interface {
	// MaxTokenTotal is the largest combined prompt+completion this
	// generator accepts.
	MaxTokenTotal() int
	// CountTokens reports how many tokens text would consume.
	CountTokens(text string) int
	// GenerateText streams completion fragments for prompt. Iteration ends
	// early, with no error surfaced beyond ctx cancellation, if the
	// consuming range loop stops pulling values.
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) iter.Seq[string]
}
