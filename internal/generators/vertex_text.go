package generators

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

// maxTokenTotal is gemini-3-pro-preview's combined prompt+completion budget.
const maxTokenTotal = 1_000_000

// VertexTextGenerator wraps the Vertex AI Gemini SDK client to implement
// TextGenerator, generalizing the teacher's gcpclient.GenAIAdapter regional
// code path for the optional summarize step (§4.1 step 3b). GenerateText
// streams through genai's GenerateContentStream so a caller can stop pulling
// fragments and cancel ctx without waiting for the full completion.
type VertexTextGenerator struct {
	client *genai.Client
	model  string
}

// NewVertexTextGenerator creates a VertexTextGenerator bound to a regional
// Vertex AI endpoint.
func NewVertexTextGenerator(ctx context.Context, project, location, model string) (*VertexTextGenerator, error) {
	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("generators.NewVertexTextGenerator: %w", err)
	}
	return &VertexTextGenerator{client: client, model: model}, nil
}

var _ TextGenerator = (*VertexTextGenerator)(nil)

func (g *VertexTextGenerator) MaxTokenTotal() int { return maxTokenTotal }

// CountTokens estimates token count with the same words*1.3 heuristic the
// embedding generator and partition handler use; Gemini's own CountTokens
// RPC would add a round trip for no win here.
func (g *VertexTextGenerator) CountTokens(text string) int {
	return estimateWordTokens(text)
}

// GenerateText streams a completion for prompt, applying opts to the
// underlying model's generation config. A stream-open or mid-stream error,
// including ctx cancellation, simply ends iteration — callers that need to
// distinguish a truncated stream from a full one compare fragment count
// against their own expectations; GenerateText itself reports nothing
// beyond what §4.6 promises (a lazy sequence of fragments).
func (g *VertexTextGenerator) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) iter.Seq[string] {
	return func(yield func(string) bool) {
		model := g.client.GenerativeModel(g.model)
		applyGenerateOptions(model, opts)

		stream := model.GenerateContentStream(ctx, genai.Text(prompt))
		for {
			if ctx.Err() != nil {
				return
			}
			resp, err := stream.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			for _, p := range resp.Candidates[0].Content.Parts {
				t, ok := p.(genai.Text)
				if !ok {
					continue
				}
				if !yield(string(t)) {
					return
				}
			}
		}
	}
}

func applyGenerateOptions(model *genai.GenerativeModel, opts GenerateOptions) {
	if opts.Temperature != 0 {
		model.Temperature = &opts.Temperature
	}
	if opts.TopP != 0 {
		model.TopP = &opts.TopP
	}
	if opts.PresencePenalty != 0 {
		model.PresencePenalty = &opts.PresencePenalty
	}
	if opts.FrequencyPenalty != 0 {
		model.FrequencyPenalty = &opts.FrequencyPenalty
	}
	if opts.MaxTokens != 0 {
		maxTokens := int32(opts.MaxTokens)
		model.MaxOutputTokens = &maxTokens
	}
	if len(opts.StopSequences) > 0 {
		model.StopSequences = opts.StopSequences
	}
	// TokenBias has no equivalent on genai.GenerativeModel; Gemini does not
	// expose a per-token logit bias API.
}

func (g *VertexTextGenerator) Close() error {
	return g.client.Close()
}
