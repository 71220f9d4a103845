package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// VertexEmbeddingGenerator calls the Vertex AI text embedding REST API,
// generalizing the teacher's gcpclient.EmbeddingAdapter (RETRIEVAL_DOCUMENT
// vs RETRIEVAL_QUERY task types) behind the EmbeddingGenerator contract.
type VertexEmbeddingGenerator struct {
	project      string
	location     string
	model        string
	dimensions   int
	maxTokens    int
	maxBatchSize int
	client       *http.Client
}

// NewVertexEmbeddingGenerator creates a VertexEmbeddingGenerator using
// application default credentials. maxTokens/maxBatchSize are the model's
// published per-text and per-call limits (§4.6); text-embedding-004
// accepts up to 2048 tokens per text and 250 texts per batch call.
func NewVertexEmbeddingGenerator(ctx context.Context, project, location, model string, dimensions, maxTokens, maxBatchSize int) (*VertexEmbeddingGenerator, error) {
	client, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("generators.NewVertexEmbeddingGenerator: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 250
	}
	return &VertexEmbeddingGenerator{
		project:      project,
		location:     location,
		model:        model,
		dimensions:   dimensions,
		maxTokens:    maxTokens,
		maxBatchSize: maxBatchSize,
		client:       client,
	}, nil
}

var _ EmbeddingGenerator = (*VertexEmbeddingGenerator)(nil)

type embeddingRequest struct {
	Instances []embeddingInstance `json:"instances"`
}

type embeddingInstance struct {
	Content  string `json:"content"`
	TaskType string `json:"task_type"`
}

type embeddingResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

func (g *VertexEmbeddingGenerator) MaxTokens() int    { return g.maxTokens }
func (g *VertexEmbeddingGenerator) MaxBatchSize() int { return g.maxBatchSize }
func (g *VertexEmbeddingGenerator) Dimensions() int   { return g.dimensions }

// CountTokens estimates token count the same way estimateTokens in the
// partition handler does (words * 1.3) — this generator exposes no
// tokenizer endpoint of its own, matching the teacher's own whitespace
// heuristic in ChunkerService.
func (g *VertexEmbeddingGenerator) CountTokens(text string) int {
	return estimateWordTokens(text)
}

// GetTokens splits text on whitespace, the same unit CountTokens estimates
// over — this generator has no sub-word tokenizer to expose.
func (g *VertexEmbeddingGenerator) GetTokens(text string) []string {
	return strings.Fields(text)
}

// GenerateEmbedding embeds a single text using RETRIEVAL_DOCUMENT task type.
func (g *VertexEmbeddingGenerator) GenerateEmbedding(ctx context.Context, text string) (model.Vector, error) {
	if g.maxTokens > 0 && g.CountTokens(text) > g.maxTokens {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.GenerateEmbedding: text exceeds MaxTokens (%d)", g.maxTokens)
	}
	vecs, err := withRetry(ctx, "GenerateEmbedding", func() ([]model.Vector, error) {
		return g.embed(ctx, []string{text}, "RETRIEVAL_DOCUMENT")
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.GenerateEmbedding: empty response from model")
	}
	return vecs[0], nil
}

// GenerateEmbeddingBatch embeds chunk texts using RETRIEVAL_DOCUMENT task
// type. A batch larger than MaxBatchSize, or containing a text over
// MaxTokens, is rejected — callers split or fail accordingly (§4.3).
func (g *VertexEmbeddingGenerator) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([]model.Vector, error) {
	if len(texts) > g.maxBatchSize {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.GenerateEmbeddingBatch: batch of %d exceeds MaxBatchSize (%d)", len(texts), g.maxBatchSize)
	}
	for i, t := range texts {
		if g.maxTokens > 0 && g.CountTokens(t) > g.maxTokens {
			return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.GenerateEmbeddingBatch: text %d exceeds MaxTokens (%d)", i, g.maxTokens)
		}
	}
	return withRetry(ctx, "GenerateEmbeddingBatch", func() ([]model.Vector, error) {
		return g.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
	})
}

// GenerateQueryEmbedding embeds a search query using RETRIEVAL_QUERY task
// type. text-embedding-004 produces a different vector space per task type,
// optimized for asymmetric retrieval.
func (g *VertexEmbeddingGenerator) GenerateQueryEmbedding(ctx context.Context, text string) (model.Vector, error) {
	vecs, err := withRetry(ctx, "GenerateQueryEmbedding", func() ([]model.Vector, error) {
		return g.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.GenerateQueryEmbedding: empty response from model")
	}
	return vecs[0], nil
}

func (g *VertexEmbeddingGenerator) embed(ctx context.Context, texts []string, taskType string) ([]model.Vector, error) {
	instances := make([]embeddingInstance, len(texts))
	for i, t := range texts {
		instances[i] = embeddingInstance{Content: t, TaskType: taskType}
	}

	body, err := json.Marshal(embeddingRequest{Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.embed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpointURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.embed: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.embed: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.embed: status %d: %s", resp.StatusCode, respBody)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("generators.VertexEmbeddingGenerator.embed: decode: %w", err)
	}

	out := make([]model.Vector, len(decoded.Predictions))
	for i, p := range decoded.Predictions {
		out[i] = p.Embeddings.Values
	}
	return out, nil
}

func (g *VertexEmbeddingGenerator) endpointURL() string {
	if g.location == "global" {
		return fmt.Sprintf(
			"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:predict",
			g.project, g.model,
		)
	}
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		g.location, g.project, g.location, g.model,
	)
}

// estimateWordTokens is the same words*1.3 heuristic the partition handler
// uses, shared here so an embedder with no real tokenizer endpoint still
// gives a consistent answer for CountTokens/GetTokens.
func estimateWordTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int((float64(words)*1.3 + 0.999999))
}
