package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

func marshalFileContent(c model.FileContent) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("handlers.marshalFileContent: %w", err)
	}
	return data, nil
}

func unmarshalFileContent(data []byte) (model.FileContent, error) {
	var c model.FileContent
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("handlers.unmarshalFileContent: %w", err)
	}
	return c, nil
}

func marshalChunk(c model.Chunk) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("handlers.marshalChunk: %w", err)
	}
	return data, nil
}

func unmarshalChunk(data []byte) (model.Chunk, error) {
	var c model.Chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("handlers.unmarshalChunk: %w", err)
	}
	return c, nil
}

func marshalEmbeddingRecord(r model.EmbeddingRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("handlers.marshalEmbeddingRecord: %w", err)
	}
	return data, nil
}

func unmarshalEmbeddingRecord(data []byte) (model.EmbeddingRecord, error) {
	var r model.EmbeddingRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("handlers.unmarshalEmbeddingRecord: %w", err)
	}
	return r, nil
}

// filesGeneratedBy filters p's files to those produced by the named
// handler step, the pattern every downstream handler uses to find its
// upstream input set without re-deriving naming conventions.
func filesGeneratedBy(p *model.Pipeline, step string) []model.FileDescriptor {
	var out []model.FileDescriptor
	for _, f := range p.Files {
		if f.Generated && f.GeneratedBy == step {
			out = append(out, f)
		}
	}
	return out
}
