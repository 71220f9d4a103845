// Package storage implements Document Storage (§4.4): a durable blob store
// keyed by (index, documentId, filename), strongly consistent per key.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// PipelineStatusFile is the reserved key pipeline state is persisted under,
// one per (index, documentId) (§3 Ownership, §6).
const PipelineStatusFile = "__pipeline_status.json"

// ErrNotFound is returned for a missing key and must be distinguished from
// other storage errors so the orchestrator can tell a new upload from a
// retry (§4.4, §7).
var ErrNotFound = errors.New("storage: key not found")

// DocumentStore is the contract every adapter (GCS, local disk, …)
// implements (§4.4).
type DocumentStore interface {
	CreateIndexDirectory(ctx context.Context, index string) error
	WriteFile(ctx context.Context, index, documentID, filename string, data []byte, contentType string) error
	ReadFile(ctx context.Context, index, documentID, filename string) ([]byte, error)
	ListGeneratedFiles(ctx context.Context, index, documentID string) ([]model.FileDescriptor, error)
	DeleteDocument(ctx context.Context, index, documentID string) error
	DeleteIndex(ctx context.Context, index string) error

	ReadPipelineStatus(ctx context.Context, index, documentID string) (*model.Pipeline, error)
	WritePipelineStatus(ctx context.Context, p *model.Pipeline) error
}

func objectKey(index, documentID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", index, documentID, filename)
}
