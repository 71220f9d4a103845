package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// LocalDocumentStore is a disk-backed DocumentStore used for synchronous/
// dev mode and tests. It honors the same per-key read-after-write and
// NotFound semantics as the GCS adapter (§4.4).
type LocalDocumentStore struct {
	root string
	mu   sync.RWMutex
}

// NewLocalDocumentStore creates a LocalDocumentStore rooted at dir.
func NewLocalDocumentStore(dir string) *LocalDocumentStore {
	return &LocalDocumentStore{root: dir}
}

var _ DocumentStore = (*LocalDocumentStore)(nil)

func (s *LocalDocumentStore) docDir(index, documentID string) string {
	return filepath.Join(s.root, index, documentID)
}

func (s *LocalDocumentStore) CreateIndexDirectory(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Join(s.root, index), 0o755); err != nil {
		return fmt.Errorf("storage.LocalDocumentStore.CreateIndexDirectory: %w", err)
	}
	return nil
}

func (s *LocalDocumentStore) WriteFile(ctx context.Context, index, documentID, filename string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.docDir(index, documentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage.LocalDocumentStore.WriteFile: mkdir: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("storage.LocalDocumentStore.WriteFile: %w", err)
	}
	return nil
}

func (s *LocalDocumentStore) ReadFile(ctx context.Context, index, documentID, filename string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.docDir(index, documentID), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage.LocalDocumentStore.ReadFile %s: %w", objectKey(index, documentID, filename), ErrNotFound)
		}
		return nil, fmt.Errorf("storage.LocalDocumentStore.ReadFile: %w", err)
	}
	return data, nil
}

func (s *LocalDocumentStore) ListGeneratedFiles(ctx context.Context, index, documentID string) ([]model.FileDescriptor, error) {
	p, err := s.ReadPipelineStatus(ctx, index, documentID)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var generated []model.FileDescriptor
	for _, f := range p.Files {
		if f.Generated {
			generated = append(generated, f)
		}
	}
	sort.Slice(generated, func(i, j int) bool { return generated[i].Name < generated[j].Name })
	return generated, nil
}

func (s *LocalDocumentStore) DeleteDocument(ctx context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.docDir(index, documentID)); err != nil {
		return fmt.Errorf("storage.LocalDocumentStore.DeleteDocument: %w", err)
	}
	slog.Info("document deleted from storage", "index", index, "document_id", documentID)
	return nil
}

func (s *LocalDocumentStore) DeleteIndex(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(s.root, index)); err != nil {
		return fmt.Errorf("storage.LocalDocumentStore.DeleteIndex: %w", err)
	}
	slog.Info("index deleted from storage", "index", index)
	return nil
}

func (s *LocalDocumentStore) ReadPipelineStatus(ctx context.Context, index, documentID string) (*model.Pipeline, error) {
	data, err := s.ReadFile(ctx, index, documentID, PipelineStatusFile)
	if err != nil {
		if strings.Contains(err.Error(), ErrNotFound.Error()) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p model.Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("storage.LocalDocumentStore.ReadPipelineStatus: unmarshal: %w", err)
	}
	return &p, nil
}

func (s *LocalDocumentStore) WritePipelineStatus(ctx context.Context, p *model.Pipeline) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage.LocalDocumentStore.WritePipelineStatus: marshal: %w", err)
	}
	return s.WriteFile(ctx, p.Index, p.DocumentID, PipelineStatusFile, data, "application/json")
}
