package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// GCSDocumentStore implements DocumentStore over Google Cloud Storage,
// generalizing the teacher's StorageAdapter (Upload/Download/SignedURL)
// into the keyed, multi-file contract of §4.4.
type GCSDocumentStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSDocumentStore creates a GCSDocumentStore bound to bucket.
func NewGCSDocumentStore(ctx context.Context, bucket string) (*GCSDocumentStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewGCSDocumentStore: %w", err)
	}
	return &GCSDocumentStore{client: client, bucket: bucket}, nil
}

var _ DocumentStore = (*GCSDocumentStore)(nil)

func (s *GCSDocumentStore) CreateIndexDirectory(ctx context.Context, index string) error {
	// GCS has no real directories; object keys under index/ are created
	// lazily on first WriteFile. Kept as a no-op to satisfy the contract
	// symmetrically with LocalDocumentStore.
	return nil
}

func (s *GCSDocumentStore) WriteFile(ctx context.Context, index, documentID, filename string, data []byte, contentType string) error {
	obj := s.client.Bucket(s.bucket).Object(objectKey(index, documentID, filename))
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("storage.GCSDocumentStore.WriteFile: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage.GCSDocumentStore.WriteFile: close: %w", err)
	}
	return nil
}

func (s *GCSDocumentStore) ReadFile(ctx context.Context, index, documentID, filename string) ([]byte, error) {
	key := objectKey(index, documentID, filename)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("storage.GCSDocumentStore.ReadFile %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("storage.GCSDocumentStore.ReadFile: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSDocumentStore) ListGeneratedFiles(ctx context.Context, index, documentID string) ([]model.FileDescriptor, error) {
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
	return generated, nil
}

func (s *GCSDocumentStore) DeleteDocument(ctx context.Context, index, documentID string) error {
	prefix := index + "/" + documentID + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("storage.GCSDocumentStore.DeleteDocument: list: %w", err)
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("storage.GCSDocumentStore.DeleteDocument: delete %s: %w", attrs.Name, err)
		}
	}
	slog.Info("document deleted from storage", "index", index, "document_id", documentID)
	return nil
}

func (s *GCSDocumentStore) DeleteIndex(ctx context.Context, index string) error {
	prefix := index + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("storage.GCSDocumentStore.DeleteIndex: list: %w", err)
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("storage.GCSDocumentStore.DeleteIndex: delete %s: %w", attrs.Name, err)
		}
	}
	slog.Info("index deleted from storage", "index", index)
	return nil
}

func (s *GCSDocumentStore) ReadPipelineStatus(ctx context.Context, index, documentID string) (*model.Pipeline, error) {
	data, err := s.ReadFile(ctx, index, documentID, PipelineStatusFile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p model.Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("storage.GCSDocumentStore.ReadPipelineStatus: unmarshal: %w", err)
	}
	return &p, nil
}

func (s *GCSDocumentStore) WritePipelineStatus(ctx context.Context, p *model.Pipeline) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage.GCSDocumentStore.WritePipelineStatus: marshal: %w", err)
	}
	return s.WriteFile(ctx, p.Index, p.DocumentID, PipelineStatusFile, data, "application/json")
}

func (s *GCSDocumentStore) Close() error {
	return s.client.Close()
}
