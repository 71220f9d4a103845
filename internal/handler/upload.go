package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/pipeline"
)

const maxUploadMemory = 32 << 20 // buffered in memory before spilling to tmp files

// Orchestrator abstracts the upload+status surface for testability.
type Orchestrator interface {
	PrepareUpload(index, documentID string, tags model.TagSet, steps []string) (*model.Pipeline, error)
	ImportDocument(ctx context.Context, p *model.Pipeline, inputs []model.UploadFile) (string, error)
	ReadStatus(ctx context.Context, index, documentID string) (*model.Pipeline, error)
	IsReady(ctx context.Context, index, documentID string) (bool, error)
}

// Upload handles the HTTP upload contract (§6 "HTTP upload"): a multipart
// form carrying one or more "file" parts, an optional "documentId", an
// optional "index", repeated "tag" values as "key:value", and repeated
// "step" overrides. It responds 202 with the assigned documentId — ingestion
// itself runs asynchronously through the orchestrator.
func Upload(orch Orchestrator, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid multipart form: " + err.Error()})
			return
		}
		defer r.MultipartForm.RemoveAll()

		fileHeaders := r.MultipartForm.File["file"]
		if len(fileHeaders) == 0 {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "at least one \"file\" part is required"})
			return
		}

		inputs, err := readUploadFiles(fileHeaders)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
			return
		}

		index := r.FormValue("index")
		documentID := r.FormValue("documentId")
		tags := model.NewTagSet(r.MultipartForm.Value["tag"])
		var steps []string
		if s, ok := r.MultipartForm.Value["step"]; ok {
			steps = s
		}

		p, err := orch.PrepareUpload(index, documentID, tags, steps)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
			return
		}

		if _, err := orch.ImportDocument(r.Context(), p, inputs); err != nil {
			status := http.StatusInternalServerError
			if pipeline.IsFatal(err) {
				status = http.StatusBadRequest
			}
			logger.Error("upload import failed", "document_id", p.DocumentID, "error", err)
			respondJSON(w, status, envelope{Success: false, Error: err.Error()})
			return
		}

		respondJSON(w, http.StatusAccepted, envelope{
			Success: true,
			Data: map[string]string{
				"documentId": p.DocumentID,
				"index":      p.Index,
				"status":     string(p.Status),
			},
		})
	}
}

func readUploadFiles(headers []*multipart.FileHeader) ([]model.UploadFile, error) {
	inputs := make([]model.UploadFile, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > model.MaxFileSizeBytes {
			return nil, fmt.Errorf("file %q exceeds maximum size of %d bytes", fh.Filename, model.MaxFileSizeBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", fh.Filename, err)
		}
		mimeType := fh.Header.Get("Content-Type")
		inputs = append(inputs, model.UploadFile{Name: fh.Filename, MimeType: mimeType, Data: data})
	}
	return inputs, nil
}
