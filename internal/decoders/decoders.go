// Package decoders implements the mime-keyed text extraction matrix of
// §4.3: one Decoder per family of input format, dispatched by mime type.
package decoders

import (
	"context"
	"fmt"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// Decoder extracts ordered sections of text from one file's raw bytes.
type Decoder interface {
	Decode(ctx context.Context, content model.UploadFile) ([]model.Section, error)
}

// Registry dispatches a Decoder by exact mime type, then by the "type/*"
// wildcard (used for the image family), generalizing the teacher's
// extension-switch in ParserService.Extract into an open, mime-keyed table.
type Registry struct {
	exact      map[string]Decoder
	wildcards  map[string]Decoder // key is the "type" half of "type/*"
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Decoder), wildcards: make(map[string]Decoder)}
}

// Register binds a Decoder to a mime type. A pattern ending in "/*" (e.g.
// "image/*") registers a wildcard fallback for that type family.
func (r *Registry) Register(mimeType string, d Decoder) {
	if n := len(mimeType); n > 1 && mimeType[n-2:] == "/*" {
		r.wildcards[mimeType[:n-2]] = d
		return
	}
	r.exact[mimeType] = d
}

// Lookup finds the Decoder for mimeType. A missing decoder for an
// otherwise-ingestible mime (notably an image mime with no OCR backend
// configured) is a caller-visible FatalError per spec, not silently
// skipped.
func (r *Registry) Lookup(mimeType string) (Decoder, error) {
	if d, ok := r.exact[mimeType]; ok {
		return d, nil
	}
	for i := 0; i < len(mimeType); i++ {
		if mimeType[i] == '/' {
			if d, ok := r.wildcards[mimeType[:i]]; ok {
				return d, nil
			}
			break
		}
	}
	return nil, fmt.Errorf("decoders.Registry.Lookup: no decoder registered for mime type %q", mimeType)
}
