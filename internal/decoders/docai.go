package decoders

import (
	"context"
	"fmt"
	"log/slog"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// DocAIDecoder extracts text from PDFs and images via Google Document AI
// OCR, generalizing the teacher's DocumentAIAdapter (which always went
// through GCS + ProcessRequest_GcsDocument) to take bytes directly via
// ProcessRequest_RawDocument, since a decoder here runs against an
// in-memory upload rather than an object already staged in a bucket.
type DocAIDecoder struct {
	client    *documentai.DocumentProcessorClient
	processor string // projects/{project}/locations/{location}/processors/{id}
}

// NewDocAIDecoder creates a DocAIDecoder bound to a single Document AI
// processor resource.
func NewDocAIDecoder(client *documentai.DocumentProcessorClient, processor string) *DocAIDecoder {
	return &DocAIDecoder{client: client, processor: processor}
}

func (d *DocAIDecoder) Decode(ctx context.Context, f model.UploadFile) ([]model.Section, error) {
	req := &documentaipb.ProcessRequest{
		Name: d.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  f.Data,
				MimeType: f.MimeType,
			},
		},
	}

	resp, err := d.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decoders.DocAIDecoder.Decode: %s: %w", f.Name, err)
	}
	if resp.Document == nil || resp.Document.Text == "" {
		return nil, fmt.Errorf("decoders.DocAIDecoder.Decode: %s: document ai returned no text", f.Name)
	}

	slog.Info("document ai extraction complete", "file", f.Name, "pages", len(resp.Document.Pages), "chars", len(resp.Document.Text))

	// One section per page when page boundaries are available, otherwise a
	// single flowing section; OCR text crosses page breaks mid-sentence, so
	// SentencesAreComplete is false either way (§4.3 Section).
	if len(resp.Document.Pages) <= 1 {
		return []model.Section{{SectionNumber: 0, Text: resp.Document.Text, SentencesAreComplete: false}}, nil
	}

	var sections []model.Section
	for i, page := range resp.Document.Pages {
		text := pageText(resp.Document.Text, page)
		if text == "" {
			continue
		}
		sections = append(sections, model.Section{SectionNumber: i, Text: text, SentencesAreComplete: false})
	}
	if len(sections) == 0 {
		return []model.Section{{SectionNumber: 0, Text: resp.Document.Text, SentencesAreComplete: false}}, nil
	}
	return sections, nil
}

// pageText slices the document's full text using a page's text layout
// anchors, falling back to empty when anchors are absent.
func pageText(fullText string, page *documentaipb.Document_Page) string {
	if page.Layout == nil || page.Layout.TextAnchor == nil {
		return ""
	}
	var out string
	for _, seg := range page.Layout.TextAnchor.TextSegments {
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 || end > len(fullText) || start > end {
			continue
		}
		out += fullText[start:end]
	}
	return out
}

func (d *DocAIDecoder) Close() error {
	return d.client.Close()
}
