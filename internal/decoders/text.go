package decoders

import (
	"context"
	"regexp"
	"strings"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// PlainTextDecoder passes already-text content straight through as a single
// section, generalizing the teacher's isTextBasedFormat direct-download
// path (txt/md/csv/json/log/xml/yaml) — those formats need no extraction,
// only a readability check.
type PlainTextDecoder struct{}

// Decode returns zero sections (not an error) for empty or whitespace-only
// content — an empty file is a valid input that produces an empty
// document, not a decode failure (§8 boundary behavior).
func (PlainTextDecoder) Decode(ctx context.Context, f model.UploadFile) ([]model.Section, error) {
	text := string(f.Data)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []model.Section{{SectionNumber: 0, Text: text, SentencesAreComplete: false}}, nil
}

var anyTagPattern = regexp.MustCompile(`(?s)<[^>]+>`)
var blockBoundaryPattern = regexp.MustCompile(`(?i)</?(p|div|br|li|h[1-6]|tr)\b[^>]*>`)

// HTMLDecoder strips markup and collapses block-level boundaries into
// newlines, a stdlib-only substitute for a full DOM parser: the teacher
// repo carries no HTML parsing library, and the extraction here only needs
// plain readable text, not structure.
type HTMLDecoder struct{}

// Decode returns zero sections (not an error) when stripping markup leaves
// no extractable text — an empty/markup-only document is a valid input
// that produces an empty document, not a decode failure (§8 boundary
// behavior).
func (HTMLDecoder) Decode(ctx context.Context, f model.UploadFile) ([]model.Section, error) {
	raw := string(f.Data)
	noScripts := stripScriptStyle(raw)
	withBreaks := blockBoundaryPattern.ReplaceAllString(noScripts, "\n")
	text := anyTagPattern.ReplaceAllString(withBreaks, "")
	text = collapseBlankLines(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []model.Section{{SectionNumber: 0, Text: text, SentencesAreComplete: false}}, nil
}

func stripScriptStyle(s string) string {
	for _, tag := range []string{"script", "style"} {
		pattern := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		s = pattern.ReplaceAllString(s, "")
	}
	return s
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
