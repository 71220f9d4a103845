package decoders

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// DocxDecoder extracts plain text from a .docx file, a ZIP archive whose
// body text lives in word/document.xml as <w:t> elements. Ported from the
// teacher's native docx extraction (no third-party OOXML library existed
// in the pack, so this stays stdlib zip+xml as the teacher wrote it).
type DocxDecoder struct{}

func (DocxDecoder) Decode(ctx context.Context, f model.UploadFile) ([]model.Section, error) {
	text, err := extractDocxText(f.Data)
	if err != nil {
		return nil, fmt.Errorf("decoders.DocxDecoder.Decode: %s: %w", f.Name, err)
	}
	return []model.Section{{SectionNumber: 0, Text: text, SentencesAreComplete: false}}, nil
}

func extractDocxText(data []byte) (string, error) {
	body, err := readZipEntry(data, "word/document.xml")
	if err != nil {
		return "", err
	}
	return parseRunText(body, "p")
}

// parseRunText walks an OOXML part and collects <w:t>/<a:t> text runs,
// inserting a newline at each paragraphTag boundary.
func parseRunText(data []byte, paragraphTag string) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose

	var buf strings.Builder
	var inText bool
	var paraHasText bool

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse ooxml part: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case paragraphTag:
				if paraHasText {
					buf.WriteByte('\n')
				}
				paraHasText = false
			case "t":
				inText = true
			case "tab":
				buf.WriteByte('\t')
			case "br":
				buf.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case paragraphTag:
				if paraHasText {
					buf.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText && len(t) > 0 {
				buf.Write(t)
				paraHasText = true
			}
		}
	}

	result := strings.TrimSpace(buf.String())
	if result == "" {
		return "", fmt.Errorf("no text content found")
	}
	return result, nil
}

func readZipEntry(data []byte, name string) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// XlsxDecoder extracts cell text from every worksheet of a .xlsx file, one
// section per sheet so sheet boundaries are never merged into one partition
// budget unit (§4.3 Section).
type XlsxDecoder struct{}

func (XlsxDecoder) Decode(ctx context.Context, f model.UploadFile) ([]model.Section, error) {
	r, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return nil, fmt.Errorf("decoders.XlsxDecoder.Decode: %s: open zip: %w", f.Name, err)
	}

	shared, _ := readZipEntryFromReader(r, "xl/sharedStrings.xml")
	sharedStrings, err := parseSharedStrings(shared)
	if err != nil {
		return nil, fmt.Errorf("decoders.XlsxDecoder.Decode: %s: shared strings: %w", f.Name, err)
	}

	var sheetNames []string
	for _, zf := range r.File {
		if strings.HasPrefix(zf.Name, "xl/worksheets/sheet") && strings.HasSuffix(zf.Name, ".xml") {
			sheetNames = append(sheetNames, zf.Name)
		}
	}
	sort.Strings(sheetNames)

	var sections []model.Section
	for _, name := range sheetNames {
		body, err := readZipEntryFromReader(r, name)
		if err != nil {
			continue
		}
		text, err := parseSheetText(body, sharedStrings)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, model.Section{
			SectionNumber:        len(sections),
			Text:                 text,
			SentencesAreComplete: true,
		})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("decoders.XlsxDecoder.Decode: %s: no extractable text", f.Name)
	}
	return sections, nil
}

func readZipEntryFromReader(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found", name)
}

func parseSharedStrings(data []byte) ([]string, error) {
	if data == nil {
		return nil, nil
	}
	var doc struct {
		SI []struct {
			T string `xml:"t"`
			R []struct {
				T string `xml:"t"`
			} `xml:"r"`
		} `xml:"si"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]string, len(doc.SI))
	for i, si := range doc.SI {
		if si.T != "" {
			out[i] = si.T
			continue
		}
		var parts []string
		for _, r := range si.R {
			parts = append(parts, r.T)
		}
		out[i] = strings.Join(parts, "")
	}
	return out, nil
}

func parseSheetText(data []byte, sharedStrings []string) (string, error) {
	var sheet struct {
		SheetData struct {
			Row []struct {
				C []struct {
					T string `xml:"t,attr"`
					V string `xml:"v"`
				} `xml:"c"`
			} `xml:"row"`
		} `xml:"sheetData"`
	}
	if err := xml.Unmarshal(data, &sheet); err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, row := range sheet.SheetData.Row {
		var cells []string
		for _, c := range row.C {
			v := c.V
			if c.T == "s" {
				if idx, err := strconv.Atoi(v); err == nil && idx >= 0 && idx < len(sharedStrings) {
					v = sharedStrings[idx]
				}
			}
			if v != "" {
				cells = append(cells, v)
			}
		}
		if len(cells) > 0 {
			buf.WriteString(strings.Join(cells, "\t"))
			buf.WriteByte('\n')
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

// PptxDecoder extracts the text of every slide of a .pptx file, one
// section per slide (§4.3 Section) since a slide's sentences never spill
// into the next.
type PptxDecoder struct{}

func (PptxDecoder) Decode(ctx context.Context, f model.UploadFile) ([]model.Section, error) {
	r, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return nil, fmt.Errorf("decoders.PptxDecoder.Decode: %s: open zip: %w", f.Name, err)
	}

	var slideNames []string
	for _, zf := range r.File {
		if strings.HasPrefix(zf.Name, "ppt/slides/slide") && strings.HasSuffix(zf.Name, ".xml") {
			slideNames = append(slideNames, zf.Name)
		}
	}
	sort.Strings(slideNames)

	var sections []model.Section
	for _, name := range slideNames {
		body, err := readZipEntryFromReader(r, name)
		if err != nil {
			continue
		}
		text, err := parseRunText(body, "p")
		if err != nil {
			continue
		}
		sections = append(sections, model.Section{
			SectionNumber:        len(sections),
			Text:                 text,
			SentencesAreComplete: true,
		})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("decoders.PptxDecoder.Decode: %s: no extractable text", f.Name)
	}
	return sections, nil
}
