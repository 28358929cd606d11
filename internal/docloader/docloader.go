// Package docloader supplies concrete retrieval.DocumentLoader
// implementations for the reference documents operators point pumpguard at:
// plain text and PDF. See spec.md §6.
package docloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"pumpguard/internal/apierr"
	"pumpguard/internal/retrieval"
)

// ForPath selects a DocumentLoader by the reference document's file
// extension. Anything other than ".pdf" is treated as plain text.
func ForPath(path string) retrieval.DocumentLoader {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return PDFLoader{}
	}
	return PlainTextLoader{}
}

// PlainTextLoader reads a file as text. A form-feed (\f) is treated as a
// page break, matching how plain-text exports of paginated documents often
// mark page boundaries; a file with no form-feeds is one page.
type PlainTextLoader struct{}

func (PlainTextLoader) Load(ctx context.Context, path string) ([]retrieval.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.Wrap(apierr.IndexBuildFailed, "read reference document", err)
	}

	var pages []retrieval.Page
	for i, part := range strings.Split(string(data), "\f") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		pages = append(pages, retrieval.Page{Text: part, Ordinal: i + 1})
	}
	return pages, nil
}

// PDFLoader extracts per-page text from a PDF reference document using
// github.com/ledongthuc/pdf.
type PDFLoader struct{}

func (PDFLoader) Load(ctx context.Context, path string) ([]retrieval.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, apierr.Wrap(apierr.IndexBuildFailed, "open PDF reference document", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]retrieval.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			if err == io.EOF {
				continue
			}
			return nil, apierr.Wrap(apierr.IndexBuildFailed, fmt.Sprintf("extract text from PDF page %d", i), err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, retrieval.Page{Text: text, Ordinal: i})
	}
	return pages, nil
}
