package retrieval

import "context"

// Page is one page of source text extracted from a reference document,
// numbered from 1. Chunk.OrdinalPage is only as faithful as the Ordinal a
// DocumentLoader implementation reports here.
type Page struct {
	Text    string
	Ordinal int
}

// DocumentLoader extracts per-page text from a reference document, per
// spec.md §6's DocumentLoader collaborator.
type DocumentLoader interface {
	Load(ctx context.Context, path string) ([]Page, error)
}

// SinglePage wraps text as a one-page document, for callers holding a block
// of in-memory text with no real document to paginate (the bundled fallback
// troubleshooting guide, or a test fixture). Empty text yields no pages.
func SinglePage(text string) []Page {
	if text == "" {
		return nil
	}
	return []Page{{Text: text, Ordinal: 1}}
}
