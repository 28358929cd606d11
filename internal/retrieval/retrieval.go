// Package retrieval builds a vector index over a reference document and
// serves top-k similarity queries for the DiagnosticEngine. See spec.md
// §4.5. Similarity search is implemented directly against in-memory
// vectors; nothing in the retrieved example pack wires a dedicated vector
// database client, and the reference document here is small enough (a
// handful of megabytes of maintenance text) that brute-force cosine
// distance over a flat slice is the right-sized choice rather than
// standing up external infrastructure for it.
package retrieval

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pumpguard/internal/apierr"
	"pumpguard/internal/telemetry/tracing"
)

const (
	chunkTargetSize = 1000
	chunkOverlap    = 200

	// DefaultTopK and bounds on k, per spec.md §4.5.
	DefaultTopK = 3
	MinTopK     = 1
	MaxTopK     = 50
)

// Chunk is a slice of the reference document with its embedding.
type Chunk struct {
	Content     string    `json:"content"`
	OrdinalPage int       `json:"ordinal_page"`
	SourceID    string    `json:"source_id"`
	Embedding   []float64 `json:"embedding"`
}

// Result is a single retrieved chunk, ranked by distance (lower = closer).
type Result struct {
	Content     string  `json:"content"`
	OrdinalPage int     `json:"ordinal_page"`
	SourceID    string  `json:"source_id"`
	Score       float64 `json:"score"`
}

// Embedder produces an embedding vector for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Index is a read-mostly vector store: writes only happen during Build;
// Query only ever reads the chunk slice, so no lock is needed once built.
type Index struct {
	chunks []Chunk
}

// Chunks returns the chunks held by the already-built index.
func (idx *Index) Chunks() []Chunk { return idx.chunks }

// Split divides text into overlapping chunks of target size chunkTargetSize
// with chunkOverlap characters of overlap, preferring to break on a
// paragraph boundary, then a line boundary, then a space, then a raw
// character cut, per spec.md §4.5.
func Split(text string) []string {
	var chunks []string
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return chunks
	}

	start := 0
	for start < n {
		end := start + chunkTargetSize
		if end >= n {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:n])))
			break
		}
		cut := bestBreak(runes, start, end)
		chunks = append(chunks, strings.TrimSpace(string(runes[start:cut])))

		next := cut - chunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// bestBreak finds the preferred break point in (start, end], searching
// backward from end for a paragraph break, then a line break, then a space,
// falling back to the raw character cut at end.
func bestBreak(runes []rune, start, end int) int {
	if end >= len(runes) {
		return len(runes)
	}
	if i := lastIndexOf(runes, start, end, "\n\n"); i >= 0 {
		return i + 2
	}
	if i := lastIndexOf(runes, start, end, "\n"); i >= 0 {
		return i + 1
	}
	if i := lastIndexOf(runes, start, end, " "); i >= 0 {
		return i + 1
	}
	return end
}

func lastIndexOf(runes []rune, start, end int, sep string) int {
	sr := []rune(sep)
	for i := end - len(sr); i >= start; i-- {
		match := true
		for j, r := range sr {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// Build splits each page's text into chunks, embeds them, and persists
// chunks+embeddings to persistDir. If persistDir already contains a valid
// index it is loaded instead, without recomputing embeddings. A build
// failure never leaves a partial index on disk. Each resulting Chunk keeps
// the Ordinal of the Page it came from, so a page that splits into several
// chunks still cites its true source page rather than a chunk-sequence
// number.
func Build(ctx context.Context, persistDir string, pages []Page, sourceID string, embedder Embedder) (*Index, error) {
	ctx, span := tracing.Start(ctx, "retrieval.build", map[string]any{"source_id": sourceID, "persist_dir": persistDir})
	defer span.End()

	if idx, err := Load(persistDir); err == nil {
		return idx, nil
	}

	var texts []string
	var ordinals []int
	for _, pg := range pages {
		for _, piece := range Split(pg.Text) {
			texts = append(texts, piece)
			ordinals = append(ordinals, pg.Ordinal)
		}
	}
	if len(texts) == 0 {
		return &Index{}, nil
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		wrapped := apierr.Wrap(apierr.IndexBuildFailed, "embedder unreachable during index build", err)
		tracing.RecordError(ctx, wrapped)
		return nil, wrapped
	}
	if len(vectors) != len(texts) {
		return nil, apierr.New(apierr.IndexBuildFailed, "embedder returned a mismatched vector count")
	}

	chunks := make([]Chunk, len(texts))
	for i, content := range texts {
		chunks[i] = Chunk{Content: content, OrdinalPage: ordinals[i], SourceID: sourceID, Embedding: vectors[i]}
	}

	idx := &Index{chunks: chunks}
	if persistDir != "" {
		if err := persist(persistDir, chunks); err != nil {
			_ = os.Remove(filepath.Join(persistDir, chunksFileName))
			_ = os.Remove(filepath.Join(persistDir, vectorsFileName))
			return nil, apierr.Wrap(apierr.IndexBuildFailed, "cannot persist index", err)
		}
	}
	return idx, nil
}

// Query embeds text once and returns the top-k chunks ranked by cosine
// distance, lowest (most similar) first. k is clamped to [MinTopK, MaxTopK];
// k<=0 uses DefaultTopK.
func (idx *Index) Query(ctx context.Context, text string, k int, embedder Embedder) ([]Result, error) {
	ctx, span := tracing.Start(ctx, "retrieval.query", map[string]any{"k": k})
	defer span.End()

	if k <= 0 {
		k = DefaultTopK
	}
	if k < MinTopK {
		k = MinTopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}
	if len(idx.chunks) == 0 {
		return nil, nil
	}

	vecs, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		wrapped := apierr.Wrap(apierr.RetrievalUnavailable, "embedder unreachable during query", err)
		tracing.RecordError(ctx, wrapped)
		return nil, wrapped
	}
	if len(vecs) == 0 {
		wrapped := apierr.New(apierr.RetrievalUnavailable, "embedder returned no vector for the query")
		tracing.RecordError(ctx, wrapped)
		return nil, wrapped
	}
	query := vecs[0]

	results := make([]Result, len(idx.chunks))
	for i, c := range idx.chunks {
		results[i] = Result{
			Content:     c.Content,
			OrdinalPage: c.OrdinalPage,
			SourceID:    c.SourceID,
			Score:       cosineDistance(query, c.Embedding),
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// cosineDistance returns 1 - cosine_similarity(a, b), clamped to [0, 2].
func cosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 2
	}
	cos := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	d := 1 - cos
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return d
}

const (
	chunksFileName  = "chunks.json"
	vectorsFileName = "vectors.bin"
)

// persist writes chunk metadata to chunks.json and embeddings to a compact
// binary vectors.bin (little-endian float64, chunk-major), so a restart
// loads in O(index size) without recomputing any embedding.
func persist(dir string, chunks []Chunk) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create persist directory: %w", err)
	}

	type meta struct {
		Content     string `json:"content"`
		OrdinalPage int    `json:"ordinal_page"`
		SourceID    string `json:"source_id"`
		Dim         int    `json:"dim"`
	}
	metas := make([]meta, len(chunks))
	for i, c := range chunks {
		metas[i] = meta{Content: c.Content, OrdinalPage: c.OrdinalPage, SourceID: c.SourceID, Dim: len(c.Embedding)}
	}

	metaData, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("encode chunk metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, chunksFileName), metaData, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", chunksFileName, err)
	}

	vf, err := os.Create(filepath.Join(dir, vectorsFileName))
	if err != nil {
		return fmt.Errorf("create %s: %w", vectorsFileName, err)
	}
	defer vf.Close()

	w := bufio.NewWriter(vf)
	for _, c := range chunks {
		for _, v := range c.Embedding {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return fmt.Errorf("write vector data: %w", err)
			}
		}
	}
	return w.Flush()
}

// Load reads a previously persisted index from dir. It returns an error if
// either file is missing or the vector byte length doesn't match the
// declared dimensions, so a corrupt/partial index is never silently served.
func Load(dir string) (*Index, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty persist directory")
	}

	type meta struct {
		Content     string `json:"content"`
		OrdinalPage int    `json:"ordinal_page"`
		SourceID    string `json:"source_id"`
		Dim         int    `json:"dim"`
	}

	metaData, err := os.ReadFile(filepath.Join(dir, chunksFileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", chunksFileName, err)
	}
	var metas []meta
	if err := json.Unmarshal(metaData, &metas); err != nil {
		return nil, fmt.Errorf("decode %s: %w", chunksFileName, err)
	}

	vecData, err := os.ReadFile(filepath.Join(dir, vectorsFileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", vectorsFileName, err)
	}

	chunks := make([]Chunk, len(metas))
	offset := 0
	for i, m := range metas {
		byteLen := m.Dim * 8
		if offset+byteLen > len(vecData) {
			return nil, fmt.Errorf("vectors.bin is shorter than chunks.json declares")
		}
		vec := make([]float64, m.Dim)
		for j := 0; j < m.Dim; j++ {
			bits := binary.LittleEndian.Uint64(vecData[offset : offset+8])
			vec[j] = math.Float64frombits(bits)
			offset += 8
		}
		chunks[i] = Chunk{Content: m.Content, OrdinalPage: m.OrdinalPage, SourceID: m.SourceID, Embedding: vec}
	}
	return &Index{chunks: chunks}, nil
}
