package docloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForPath_SelectsByExtension(t *testing.T) {
	assert.IsType(t, PDFLoader{}, ForPath("/tmp/guide.pdf"))
	assert.IsType(t, PDFLoader{}, ForPath("/tmp/guide.PDF"))
	assert.IsType(t, PlainTextLoader{}, ForPath("/tmp/guide.txt"))
	assert.IsType(t, PlainTextLoader{}, ForPath("/tmp/guide"))
}

func TestPlainTextLoader_SplitsOnFormFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("page one\f page two\f\f"), 0o644))

	pages, err := PlainTextLoader{}.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Ordinal)
	assert.Equal(t, 2, pages[1].Ordinal)
	assert.Contains(t, pages[0].Text, "page one")
	assert.Contains(t, pages[1].Text, "page two")
}

func TestPlainTextLoader_NoFormFeedIsOnePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("just one page of text"), 0o644))

	pages, err := PlainTextLoader{}.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Ordinal)
}

func TestPlainTextLoader_MissingFileIsError(t *testing.T) {
	_, err := PlainTextLoader{}.Load(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestPlainTextLoader_CanceledContextIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PlainTextLoader{}.Load(ctx, "/dev/null")
	assert.Error(t, err)
}

func TestPDFLoader_MissingFileIsError(t *testing.T) {
	_, err := PDFLoader{}.Load(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
