package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestArchiveExtractorZip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"docs/readme.md": "# hello",
		"src/main.go":    "package main",
	})
	e := &archiveExtractor{maxDepth: 3}

	doc, err := e.Extract(context.Background(), &Item{
		Data:     data,
		Filename: "bundle.zip",
		Format:   knowledge.Archive("zip"),
	})
	require.NoError(t, err)

	assert.Equal(t, "bundle.zip (archive)", doc.Title)
	assert.Equal(t, 2, doc.Metadata["entry_count"])
	assert.NotContains(t, doc.Metadata, "entry_errors")

	require.Len(t, doc.Children, 2)
	names := []string{doc.Children[0].Name, doc.Children[1].Name}
	assert.Contains(t, names, "docs/readme.md")
	assert.Contains(t, names, "src/main.go")
	for _, child := range doc.Children {
		if child.Name == "docs/readme.md" {
			assert.Equal(t, "# hello", string(child.Data))
		}
	}

	// Manifest: heading plus one table row per entry with name, size, offset.
	require.GreaterOrEqual(t, len(doc.Blocks), 3)
	assert.Equal(t, BlockHeading, doc.Blocks[0].Kind)
	for _, b := range doc.Blocks[1:] {
		assert.Equal(t, BlockTableRow, b.Kind)
		assert.Len(t, b.Cells, 3)
	}
}

func TestArchiveExtractorTarGz(t *testing.T) {
	data := buildTarGz(t, map[string]string{
		"notes/a.txt": "alpha",
		"notes/b.txt": "beta",
	})
	e := &archiveExtractor{maxDepth: 3}

	doc, err := e.Extract(context.Background(), &Item{
		Data:     data,
		Filename: "notes.tar.gz",
		Format:   knowledge.Archive("tar"),
	})
	require.NoError(t, err)

	require.Len(t, doc.Children, 2)
	assert.Equal(t, 2, doc.Metadata["entry_count"])
}

func TestArchiveExtractorSkipsNonRegularEntries(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dir/link", Typeflag: tar.TypeSymlink, Linkname: "a.txt", Mode: 0o777,
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dir/real.txt", Typeflag: tar.TypeReg, Size: 4, Mode: 0o644,
	}))
	_, err := tw.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	e := &archiveExtractor{maxDepth: 3}
	doc, err := e.Extract(context.Background(), &Item{
		Data:     buf.Bytes(),
		Filename: "x.tar",
		Format:   knowledge.Archive("tar"),
	})
	require.NoError(t, err)

	require.Len(t, doc.Children, 1)
	assert.Equal(t, "dir/real.txt", doc.Children[0].Name)
	assert.Equal(t, "data", string(doc.Children[0].Data))
}

func TestArchiveExtractorPlainGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("single file body"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	e := &archiveExtractor{maxDepth: 3}
	doc, err := e.Extract(context.Background(), &Item{
		Data:     buf.Bytes(),
		Filename: "notes.txt.gz",
		Format:   knowledge.Archive("tar"),
	})
	require.NoError(t, err)

	require.Len(t, doc.Children, 1)
	assert.Equal(t, "notes.txt", doc.Children[0].Name)
	assert.Equal(t, "single file body", string(doc.Children[0].Data))
}

func TestArchiveExtractorDepthLimit(t *testing.T) {
	data := buildZip(t, map[string]string{"inner.txt": "deep"})
	e := &archiveExtractor{maxDepth: 2}

	doc, err := e.Extract(context.Background(), &Item{
		Data:     data,
		Filename: "nested.zip",
		Format:   knowledge.Archive("zip"),
		Depth:    2,
	})
	require.NoError(t, err)

	// The manifest still lists entries, but none are ingested further.
	assert.Empty(t, doc.Children)
	assert.Equal(t, 1, doc.Metadata["children_skipped"])
	assert.Equal(t, 1, doc.Metadata["entry_count"])
}

func TestArchiveExtractorEmpty(t *testing.T) {
	data := buildZip(t, map[string]string{})
	e := &archiveExtractor{maxDepth: 3}

	doc, err := e.Extract(context.Background(), &Item{
		Data:     data,
		Filename: "empty.zip",
		Format:   knowledge.Archive("zip"),
	})
	require.NoError(t, err)
	assert.Empty(t, doc.Children)
	assert.Equal(t, 0, doc.Metadata["entry_count"])
}

func TestArchiveExtractorCorrupt(t *testing.T) {
	e := &archiveExtractor{maxDepth: 3}
	_, err := e.Extract(context.Background(), &Item{
		Data:     []byte("definitely not a zip"),
		Filename: "x.zip",
		Format:   knowledge.Archive("zip"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
}

func TestCleanEntryName(t *testing.T) {
	cases := map[string]string{
		"docs/a.md":       "docs/a.md",
		"/abs/path.txt":   "abs/path.txt",
		"../escape.txt":   "",
		"a/../../esc.txt": "",
		`win\style\p.txt`: "win/style/p.txt",
		".":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanEntryName(in), "input %q", in)
	}
}
