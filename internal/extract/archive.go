package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

const (
	// maxArchiveEntryBytes caps one decompressed entry.
	maxArchiveEntryBytes = 64 << 20
	// maxArchiveTotalBytes caps the decompressed sum across entries.
	maxArchiveTotalBytes = 256 << 20
)

// archiveExtractor enumerates zip and tar(.gz) entries. Each supported
// entry becomes a child item ingested separately; the archive itself gets
// a manifest document listing its entries. Per-entry failures are recorded
// and do not abort siblings.
type archiveExtractor struct {
	maxDepth int
}

func (*archiveExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag.IsArchive()
}

func (e *archiveExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	var (
		entries   []ChildItem
		rows      []Block
		entryErrs []string
		err       error
	)

	switch item.Format.Qualifier() {
	case "zip":
		entries, rows, entryErrs, err = listZip(item.Data)
	case "tar":
		entries, rows, entryErrs, err = listTar(item.Data, item.Filename)
	default:
		return nil, fmt.Errorf("%w: archive kind %q", knowledge.ErrUnsupportedFormat, item.Format.Qualifier())
	}
	if err != nil {
		return nil, knowledge.Extractionf("reading archive: %v", err)
	}

	title := path.Base(item.Filename)
	if title == "." || title == "" {
		title = "archive"
	}
	doc := &RawDocument{Title: title + " (archive)"}

	doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Level: 1, Text: doc.Title})
	if len(rows) == 0 {
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: "empty archive"})
	}
	doc.Blocks = append(doc.Blocks, rows...)

	doc.meta()["entry_count"] = len(entries)
	if len(entryErrs) > 0 {
		doc.meta()["entry_errors"] = entryErrs
	}

	if item.Depth+1 <= e.maxDepth {
		doc.Children = entries
	} else if len(entries) > 0 {
		doc.meta()["children_skipped"] = len(entries)
	}
	return doc, nil
}

func listZip(data []byte) (entries []ChildItem, rows []Block, entryErrs []string, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, nil, err
	}

	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := cleanEntryName(f.Name)
		if name == "" {
			continue
		}

		if f.UncompressedSize64 > maxArchiveEntryBytes {
			entryErrs = append(entryErrs, name+": entry exceeds size limit")
			continue
		}
		if total += int64(f.UncompressedSize64); total > maxArchiveTotalBytes {
			entryErrs = append(entryErrs, name+": archive decompressed size limit reached")
			break
		}

		content, rerr := readZipEntry(f)
		if rerr != nil {
			entryErrs = append(entryErrs, name+": "+rerr.Error())
			continue
		}

		offset := int64(-1)
		if o, oerr := f.DataOffset(); oerr == nil {
			offset = o
		}
		rows = append(rows, manifestRow(name, int64(len(content)), offset))
		entries = append(entries, ChildItem{Name: name, Data: content})
	}
	return entries, rows, entryErrs, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxArchiveEntryBytes {
		return nil, errors.New("entry exceeds size limit")
	}
	return content, nil
}

func listTar(data []byte, filename string) (entries []ChildItem, rows []Block, entryErrs []string, err error) {
	var src io.Reader = bytes.NewReader(data)
	gzipped := len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
	if gzipped {
		gz, gerr := gzip.NewReader(src)
		if gerr != nil {
			return nil, nil, nil, gerr
		}
		defer gz.Close()
		src = gz
	}

	tr := tar.NewReader(src)
	var total int64
	first := true
	for {
		hdr, herr := tr.Next()
		if errors.Is(herr, io.EOF) {
			break
		}
		if herr != nil {
			if first && gzipped {
				// Plain .gz holding a single file, not a tarball.
				return listPlainGzip(data, filename)
			}
			return nil, nil, nil, herr
		}
		first = false

		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := cleanEntryName(hdr.Name)
		if name == "" {
			continue
		}

		if hdr.Size > maxArchiveEntryBytes {
			entryErrs = append(entryErrs, name+": entry exceeds size limit")
			continue
		}
		if total += hdr.Size; total > maxArchiveTotalBytes {
			entryErrs = append(entryErrs, name+": archive decompressed size limit reached")
			break
		}

		content, rerr := io.ReadAll(io.LimitReader(tr, maxArchiveEntryBytes+1))
		if rerr != nil {
			entryErrs = append(entryErrs, name+": "+rerr.Error())
			continue
		}

		rows = append(rows, manifestRow(name, int64(len(content)), -1))
		entries = append(entries, ChildItem{Name: name, Data: content})
	}
	return entries, rows, entryErrs, nil
}

func listPlainGzip(data []byte, filename string) (entries []ChildItem, rows []Block, entryErrs []string, err error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, nil, err
	}
	defer gz.Close()

	content, err := io.ReadAll(io.LimitReader(gz, maxArchiveEntryBytes+1))
	if err != nil {
		return nil, nil, nil, err
	}
	if len(content) > maxArchiveEntryBytes {
		return nil, nil, nil, errors.New("entry exceeds size limit")
	}

	name := gz.Name
	if name == "" {
		name = strings.TrimSuffix(path.Base(filename), ".gz")
	}
	name = cleanEntryName(name)
	if name == "" || name == "." {
		name = "content"
	}

	rows = append(rows, manifestRow(name, int64(len(content)), -1))
	entries = append(entries, ChildItem{Name: name, Data: content})
	return entries, rows, nil, nil
}

func manifestRow(name string, size, offset int64) Block {
	cells := []string{name, strconv.FormatInt(size, 10)}
	if offset >= 0 {
		cells = append(cells, strconv.FormatInt(offset, 10))
	}
	return Block{
		Kind:  BlockTableRow,
		Cells: cells,
		Text:  strings.Join(cells, " | "),
	}
}

// cleanEntryName normalizes an entry path into a safe label: no leading
// slashes, no traversal segments.
func cleanEntryName(name string) string {
	name = path.Clean(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimPrefix(name, "/")
	if name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return ""
	}
	return name
}
