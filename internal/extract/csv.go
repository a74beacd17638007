package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// csvExtractor emits the header and one table-row block per record.
type csvExtractor struct{}

func (*csvExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatCSV
}

func (*csvExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	reader := csv.NewReader(bytes.NewReader(item.Data))
	reader.FieldsPerRecord = -1
	if looksTabSeparated(item.Data) {
		reader.Comma = '\t'
	}

	doc := &RawDocument{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, knowledge.Extractionf("invalid csv: %v", err)
		}
		doc.Blocks = append(doc.Blocks, Block{
			Kind:  BlockTableRow,
			Cells: record,
			Text:  strings.Join(record, " | "),
		})
	}

	if len(doc.Blocks) == 0 {
		doc.Blocks = []Block{{Kind: BlockParagraph}}
		return doc, nil
	}
	doc.meta()["rows"] = len(doc.Blocks)
	doc.meta()["columns"] = len(doc.Blocks[0].Cells)
	return doc, nil
}

// looksTabSeparated checks the first line for tabs without commas.
func looksTabSeparated(data []byte) bool {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	return bytes.ContainsRune(line, '\t') && !bytes.ContainsRune(line, ',')
}
