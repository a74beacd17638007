package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func TestCSVExtractor(t *testing.T) {
	e := &csvExtractor{}

	t.Run("rows become table rows", func(t *testing.T) {
		doc, err := e.Extract(context.Background(), &Item{
			Data:   []byte("name,age\nada,36\ngrace,43\n"),
			Format: knowledge.FormatCSV,
		})
		require.NoError(t, err)
		require.Len(t, doc.Blocks, 3)
		assert.Equal(t, BlockTableRow, doc.Blocks[0].Kind)
		assert.Equal(t, []string{"name", "age"}, doc.Blocks[0].Cells)
		assert.Equal(t, "ada | 36", doc.Blocks[1].Text)
		assert.Equal(t, 3, doc.Metadata["rows"])
		assert.Equal(t, 2, doc.Metadata["columns"])
	})

	t.Run("tab separated detected", func(t *testing.T) {
		doc, err := e.Extract(context.Background(), &Item{
			Data:   []byte("name\tage\nada\t36\n"),
			Format: knowledge.FormatCSV,
		})
		require.NoError(t, err)
		require.Len(t, doc.Blocks, 2)
		assert.Equal(t, []string{"name", "age"}, doc.Blocks[0].Cells)
	})

	t.Run("ragged rows accepted", func(t *testing.T) {
		doc, err := e.Extract(context.Background(), &Item{
			Data:   []byte("a,b,c\n1,2\n"),
			Format: knowledge.FormatCSV,
		})
		require.NoError(t, err)
		require.Len(t, doc.Blocks, 2)
		assert.Equal(t, []string{"1", "2"}, doc.Blocks[1].Cells)
	})

	t.Run("quoted fields", func(t *testing.T) {
		doc, err := e.Extract(context.Background(), &Item{
			Data:   []byte("quote\n\"hello, world\"\n"),
			Format: knowledge.FormatCSV,
		})
		require.NoError(t, err)
		require.Len(t, doc.Blocks, 2)
		assert.Equal(t, "hello, world", doc.Blocks[1].Cells[0])
	})

	t.Run("empty input", func(t *testing.T) {
		doc, err := e.Extract(context.Background(), &Item{Format: knowledge.FormatCSV})
		require.NoError(t, err)
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, BlockParagraph, doc.Blocks[0].Kind)
	})
}
