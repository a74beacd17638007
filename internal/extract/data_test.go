package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func extractData(t *testing.T, format knowledge.FormatTag, src string) *RawDocument {
	t.Helper()
	e := &dataExtractor{}
	doc, err := e.Extract(context.Background(), &Item{Data: []byte(src), Format: format})
	require.NoError(t, err)
	return doc
}

func TestDataExtractorJSON(t *testing.T) {
	t.Run("one block per top-level key, source order", func(t *testing.T) {
		doc := extractData(t, knowledge.FormatJSON, `{
			"zebra": {"legs": 4},
			"apple": ["red", "green"],
			"count": 2
		}`)
		require.Len(t, doc.Blocks, 3)
		assert.Equal(t, "zebra.legs: 4", doc.Blocks[0].Text)
		assert.Equal(t, "apple[0]: red\napple[1]: green", doc.Blocks[1].Text)
		assert.Equal(t, "count: 2", doc.Blocks[2].Text)
	})

	t.Run("top-level array", func(t *testing.T) {
		doc := extractData(t, knowledge.FormatJSON, `[{"id": 1}, {"id": 2}]`)
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, "[0].id: 1\n[1].id: 2", doc.Blocks[0].Text)
	})

	t.Run("invalid syntax fails", func(t *testing.T) {
		e := &dataExtractor{}
		_, err := e.Extract(context.Background(), &Item{
			Data:   []byte(`{"trailing": 1,}`),
			Format: knowledge.FormatJSON,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
	})

	t.Run("empty object yields one empty paragraph", func(t *testing.T) {
		doc := extractData(t, knowledge.FormatJSON, `{}`)
		require.Len(t, doc.Blocks, 1)
		assert.Empty(t, doc.Blocks[0].Text)
	})
}

func TestDataExtractorYAML(t *testing.T) {
	doc := extractData(t, knowledge.FormatYAML, `
server:
  host: localhost
  ports:
    - 8080
    - 9090
logging:
  level: info
`)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "server.host: localhost\nserver.ports[0]: 8080\nserver.ports[1]: 9090", doc.Blocks[0].Text)
	assert.Equal(t, "logging.level: info", doc.Blocks[1].Text)
}

func TestDataExtractorYAMLAnchors(t *testing.T) {
	doc := extractData(t, knowledge.FormatYAML, `
base: &defaults
  retries: 3
prod:
  *defaults
`)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "base.retries: 3", doc.Blocks[0].Text)
	assert.Contains(t, doc.Blocks[1].Text, "retries: 3")
}

func TestDataExtractorXML(t *testing.T) {
	t.Run("one block per root child", func(t *testing.T) {
		doc := extractData(t, knowledge.FormatXML, `<catalog>
			<book id="b1"><title>First</title></book>
			<book id="b2"><title>Second</title></book>
		</catalog>`)
		require.Len(t, doc.Blocks, 2)
		assert.Equal(t, "catalog.book.@id: b1\ncatalog.book.title: First", doc.Blocks[0].Text)
		assert.Equal(t, "catalog.book[1].@id: b2\ncatalog.book[1].title: Second", doc.Blocks[1].Text)
	})

	t.Run("unclosed element fails", func(t *testing.T) {
		e := &dataExtractor{}
		_, err := e.Extract(context.Background(), &Item{
			Data:   []byte(`<root><open>`),
			Format: knowledge.FormatXML,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
	})
}
