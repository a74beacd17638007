package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func TestHTMLExtractor(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Operating the Ingest Daemon</title></head>
<body>
<nav><a href="/">home</a><a href="/docs">docs</a></nav>
<article>
<h1>Operating the Ingest Daemon</h1>
<p>The daemon accepts uploads over HTTP and writes every document to the
relational store before any secondary index is touched. This ordering is
what makes repair possible after a partial failure.</p>
<p>Operators should watch the repair queue depth. A steadily growing queue
means one of the secondary stores is refusing writes and needs attention
before the retention window expires.</p>
</article>
<footer>copyright notice</footer>
</body>
</html>`

	e := &htmlExtractor{}
	doc, err := e.Extract(context.Background(), &Item{
		Data:      []byte(page),
		SourceURI: "https://docs.example.com/operations",
		Format:    knowledge.FormatHTML,
	})
	require.NoError(t, err)
	require.NotEmpty(t, doc.Blocks)

	var all strings.Builder
	for _, b := range doc.Blocks {
		all.WriteString(b.Text)
		all.WriteString("\n")
	}
	joined := all.String()

	// Article body must survive extraction; exact block boundaries depend on
	// the readability pass and are not pinned here.
	assert.Contains(t, joined, "accepts uploads over HTTP")
	assert.Contains(t, joined, "repair queue depth")
}

func TestHTMLExtractorNoContent(t *testing.T) {
	e := &htmlExtractor{}
	_, err := e.Extract(context.Background(), &Item{
		Data:   []byte("<html><body></body></html>"),
		Format: knowledge.FormatHTML,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
}

func TestHTMLExtractorBadSourceURI(t *testing.T) {
	e := &htmlExtractor{}
	doc, err := e.Extract(context.Background(), &Item{
		Data:      []byte("<html><body><p>still works</p></body></html>"),
		SourceURI: "://not a uri",
		Format:    knowledge.FormatHTML,
	})
	require.NoError(t, err)
	require.NotEmpty(t, doc.Blocks)
}
