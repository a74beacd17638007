package extract

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// htmlExtractor strips boilerplate with readability, converts the article
// to markdown, and reuses the markdown block parser.
type htmlExtractor struct{}

func (*htmlExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatHTML
}

func (*htmlExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	pageURL, _ := url.Parse(item.SourceURI)
	if pageURL == nil {
		pageURL = &url.URL{}
	}

	content := string(item.Data)
	title := ""

	article, err := readability.FromReader(bytes.NewReader(item.Data), pageURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
		title = strings.TrimSpace(article.Title)
	}
	// Readability failure is not fatal: fall through with the full page.

	markdown, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return nil, knowledge.Extractionf("html conversion: %v", err)
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, knowledge.Extractionf("no readable content")
	}

	doc := parseMarkdown(markdown)
	if title != "" {
		doc.Title = title
	}
	return doc, nil
}
