package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// dataExtractor renders structured data (json, yaml, xml) as flattened
// dotted-path lines, one block per top-level section, preserving source
// order. Invalid syntax fails the whole item.
type dataExtractor struct{}

func (*dataExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatJSON || tag == knowledge.FormatYAML || tag == knowledge.FormatXML
}

func (*dataExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	switch item.Format {
	case knowledge.FormatJSON:
		// YAML is a JSON superset and its node API preserves key order,
		// but JSON inputs must still satisfy strict JSON syntax.
		if !json.Valid(bytes.TrimSpace(item.Data)) {
			return nil, knowledge.Extractionf("invalid json syntax")
		}
		return flattenYAML(item.Data, "json")
	case knowledge.FormatYAML:
		return flattenYAML(item.Data, "yaml")
	case knowledge.FormatXML:
		return flattenXML(item.Data)
	}
	return nil, fmt.Errorf("%w: dataExtractor got %q", knowledge.ErrUnsupportedFormat, item.Format)
}

const maxFlattenDepth = 100

func flattenYAML(data []byte, kind string) (*RawDocument, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, knowledge.Extractionf("invalid %s: %v", kind, err)
	}

	doc := &RawDocument{}
	if len(root.Content) == 0 {
		doc.Blocks = []Block{{Kind: BlockParagraph}}
		return doc, nil
	}

	top := root.Content[0]
	if top.Kind == yaml.MappingNode {
		// One block per top-level key.
		for i := 0; i+1 < len(top.Content); i += 2 {
			var lines []string
			flattenNode(top.Content[i+1], top.Content[i].Value, &lines, 0)
			doc.Blocks = append(doc.Blocks, Block{
				Kind: BlockParagraph,
				Text: strings.Join(lines, "\n"),
			})
		}
	} else {
		var lines []string
		flattenNode(top, "", &lines, 0)
		doc.Blocks = append(doc.Blocks, Block{
			Kind: BlockParagraph,
			Text: strings.Join(lines, "\n"),
		})
	}

	if len(doc.Blocks) == 0 {
		doc.Blocks = []Block{{Kind: BlockParagraph}}
	}
	return doc, nil
}

func flattenNode(n *yaml.Node, path string, out *[]string, depth int) {
	if depth > maxFlattenDepth {
		return
	}
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			flattenNode(n.Content[i+1], joinPath(path, n.Content[i].Value), out, depth+1)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			flattenNode(c, fmt.Sprintf("%s[%d]", path, i), out, depth+1)
		}
	case yaml.ScalarNode:
		if path == "" {
			*out = append(*out, n.Value)
			return
		}
		*out = append(*out, path+": "+n.Value)
	case yaml.AliasNode:
		if n.Alias != nil {
			flattenNode(n.Alias, path, out, depth+1)
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func flattenXML(data []byte) (*RawDocument, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	type frame struct {
		path string
		seen map[string]int
	}
	var stack []frame

	// One group of lines per direct child of the document root.
	var groups [][]string
	appendLine := func(line string) {
		if len(groups) == 0 {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], line)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, knowledge.Extractionf("invalid xml: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			path := name
			if len(stack) > 0 {
				parent := &stack[len(stack)-1]
				n := parent.seen[name]
				parent.seen[name]++
				if n > 0 {
					path = fmt.Sprintf("%s.%s[%d]", parent.path, name, n)
				} else {
					path = parent.path + "." + name
				}
			}
			if len(stack) == 1 {
				// Entering a new top-level section.
				groups = append(groups, nil)
			}
			for _, attr := range t.Attr {
				appendLine(path + ".@" + attr.Name.Local + ": " + attr.Value)
			}
			stack = append(stack, frame{path: path, seen: map[string]int{}})
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text != "" && len(stack) > 0 {
				appendLine(stack[len(stack)-1].path + ": " + text)
			}
		}
	}

	if len(stack) != 0 {
		return nil, knowledge.Extractionf("invalid xml: unclosed elements")
	}

	doc := &RawDocument{}
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{
			Kind: BlockParagraph,
			Text: strings.Join(group, "\n"),
		})
	}
	if len(doc.Blocks) == 0 {
		doc.Blocks = []Block{{Kind: BlockParagraph}}
	}
	return doc, nil
}
