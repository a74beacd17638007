package chunk

import (
	"unicode"
	"unicode/utf8"
)

// span is a slice of some larger text, with rune offsets into it.
type span struct {
	text  string
	start int
	end   int
}

// splitSentences cuts text after sentence-ending punctuation followed by
// whitespace. Closing quotes and brackets stay with their sentence. This is
// a heuristic: abbreviations may over-split, which only moves a chunk
// boundary, never loses text.
func splitSentences(text string) []span {
	runes := []rune(text)
	var spans []span

	start := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			i++
			continue
		}
		j := i + 1
		for j < len(runes) && isClosing(runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i++
			continue
		}
		spans = append(spans, span{text: string(runes[start:j]), start: start, end: j})
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start, i = j, j
	}

	if start < len(runes) {
		spans = append(spans, span{text: string(runes[start:]), start: start, end: len(runes)})
	}
	if len(spans) == 0 {
		spans = []span{{text: text, start: 0, end: len(runes)}}
	}
	return spans
}

func isClosing(r rune) bool {
	switch r {
	case ')', ']', '}', '"', '\'', '»', '”', '’':
		return true
	}
	return false
}

// windowWords is the last-resort splitter: fixed windows of roughly
// maxTokens, cut at word boundaries, with overlapTokens repeated between
// consecutive windows. A single word over the budget (minified bundles,
// base64 blobs) is sliced by runes.
func windowWords(text string, maxTokens, overlapTokens int) []span {
	runes := []rune(text)
	words := splitWords(runes)
	if len(words) == 0 {
		return []span{{text: text, start: 0, end: len(runes)}}
	}

	var pieces []span
	for _, w := range words {
		if EstimateTokens(w.text) > maxTokens {
			pieces = append(pieces, hardCut(runes, w, maxTokens)...)
			continue
		}
		pieces = append(pieces, w)
	}

	var out []span
	start := 0
	for start < len(pieces) {
		end := start
		tokens := 0
		for end < len(pieces) {
			t := EstimateTokens(pieces[end].text)
			if end > start && tokens+t > maxTokens {
				break
			}
			tokens += t
			end++
		}

		out = append(out, span{
			text:  string(runes[pieces[start].start:pieces[end-1].end]),
			start: pieces[start].start,
			end:   pieces[end-1].end,
		})
		if end >= len(pieces) {
			break
		}

		// Walk back over trailing pieces worth roughly the overlap budget,
		// always keeping forward progress.
		next := end
		overlap := 0
		for next > start+1 {
			t := EstimateTokens(pieces[next-1].text)
			if overlap+t > overlapTokens {
				break
			}
			overlap += t
			next--
		}
		start = next
	}
	return out
}

// packSpans merges consecutive spans into contiguous runs of roughly
// targetTokens. Run text is the verbatim source substring covering the
// merged spans, so whatever separated the sentences is preserved.
func packSpans(runes []rune, spans []span, targetTokens int) []span {
	var out []span
	i := 0
	for i < len(spans) {
		j := i
		tokens := 0
		for j < len(spans) {
			t := EstimateTokens(spans[j].text)
			if j > i && tokens+t > targetTokens {
				break
			}
			tokens += t
			j++
		}
		out = append(out, span{
			text:  string(runes[spans[i].start:spans[j-1].end]),
			start: spans[i].start,
			end:   spans[j-1].end,
		})
		i = j
	}
	return out
}

// splitWords returns the non-whitespace runs of runes.
func splitWords(runes []rune) []span {
	var words []span
	i := 0
	for i < len(runes) {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		if i >= len(runes) {
			break
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		words = append(words, span{text: string(runes[start:i]), start: start, end: i})
	}
	return words
}

// hardCut slices one oversized word into pieces at or under maxTokens.
func hardCut(runes []rune, w span, maxTokens int) []span {
	var out []span
	start := w.start
	bytes := 0
	cjk := 0
	for i := w.start; i < w.end; i++ {
		if isCJK(runes[i]) {
			cjk++
		} else {
			bytes += utf8.RuneLen(runes[i])
		}
		if cjk+(bytes+3)/4 >= maxTokens {
			out = append(out, span{text: string(runes[start : i+1]), start: start, end: i + 1})
			start = i + 1
			bytes, cjk = 0, 0
		}
	}
	if start < w.end {
		out = append(out, span{text: string(runes[start:w.end]), start: start, end: w.end})
	}
	return out
}
