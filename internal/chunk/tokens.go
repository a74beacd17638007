package chunk

import (
	"unicode"
	"unicode/utf8"
)

// EstimateTokens approximates the token count of text for sizing decisions.
//
// The base heuristic is bytes/4, which tracks BPE tokenizers within about
// 15% on English prose and code. CJK scripts tokenize close to one token
// per rune, so those runes are counted directly instead of by byte length.
// Exact counts don't matter here; chunk boundaries only need to land in
// the same neighborhood the embedder sees.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	cjk := 0
	otherBytes := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
			continue
		}
		otherBytes += utf8.RuneLen(r)
	}

	n := cjk + (otherBytes+3)/4
	if n == 0 {
		n = 1
	}
	return n
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
