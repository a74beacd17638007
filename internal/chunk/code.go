package chunk

import "strings"

// codeLine is one source line plus the scanner state at its first rune.
type codeLine struct {
	start int // rune offset of the first rune
	end   int // rune offset past the last content rune, newline excluded
	blank bool

	// State at line start. depth counts unclosed braces; inString is true
	// inside a multi-line string literal; inComment inside a block comment.
	depth     int
	inString  bool
	inComment bool
}

// splitCode cuts an oversized code block at top-level declaration
// boundaries: lines at brace depth zero that follow a blank line. Groups
// still over the ceiling are cut at any top-level line, and as the last
// resort windowed by lines, never inside a string literal.
//
// The scanner is language-agnostic: braces, ', ", and ` literals, // and #
// line comments, and /* */ block comments cover the supported language
// set well enough for boundary placement. A misread line costs a worse
// boundary, nothing else.
func splitCode(text string, targetTokens, maxTokens, overlapTokens int) []span {
	runes := []rune(text)
	lines := scanLines(runes)
	if len(lines) == 0 {
		return []span{{text: text, start: 0, end: len(runes)}}
	}

	spanOf := func(a, b int) span {
		s, e := lines[a].start, lines[b].end
		return span{text: string(runes[s:e]), start: s, end: e}
	}
	rangeTokens := func(r [2]int) int {
		return EstimateTokens(string(runes[lines[r[0]].start:lines[r[1]].end]))
	}

	// Declaration groups: blank-line-separated runs starting at depth zero.
	var groups [][2]int
	groupStart := 0
	for i := 1; i < len(lines); i++ {
		l := lines[i]
		if lines[i-1].blank && l.depth == 0 && !l.inString && !l.inComment && !l.blank {
			groups = append(groups, [2]int{groupStart, i - 1})
			groupStart = i
		}
	}
	groups = append(groups, [2]int{groupStart, len(lines) - 1})

	// Expand any group over the ceiling before packing.
	var ranges [][2]int
	for _, g := range groups {
		if rangeTokens(g) <= maxTokens {
			ranges = append(ranges, g)
			continue
		}
		ranges = append(ranges, splitOversizeGroup(lines, g, rangeTokens, targetTokens, maxTokens, overlapTokens)...)
	}

	// Greedy pack toward the target.
	var out []span
	curStart, curEnd, curTokens := -1, 0, 0
	for _, r := range ranges {
		t := rangeTokens(r)
		if curStart >= 0 && curTokens+t > targetTokens {
			out = append(out, spanOf(curStart, curEnd))
			curStart, curTokens = -1, 0
		}
		if curStart < 0 {
			curStart = r[0]
		}
		curEnd = r[1]
		curTokens += t
	}
	if curStart >= 0 {
		out = append(out, spanOf(curStart, curEnd))
	}
	return out
}

// splitOversizeGroup cuts a too-large declaration group at interior
// top-level lines, windowing whatever still exceeds the ceiling.
func splitOversizeGroup(lines []codeLine, g [2]int, rangeTokens func([2]int) int, targetTokens, maxTokens, overlapTokens int) [][2]int {
	var cuts []int
	for i := g[0] + 1; i <= g[1]; i++ {
		l := lines[i]
		if l.depth == 0 && !l.inString && !l.inComment && !l.blank {
			cuts = append(cuts, i)
		}
	}

	var subs [][2]int
	prev := g[0]
	for _, c := range cuts {
		if c > prev {
			subs = append(subs, [2]int{prev, c - 1})
			prev = c
		}
	}
	subs = append(subs, [2]int{prev, g[1]})

	var out [][2]int
	for _, s := range subs {
		if rangeTokens(s) <= maxTokens {
			out = append(out, s)
			continue
		}
		out = append(out, windowLines(lines, s, rangeTokens, targetTokens, overlapTokens)...)
	}
	return out
}

// windowLines emits fixed line windows of roughly targetTokens with line
// overlap between them. Windows extend past the budget rather than cut a
// multi-line string literal.
func windowLines(lines []codeLine, s [2]int, rangeTokens func([2]int) int, targetTokens, overlapTokens int) [][2]int {
	lineTokens := func(i int) int { return rangeTokens([2]int{i, i}) }

	var out [][2]int
	start := s[0]
	for start <= s[1] {
		end := start
		tokens := 0
		for end <= s[1] {
			t := lineTokens(end)
			if end > start && tokens+t > targetTokens {
				break
			}
			tokens += t
			end++
		}
		// Never end a window where the next line continues a string.
		for end <= s[1] && lines[end].inString {
			end++
		}

		out = append(out, [2]int{start, end - 1})
		if end > s[1] {
			break
		}

		next := end
		overlap := 0
		for next > start+1 {
			t := lineTokens(next - 1)
			if overlap+t > overlapTokens {
				break
			}
			overlap += t
			next--
		}
		for next < end && lines[next].inString {
			next++
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// scanLines splits runes into lines and records the scanner state at each
// line start. Single-quote and double-quote literals reset at end of line;
// backtick literals and block comments carry across lines.
func scanLines(runes []rune) []codeLine {
	var lines []codeLine

	depth := 0
	inComment := false
	var quote rune // 0, '\'', '"', or '`'

	// Snapshot of the state at the current line's first rune.
	lineStart := 0
	startDepth, startComment := 0, false
	var startQuote rune

	flush := func(end int) {
		lines = append(lines, codeLine{
			start:     lineStart,
			end:       end,
			blank:     strings.TrimSpace(string(runes[lineStart:end])) == "",
			depth:     startDepth,
			inString:  startQuote != 0,
			inComment: startComment,
		})
	}

	inLineComment := false
	escaped := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\n' {
			flush(i)
			lineStart = i + 1
			inLineComment = false
			escaped = false
			if quote == '\'' || quote == '"' {
				quote = 0
			}
			startDepth, startComment, startQuote = depth, inComment, quote
			continue
		}

		if inLineComment {
			continue
		}
		if inComment {
			if r == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				inComment = false
				i++
			}
			continue
		}
		if quote != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch {
			case r == '\\' && quote != '`':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}

		switch r {
		case '\'', '"', '`':
			quote = r
		case '#':
			inLineComment = true
		case '/':
			if i+1 < len(runes) {
				switch runes[i+1] {
				case '/':
					inLineComment = true
					i++
				case '*':
					inComment = true
					i++
				}
			}
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	flush(len(runes))
	return lines
}
