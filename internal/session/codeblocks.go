package session

import "strings"

// fence is one fenced code block lifted from message content.
type fence struct {
	Language string
	Code     string
}

// extractFences pulls ```lang ...``` blocks out of markdown-ish content.
// The info string's first word is the language ("text" when absent); an
// unterminated fence is dropped rather than swallowing the rest of the
// message. Indented fences (up to three spaces) count; fences inside
// fences do not nest.
func extractFences(content string) []fence {
	var fences []fence
	var code []string
	lang := ""
	open := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if len(line)-len(trimmed) > 3 || !strings.HasPrefix(trimmed, "```") {
			if open {
				code = append(code, line)
			}
			continue
		}
		if !open {
			open = true
			code = code[:0]
			lang = strings.ToLower(firstWord(strings.TrimPrefix(trimmed, "```")))
			if lang == "" {
				lang = "text"
			}
			continue
		}
		fences = append(fences, fence{Language: lang, Code: strings.Join(code, "\n")})
		open = false
	}
	return fences
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
