package detect

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// Tier names which detection stage produced the final tag.
type Tier string

const (
	// TierMagic means content sniffing decided.
	TierMagic Tier = "magic"
	// TierExtension means the filename extension decided or refined.
	TierExtension Tier = "extension"
	// TierHeuristic means the UTF-8 printability fallback decided.
	TierHeuristic Tier = "heuristic"
)

// Result is the outcome of format detection.
type Result struct {
	Tag  knowledge.FormatTag
	MIME string
	Tier Tier
}

// sniffLen bounds how much content the sniffer inspects.
const sniffLen = 8 * 1024

// printableThreshold is the minimum printable-rune ratio for the text
// fallback.
const printableThreshold = 0.95

// Detect classifies data, using filename as a hint. filename may be empty.
func Detect(data []byte, filename string) Result {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	mtype := mimetype.Detect(head)
	mime := baseMIME(mtype.String())

	if tag, ok := tagForMIME(mtype); ok {
		if tag != knowledge.FormatText {
			return Result{Tag: tag, MIME: mime, Tier: TierMagic}
		}
		// Generic text sniff: the extension picks the text subfamily
		// (markdown, code, yaml, ...).
		if ext, ok := textTagForExtension(filename); ok {
			return Result{Tag: ext, MIME: mime, Tier: TierExtension}
		}
		return Result{Tag: knowledge.FormatText, MIME: mime, Tier: TierMagic}
	}

	// Content sniff came up empty; any known extension decides.
	if ext, ok := textTagForExtension(filename); ok {
		return Result{Tag: ext, MIME: mime, Tier: TierExtension}
	}
	if ext, ok := binaryTagForExtension(filename); ok {
		return Result{Tag: ext, MIME: mime, Tier: TierExtension}
	}

	if plausibleText(head) {
		return Result{Tag: knowledge.FormatText, MIME: mime, Tier: TierHeuristic}
	}
	return Result{Tag: knowledge.FormatBinaryUnknown, MIME: mime, Tier: TierHeuristic}
}

// tagForMIME maps a sniffed MIME type onto the FormatTag set. Returns
// (FormatText, true) for generic text so the caller can refine it, and
// (_, false) when the content is unrecognized.
func tagForMIME(m *mimetype.MIME) (knowledge.FormatTag, bool) {
	switch {
	case m.Is("application/pdf"):
		return knowledge.FormatPDF, true
	case m.Is("text/html"):
		return knowledge.FormatHTML, true
	case m.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return knowledge.Office("docx"), true
	case m.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return knowledge.Office("xlsx"), true
	case m.Is("application/vnd.openxmlformats-officedocument.presentationml.presentation"):
		return knowledge.Office("pptx"), true
	case m.Is("application/zip"):
		return knowledge.Archive("zip"), true
	// Gzip is treated as tar: .tar.gz dominates in practice and the
	// archive extractor unwraps plain .gz members the same way.
	case m.Is("application/x-tar"), m.Is("application/gzip"):
		return knowledge.Archive("tar"), true
	case m.Is("application/json"), m.Is("application/x-ndjson"):
		return knowledge.FormatJSON, true
	case m.Is("text/csv"), m.Is("text/tab-separated-values"):
		return knowledge.FormatCSV, true
	// SVG sniffs under the XML tree, so check it before XML.
	case m.Is("image/svg+xml"):
		return knowledge.FormatImage, true
	case m.Is("text/xml"), m.Is("application/xml"):
		return knowledge.FormatXML, true
	case m.Is("text/markdown"):
		return knowledge.FormatMarkdown, true
	case m.Is("text/yaml"), m.Is("application/x-yaml"):
		return knowledge.FormatYAML, true
	}

	mime := baseMIME(m.String())
	switch {
	case strings.HasPrefix(mime, "image/"):
		return knowledge.FormatImage, true
	case strings.HasPrefix(mime, "audio/"):
		return knowledge.FormatAudio, true
	case strings.HasPrefix(mime, "video/"):
		return knowledge.FormatVideo, true
	}

	// Anything descending from text/plain is generic text.
	for p := m; p != nil; p = p.Parent() {
		if baseMIME(p.String()) == "text/plain" {
			return knowledge.FormatText, true
		}
	}
	return "", false
}

// textTagForExtension maps extensions of text-family formats. A generic
// text sniff may only be refined into another text-family tag; a filename
// like notes.png never turns text bytes into an image.
func textTagForExtension(filename string) (knowledge.FormatTag, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "", false
	}
	if lang, ok := codeExts[ext]; ok {
		return knowledge.Code(lang), true
	}
	if tag, ok := textExts[ext]; ok {
		return tag, true
	}
	return "", false
}

// binaryTagForExtension maps extensions of binary formats. Consulted only
// when content sniffing recognized nothing.
func binaryTagForExtension(filename string) (knowledge.FormatTag, bool) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar.gz") {
		return knowledge.Archive("tar"), true
	}
	tag, ok := binaryExts[filepath.Ext(lower)]
	return tag, ok
}

var textExts = map[string]knowledge.FormatTag{
	".txt":      knowledge.FormatText,
	".text":     knowledge.FormatText,
	".log":      knowledge.FormatText,
	".md":       knowledge.FormatMarkdown,
	".markdown": knowledge.FormatMarkdown,
	".mdown":    knowledge.FormatMarkdown,
	".json":     knowledge.FormatJSON,
	".ndjson":   knowledge.FormatJSON,
	".jsonl":    knowledge.FormatJSON,
	".xml":      knowledge.FormatXML,
	".yaml":     knowledge.FormatYAML,
	".yml":      knowledge.FormatYAML,
	".csv":      knowledge.FormatCSV,
	".tsv":      knowledge.FormatCSV,
	".html":     knowledge.FormatHTML,
	".htm":      knowledge.FormatHTML,
}

var codeExts = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".r":     "r",
	".lua":   "lua",
	".pl":    "perl",
	".hs":    "haskell",
	".ex":    "elixir",
	".exs":   "elixir",
	".dart":  "dart",
	".zig":   "zig",
}

var binaryExts = map[string]knowledge.FormatTag{
	".pdf":  knowledge.FormatPDF,
	".docx": knowledge.Office("docx"),
	".xlsx": knowledge.Office("xlsx"),
	".pptx": knowledge.Office("pptx"),
	".zip":  knowledge.Archive("zip"),
	".tar":  knowledge.Archive("tar"),
	".tgz":  knowledge.Archive("tar"),
	".gz":   knowledge.Archive("tar"),
	".png":  knowledge.FormatImage,
	".jpg":  knowledge.FormatImage,
	".jpeg": knowledge.FormatImage,
	".gif":  knowledge.FormatImage,
	".webp": knowledge.FormatImage,
	".tiff": knowledge.FormatImage,
	".bmp":  knowledge.FormatImage,
	".mp3":  knowledge.FormatAudio,
	".wav":  knowledge.FormatAudio,
	".flac": knowledge.FormatAudio,
	".ogg":  knowledge.FormatAudio,
	".m4a":  knowledge.FormatAudio,
	".mp4":  knowledge.FormatVideo,
	".mov":  knowledge.FormatVideo,
	".webm": knowledge.FormatVideo,
	".mkv":  knowledge.FormatVideo,
}

// plausibleText reports whether data is valid UTF-8 with at least 95%
// printable runes. Empty input counts as text; the chunker handles it.
func plausibleText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if !utf8.Valid(data) {
		return false
	}

	var total, printable int
	for _, r := range string(data) {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable)/float64(total) >= printableThreshold
}

// baseMIME strips parameters like "; charset=utf-8".
func baseMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		return strings.TrimSpace(mime[:i])
	}
	return mime
}
