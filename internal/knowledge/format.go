package knowledge

import "strings"

// FormatTag is the closed set of formats the pipeline understands.
// Values with a colon carry a qualifier: "code:<lang>", "office:<kind>",
// "archive:<kind>".
type FormatTag string

const (
	FormatText     FormatTag = "text"
	FormatMarkdown FormatTag = "markdown"
	FormatJSON     FormatTag = "json"
	FormatXML      FormatTag = "xml"
	FormatYAML     FormatTag = "yaml"
	FormatCSV      FormatTag = "csv"
	FormatPDF      FormatTag = "pdf"
	FormatHTML     FormatTag = "html"
	FormatImage    FormatTag = "image"
	FormatAudio    FormatTag = "audio"
	FormatVideo    FormatTag = "video"

	// FormatBinaryUnknown is the rejection tag: sniffing found no usable
	// format and the bytes are not plausible text.
	FormatBinaryUnknown FormatTag = "binary-unknown"
)

// Code returns the tag for a source file of the given language.
func Code(lang string) FormatTag { return FormatTag("code:" + lang) }

// Office returns the tag for an OOXML document kind (docx, xlsx, pptx).
func Office(kind string) FormatTag { return FormatTag("office:" + kind) }

// Archive returns the tag for an archive kind (zip, tar).
func Archive(kind string) FormatTag { return FormatTag("archive:" + kind) }

// Family returns the tag's family: the part before the colon, or the tag
// itself for unqualified tags.
func (f FormatTag) Family() string {
	if i := strings.IndexByte(string(f), ':'); i >= 0 {
		return string(f)[:i]
	}
	return string(f)
}

// Qualifier returns the part after the colon, or "" for unqualified tags.
func (f FormatTag) Qualifier() string {
	if i := strings.IndexByte(string(f), ':'); i >= 0 {
		return string(f)[i+1:]
	}
	return ""
}

// IsCode reports whether the tag is a code:<lang> tag.
func (f FormatTag) IsCode() bool { return f.Family() == "code" }

// IsArchive reports whether the tag is an archive:<kind> tag.
func (f FormatTag) IsArchive() bool { return f.Family() == "archive" }

// codeLanguages is the closed set of recognized source languages.
var codeLanguages = map[string]bool{
	"go": true, "python": true, "javascript": true, "typescript": true,
	"java": true, "c": true, "cpp": true, "csharp": true, "rust": true,
	"ruby": true, "php": true, "shell": true, "sql": true, "kotlin": true,
	"swift": true, "scala": true, "r": true, "lua": true, "perl": true,
	"haskell": true, "elixir": true, "dart": true, "zig": true,
}

// KnownCodeLanguage reports whether lang is in the closed language set.
func KnownCodeLanguage(lang string) bool { return codeLanguages[lang] }
