package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/finderskeepers/keeperd/internal/extract"
)

// Normalize canonicalizes extracted text so hashing and chunk offsets are
// stable across re-ingestion: invalid UTF-8 is repaired with U+FFFD, the
// text is NFC-normalized, line endings become \n, control characters other
// than \n and \t are stripped, and runs of three or more newlines collapse
// to a single blank line.
func Normalize(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	newlines := 0
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\r':
			// \r\n and bare \r both become \n.
			if i+1 < len(runes) && runes[i+1] == '\n' {
				continue
			}
			r = '\n'
		case r == '\n', r == '\t':
			// kept
		case r < 0x20 || r == 0x7f:
			continue
		}
		if r == '\n' {
			newlines++
			if newlines > 2 {
				continue
			}
		} else {
			newlines = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeBlocks normalizes every block's text in place and drops blocks
// that end up empty. Heading paths and offsets downstream always see the
// normalized form.
func normalizeBlocks(blocks []extract.Block) []extract.Block {
	out := blocks[:0]
	for _, blk := range blocks {
		blk.Text = strings.TrimSpace(Normalize(blk.Text))
		if blk.Text == "" {
			continue
		}
		out = append(out, blk)
	}
	return out
}

// HashBytes returns the hex-encoded SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex-encoded SHA-256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}
