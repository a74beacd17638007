// Package detect classifies input blobs into the closed FormatTag set.
//
// Detection is tiered: content sniffing (magic bytes and MIME structure)
// decides first; a generic text sniff is refined by the filename extension;
// unrecognized content falls back to a UTF-8 printability heuristic. Ties
// resolve in favor of the earlier tier. Content that no tier can place is
// tagged binary-unknown, which the ingestion pipeline rejects.
package detect
