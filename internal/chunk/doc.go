// Package chunk cuts extracted documents into retrieval-sized pieces.
//
// Splitting is structure-aware: heading sections first, then paragraphs,
// then sentences, then a fixed window with overlap as the last resort.
// Code is aligned to top-level declaration boundaries so a chunk never
// starts mid-function, and indivisible units (table rows, transcript
// segments) are kept whole. Chunk ids are deterministic UUIDv5 values in
// the document's namespace, so re-chunking identical content is idempotent
// all the way into the vector index.
package chunk
