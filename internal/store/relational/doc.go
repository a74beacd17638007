// Package relational is the Postgres adapter, the system of record.
//
// It owns documents, chunks, embeddings (via pgvector), sessions, actions,
// conversation messages, and code snippets. Document writes are
// transactional: a document lands with all of its chunks and embeddings or
// not at all. Deletes cascade. Keyword search runs on a GIN FTS index over
// chunk text; vector search runs on a cosine ANN index over embeddings.
//
// Write failures come back as *knowledge.StoreWriteError with store "rv"
// so the orchestrator can tell which leg of persistence fell over.
package relational
