// Package vector is the dedicated vector index, tuned for fast kNN over
// chunk embeddings.
//
// Two backends implement the Store port: Qdrant over gRPC for deployments
// with a running Qdrant, and an embedded chromem-go database for
// single-binary setups. Each project gets its own collection named
// <project>_documents. Points are keyed by chunk UUID so re-upserts after a
// partial failure are idempotent, and every point carries enough payload
// (document id, ordinal, title, doc type, tags) for the query engine to
// attribute a hit without a round trip to the system of record.
//
// Zero vectors (the sentinel for blank chunk text) are never written to the
// index; those chunks stay keyword-searchable through the relational store
// only.
//
// Write failures come back as *knowledge.StoreWriteError with store "vi".
package vector
