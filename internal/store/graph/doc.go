// Package graph is the knowledge graph adapter, holding entities and
// relationships for graph-augmented retrieval.
//
// Nodes are (kind, id) unique: Project, Document, Session, File, Tag, and
// Concept. Ingestion upserts one small neighborhood per document — Project
// CONTAINS Document, Document MENTIONS Tag/File, Document PART_OF_SESSION
// Session — and a background pass derives Document RELATES_TO Document for
// pairs sharing enough tags. Everything uses MERGE semantics so replays
// from the repair worker are harmless.
//
// Two backends implement the Store port: Neo4j over bolt, and an in-memory
// map store for tests and single-binary installs.
//
// Write failures come back as *knowledge.StoreWriteError with store "gr".
package graph
