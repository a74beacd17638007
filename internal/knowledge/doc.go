// Package knowledge defines the core vocabulary shared across the
// ingestion pipeline, the session log, and the query service: documents,
// chunks, sessions, actions, graph entities, and the error taxonomy.
//
// Types here are storage-agnostic. Store adapters map them to their own
// schemas; services pass them by value or pointer without re-declaring
// parallel shapes.
package knowledge
