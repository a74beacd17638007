// Package source feeds the ingestion pipeline from the outside world:
// URL downloads, git repository walks, and watched directories. Sources
// only produce ingest requests; all pipeline semantics (dedup, retries,
// progress) stay in the ingest package.
package source
