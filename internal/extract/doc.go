// Package extract turns classified input blobs into RawDocuments: ordered
// lists of typed text blocks ready for chunking.
//
// One extractor serves each format family. Extractors either produce a
// complete RawDocument or fail the item with an extraction error; partial
// output is never returned. Archive extractors additionally surface child
// items that the orchestrator ingests recursively.
package extract
