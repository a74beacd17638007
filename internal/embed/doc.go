// Package embed turns chunk text into fixed-dimension vectors.
//
// A Provider speaks to one embedding backend, either an OpenAI-compatible
// HTTP endpoint or a local fastembed ONNX model. Client wraps a Provider
// with the operational policy every caller shares: batching, bounded
// concurrency, per-call timeouts, exponential backoff with jitter, and
// dimension enforcement. Blank inputs never reach the provider; they map
// to the all-zero sentinel vector that the search layers exclude.
package embed
