// Package transcribe integrates speech-to-text engines for audio and video
// ingestion.
//
// Two backends are provided: an OpenAI-compatible API client (works against
// OpenAI itself or any server speaking the same audio API) and a direct
// whisper-server client that requests verbose output to recover per-segment
// timestamps. Engines that cannot produce segments yield a single untimed
// segment covering the whole result.
package transcribe
