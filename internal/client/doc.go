// Package client is the caller-facing surface of the transcription
// pipeline. A Client owns one capture source, one chunker and one session,
// streams voice-active audio to the backend and hands transcripts back
// through callbacks. All state is per-instance; callers hold the Client,
// there are no package-level singletons.
package client
