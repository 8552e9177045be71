// Package quality measures transcription quality during a session: word
// error rate against an optional reference transcript, segment confidence,
// delivery latency, drift between consecutive finals, and how completely
// the voice-active audio was transcribed. The scorer folds these into a
// single score and checks the configured benchmark thresholds.
package quality
