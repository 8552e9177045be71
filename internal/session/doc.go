// Package session manages the lifecycle of a transcription session over a
// single backend connection.
//
// A Connection moves through an explicit state machine: dial, session
// handshake, active streaming, and either a clean close or an error state.
// While active it delivers audio chunks with bounded retries, answers
// heartbeat pings, and detects dead connections by idle timeout. When the
// transport drops mid-session it reconnects with jittered exponential
// backoff and asks the backend to replay transcript events past the last
// acknowledged sequence, applying them idempotently so listeners never see
// a duplicate.
package session
