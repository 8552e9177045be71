// Package protocol implements the wire codec for the transcription backend.
// It handles binary audio frames (a 4-byte length prefix, UTF-8 JSON
// metadata, and raw payload), plain JSON control messages multiplexed on the
// same connection, and correlation of inbound messages to pending callbacks
// and type subscribers.
package protocol
