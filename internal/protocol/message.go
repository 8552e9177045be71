package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types exchanged with the transcription backend. Binary frames carry
// TypeChunk; everything else travels as UTF-8 JSON control messages.
const (
	TypeChunk = "chunk"

	TypeSessionStart   = "session_start"
	TypeSessionStarted = "session_started"
	TypeSessionEnd     = "session_end"
	TypeSessionEnded   = "session_ended"
	TypeChunkAck       = "chunk_ack"
	TypeTranscript     = "transcript"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeReplayRequest  = "replay_request"
	TypeReplay         = "replay"
	TypePollResults    = "poll_results"
	TypeResults        = "results"
	TypeError          = "error"
)

// ControlMessage is the plain UTF-8 JSON envelope for non-audio traffic.
type ControlMessage struct {
	Type      string          `json:"type"`
	MessageID uint64          `json:"message_id"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	SessionID string          `json:"session_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EncodeControl serializes a control message to its UTF-8 JSON wire form.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal control message: %w", err)
	}
	return data, nil
}

// DecodeControl parses a UTF-8 JSON control message. A parse failure is a
// MalformedFrameError: the caller drops that one message and continues.
func DecodeControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, &MalformedFrameError{
			Reason: fmt.Sprintf("control message is not valid JSON: %v", err),
		}
	}
	if msg.Type == "" {
		return msg, &MalformedFrameError{Reason: "control message missing type"}
	}
	return msg, nil
}

// UnmarshalPayload decodes the message payload into dst.
func (m ControlMessage) UnmarshalPayload(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// EncodePayload marshals a payload value for embedding in a ControlMessage.
func EncodePayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// SessionStartPayload carries the session configuration sent to the backend.
type SessionStartPayload struct {
	ClientID    string `json:"client_id"`
	SampleRate  int    `json:"sample_rate"`
	AudioFormat string `json:"audio_format"`
	Language    string `json:"language"`
	QualityMode string `json:"quality_mode"`
}

// SessionStartedPayload is the backend acknowledgment of a session start.
type SessionStartedPayload struct {
	SessionID string `json:"session_id"`
}

// SessionEndedPayload is the backend acknowledgment of a session end.
type SessionEndedPayload struct {
	Analytics map[string]float64 `json:"analytics,omitempty"`
}

// ChunkAckPayload acknowledges receipt of one audio chunk by sequence.
type ChunkAckPayload struct {
	Sequence uint64 `json:"sequence"`
}

// TranscriptSegment is one unit of transcription output. Final segments are
// append-only; at most one current interim segment exists at a time and is
// overwritten by newer interims.
type TranscriptSegment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	IsInterim  bool    `json:"is_interim"`
	ChunkID    uint64  `json:"chunk_id"`
	Timestamp  int64   `json:"timestamp"` // unix milliseconds
}

// ReplayRequestPayload asks the backend to re-deliver events missed during a
// disconnection, starting strictly after LastSequence.
type ReplayRequestPayload struct {
	LastSequence uint64 `json:"last_sequence"`
	Namespace    string `json:"namespace"`
}

// TranscriptEvent wraps a segment with the server-assigned event sequence.
// Live transcripts and replayed events share this shape, so idempotent
// application can dedup both the same way. Sequences are strictly increasing
// with no gaps.
type TranscriptEvent struct {
	Sequence uint64            `json:"sequence"`
	Segment  TranscriptSegment `json:"segment"`
}

// ReplayPayload carries the ordered missed events for a replay request.
type ReplayPayload struct {
	Events []TranscriptEvent `json:"events"`
}

// PollResultsPayload requests transcript segments since a timestamp.
type PollResultsPayload struct {
	SinceTimestamp int64 `json:"since_timestamp"` // unix milliseconds
}

// ResultsPayload carries ordered transcript segments for a poll request.
type ResultsPayload struct {
	Segments []TranscriptSegment `json:"segments"`
}

// NowMillis returns the current time as unix milliseconds, the timestamp
// encoding used on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
