package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	// LengthPrefixSize is the size of the metadata length prefix in bytes.
	LengthPrefixSize = 4

	// MaxMetadataSize bounds the JSON metadata section of a binary frame.
	MaxMetadataSize = 1 << 20
)

// Metadata describes a binary frame: the message envelope plus free-form
// caller fields. MessageIDs are unique and monotonic within one connection
// lifetime.
type Metadata struct {
	Type      string            `json:"type"`
	MessageID uint64            `json:"message_id"`
	Timestamp int64             `json:"timestamp"` // unix milliseconds
	SessionID string            `json:"session_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// MalformedFrameError indicates a frame that could not be decoded. The
// offending message is dropped and logged; the connection continues.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// EncodeFrame builds a binary frame:
// [4-byte big-endian length L][L bytes UTF-8 JSON metadata][payload].
// The returned buffer has exact size 4+L+len(payload).
func EncodeFrame(meta Metadata, payload []byte) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame metadata: %w", err)
	}

	if len(metaJSON) > MaxMetadataSize {
		return nil, fmt.Errorf("frame metadata too large: %d bytes (max %d)", len(metaJSON), MaxMetadataSize)
	}

	buf := make([]byte, LengthPrefixSize+len(metaJSON)+len(payload))
	binary.BigEndian.PutUint32(buf[0:LengthPrefixSize], uint32(len(metaJSON)))
	copy(buf[LengthPrefixSize:], metaJSON)
	copy(buf[LengthPrefixSize+len(metaJSON):], payload)

	return buf, nil
}

// DecodeFrame parses a binary frame produced by EncodeFrame. It fails with
// MalformedFrameError when the buffer is shorter than the declared metadata
// length or the metadata does not parse as JSON.
func DecodeFrame(buf []byte) (Metadata, []byte, error) {
	var meta Metadata

	if len(buf) < LengthPrefixSize {
		return meta, nil, &MalformedFrameError{
			Reason: fmt.Sprintf("frame too short: %d bytes (need at least %d)", len(buf), LengthPrefixSize),
		}
	}

	metaLen := int(binary.BigEndian.Uint32(buf[0:LengthPrefixSize]))
	if metaLen > MaxMetadataSize {
		return meta, nil, &MalformedFrameError{
			Reason: fmt.Sprintf("declared metadata length %d exceeds maximum %d", metaLen, MaxMetadataSize),
		}
	}

	if len(buf) < LengthPrefixSize+metaLen {
		return meta, nil, &MalformedFrameError{
			Reason: fmt.Sprintf("truncated frame: declared metadata length %d, only %d bytes follow prefix",
				metaLen, len(buf)-LengthPrefixSize),
		}
	}

	if err := json.Unmarshal(buf[LengthPrefixSize:LengthPrefixSize+metaLen], &meta); err != nil {
		return meta, nil, &MalformedFrameError{
			Reason: fmt.Sprintf("metadata is not valid JSON: %v", err),
		}
	}

	raw := buf[LengthPrefixSize+metaLen:]
	var payload []byte
	if len(raw) > 0 {
		payload = make([]byte, len(raw))
		copy(payload, raw)
	}

	return meta, payload, nil
}
