package transport

import (
	"context"
	"fmt"
)

// FrameKind distinguishes the two frame flavors multiplexed on one
// connection. The transport layer, not the payload, carries this bit.
type FrameKind int

const (
	// KindBinary carries encoded audio frames.
	KindBinary FrameKind = iota
	// KindText carries UTF-8 JSON control messages.
	KindText
)

// Frame is one unit of transport traffic in either direction.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Conn is an established duplex connection. ReadFrame blocks until a frame
// arrives or the connection fails; a CloseError reports the peer's close
// code. WriteFrame must be safe for concurrent use: sends, heartbeat pings
// and control replies come from separate goroutines. ReadFrame has a single
// caller.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Dialer establishes connections to a backend URL. Implementations must
// honor ctx cancellation during the handshake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Close codes, mirroring the websocket registry values.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// CloseError reports connection closure with the peer's close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}

// Abnormal reports whether the closure should trigger reconnection.
func (e *CloseError) Abnormal() bool {
	return e.Code != CloseNormal && e.Code != CloseGoingAway
}

// TransportError indicates a connect timeout or socket failure. It drives
// the reconnect state machine and is surfaced to callers only after
// reconnect attempts are exhausted.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
