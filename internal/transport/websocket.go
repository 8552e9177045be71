package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials backend URLs over WebSocket, the concrete duplex
// transport: binary and text frames are disambiguated by the protocol layer
// of the socket itself.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer with sane handshake defaults.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	return &wsConn{ws: ws}, nil
}

// wsConn adapts a gorilla websocket connection to the Conn interface.
// gorilla permits only one concurrent writer, so writeMu serializes
// WriteFrame callers. Close uses WriteControl, which gorilla allows
// concurrently with writes.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() (Frame, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if ce, ok := err.(*websocket.CloseError); ok {
			return Frame{}, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return Frame{}, &TransportError{Op: "read", Err: err}
	}

	switch msgType {
	case websocket.BinaryMessage:
		return Frame{Kind: KindBinary, Data: data}, nil
	case websocket.TextMessage:
		return Frame{Kind: KindText, Data: data}, nil
	default:
		return Frame{}, &TransportError{Op: "read", Err: fmt.Errorf("unexpected message type %d", msgType)}
	}
}

func (c *wsConn) WriteFrame(frame Frame) error {
	msgType := websocket.BinaryMessage
	if frame.Kind == KindText {
		msgType = websocket.TextMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(msgType, frame.Data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	return nil
}

func (c *wsConn) Close() error {
	// Best effort close handshake; the peer may already be gone.
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	return c.ws.Close()
}
