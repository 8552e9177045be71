package session

import "fmt"

// SessionError indicates a session-level protocol failure, such as the
// backend not acknowledging a session start or end in time. It is distinct
// from transport.TransportError: the connection may still be healthy.
type SessionError struct {
	Op     string
	Reason string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s failed: %s", e.Op, e.Reason)
}
