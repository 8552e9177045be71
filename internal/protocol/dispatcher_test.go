package protocol

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherPendingCallback(t *testing.T) {
	d := NewDispatcher(testLogger())

	var got *ControlMessage
	d.Await(5, func(msg ControlMessage) { got = &msg })

	d.Dispatch(ControlMessage{Type: TypeSessionStarted, MessageID: 5})

	if got == nil {
		t.Fatal("pending callback was not invoked")
	}
	if got.MessageID != 5 {
		t.Errorf("expected message id 5, got %d", got.MessageID)
	}

	// One-shot: a second message with the same id must not re-invoke.
	got = nil
	d.Dispatch(ControlMessage{Type: TypeSessionStarted, MessageID: 5})
	if got != nil {
		t.Error("one-shot callback was invoked twice")
	}
}

func TestDispatcherCorrelatesByIDNotOrder(t *testing.T) {
	d := NewDispatcher(testLogger())

	order := make([]uint64, 0, 2)
	d.Await(1, func(msg ControlMessage) { order = append(order, msg.MessageID) })
	d.Await(2, func(msg ControlMessage) { order = append(order, msg.MessageID) })

	// Replies arrive out of request order.
	d.Dispatch(ControlMessage{Type: TypeChunkAck, MessageID: 2})
	d.Dispatch(ControlMessage{Type: TypeChunkAck, MessageID: 1})

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("expected callbacks correlated by id [2 1], got %v", order)
	}
}

func TestDispatcherFanOut(t *testing.T) {
	d := NewDispatcher(testLogger())

	var a, b int
	d.Subscribe(TypeTranscript, func(ControlMessage) { a++ })
	d.Subscribe(TypeTranscript, func(ControlMessage) { b++ })

	d.Dispatch(ControlMessage{Type: TypeTranscript, MessageID: 10})
	d.Dispatch(ControlMessage{Type: TypeTranscript, MessageID: 11})

	if a != 2 || b != 2 {
		t.Errorf("expected both subscribers invoked twice, got %d and %d", a, b)
	}
}

func TestDispatcherUnmatchedTypeDropped(t *testing.T) {
	d := NewDispatcher(testLogger())

	// Must not panic or invoke anything.
	d.Dispatch(ControlMessage{Type: "unknown_kind", MessageID: 1})
}

func TestDispatcherForget(t *testing.T) {
	d := NewDispatcher(testLogger())

	invoked := false
	d.Await(7, func(ControlMessage) { invoked = true })

	if !d.Forget(7) {
		t.Error("Forget should report an existing callback")
	}
	if d.Forget(7) {
		t.Error("Forget of removed callback should report false")
	}

	d.Dispatch(ControlMessage{Type: TypeChunkAck, MessageID: 7})
	if invoked {
		t.Error("forgotten callback must not be invoked")
	}
}

func TestDispatcherReset(t *testing.T) {
	d := NewDispatcher(testLogger())

	d.Await(1, func(ControlMessage) {})
	d.Await(2, func(ControlMessage) {})
	var transcripts int
	d.Subscribe(TypeTranscript, func(ControlMessage) { transcripts++ })

	orphaned := d.Reset()
	if len(orphaned) != 2 {
		t.Errorf("expected 2 orphaned callbacks, got %d", len(orphaned))
	}
	if d.PendingCount() != 0 {
		t.Errorf("expected no pending callbacks after reset, got %d", d.PendingCount())
	}

	// Subscribers survive a reset.
	d.Dispatch(ControlMessage{Type: TypeTranscript, MessageID: 3})
	if transcripts != 1 {
		t.Error("subscribers should survive dispatcher reset")
	}
}
