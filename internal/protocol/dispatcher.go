package protocol

import (
	"log/slog"
	"sync"
)

// Dispatcher routes inbound control messages. A message whose messageId
// matches a pending one-shot callback invokes and removes it; otherwise the
// message fans out to subscribers registered for its type. Unmatched types
// are dropped silently at debug log level.
type Dispatcher struct {
	logger *slog.Logger

	mu          sync.Mutex
	pending     map[uint64]func(ControlMessage)
	subscribers map[string][]func(ControlMessage)
}

// NewDispatcher creates a message dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:      logger,
		pending:     make(map[uint64]func(ControlMessage)),
		subscribers: make(map[string][]func(ControlMessage)),
	}
}

// Await registers a one-shot callback correlated by messageId. Replies are
// correlated by id, never by arrival order.
func (d *Dispatcher) Await(messageID uint64, fn func(ControlMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[messageID] = fn
}

// Forget removes a pending one-shot callback, returning whether one existed.
// Used when the waiter times out before a reply arrives.
func (d *Dispatcher) Forget(messageID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pending[messageID]
	delete(d.pending, messageID)

	return ok
}

// Subscribe registers a fan-out handler for a message type.
func (d *Dispatcher) Subscribe(msgType string, fn func(ControlMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.subscribers[msgType] = append(d.subscribers[msgType], fn)
}

// Dispatch routes one inbound control message.
func (d *Dispatcher) Dispatch(msg ControlMessage) {
	d.mu.Lock()
	if fn, ok := d.pending[msg.MessageID]; ok {
		delete(d.pending, msg.MessageID)
		d.mu.Unlock()
		fn(msg)
		return
	}
	subs := d.subscribers[msg.Type]
	d.mu.Unlock()

	if len(subs) == 0 {
		d.logger.Debug("Dropping message with no subscribers",
			slog.String("type", msg.Type),
			slog.Uint64("message_id", msg.MessageID),
		)
		return
	}

	for _, fn := range subs {
		fn(msg)
	}
}

// PendingCount returns the number of registered one-shot callbacks.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.pending)
}

// Reset drops all pending one-shot callbacks, returning them so the caller
// can fail the associated waiters. Subscribers survive a reset; they belong
// to the client, not to one connection.
func (d *Dispatcher) Reset() []func(ControlMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	orphaned := make([]func(ControlMessage), 0, len(d.pending))
	for _, fn := range d.pending {
		orphaned = append(orphaned, fn)
	}
	d.pending = make(map[uint64]func(ControlMessage))

	return orphaned
}
