package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxstream/transcriber/internal/audio"
	"github.com/voxstream/transcriber/internal/config"
	"github.com/voxstream/transcriber/internal/metrics"
	"github.com/voxstream/transcriber/internal/protocol"
	"github.com/voxstream/transcriber/internal/transport"
)

// State identifies a point in the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSessionStarting
	StateActive
	StateReconnecting
	StateClosing
	StateClosedClean
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionStarting:
		return "session_starting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosedClean:
		return "closed_clean"
	case StateClosedError:
		return "closed_error"
	default:
		return "unknown"
	}
}

// EventReconnectFailed is emitted once when the reconnect budget is
// exhausted and the connection gives up.
const EventReconnectFailed = "reconnect_failed"

// Callbacks receive session events. All fields are optional. Callbacks are
// invoked from connection goroutines and must not call back into the
// Connection synchronously except for SendChunk and Disconnect.
type Callbacks struct {
	OnSegment     func(protocol.TranscriptSegment)
	OnError       func(error)
	OnStateChange func(State)
	OnEvent       func(event string)
}

// Stats is a snapshot of connection counters.
type Stats struct {
	State              string
	SessionID          string
	ChunksSent         uint64
	DroppedChunks      uint64
	QueuedChunks       int
	ReconnectAttempts  uint64
	ProtocolErrors     uint64
	LastAckedSequence  uint64
	LastAppliedEventID uint64
}

// Connection manages one backend connection and the session running over
// it: dialing, the session handshake, chunk delivery with retries, heartbeat
// probing, and automatic reconnection with replay of missed transcripts.
type Connection struct {
	cfg      *config.Config
	dialer   transport.Dialer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cb       Callbacks
	clientID string

	messageID atomic.Uint64

	mu             sync.Mutex
	state          State
	conn           transport.Conn
	sessionID      string
	queue          []audio.Chunk
	flushing       bool
	lastTraffic    time.Time
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	rng            *rand.Rand
	reconnectBase  time.Duration
	reconnectMax   time.Duration
	heartbeat      time.Duration
	idleTimeout    time.Duration

	// sendMu serializes chunk transmission so queued chunks drain in
	// order ahead of newly captured ones.
	sendMu sync.Mutex

	dispatcher *protocol.Dispatcher

	chunksSent        uint64
	droppedChunks     uint64
	reconnectAttempts uint64
	protocolErrors    uint64
	lastAckedSeq      uint64
	lastEventSeq      uint64
}

// NewConnection creates a connection in the disconnected state. The dialer
// is injected so tests can run against an in-memory backend. A nil metrics
// registry disables instrumentation.
func NewConnection(cfg *config.Config, dialer transport.Dialer, cb Callbacks, m *metrics.Metrics, logger *slog.Logger) *Connection {
	heartbeat := cfg.Session.GetHeartbeatInterval()
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Connection{
		cfg:           cfg,
		dialer:        dialer,
		logger:        logger,
		metrics:       m,
		cb:            cb,
		clientID:      uuid.NewString(),
		state:         StateDisconnected,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		dispatcher:    protocol.NewDispatcher(logger),
		reconnectBase: ReconnectBaseDelay,
		reconnectMax:  ReconnectMaxDelay,
		heartbeat:     heartbeat,
		idleTimeout:   cfg.Session.GetIdleTimeout(),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the backend-assigned session identifier, or "" before
// the session handshake completes.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GetStats returns a snapshot of connection counters.
func (c *Connection) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:              c.state.String(),
		SessionID:          c.sessionID,
		ChunksSent:         c.chunksSent,
		DroppedChunks:      c.droppedChunks,
		QueuedChunks:       len(c.queue),
		ReconnectAttempts:  c.reconnectAttempts,
		ProtocolErrors:     c.protocolErrors,
		LastAckedSequence:  c.lastAckedSeq,
		LastAppliedEventID: c.lastEventSeq,
	}
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.logger.Debug("session state changed", slog.String("state", s.String()))
	if c.metrics != nil {
		c.metrics.RecordStateTransition(s.String())
	}
	if c.cb.OnStateChange != nil {
		cb := c.cb.OnStateChange
		c.mu.Unlock()
		cb(s)
		c.mu.Lock()
	}
}

func (c *Connection) reportError(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *Connection) nextMessageID() uint64 {
	return c.messageID.Add(1)
}

// Connect dials the backend. It returns a TransportError if the handshake
// fails or exceeds the configured connect timeout.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return &transport.TransportError{
			Op:  "connect",
			Err: fmt.Errorf("invalid state %s", state),
		}
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Backend.GetConnectTimeout())
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, c.cfg.Backend.URL)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		var terr *transport.TransportError
		if errors.As(err, &terr) {
			return err
		}
		return &transport.TransportError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnected while the dial was in flight.
		state := c.state
		c.mu.Unlock()
		conn.Close()
		return &transport.TransportError{
			Op:  "connect",
			Err: fmt.Errorf("closed during dial, state %s", state),
		}
	}
	c.attachLocked(conn)
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected to backend", slog.String("url", c.cfg.Backend.URL))
	return nil
}

// attachLocked wires a fresh transport connection: read loop plus heartbeat.
func (c *Connection) attachLocked(conn transport.Conn) {
	c.conn = conn
	c.lastTraffic = time.Now()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	go c.readLoop(conn)
	go c.heartbeatLoop(conn, stop)
}

func (c *Connection) detachLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	// Pending reply waiters will never be answered on this connection.
	for _, fn := range c.dispatcher.Reset() {
		fn(protocol.ControlMessage{
			Type:  protocol.TypeError,
			Error: "connection lost",
		})
	}
}

// StartSession performs the session handshake. On success the connection is
// active and queued chunks begin draining.
func (c *Connection) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return &SessionError{Op: "start", Reason: fmt.Sprintf("invalid state %s", state)}
	}
	c.setStateLocked(StateSessionStarting)
	c.mu.Unlock()

	reply, err := c.request(ctx, protocol.TypeSessionStart, protocol.SessionStartPayload{
		ClientID:    c.clientID,
		SampleRate:  c.cfg.Audio.SampleRate,
		AudioFormat: "pcm16",
		Language:    c.cfg.Backend.Language,
		QualityMode: c.cfg.Backend.QualityMode,
	}, c.cfg.Session.GetStartTimeout())
	if err != nil {
		c.failSession("start", err)
		return &SessionError{Op: "start", Reason: err.Error()}
	}
	if reply.Type != protocol.TypeSessionStarted {
		err := fmt.Errorf("unexpected reply type %q: %s", reply.Type, reply.Error)
		c.failSession("start", err)
		return &SessionError{Op: "start", Reason: err.Error()}
	}

	var started protocol.SessionStartedPayload
	if err := reply.UnmarshalPayload(&started); err != nil {
		c.failSession("start", err)
		return &SessionError{Op: "start", Reason: err.Error()}
	}

	c.mu.Lock()
	c.sessionID = started.SessionID
	c.setStateLocked(StateActive)
	c.mu.Unlock()

	c.logger.Info("session started", slog.String("session_id", started.SessionID))
	c.flushQueue()
	return nil
}

// failSession tears the connection down after a handshake failure so no
// half-open connection lingers.
func (c *Connection) failSession(op string, err error) {
	c.logger.Error("session handshake failed",
		slog.String("op", op),
		slog.String("error", err.Error()))
	c.mu.Lock()
	c.detachLocked()
	c.setStateLocked(StateClosedError)
	c.mu.Unlock()
}

// EndSession tells the backend to finalize the session and returns its
// analytics. The connection stays open for a new session.
func (c *Connection) EndSession(ctx context.Context) (map[string]float64, error) {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		return nil, &SessionError{Op: "end", Reason: fmt.Sprintf("invalid state %s", state)}
	}
	c.mu.Unlock()

	reply, err := c.request(ctx, protocol.TypeSessionEnd, nil, c.cfg.Session.GetStartTimeout())
	if err != nil {
		return nil, &SessionError{Op: "end", Reason: err.Error()}
	}
	if reply.Type != protocol.TypeSessionEnded {
		return nil, &SessionError{Op: "end", Reason: fmt.Sprintf("unexpected reply type %q", reply.Type)}
	}

	var ended protocol.SessionEndedPayload
	if err := reply.UnmarshalPayload(&ended); err != nil {
		return nil, &SessionError{Op: "end", Reason: err.Error()}
	}

	c.mu.Lock()
	c.sessionID = ""
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("session ended")
	return ended.Analytics, nil
}

// PollResults asks the backend for segments produced since the given unix
// millisecond timestamp. Useful after a gap where push delivery may have
// missed segments.
func (c *Connection) PollResults(ctx context.Context, sinceMillis int64) ([]protocol.TranscriptSegment, error) {
	reply, err := c.request(ctx, protocol.TypePollResults, protocol.PollResultsPayload{
		SinceTimestamp: sinceMillis,
	}, c.cfg.Session.GetStartTimeout())
	if err != nil {
		return nil, &SessionError{Op: "poll", Reason: err.Error()}
	}
	if reply.Type != protocol.TypeResults {
		return nil, &SessionError{Op: "poll", Reason: fmt.Sprintf("unexpected reply type %q", reply.Type)}
	}

	var results protocol.ResultsPayload
	if err := reply.UnmarshalPayload(&results); err != nil {
		return nil, &SessionError{Op: "poll", Reason: err.Error()}
	}
	return results.Segments, nil
}

// request sends a control message and waits for the correlated reply.
func (c *Connection) request(ctx context.Context, msgType string, payload any, timeout time.Duration) (protocol.ControlMessage, error) {
	id := c.nextMessageID()

	msg := protocol.ControlMessage{
		Type:      msgType,
		MessageID: id,
		Timestamp: protocol.NowMillis(),
	}
	c.mu.Lock()
	msg.SessionID = c.sessionID
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return protocol.ControlMessage{}, errors.New("not connected")
	}

	if payload != nil {
		data, err := protocol.EncodePayload(payload)
		if err != nil {
			return protocol.ControlMessage{}, err
		}
		msg.Payload = data
	}

	data, err := protocol.EncodeControl(msg)
	if err != nil {
		return protocol.ControlMessage{}, err
	}

	replyCh := make(chan protocol.ControlMessage, 1)
	c.dispatcher.Await(id, func(reply protocol.ControlMessage) {
		replyCh <- reply
	})

	if err := conn.WriteFrame(transport.Frame{Kind: transport.KindText, Data: data}); err != nil {
		c.dispatcher.Forget(id)
		return protocol.ControlMessage{}, &transport.TransportError{Op: "write", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		if reply.Type == protocol.TypeError {
			return reply, fmt.Errorf("backend error: %s", reply.Error)
		}
		return reply, nil
	case <-timer.C:
		c.dispatcher.Forget(id)
		return protocol.ControlMessage{}, fmt.Errorf("timed out after %s waiting for %s reply", timeout, msgType)
	case <-ctx.Done():
		c.dispatcher.Forget(id)
		return protocol.ControlMessage{}, ctx.Err()
	}
}

// SendChunk delivers an audio chunk to the backend. When the session is not
// active the chunk is queued and sent once it becomes active. Transmission
// failures are retried with a linear backoff; after the retry budget the
// chunk is dropped and exactly one error is reported.
func (c *Connection) SendChunk(chunk audio.Chunk) error {
	c.mu.Lock()
	switch c.state {
	case StateClosedClean, StateClosedError:
		c.droppedChunks++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordChunkDropped()
		}
		err := fmt.Errorf("chunk %d dropped: connection closed", chunk.Sequence)
		c.reportError(err)
		return err
	case StateActive:
		if c.flushing || len(c.queue) > 0 {
			c.queue = append(c.queue, chunk)
			n := len(c.queue)
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.SetQueueSize(n)
			}
			return nil
		}
		c.mu.Unlock()
		return c.transmit(chunk)
	default:
		c.queue = append(c.queue, chunk)
		n := len(c.queue)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.SetQueueSize(n)
		}
		c.logger.Debug("chunk queued until session active",
			slog.Uint64("sequence", chunk.Sequence),
			slog.Int("queue_size", n))
		return nil
	}
}

// flushQueue drains queued chunks in FIFO order. Chunks arriving mid-flush
// append to the queue and drain in the same pass.
func (c *Connection) flushQueue() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.queue) > 0 && c.state == StateActive {
		chunk := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.transmit(chunk)
		c.mu.Lock()
	}
	c.flushing = false
	n := len(c.queue)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetQueueSize(n)
	}
}

func (c *Connection) transmit(chunk audio.Chunk) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	id := c.nextMessageID()

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	frame, err := protocol.EncodeFrame(protocol.Metadata{
		Type:      protocol.TypeChunk,
		MessageID: id,
		Timestamp: protocol.NowMillis(),
		SessionID: sessionID,
		Fields: map[string]string{
			"sequence":    strconv.FormatUint(chunk.Sequence, 10),
			"duration_ms": strconv.FormatInt(chunk.Duration.Milliseconds(), 10),
		},
	}, chunk.Payload)
	if err != nil {
		return err
	}

	// The ack updates the replay watermark whenever it arrives; delivery
	// itself is not blocked on it.
	c.dispatcher.Await(id, func(reply protocol.ControlMessage) {
		if reply.Type != protocol.TypeChunkAck {
			return
		}
		var ack protocol.ChunkAckPayload
		if err := reply.UnmarshalPayload(&ack); err != nil {
			return
		}
		c.mu.Lock()
		if ack.Sequence > c.lastAckedSeq {
			c.lastAckedSeq = ack.Sequence
		}
		c.mu.Unlock()
	})

	var lastErr error
	maxAttempts := c.cfg.Session.MaxSendRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			lastErr = errors.New("not connected")
		} else {
			lastErr = conn.WriteFrame(transport.Frame{Kind: transport.KindBinary, Data: frame})
		}
		if lastErr == nil {
			c.mu.Lock()
			c.chunksSent++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.RecordChunkSent()
			}
			return nil
		}
		if attempt < maxAttempts {
			if c.metrics != nil {
				c.metrics.RecordSendRetry()
			}
			time.Sleep(time.Duration(attempt) * c.cfg.Session.GetSendRetryDelay())
		}
	}

	c.dispatcher.Forget(id)
	c.mu.Lock()
	c.droppedChunks++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordChunkDropped()
	}

	err = fmt.Errorf("chunk %d dropped after %d attempts: %w", chunk.Sequence, maxAttempts, lastErr)
	c.logger.Warn("chunk dropped",
		slog.Uint64("sequence", chunk.Sequence),
		slog.Int("attempts", maxAttempts),
		slog.String("error", lastErr.Error()))
	c.reportError(err)
	return err
}

// readLoop consumes frames from one transport connection until it fails.
func (c *Connection) readLoop(conn transport.Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		c.mu.Lock()
		c.lastTraffic = time.Now()
		c.mu.Unlock()

		switch frame.Kind {
		case transport.KindText:
			msg, err := protocol.DecodeControl(frame.Data)
			if err != nil {
				c.mu.Lock()
				c.protocolErrors++
				c.mu.Unlock()
				if c.metrics != nil {
					c.metrics.RecordProtocolError()
				}
				c.logger.Warn("discarding malformed control message", slog.String("error", err.Error()))
				continue
			}
			c.handleMessage(msg)
		case transport.KindBinary:
			// The backend speaks control-only in this direction.
			c.logger.Debug("ignoring unexpected binary frame", slog.Int("size", len(frame.Data)))
		}
	}
}

func (c *Connection) handleMessage(msg protocol.ControlMessage) {
	switch msg.Type {
	case protocol.TypeTranscript:
		var ev protocol.TranscriptEvent
		if err := msg.UnmarshalPayload(&ev); err != nil {
			c.mu.Lock()
			c.protocolErrors++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.RecordProtocolError()
			}
			c.logger.Warn("discarding malformed transcript", slog.String("error", err.Error()))
			return
		}
		c.applyEvent(ev)
	case protocol.TypePing:
		c.sendControl(protocol.TypePong, nil)
	case protocol.TypePong:
		// lastTraffic already updated by the read loop.
	default:
		c.dispatcher.Dispatch(msg)
	}
}

// applyEvent delivers a transcript event at most once. Replayed events
// carry the same sequences as their original delivery, so anything at or
// below the watermark is a duplicate.
func (c *Connection) applyEvent(ev protocol.TranscriptEvent) {
	c.mu.Lock()
	if ev.Sequence != 0 && ev.Sequence <= c.lastEventSeq {
		c.mu.Unlock()
		c.logger.Debug("skipping duplicate transcript event", slog.Uint64("sequence", ev.Sequence))
		return
	}
	if ev.Sequence > c.lastEventSeq {
		c.lastEventSeq = ev.Sequence
	}
	c.mu.Unlock()

	if c.cb.OnSegment != nil {
		c.cb.OnSegment(ev.Segment)
	}
}

func (c *Connection) sendControl(msgType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	sessionID := c.sessionID
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	msg := protocol.ControlMessage{
		Type:      msgType,
		MessageID: c.nextMessageID(),
		Timestamp: protocol.NowMillis(),
		SessionID: sessionID,
	}
	if payload != nil {
		data, err := protocol.EncodePayload(payload)
		if err != nil {
			return err
		}
		msg.Payload = data
	}

	data, err := protocol.EncodeControl(msg)
	if err != nil {
		return err
	}
	return conn.WriteFrame(transport.Frame{Kind: transport.KindText, Data: data})
}

// heartbeatLoop sends pings on the configured interval and closes the
// connection if no traffic at all arrives within the idle timeout. The read
// loop then observes the close and drives reconnection.
func (c *Connection) heartbeatLoop(conn transport.Conn, stop chan struct{}) {
	interval := c.heartbeat
	idle := c.idleTimeout

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			silent := time.Since(c.lastTraffic)
			c.mu.Unlock()

			if silent > idle {
				c.logger.Warn("connection idle past deadline, closing",
					slog.Duration("silent", silent),
					slog.Duration("idle_timeout", idle))
				conn.Close()
				return
			}
			if err := c.sendControl(protocol.TypePing, nil); err != nil {
				c.logger.Debug("heartbeat ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// handleDisconnect reacts to a read-loop failure. An active session
// reconnects; anything else finishes in a terminal state.
func (c *Connection) handleDisconnect(conn transport.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateClosing, StateClosedClean, StateClosedError, StateDisconnected:
		c.mu.Unlock()
		return
	}

	wasActive := c.state == StateActive
	c.detachLocked()

	var closeErr *transport.CloseError
	cleanClose := errors.As(err, &closeErr) && !closeErr.Abnormal()

	if !wasActive || cleanClose {
		if cleanClose {
			c.setStateLocked(StateClosedClean)
			c.mu.Unlock()
			c.logger.Info("backend closed connection", slog.String("close", closeErr.Error()))
			return
		}
		c.setStateLocked(StateClosedError)
		c.mu.Unlock()
		c.reportError(&transport.TransportError{Op: "read", Err: err})
		return
	}

	c.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
	c.setStateLocked(StateReconnecting)
	c.scheduleReconnectLocked(1)
	c.mu.Unlock()
}

func (c *Connection) scheduleReconnectLocked(attempt int) {
	max := c.cfg.Session.MaxReconnectAttempts
	if attempt > max {
		c.setStateLocked(StateClosedError)
		if c.cb.OnEvent != nil {
			ev := c.cb.OnEvent
			c.mu.Unlock()
			ev(EventReconnectFailed)
			c.mu.Lock()
		}
		// The callback may call back into the connection; drop the lock.
		c.mu.Unlock()
		c.reportError(&transport.TransportError{
			Op:  "reconnect",
			Err: fmt.Errorf("gave up after %d attempts", max),
		})
		c.mu.Lock()
		return
	}

	delay := ReconnectDelay(attempt, c.reconnectBase, c.reconnectMax, c.rng)
	c.logger.Info("scheduling reconnect",
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", max),
		slog.Duration("delay", delay))
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.attemptReconnect(attempt)
	})
}

func (c *Connection) attemptReconnect(attempt int) {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectAttempts++
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordReconnectAttempt()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Backend.GetConnectTimeout())
	conn, err := c.dialer.Dial(ctx, c.cfg.Backend.URL)
	cancel()
	if err != nil {
		c.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		c.mu.Lock()
		if c.state == StateConnecting {
			c.setStateLocked(StateReconnecting)
			c.scheduleReconnectLocked(attempt + 1)
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.attachLocked(conn)
	c.setStateLocked(StateConnected)
	lastAcked := c.lastAckedSeq
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.resumeSession(lastAcked, sessionID); err != nil {
		c.logger.Warn("session resume failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		c.mu.Lock()
		if c.state == StateConnected {
			c.detachLocked()
			c.setStateLocked(StateReconnecting)
			c.scheduleReconnectLocked(attempt + 1)
		}
		c.mu.Unlock()
		return
	}

	c.logger.Info("reconnected and session resumed",
		slog.Int("attempt", attempt),
		slog.Uint64("last_acked_sequence", lastAcked))
	c.flushQueue()
}

// resumeSession asks the backend to replay everything after the last
// acknowledged sequence and reactivates the session.
func (c *Connection) resumeSession(lastAcked uint64, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Session.GetStartTimeout())
	defer cancel()

	reply, err := c.request(ctx, protocol.TypeReplayRequest, protocol.ReplayRequestPayload{
		LastSequence: lastAcked,
		Namespace:    sessionID,
	}, c.cfg.Session.GetStartTimeout())
	if err != nil {
		return err
	}
	if reply.Type != protocol.TypeReplay {
		return fmt.Errorf("unexpected reply type %q", reply.Type)
	}

	var replay protocol.ReplayPayload
	if err := reply.UnmarshalPayload(&replay); err != nil {
		return err
	}

	// Replayed events must land before live streaming resumes, or a live
	// event could advance the watermark past unapplied replay sequences.
	for _, ev := range replay.Events {
		c.applyEvent(ev)
	}

	c.mu.Lock()
	c.setStateLocked(StateActive)
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection cleanly. It is idempotent: repeat calls
// and calls in any state are no-ops beyond the first effective one. Any
// pending reconnect is cancelled.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case StateClosedClean, StateClosedError:
		c.mu.Unlock()
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.setStateLocked(StateClosing)
	c.detachLocked()
	c.sessionID = ""
	c.setStateLocked(StateClosedClean)
	c.mu.Unlock()

	c.logger.Info("disconnected")
}
