package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/voxstream/transcriber/internal/audio"
	"github.com/voxstream/transcriber/internal/config"
	"github.com/voxstream/transcriber/internal/metrics"
	"github.com/voxstream/transcriber/internal/protocol"
	"github.com/voxstream/transcriber/internal/quality"
	"github.com/voxstream/transcriber/internal/session"
	"github.com/voxstream/transcriber/internal/transport"
)

// Status describes the client lifecycle as seen by the caller.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// One full session restart is attempted if the session dies while the
// caller is still recording; after that the failure is surfaced.
const maxSessionRestarts = 1

// Snapshot is the caller-facing metrics view. It stays queryable after a
// failure so post-mortem numbers survive the session.
type Snapshot struct {
	ChunksProcessed   uint64
	AvgLatencyMs      float64
	DroppedChunks     uint64
	VADSavings        uint64
	ReconnectAttempts uint64
}

// Client wires a capture source through the chunker into a transcription
// session and routes transcripts back to caller callbacks and the quality
// scorer. All state lives on the instance; nothing is package-global.
type Client struct {
	cfg     *config.Config
	dialer  transport.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	openSource audio.SourceOpener

	mu              sync.Mutex
	onTranscription func(protocol.TranscriptSegment)
	onError         func(error)
	onStatusChange  func(Status)

	status   Status
	conn     *session.Connection
	chunker  *audio.Chunker
	scorer   *quality.Scorer
	source   audio.Source
	cancel   context.CancelFunc
	restarts int

	latencySumMs float64
	latencyCount uint64

	wg sync.WaitGroup
}

// New validates the configuration and builds an idle client. A nil metrics
// registry disables instrumentation.
func New(cfg *config.Config, dialer transport.Dialer, openSource audio.SourceOpener, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chunker, err := audio.NewChunker(audio.ChunkerConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		ChunkDurationMs: cfg.Audio.ChunkDurationMs,
		OverlapMs:       cfg.Audio.OverlapMs,
		VADThreshold:    cfg.VAD.Threshold,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        cfg,
		dialer:     dialer,
		logger:     logger,
		metrics:    m,
		openSource: openSource,
		chunker:    chunker,
		status:     StatusStopped,
		scorer:     quality.NewScorer(cfg.Quality, logger),
	}, nil
}

// OnTranscription registers the transcript callback. Safe to call at any
// time, including while recording.
func (c *Client) OnTranscription(fn func(protocol.TranscriptSegment)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscription = fn
}

// OnError registers the error callback. Safe to call at any time.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnStatusChange registers the status callback. Safe to call at any time.
func (c *Client) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatusChange = fn
}

// SetReference supplies a ground-truth transcript for word error rate
// measurement.
func (c *Client) SetReference(text string) {
	c.scorer.SetReference(text)
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	fn := c.onStatusChange
	c.mu.Unlock()

	c.logger.Info("client status changed", slog.String("status", string(s)))
	if fn != nil {
		fn(s)
	}
}

// Status returns the current client status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) reportError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Start acquires the capture source, connects, starts a session and begins
// streaming. A source acquisition failure is fatal and never retried.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusStarting || c.status == StatusRecording {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	c.mu.Unlock()

	c.setStatus(StatusStarting)

	source, err := c.openSource()
	if err != nil {
		c.setStatus(StatusError)
		return err
	}

	conn := session.NewConnection(c.cfg, c.dialer, c.sessionCallbacks(), c.metrics, c.logger)
	if err := conn.Connect(ctx); err != nil {
		source.Close()
		c.setStatus(StatusError)
		return err
	}
	if err := conn.StartSession(ctx); err != nil {
		source.Close()
		c.setStatus(StatusError)
		return err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.source = source
	c.cancel = cancel
	c.restarts = 0
	c.mu.Unlock()

	c.wg.Add(1)
	go c.captureLoop(captureCtx, source)

	c.setStatus(StatusRecording)
	return nil
}

func (c *Client) sessionCallbacks() session.Callbacks {
	return session.Callbacks{
		OnSegment: c.handleSegment,
		OnError:   c.reportError,
		OnStateChange: func(s session.State) {
			if s == session.StateClosedError {
				c.handleSessionDeath()
			}
		},
		OnEvent: func(event string) {
			c.logger.Warn("session event", slog.String("event", event))
		},
	}
}

func (c *Client) handleSegment(seg protocol.TranscriptSegment) {
	latencyMs := float64(protocol.NowMillis() - seg.Timestamp)
	if latencyMs < 0 {
		latencyMs = 0
	}

	c.mu.Lock()
	c.latencySumMs += latencyMs
	c.latencyCount++
	fn := c.onTranscription
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordSegment(seg.IsFinal, latencyMs/1000, seg.Confidence)
	}
	c.scorer.Observe(seg)
	if fn != nil {
		fn(seg)
	}
}

// handleSessionDeath restarts the session once if the caller is still
// recording; a second death within the same Start is terminal.
func (c *Client) handleSessionDeath() {
	c.mu.Lock()
	if c.status != StatusRecording {
		c.mu.Unlock()
		return
	}
	if c.restarts >= maxSessionRestarts {
		c.mu.Unlock()
		c.setStatus(StatusError)
		return
	}
	c.restarts++
	c.mu.Unlock()

	go c.restartSession()
}

func (c *Client) restartSession() {
	c.logger.Warn("session lost while recording, restarting")

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Backend.GetConnectTimeout()+c.cfg.Session.GetStartTimeout())
	defer cancel()

	conn := session.NewConnection(c.cfg, c.dialer, c.sessionCallbacks(), c.metrics, c.logger)
	if err := conn.Connect(ctx); err != nil {
		c.reportError(err)
		c.setStatus(StatusError)
		return
	}
	if err := conn.StartSession(ctx); err != nil {
		c.reportError(err)
		c.setStatus(StatusError)
		return
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Disconnect()
	}

	c.logger.Info("session restarted")
}

// captureLoop pulls samples from the source until it is exhausted or the
// client stops. The source is always released on exit.
func (c *Client) captureLoop(ctx context.Context, source audio.Source) {
	defer c.wg.Done()
	defer source.Close()

	// 100ms read granularity.
	buf := make([]float32, c.cfg.Audio.SampleRate/10)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := source.ReadSamples(buf)
		if n > 0 {
			c.deliver(c.chunker.Ingest(buf[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.reportError(fmt.Errorf("capture source failed: %w", err))
				c.setStatus(StatusError)
			}
			return
		}
	}
}

func (c *Client) deliver(chunks []audio.Chunk) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for _, chunk := range chunks {
		if c.metrics != nil {
			c.metrics.RecordChunkEmitted(len(chunk.Payload))
		}
		c.scorer.RecordChunk(chunk.Sequence)
		if conn != nil {
			conn.SendChunk(chunk)
		}
	}
}

// Stop flushes the chunker tail, ends the session and disconnects. It
// returns the session's quality report.
func (c *Client) Stop(ctx context.Context) (quality.Report, error) {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	if tail := c.chunker.Flush(); tail != nil {
		c.deliver([]audio.Chunk{*tail})
	}

	var endErr error
	if conn != nil {
		if conn.State() == session.StateActive {
			if _, err := conn.EndSession(ctx); err != nil {
				endErr = err
				c.logger.Warn("session end failed", slog.String("error", err.Error()))
			}
		}
		conn.Disconnect()
	}

	c.publishStats(conn)
	c.setStatus(StatusStopped)

	report := c.scorer.Stop()
	if c.metrics != nil {
		c.metrics.RecordQualityReport(report.WER, report.QualityScore, report.Completeness)
	}
	return report, endErr
}

func (c *Client) publishStats(conn *session.Connection) {
	if c.metrics == nil {
		return
	}
	chunkStats := c.chunker.GetStats()
	c.metrics.ChunksSuppressed.Add(float64(chunkStats.VADSavings))
	if conn != nil {
		stats := conn.GetStats()
		c.metrics.SetQueueSize(stats.QueuedChunks)
	}
}

// GetMetrics returns the caller-facing counters. Valid at any time,
// including after an error.
func (c *Client) GetMetrics() Snapshot {
	c.mu.Lock()
	latencySum := c.latencySumMs
	latencyCount := c.latencyCount
	conn := c.conn
	c.mu.Unlock()

	snap := Snapshot{
		ChunksProcessed: c.chunker.GetStats().ChunksEmitted,
		VADSavings:      c.chunker.GetStats().VADSavings,
	}
	if latencyCount > 0 {
		snap.AvgLatencyMs = latencySum / float64(latencyCount)
	}
	if conn != nil {
		stats := conn.GetStats()
		snap.DroppedChunks = stats.DroppedChunks
		snap.ReconnectAttempts = stats.ReconnectAttempts
	}
	return snap
}
