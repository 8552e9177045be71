package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/voxstream/transcriber/internal/config"
)

const bytesPerSample = 2 // PCM-16 mono

// Chunk represents a fixed-duration unit of PCM-16 audio ready for streaming.
// Sequence numbers are assigned only to emitted (voice-active) chunks and are
// strictly increasing.
type Chunk struct {
	Payload     []byte        `json:"-"`
	Sequence    uint64        `json:"sequence"`
	Timestamp   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration"`
	VoiceActive bool          `json:"voice_active"`
}

// ChunkerConfig contains configuration for the capture chunker
type ChunkerConfig struct {
	SampleRate      int
	Channels        int
	ChunkDurationMs int
	OverlapMs       int
	VADThreshold    float64 // RMS energy threshold; 0 uses the default
}

// DefaultVADThreshold is the RMS energy level above which a chunk is
// considered voice-active.
const DefaultVADThreshold = 0.01

// Chunker converts raw float32 audio samples into fixed-size, overlapping,
// voice-gated PCM-16 chunks. Quantization, buffering, extraction, and energy
// gating all happen in Ingest; chunks below the energy threshold are dropped
// and counted, never surfaced as errors.
type Chunker struct {
	config       ChunkerConfig
	ring         *Ring
	chunkBytes   int
	overlapBytes int
	stepBytes    int

	scratch []byte // quantization buffer, reused across Ingest calls
	extract []byte // chunk extraction buffer, reused across emissions

	sequence uint64

	// Statistics
	chunksEmitted   uint64
	vadSavings      uint64
	samplesIngested uint64

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksEmitted   uint64 `json:"chunks_emitted"`
	VADSavings      uint64 `json:"vad_savings"`
	SamplesIngested uint64 `json:"samples_ingested"`
	BufferedBytes   int    `json:"buffered_bytes"`
}

// NewChunker creates a new capture chunker. Overlap must be strictly smaller
// than the chunk duration; violations are construction-fatal.
func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	if cfg.SampleRate <= 0 {
		return nil, &config.ConfigurationError{
			Field:  "audio.sample_rate",
			Reason: fmt.Sprintf("must be positive, got %d", cfg.SampleRate),
		}
	}

	if cfg.Channels != 1 {
		return nil, &config.ConfigurationError{
			Field:  "audio.channels",
			Reason: fmt.Sprintf("must be 1 (mono), got %d", cfg.Channels),
		}
	}

	if cfg.ChunkDurationMs <= 0 {
		return nil, &config.ConfigurationError{
			Field:  "audio.chunk_duration_ms",
			Reason: fmt.Sprintf("must be positive, got %d", cfg.ChunkDurationMs),
		}
	}

	if cfg.OverlapMs < 0 || cfg.OverlapMs >= cfg.ChunkDurationMs {
		return nil, &config.ConfigurationError{
			Field:  "audio.overlap_ms",
			Reason: fmt.Sprintf("overlap (%d ms) must be in [0, chunk duration %d ms)", cfg.OverlapMs, cfg.ChunkDurationMs),
		}
	}

	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = DefaultVADThreshold
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return nil, &config.ConfigurationError{
			Field:  "vad.threshold",
			Reason: fmt.Sprintf("must be between 0 and 1, got %f", cfg.VADThreshold),
		}
	}

	chunkBytes := cfg.SampleRate * cfg.ChunkDurationMs / 1000 * bytesPerSample
	overlapBytes := cfg.SampleRate * cfg.OverlapMs / 1000 * bytesPerSample

	// Room for one full chunk plus several steps of slack so a single Ingest
	// call can always make forward progress.
	ring, err := NewRing(chunkBytes * 4)
	if err != nil {
		return nil, err
	}

	return &Chunker{
		config:       cfg,
		ring:         ring,
		chunkBytes:   chunkBytes,
		overlapBytes: overlapBytes,
		stepBytes:    chunkBytes - overlapBytes,
		extract:      make([]byte, chunkBytes),
	}, nil
}

// ChunkBytes returns the exact byte length of every emitted chunk.
func (c *Chunker) ChunkBytes() int {
	return c.chunkBytes
}

// Ingest quantizes the given samples (expected in [-1, 1]) to PCM-16 and
// returns any chunks that became complete. Chunks failing the voice gate are
// dropped silently and counted in VADSavings.
func (c *Chunker) Ingest(samples []float32) []Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	need := len(samples) * bytesPerSample
	if cap(c.scratch) < need {
		c.scratch = make([]byte, need)
	}
	buf := c.scratch[:need]

	for i, s := range samples {
		v := quantize(s)
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	c.samplesIngested += uint64(len(samples))

	var chunks []Chunk
	for len(buf) > 0 {
		n := c.ring.Write(buf)
		buf = buf[n:]
		chunks = c.drain(chunks)

		if n == 0 && c.ring.Len() < c.chunkBytes {
			// Cannot happen with ring capacity > chunkBytes, but never spin.
			break
		}
	}

	return chunks
}

// Flush pads any buffered tail with silence to the exact chunk length and
// pushes it through the same voice gate. Used when capture stops so trailing
// audio is not lost. Returns nil when nothing was buffered or the tail failed
// the gate.
func (c *Chunker) Flush() *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	buffered := c.ring.Len()
	if buffered == 0 {
		return nil
	}

	tail := c.extract[:c.chunkBytes]
	if err := c.ring.Peek(tail[:buffered]); err != nil {
		return nil
	}
	for i := buffered; i < c.chunkBytes; i++ {
		tail[i] = 0
	}
	c.ring.Reset()

	return c.gate(tail)
}

// drain extracts complete chunks from the ring, gating each on RMS energy.
func (c *Chunker) drain(chunks []Chunk) []Chunk {
	for c.ring.Len() >= c.chunkBytes {
		if err := c.ring.Peek(c.extract); err != nil {
			break
		}

		if chunk := c.gate(c.extract); chunk != nil {
			chunks = append(chunks, *chunk)
		}

		// Keep the overlap tail buffered for the next chunk. The step is
		// independent of whether the gate passed, so overlap stays exact
		// across VAD drops.
		if err := c.ring.Discard(c.stepBytes); err != nil {
			break
		}
	}

	return chunks
}

// gate applies the RMS energy gate to one chunk-sized buffer.
func (c *Chunker) gate(payload []byte) *Chunk {
	rms := RMSEnergy(payload)
	if rms <= c.config.VADThreshold {
		c.vadSavings++
		return nil
	}

	c.sequence++
	c.chunksEmitted++

	out := make([]byte, len(payload))
	copy(out, payload)

	return &Chunk{
		Payload:     out,
		Sequence:    c.sequence,
		Timestamp:   time.Now(),
		Duration:    time.Duration(c.config.ChunkDurationMs) * time.Millisecond,
		VoiceActive: true,
	}
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		ChunksEmitted:   c.chunksEmitted,
		VADSavings:      c.vadSavings,
		SamplesIngested: c.samplesIngested,
		BufferedBytes:   c.ring.Len(),
	}
}

// RMSEnergy computes the root-mean-square energy of little-endian PCM-16
// data, normalized to [0, 1].
func RMSEnergy(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		v := float64(s) / 32768.0
		sum += v * v
	}

	return math.Sqrt(sum / float64(n))
}

// quantize converts a float32 sample in [-1, 1] to a 16-bit signed integer,
// clamping out-of-range input.
func quantize(s float32) int16 {
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}

	return int16(math.Round(v * 32767))
}
