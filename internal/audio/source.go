package audio

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// Source is a capture device handle producing float32 samples in [-1, 1].
// Implementations are read by a single goroutine while recording.
type Source interface {
	// ReadSamples fills buf with up to len(buf) samples and returns the
	// number read. io.EOF signals the end of the source.
	ReadSamples(buf []float32) (int, error)

	// Close releases the device handle. Safe to call more than once.
	Close() error
}

// SourceOpener acquires a capture source. Acquisition failure is a
// ResourceError: fatal for recording startup, never retried.
type SourceOpener func() (Source, error)

// ResourceError indicates an audio capture source could not be acquired.
type ResourceError struct {
	Device string
	Err    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("failed to acquire audio source %s: %v", e.Device, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// WAVSource streams samples from a mono PCM-16 WAV file.
type WAVSource struct {
	samples []float32
	pos     int

	mu     sync.Mutex
	closed bool
}

// OpenWAVSource reads and decodes a WAV file into a capture source. The
// expected sample rate is validated against the file header.
func OpenWAVSource(path string, sampleRate int) (*WAVSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ResourceError{Device: path, Err: err}
	}

	pcm, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, &ResourceError{Device: path, Err: err}
	}

	if rate != sampleRate {
		return nil, &ResourceError{
			Device: path,
			Err:    fmt.Errorf("sample rate mismatch: file is %d Hz, pipeline expects %d Hz", rate, sampleRate),
		}
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}

	return &WAVSource{samples: samples}, nil
}

// ReadSamples implements Source.
func (w *WAVSource) ReadSamples(buf []float32) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("source is closed")
	}

	if w.pos >= len(w.samples) {
		return 0, io.EOF
	}

	n := copy(buf, w.samples[w.pos:])
	w.pos += n

	return n, nil
}

// Close implements Source.
func (w *WAVSource) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	return nil
}

// ToneSource generates a sine wave, used by the CLI demo and tests where no
// real capture device is available.
type ToneSource struct {
	frequency  float64
	amplitude  float64
	sampleRate int

	limit int // total samples to produce; 0 means unlimited
	pos   int

	mu     sync.Mutex
	closed bool
}

// NewToneSource creates a sine source. durationMs of 0 produces an unlimited
// stream.
func NewToneSource(frequency, amplitude float64, sampleRate, durationMs int) *ToneSource {
	return &ToneSource{
		frequency:  frequency,
		amplitude:  amplitude,
		sampleRate: sampleRate,
		limit:      sampleRate * durationMs / 1000,
	}
}

// ReadSamples implements Source.
func (t *ToneSource) ReadSamples(buf []float32) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, fmt.Errorf("source is closed")
	}

	n := len(buf)
	if t.limit > 0 {
		remaining := t.limit - t.pos
		if remaining <= 0 {
			return 0, io.EOF
		}
		if n > remaining {
			n = remaining
		}
	}

	step := 2 * math.Pi * t.frequency / float64(t.sampleRate)
	for i := 0; i < n; i++ {
		buf[i] = float32(t.amplitude * math.Sin(step*float64(t.pos+i)))
	}
	t.pos += n

	return n, nil
}

// Close implements Source.
func (t *ToneSource) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}
