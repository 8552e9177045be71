package audio

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("too short")); err == nil {
		t.Error("expected error for truncated data")
	}

	bad := make([]byte, 64)
	copy(bad, "JUNK")
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("expected error for non-RIFF data")
	}
}

func TestWAVSource(t *testing.T) {
	samples := make([]int16, 3200)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write wav file: %v", err)
	}

	src, err := OpenWAVSource(path, 16000)
	if err != nil {
		t.Fatalf("OpenWAVSource failed: %v", err)
	}
	defer src.Close()

	var total int
	buf := make([]float32, 1000)
	for {
		n, err := src.ReadSamples(buf)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadSamples failed: %v", err)
		}
	}

	if total != len(samples) {
		t.Errorf("expected %d samples read, got %d", len(samples), total)
	}
}

func TestWAVSourceAcquisitionFailures(t *testing.T) {
	_, err := OpenWAVSource("/nonexistent/file.wav", 16000)
	var rerr *ResourceError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResourceError for missing file, got %T: %v", err, err)
	}

	// Sample-rate mismatch is also an acquisition failure.
	samples := make([]int16, 800)
	data, err := EncodeWAV(samples, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "8k.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write wav file: %v", err)
	}

	_, err = OpenWAVSource(path, 16000)
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResourceError for rate mismatch, got %T: %v", err, err)
	}
}

func TestToneSource(t *testing.T) {
	src := NewToneSource(440, 0.5, 16000, 100) // 100ms = 1600 samples
	defer src.Close()

	var total int
	buf := make([]float32, 512)
	for {
		n, err := src.ReadSamples(buf)
		for i := 0; i < n; i++ {
			if buf[i] > 0.5 || buf[i] < -0.5 {
				t.Fatalf("sample %f outside amplitude bound", buf[i])
			}
		}
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadSamples failed: %v", err)
		}
	}

	if total != 1600 {
		t.Errorf("expected 1600 samples from 100ms tone, got %d", total)
	}
}

func TestSourceClosedRead(t *testing.T) {
	src := NewToneSource(440, 0.5, 16000, 0)
	src.Close()

	if _, err := src.ReadSamples(make([]float32, 10)); err == nil {
		t.Error("read after close should fail")
	}

	// Close is idempotent.
	if err := src.Close(); err != nil {
		t.Errorf("second close should succeed, got %v", err)
	}
}
