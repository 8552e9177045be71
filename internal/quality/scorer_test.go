package quality

import (
	"io"
	"log/slog"
	"testing"

	"github.com/voxstream/transcriber/internal/config"
	"github.com/voxstream/transcriber/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func benchmarks() config.Quality {
	return config.Quality{
		MaxWER:           0.10,
		MaxAvgLatencyMs:  500,
		MinAvgConfidence: 0.95,
	}
}

func segment(text string, chunkID uint64, conf float64, final bool, ageMs int64) protocol.TranscriptSegment {
	return protocol.TranscriptSegment{
		Text:       text,
		Confidence: conf,
		IsFinal:    final,
		IsInterim:  !final,
		ChunkID:    chunkID,
		Timestamp:  protocol.NowMillis() - ageMs,
	}
}

func TestInterimSlotLastWins(t *testing.T) {
	s := NewScorer(benchmarks(), testLogger())

	s.Observe(segment("hel", 1, 0.5, false, 10))
	s.Observe(segment("hello", 1, 0.7, false, 10))

	interim, ok := s.Interim()
	if !ok {
		t.Fatal("expected an interim segment")
	}
	if interim.Text != "hello" {
		t.Errorf("interim text = %q, want the latest %q", interim.Text, "hello")
	}

	// The final for the same chunk clears the interim slot.
	s.Observe(segment("hello", 1, 0.95, true, 10))
	if _, ok := s.Interim(); ok {
		t.Error("interim slot should be empty after the matching final")
	}
}

func TestTranscriptAndDrift(t *testing.T) {
	s := NewScorer(benchmarks(), testLogger())

	s.Observe(segment("the quick brown fox", 1, 0.9, true, 10))
	s.Observe(segment("the quick fox", 2, 0.9, true, 10))

	if got := s.Transcript(); got != "the quick brown fox the quick fox" {
		t.Errorf("transcript = %q", got)
	}
	if got := s.Drift(); got != 0.25 {
		t.Errorf("drift = %v, want 0.25", got)
	}
}

func TestCompleteness(t *testing.T) {
	s := NewScorer(benchmarks(), testLogger())

	s.RecordChunk(1)
	s.RecordChunk(2)
	s.RecordChunk(3)
	s.Observe(segment("one", 1, 0.9, true, 10))
	s.Observe(segment("two", 2, 0.9, true, 10))

	r := s.Stop()
	want := 2.0 / 3.0
	if r.Completeness != want {
		t.Errorf("completeness = %v, want %v", r.Completeness, want)
	}
}

func TestCompletenessWithoutChunksIsFull(t *testing.T) {
	s := NewScorer(benchmarks(), testLogger())
	r := s.Stop()
	if r.Completeness != 1.0 {
		t.Errorf("completeness = %v, want 1.0 when nothing was sent", r.Completeness)
	}
	if r.QualityScore < 0 || r.QualityScore > 1 {
		t.Errorf("quality score = %v, want within [0, 1]", r.QualityScore)
	}
}

func TestReportAgainstBenchmarks(t *testing.T) {
	s := NewScorer(benchmarks(), testLogger())
	s.SetReference("the quick brown fox jumps over the lazy dog")

	s.RecordChunk(1)
	s.RecordChunk(2)
	s.Observe(segment("the quick brown fox", 1, 0.97, true, 100))
	s.Observe(segment("jumps over the lazy dog", 2, 0.98, true, 100))

	r := s.Stop()

	if !r.HasReference {
		t.Error("expected HasReference")
	}
	if r.WER != 0 {
		t.Errorf("WER = %v, want 0", r.WER)
	}
	if r.TotalWords != 9 {
		t.Errorf("total words = %d, want 9", r.TotalWords)
	}
	if r.AvgLatencyMs < 90 || r.AvgLatencyMs > 300 {
		t.Errorf("avg latency = %v ms, want roughly 100", r.AvgLatencyMs)
	}
	if r.AvgConfidence < 0.97 || r.AvgConfidence > 0.98 {
		t.Errorf("avg confidence = %v, want 0.975", r.AvgConfidence)
	}
	if r.Completeness != 1.0 {
		t.Errorf("completeness = %v, want 1.0", r.Completeness)
	}
	if !r.Passed {
		t.Errorf("report did not pass benchmarks: %+v", r)
	}
	if r.QualityScore < 0.85 || r.QualityScore > 1 {
		t.Errorf("quality score = %v, want close to 1", r.QualityScore)
	}
}

func TestStabilityWERFeedsScoreWithoutReference(t *testing.T) {
	s := NewScorer(benchmarks(), testLogger())

	// Two fully divergent finals: the stability signal is 1.0 and must
	// drive both the accuracy term and the benchmark.
	s.Observe(segment("alpha beta gamma delta", 1, 0.99, true, 10))
	s.Observe(segment("zebra yak xray walrus", 2, 0.99, true, 10))

	r := s.Stop()
	if r.HasReference {
		t.Error("HasReference should be false")
	}
	if r.Drift != 1.0 {
		t.Fatalf("drift = %v, want 1.0", r.Drift)
	}
	if r.WER != 1.0 {
		t.Errorf("WER = %v, want the drift value 1.0", r.WER)
	}
	if r.WERPass {
		t.Error("WER benchmark should fail on fully divergent finals")
	}
	// The accuracy term is zeroed, so the score cannot exceed the other
	// three weights combined.
	if r.QualityScore > 0.8 {
		t.Errorf("quality score = %v, want at most 0.8", r.QualityScore)
	}
}

func TestReportFailsBenchmarks(t *testing.T) {
	s := NewScorer(benchmarks(), testLogger())
	s.SetReference("completely different words here")

	s.RecordChunk(1)
	s.Observe(segment("nothing matches at all", 1, 0.5, true, 900))

	r := s.Stop()
	if r.WERPass {
		t.Error("WER benchmark should fail")
	}
	if r.LatencyPass {
		t.Error("latency benchmark should fail")
	}
	if r.ConfidencePass {
		t.Error("confidence benchmark should fail")
	}
	if r.Passed {
		t.Error("report should not pass")
	}
	if r.QualityScore < 0 || r.QualityScore > 1 {
		t.Errorf("quality score = %v, want within [0, 1]", r.QualityScore)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if got := percentile(values, 0.95); got != 100 {
		t.Errorf("p95 = %v, want 100", got)
	}
	if got := percentile(values, 0.5); got != 50 {
		t.Errorf("p50 = %v, want 50", got)
	}
	if got := percentile([]float64{42}, 0.95); got != 42 {
		t.Errorf("p95 of singleton = %v, want 42", got)
	}
}
