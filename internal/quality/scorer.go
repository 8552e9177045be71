package quality

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voxstream/transcriber/internal/config"
	"github.com/voxstream/transcriber/internal/protocol"
)

// Score weights. Latency saturates at one second, word error at 50%.
const (
	weightConfidence   = 0.4
	weightLatency      = 0.3
	weightAccuracy     = 0.2
	weightCompleteness = 0.1

	latencyCeilingMs = 1000.0
	werCeiling       = 0.5
)

// Report summarizes a finished session against the configured benchmarks.
type Report struct {
	Transcript    string
	Duration      time.Duration
	TotalWords    int
	FinalSegments int

	AvgConfidence float64
	AvgLatencyMs  float64
	P95LatencyMs  float64

	WER          float64
	HasReference bool
	Drift        float64
	Completeness float64
	QualityScore float64

	WERPass        bool
	LatencyPass    bool
	ConfidencePass bool
	Passed         bool
}

// Scorer accumulates transcript segments and timing observations for one
// session and condenses them into a quality report. Interim segments occupy
// a single last-wins slot; finals are append-only.
type Scorer struct {
	cfg     config.Quality
	logger  *slog.Logger
	started time.Time

	mu        sync.Mutex
	interim   *protocol.TranscriptSegment
	finals    []protocol.TranscriptSegment
	reference string

	latenciesMs []float64
	confSum     float64

	voicedChunks map[uint64]bool
	coveredChunk map[uint64]bool

	drift float64
}

// NewScorer creates a scorer using the configured benchmark thresholds.
func NewScorer(cfg config.Quality, logger *slog.Logger) *Scorer {
	return &Scorer{
		cfg:          cfg,
		logger:       logger,
		started:      time.Now(),
		voicedChunks: make(map[uint64]bool),
		coveredChunk: make(map[uint64]bool),
	}
}

// SetReference supplies the ground-truth transcript. Without a reference
// the reported word error rate is the stability signal between consecutive
// finals, flagged by HasReference=false.
func (s *Scorer) SetReference(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reference = text
}

// RecordChunk notes that a voice-active chunk was sent for transcription.
// Completeness is the fraction of these covered by at least one final.
func (s *Scorer) RecordChunk(sequence uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voicedChunks[sequence] = true
}

// Observe processes a segment received from the backend. Latency is
// measured from the segment's production timestamp to local receipt.
func (s *Scorer) Observe(seg protocol.TranscriptSegment) {
	latencyMs := float64(protocol.NowMillis() - seg.Timestamp)
	if latencyMs < 0 {
		latencyMs = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.latenciesMs = append(s.latenciesMs, latencyMs)
	s.confSum += seg.Confidence

	if !seg.IsFinal {
		copied := seg
		s.interim = &copied
		return
	}

	if n := len(s.finals); n > 0 {
		s.drift = WordErrorRate(s.finals[n-1].Text, seg.Text)
	}
	s.finals = append(s.finals, seg)
	s.coveredChunk[seg.ChunkID] = true
	if s.interim != nil && s.interim.ChunkID == seg.ChunkID {
		s.interim = nil
	}
}

// Interim returns the current interim segment, if any.
func (s *Scorer) Interim() (protocol.TranscriptSegment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interim == nil {
		return protocol.TranscriptSegment{}, false
	}
	return *s.interim, true
}

// Transcript joins the finalized segments in arrival order.
func (s *Scorer) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

func (s *Scorer) transcriptLocked() string {
	parts := make([]string, len(s.finals))
	for i, seg := range s.finals {
		parts[i] = seg.Text
	}
	return strings.Join(parts, " ")
}

// Drift returns the word-level divergence between the last two finals.
func (s *Scorer) Drift() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drift
}

// Stop computes the final report. The scorer can keep observing afterwards;
// Stop only snapshots.
func (s *Scorer) Stop() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{
		Transcript:    s.transcriptLocked(),
		Duration:      time.Since(s.started),
		FinalSegments: len(s.finals),
		Drift:         s.drift,
		HasReference:  s.reference != "",
	}
	r.TotalWords = len(strings.Fields(r.Transcript))

	if n := len(s.latenciesMs); n > 0 {
		var sum float64
		for _, l := range s.latenciesMs {
			sum += l
		}
		r.AvgLatencyMs = sum / float64(n)
		r.AvgConfidence = s.confSum / float64(n)
		r.P95LatencyMs = percentile(s.latenciesMs, 0.95)
	}

	if r.HasReference {
		r.WER = WordErrorRate(s.reference, r.Transcript)
	} else {
		// Without ground truth the stability signal between consecutive
		// finals stands in as the error rate.
		r.WER = s.drift
	}

	r.Completeness = 1.0
	if len(s.voicedChunks) > 0 {
		covered := 0
		for seq := range s.voicedChunks {
			if s.coveredChunk[seq] {
				covered++
			}
		}
		r.Completeness = float64(covered) / float64(len(s.voicedChunks))
	}

	r.QualityScore = clamp01(
		weightConfidence*r.AvgConfidence +
			weightLatency*clamp01(1-r.AvgLatencyMs/latencyCeilingMs) +
			weightAccuracy*clamp01(1-r.WER/werCeiling) +
			weightCompleteness*r.Completeness)

	r.WERPass = r.WER <= s.cfg.MaxWER
	r.LatencyPass = r.AvgLatencyMs <= s.cfg.MaxAvgLatencyMs
	r.ConfidencePass = r.AvgConfidence >= s.cfg.MinAvgConfidence
	r.Passed = r.WERPass && r.LatencyPass && r.ConfidencePass

	s.logger.Info("quality report",
		slog.Int("final_segments", r.FinalSegments),
		slog.Float64("avg_confidence", r.AvgConfidence),
		slog.Float64("avg_latency_ms", r.AvgLatencyMs),
		slog.Float64("wer", r.WER),
		slog.Float64("completeness", r.Completeness),
		slog.Float64("quality_score", r.QualityScore),
		slog.Bool("passed", r.Passed))

	return r
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
