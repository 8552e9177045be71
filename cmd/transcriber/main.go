package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxstream/transcriber/internal/audio"
	"github.com/voxstream/transcriber/internal/client"
	"github.com/voxstream/transcriber/internal/config"
	"github.com/voxstream/transcriber/internal/metrics"
	"github.com/voxstream/transcriber/internal/protocol"
	"github.com/voxstream/transcriber/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "transcriber"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "WAV file to stream (16-bit mono PCM); empty streams a generated tone")
	durationMs := flag.Int("duration", 5000, "Tone duration in milliseconds when no input file is given")
	referencePath := flag.String("reference", "", "Ground-truth transcript file for word error rate measurement")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Client starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("backend_url", cfg.Backend.URL),
		slog.String("language", cfg.Backend.Language),
		slog.String("quality_mode", cfg.Backend.QualityMode),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("chunk_duration_ms", cfg.Audio.ChunkDurationMs),
		slog.Int("overlap_ms", cfg.Audio.OverlapMs),
		slog.Float64("vad_threshold", cfg.VAD.Threshold),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Capture source: a WAV file when given, a generated tone otherwise
	openSource := func() (audio.Source, error) {
		if *inputPath != "" {
			return audio.OpenWAVSource(*inputPath, cfg.Audio.SampleRate)
		}
		return audio.NewToneSource(440, 0.5, cfg.Audio.SampleRate, *durationMs), nil
	}

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	c, err := client.New(cfg, transport.NewWebSocketDialer(), openSource, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *referencePath != "" {
		reference, err := os.ReadFile(*referencePath)
		if err != nil {
			logger.Error("Failed to read reference transcript", slog.String("error", err.Error()))
			os.Exit(1)
		}
		c.SetReference(string(reference))
	}

	c.OnTranscription(func(seg protocol.TranscriptSegment) {
		if seg.IsFinal {
			fmt.Println(seg.Text)
		}
	})
	c.OnError(func(err error) {
		logger.Warn("Pipeline error", slog.String("error", err.Error()))
	})
	c.OnStatusChange(func(s client.Status) {
		logger.Info("Status changed", slog.String("status", string(s)))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		logger.Error("Failed to start streaming", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Streaming started, waiting for completion or signal...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Stopping...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	report, err := c.Stop(stopCtx)
	if err != nil {
		logger.Error("Error stopping client", slog.String("error", err.Error()))
	}

	snap := c.GetMetrics()
	logger.Info("Final pipeline statistics",
		slog.Uint64("chunks_processed", snap.ChunksProcessed),
		slog.Uint64("dropped_chunks", snap.DroppedChunks),
		slog.Uint64("vad_savings", snap.VADSavings),
		slog.Uint64("reconnect_attempts", snap.ReconnectAttempts),
		slog.Float64("avg_latency_ms", snap.AvgLatencyMs),
	)

	logger.Info("Quality report",
		slog.Duration("duration", report.Duration),
		slog.Int("total_words", report.TotalWords),
		slog.Int("final_segments", report.FinalSegments),
		slog.Float64("avg_confidence", report.AvgConfidence),
		slog.Float64("avg_latency_ms", report.AvgLatencyMs),
		slog.Float64("p95_latency_ms", report.P95LatencyMs),
		slog.Float64("wer", report.WER),
		slog.Float64("completeness", report.Completeness),
		slog.Float64("quality_score", report.QualityScore),
		slog.Bool("passed", report.Passed),
	)

	logger.Info("Client stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.Logging) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, using stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}
