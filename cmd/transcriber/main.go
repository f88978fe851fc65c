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

	"github.com/joho/godotenv"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
	"github.com/iwabuchi404/koe-note-sub001/internal/config"
	"github.com/iwabuchi404/koe-note-sub001/internal/metrics"
	"github.com/iwabuchi404/koe-note-sub001/internal/pipeline"
	"github.com/iwabuchi404/koe-note-sub001/internal/queue"
	"github.com/iwabuchi404/koe-note-sub001/internal/server"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcript"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcription"
	"github.com/iwabuchi404/koe-note-sub001/internal/watch"
)

const (
	serviceName    = "koe-note-transcriber"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	watchDir := flag.String("dir", "", "Recording directory to watch (overrides config)")
	outputPath := flag.String("output", "", "Transcript output path (overrides config)")
	flag.Parse()

	// Load .env if present so the API key can live outside the YAML file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := loadConfig(*configPath, *watchDir, *outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("directory", cfg.Watcher.Directory),
		slog.Float64("interval_seconds", cfg.Chunking.IntervalSeconds),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("model", cfg.Transcription.Model),
		slog.String("language", cfg.Transcription.Language),
		slog.Int("queue_workers", cfg.Queue.MaxConcurrency),
		slog.String("output_path", cfg.Realtime.OutputPath),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize the transcription pipeline
	pipe, err := pipeline.NewPipeline(buildPipelineConfig(cfg), logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline initialized",
		slog.String("directory", cfg.Watcher.Directory),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, pipe, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start the pipeline
	pipe.Start()

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("directory", cfg.Watcher.Directory),
	)

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the pipeline (drain the queue, write the final transcript)
	pipe.Stop()

	// Get final statistics
	stats := pipe.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("chunks_in", stats.ChunksIn),
		slog.Uint64("results_completed", stats.ResultsCompleted),
		slog.Uint64("results_failed", stats.ResultsFailed),
		slog.Uint64("segments_merged", stats.SegmentsMerged),
		slog.Float64("coverage", stats.Coverage),
	)

	logger.Info("Service stopped")
}

// loadConfig builds the effective configuration from the optional YAML
// file, environment, and command line overrides.
func loadConfig(path, watchDir, outputPath string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if key := os.Getenv("TRANSCRIBE_API_KEY"); key != "" {
		cfg.Transcription.APIKey = key
	}
	if watchDir != "" {
		cfg.Watcher.Directory = watchDir
	}
	if outputPath != "" {
		cfg.Realtime.OutputPath = outputPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildPipelineConfig maps the YAML configuration onto the component configs.
func buildPipelineConfig(cfg *config.Config) pipeline.Config {
	consolidator := transcript.DefaultConsolidatorConfig()
	consolidator.OverlapThreshold = cfg.Consolidation.OverlapThreshold
	consolidator.QualityThreshold = cfg.Consolidation.QualityThreshold
	consolidator.EnableTextSmoothing = cfg.Consolidation.EnableTextSmoothing
	consolidator.EnableTimeAdjustment = cfg.Consolidation.EnableTimeAdjustment
	consolidator.MaxGapSeconds = cfg.Consolidation.MaxSilenceGap
	consolidator.SilenceText = cfg.Consolidation.SilencePlaceholder

	return pipeline.Config{
		Watcher: watch.Config{
			Directory:    cfg.Watcher.Directory,
			PollInterval: cfg.Watcher.GetPollInterval(),
			Extractor: chunk.ExtractorConfig{
				IntervalSeconds:  cfg.Chunking.IntervalSeconds,
				OverlapSeconds:   cfg.Chunking.OverlapSeconds,
				MinChunkDuration: cfg.Chunking.MinChunkDuration,
				SampleRate:       cfg.Chunking.SampleRate,
				Channels:         cfg.Chunking.Channels,
			},
			Stability: chunk.StabilityConfig{
				Delay:    cfg.Chunking.GetStabilityDelay(),
				MinBytes: cfg.Chunking.MinStableBytes,
			},
		},
		Transcription: transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Language:      cfg.Transcription.Language,
			Model:         cfg.Transcription.Model,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			OutputFormat:  cfg.Transcription.OutputFormat,
		},
		Queue: queue.Config{
			Workers:          cfg.Queue.MaxConcurrency,
			MaxRetries:       cfg.Queue.MaxRetries,
			RetryBaseDelay:   cfg.Queue.GetBackoffBase(),
			RetryMaxDelay:    cfg.Queue.GetBackoffMax(),
			BreakerThreshold: cfg.Queue.BreakerThreshold,
			BreakerWindow:    cfg.Queue.GetBreakerWindow(),
		},
		Consolidator: consolidator,
		Realtime: transcript.RealtimeConfig{
			OutputPath:    cfg.Realtime.OutputPath,
			WriteInterval: cfg.Realtime.GetWriteInterval(),
			BufferSize:    cfg.Realtime.BufferSize,
		},
		Writer: transcript.WriterConfig{
			Timestamped: cfg.Realtime.Timestamped,
		},
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
