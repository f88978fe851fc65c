package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iwabuchi404/koe-note-sub001/internal/config"
	"github.com/iwabuchi404/koe-note-sub001/internal/metrics"
	"github.com/iwabuchi404/koe-note-sub001/internal/pipeline"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, p *pipeline.Pipeline, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		pipeline:  p,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Pipeline monitoring endpoints
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/queue", h.withMetrics("/stats/queue", h.handleQueueItems))
	mux.HandleFunc("/pending", h.withMetrics("/pending", h.handlePending))

	// Current realtime transcript text
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	stats := h.pipeline.GetStats()

	status := "healthy"
	if stats.Queue.BreakerTripped {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "koe-note-transcriber",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"watcher": map[string]interface{}{
				"status":          "running",
				"files_detected":  stats.Watcher.FilesDetected,
				"chunks_emitted":  stats.Watcher.ChunksEmitted,
				"pending_count":   stats.Watcher.PendingCount,
				"live_recordings": stats.Watcher.LiveRecordings,
			},
			"queue": map[string]interface{}{
				"status":          "running",
				"pending":         stats.Queue.Pending,
				"in_flight":       stats.Queue.InFlight,
				"breaker_tripped": stats.Queue.BreakerTripped,
			},
			"transcription": map[string]interface{}{
				"status":          "running",
				"total_requests":  stats.Client.TotalRequests,
				"success_rate":    stats.Client.SuccessRate,
				"active_requests": stats.Client.ActiveRequests,
			},
		},
	}
	if stats.BreakerMessage != "" {
		health["error"] = stats.BreakerMessage
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.pipeline.GetStats()

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"pipeline":  stats,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleQueueItems implements the /stats/queue endpoint
func (h *HTTPServer) handleQueueItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items := h.pipeline.QueueItems()

	response := map[string]interface{}{
		"total_items": len(items),
		"timestamp":   time.Now().UTC(),
		"items":       items,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handlePending implements the /pending endpoint
func (h *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pending := h.pipeline.PendingFiles()

	response := map[string]interface{}{
		"total_pending": len(pending),
		"timestamp":     time.Now().UTC(),
		"files":         pending,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleTranscript implements the /transcript endpoint. The current
// realtime text is served as plain UTF-8, not JSON, so it can be tailed
// or rendered directly.
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, h.pipeline.RealtimeText())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// API key is masked by Sanitized
	cfg := h.config.Sanitized()

	sanitizedConfig := map[string]interface{}{
		"watcher": map[string]interface{}{
			"directory":        cfg.Watcher.Directory,
			"poll_interval_ms": cfg.Watcher.PollIntervalMs,
		},
		"chunking": map[string]interface{}{
			"interval_seconds":   cfg.Chunking.IntervalSeconds,
			"overlap_seconds":    cfg.Chunking.OverlapSeconds,
			"stability_delay_ms": cfg.Chunking.StabilityDelayMs,
			"min_stable_bytes":   cfg.Chunking.MinStableBytes,
			"min_chunk_duration": cfg.Chunking.MinChunkDuration,
			"sample_rate":        cfg.Chunking.SampleRate,
			"channels":           cfg.Chunking.Channels,
		},
		"transcription": map[string]interface{}{
			"endpoint":       cfg.Transcription.Endpoint,
			"api_key":        cfg.Transcription.APIKey,
			"model":          cfg.Transcription.Model,
			"language":       cfg.Transcription.Language,
			"timeout":        cfg.Transcription.Timeout,
			"max_concurrent": cfg.Transcription.MaxConcurrent,
			"output_format":  cfg.Transcription.OutputFormat,
		},
		"queue": map[string]interface{}{
			"max_concurrency":        cfg.Queue.MaxConcurrency,
			"max_retries":            cfg.Queue.MaxRetries,
			"backoff_base_ms":        cfg.Queue.BackoffBaseMs,
			"backoff_max_ms":         cfg.Queue.BackoffMaxMs,
			"breaker_threshold":      cfg.Queue.BreakerThreshold,
			"breaker_window_seconds": cfg.Queue.BreakerWindowSeconds,
		},
		"consolidation": map[string]interface{}{
			"overlap_threshold":      cfg.Consolidation.OverlapThreshold,
			"quality_threshold":      cfg.Consolidation.QualityThreshold,
			"enable_text_smoothing":  cfg.Consolidation.EnableTextSmoothing,
			"enable_time_adjustment": cfg.Consolidation.EnableTimeAdjustment,
			"max_silence_gap":        cfg.Consolidation.MaxSilenceGap,
			"silence_placeholder":    cfg.Consolidation.SilencePlaceholder,
		},
		"realtime": map[string]interface{}{
			"write_interval_ms": cfg.Realtime.WriteIntervalMs,
			"buffer_size":       cfg.Realtime.BufferSize,
			"output_path":       cfg.Realtime.OutputPath,
			"timestamped":       cfg.Realtime.Timestamped,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Koe-Note Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":            "API documentation",
			"GET /health":      "Service health check",
			"GET /stats":       "Pipeline statistics",
			"GET /stats/queue": "Per-chunk queue items",
			"GET /pending":     "Files awaiting transcription",
			"GET /transcript":  "Current realtime transcript text",
			"GET /config":      "Service configuration",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
