package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription pipeline
type Metrics struct {
	// Watcher metrics
	FilesDetected  prometheus.Counter
	FileErrors     prometheus.Counter
	PendingFiles   prometheus.Gauge
	LiveRecordings prometheus.Gauge

	// Chunk extraction metrics
	ChunksExtracted prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram
	ChunksByKind    *prometheus.CounterVec

	// Queue metrics
	QueuePending   prometheus.Gauge
	QueueInFlight  prometheus.Gauge
	QueueCompleted prometheus.Counter
	QueueFailed    prometheus.Counter
	QueueRetries   prometheus.Counter
	BreakerTrips   prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Transcript metrics
	SegmentsMerged  prometheus.Counter
	RealtimeBuckets prometheus.Gauge
	RealtimeFlushes prometheus.Counter
	Coverage        prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Watcher metrics
		FilesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_files_detected_total",
			Help: "Total number of recording files detected by the watcher",
		}),
		FileErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_file_errors_total",
			Help: "Total number of file read or stat errors",
		}),
		PendingFiles: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "koenote_pending_files",
			Help: "Current number of detected but unprocessed chunks",
		}),
		LiveRecordings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "koenote_live_recordings",
			Help: "Current number of growing recordings under extraction",
		}),

		// Chunk extraction metrics
		ChunksExtracted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_chunks_extracted_total",
			Help: "Total number of audio chunks extracted",
		}),
		ChunkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "koenote_chunk_duration_seconds",
			Help:    "Duration of extracted audio chunks",
			Buckets: prometheus.LinearBuckets(2.5, 2.5, 10), // 2.5s to 25s
		}),
		ChunkSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "koenote_chunk_size_bytes",
			Help:    "Size of extracted audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		ChunksByKind: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "koenote_chunks_by_kind_total",
			Help: "Extracted chunks broken down by kind",
		}, []string{"kind"}),

		// Queue metrics
		QueuePending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "koenote_queue_pending",
			Help: "Current number of chunks waiting for transcription",
		}),
		QueueInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "koenote_queue_in_flight",
			Help: "Current number of chunks being transcribed",
		}),
		QueueCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_queue_completed_total",
			Help: "Total number of chunks transcribed successfully",
		}),
		QueueFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_queue_failed_total",
			Help: "Total number of chunks that exhausted retries",
		}),
		QueueRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_queue_retries_total",
			Help: "Total number of transcription retries scheduled",
		}),
		BreakerTrips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "koenote_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Transcript metrics
		SegmentsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_segments_merged_total",
			Help: "Total number of transcript segments merged into the realtime buffer",
		}),
		RealtimeBuckets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "koenote_realtime_buckets",
			Help: "Current number of time buckets in the realtime buffer",
		}),
		RealtimeFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "koenote_realtime_flushes_total",
			Help: "Total number of realtime transcript file writes",
		}),
		Coverage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "koenote_transcript_coverage_ratio",
			Help: "Fraction of recording time covered by transcribed segments",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "koenote_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "koenote_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "koenote_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFileDetected increments the files detected counter
func (m *Metrics) RecordFileDetected() {
	m.FilesDetected.Inc()
}

// RecordFileError increments the file errors counter
func (m *Metrics) RecordFileError() {
	m.FileErrors.Inc()
}

// SetPendingFiles sets the current number of unprocessed chunks
func (m *Metrics) SetPendingFiles(count int) {
	m.PendingFiles.Set(float64(count))
}

// SetLiveRecordings sets the current number of growing recordings
func (m *Metrics) SetLiveRecordings(count int) {
	m.LiveRecordings.Set(float64(count))
}

// RecordChunkExtracted records an extracted audio chunk
func (m *Metrics) RecordChunkExtracted(kind string, durationSeconds float64, sizeBytes int) {
	m.ChunksExtracted.Inc()
	m.ChunksByKind.WithLabelValues(kind).Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// SetQueueDepth sets the pending and in-flight gauges together
func (m *Metrics) SetQueueDepth(pending, inFlight int) {
	m.QueuePending.Set(float64(pending))
	m.QueueInFlight.Set(float64(inFlight))
}

// RecordChunkCompleted increments the completed chunk counter
func (m *Metrics) RecordChunkCompleted() {
	m.QueueCompleted.Inc()
}

// RecordChunkFailed increments the failed chunk counter
func (m *Metrics) RecordChunkFailed() {
	m.QueueFailed.Inc()
}

// RecordRetries adds to the retry counter
func (m *Metrics) RecordRetries(count int) {
	m.QueueRetries.Add(float64(count))
}

// RecordBreakerTrip increments the breaker trip counter
func (m *Metrics) RecordBreakerTrip() {
	m.BreakerTrips.Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordSegmentsMerged adds to the merged segment counter
func (m *Metrics) RecordSegmentsMerged(count int) {
	m.SegmentsMerged.Add(float64(count))
}

// SetRealtimeBuckets sets the realtime buffer size gauge
func (m *Metrics) SetRealtimeBuckets(count int) {
	m.RealtimeBuckets.Set(float64(count))
}

// RecordRealtimeFlush increments the flush counter
func (m *Metrics) RecordRealtimeFlush() {
	m.RealtimeFlushes.Inc()
}

// SetCoverage sets the transcript coverage gauge
func (m *Metrics) SetCoverage(ratio float64) {
	m.Coverage.Set(ratio)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
