package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iwabuchi404/koe-note-sub001/internal/metrics"
	"github.com/iwabuchi404/koe-note-sub001/internal/queue"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcript"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcription"
	"github.com/iwabuchi404/koe-note-sub001/internal/watch"
)

// DefaultDrainTimeout bounds how long Stop waits for the queue to finish
// outstanding chunks before writing the final transcript.
const DefaultDrainTimeout = 30 * time.Second

// Config contains configuration for the whole pipeline
type Config struct {
	Watcher       watch.Config
	Transcription transcription.Config
	Queue         queue.Config
	Consolidator  transcript.ConsolidatorConfig
	Realtime      transcript.RealtimeConfig
	Writer        transcript.WriterConfig

	// DrainTimeout caps the shutdown wait for pending transcriptions.
	DrainTimeout time.Duration
}

// Stats aggregates component snapshots for monitoring
type Stats struct {
	Uptime           string                    `json:"uptime"`
	ChunksIn         uint64                    `json:"chunks_in"`
	ResultsCompleted uint64                    `json:"results_completed"`
	ResultsFailed    uint64                    `json:"results_failed"`
	SegmentsMerged   uint64                    `json:"segments_merged"`
	Coverage         float64                   `json:"coverage"`
	BreakerMessage   string                    `json:"breaker_message,omitempty"`
	Watcher          watch.Stats               `json:"watcher"`
	Queue            queue.QueueStats          `json:"queue"`
	Client           transcription.ClientStats `json:"client"`
	Realtime         transcript.RealtimeStats  `json:"realtime"`
}

// Pipeline owns the watcher, queue, and transcript components and moves
// data between them
type Pipeline struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	watcher      *watch.Watcher
	client       *transcription.Client
	queue        *queue.Queue
	realtime     *transcript.RealtimeManager
	consolidator *transcript.Consolidator
	writer       *transcript.Writer

	// Completed segments collected for the final consolidation pass.
	segments []transcript.Segment

	// Watcher identity per enqueued chunk, so results can be marked
	// processed without carrying watcher bookkeeping through the queue.
	identities map[string]string

	audioPath     string
	totalDuration float64
	startTime     time.Time

	chunksIn         uint64
	resultsCompleted uint64
	resultsFailed    uint64
	segmentsMerged   uint64
	breakerMessage   string

	wg sync.WaitGroup
	mu sync.Mutex
}

// NewPipeline creates the pipeline and its components. The metrics handle
// may be nil; recording is skipped without one.
func NewPipeline(config Config, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	client, err := transcription.NewClient(config.Transcription)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}

	p := &Pipeline{
		config:       config,
		logger:       logger,
		metrics:      m,
		client:       client,
		watcher:      watch.NewWatcher(config.Watcher, logger),
		realtime:     transcript.NewRealtimeManager(config.Realtime, logger),
		consolidator: transcript.NewConsolidator(config.Consolidator, logger),
		writer:       transcript.NewWriter(config.Writer, logger),
		identities:   make(map[string]string),
		startTime:    time.Now(),
	}
	p.queue = queue.NewQueue(config.Queue, client, logger)

	return p, nil
}

// Start launches all components and the pump goroutines.
func (p *Pipeline) Start() {
	p.queue.Start()
	p.realtime.Start()
	p.watcher.Start()

	p.wg.Add(2)
	go p.pumpChunks()
	go p.pumpResults()

	p.logger.Info("Pipeline started",
		slog.String("directory", p.config.Watcher.Directory),
		slog.String("output_path", p.config.Realtime.OutputPath),
		slog.Int("queue_workers", p.config.Queue.Workers),
	)
}

// Stop shuts the pipeline down in order: no new chunks, bounded drain of
// the queue, then the final consolidated transcript.
func (p *Pipeline) Stop() {
	p.logger.Info("Stopping pipeline...")

	// No new chunks: the watcher flushes trailing partial windows and
	// closes its channel, which ends pumpChunks after the final enqueues.
	p.watcher.Stop()

	p.drainQueue()

	// Queue stop finishes in-flight work and closes the results channel,
	// which ends pumpResults once every outcome has been routed.
	p.queue.Stop()
	p.wg.Wait()

	p.realtime.Stop()

	if err := p.writeFinalTranscript(); err != nil {
		p.logger.Error("Failed to write final transcript",
			slog.String("error", err.Error()))
	}

	if err := p.client.Close(); err != nil {
		p.logger.Warn("Error closing transcription client",
			slog.String("error", err.Error()))
	}

	p.mu.Lock()
	chunksIn := p.chunksIn
	completed := p.resultsCompleted
	failed := p.resultsFailed
	p.mu.Unlock()

	p.logger.Info("Pipeline stopped",
		slog.Uint64("chunks_in", chunksIn),
		slog.Uint64("results_completed", completed),
		slog.Uint64("results_failed", failed),
		slog.Duration("uptime", time.Since(p.startTime)),
	)
}

// pumpChunks moves extracted chunks from the watcher into the queue.
func (p *Pipeline) pumpChunks() {
	defer p.wg.Done()

	for c := range p.watcher.Chunks() {
		identity := watch.Identity(c)

		p.mu.Lock()
		p.chunksIn++
		p.identities[c.ID] = identity
		if c.SourceFilePath != "" {
			p.audioPath = c.SourceFilePath
		}
		if c.EndTime > p.totalDuration {
			p.totalDuration = c.EndTime
		}
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.RecordChunkExtracted(c.Kind.String(), c.Duration(), len(c.AudioData))
		}

		if err := p.queue.Enqueue(c); err != nil {
			p.logger.Warn("Failed to enqueue chunk",
				slog.String("chunk_id", c.ID),
				slog.Int("sequence", c.SequenceNumber),
				slog.String("error", err.Error()))
			p.mu.Lock()
			delete(p.identities, c.ID)
			p.mu.Unlock()
		}

		p.syncGauges()
	}
}

// pumpResults routes per-chunk outcomes from the queue.
func (p *Pipeline) pumpResults() {
	defer p.wg.Done()

	for res := range p.queue.Results() {
		p.routeResult(res)
		p.syncGauges()
	}
}

func (p *Pipeline) routeResult(res *queue.ChunkResult) {
	if res.Terminal {
		p.mu.Lock()
		p.breakerMessage = res.Error
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.RecordBreakerTrip()
		}
		return
	}

	p.mu.Lock()
	identity := p.identities[res.ChunkID]
	delete(p.identities, res.ChunkID)
	p.mu.Unlock()
	if identity != "" {
		p.watcher.MarkProcessed(identity)
	}

	switch res.Status {
	case queue.StatusCompleted:
		p.realtime.AddSegments(res.Segments)

		p.mu.Lock()
		p.resultsCompleted++
		p.segmentsMerged += uint64(len(res.Segments))
		p.segments = append(p.segments, res.Segments...)
		if res.EndTime > p.totalDuration {
			p.totalDuration = res.EndTime
		}
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.RecordChunkCompleted()
			p.metrics.RecordRetries(res.RetryCount)
			p.metrics.RecordSegmentsMerged(len(res.Segments))
		}

	case queue.StatusFailed:
		p.mu.Lock()
		p.resultsFailed++
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.RecordChunkFailed()
			p.metrics.RecordRetries(res.RetryCount)
		}

	default:
		p.logger.Warn("Unexpected result status",
			slog.String("chunk_id", res.ChunkID),
			slog.String("status", res.Status.String()))
	}
}

// drainQueue waits for outstanding transcriptions, bounded by the drain
// timeout. A tripped breaker ends the wait immediately since pending items
// will never be dequeued.
func (p *Pipeline) drainQueue() {
	deadline := time.Now().Add(p.config.DrainTimeout)

	for {
		stats := p.queue.GetStats()
		if stats.Pending == 0 && stats.InFlight == 0 {
			return
		}
		if stats.BreakerTripped {
			p.logger.Warn("Skipping queue drain, circuit breaker tripped",
				slog.Int("pending", stats.Pending))
			return
		}
		if time.Now().After(deadline) {
			p.logger.Warn("Queue drain timed out",
				slog.Int("pending", stats.Pending),
				slog.Int("in_flight", stats.InFlight),
				slog.Duration("timeout", p.config.DrainTimeout))
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// writeFinalTranscript consolidates every completed segment and writes the
// transcript file, replacing the realtime text with the final version.
func (p *Pipeline) writeFinalTranscript() error {
	p.mu.Lock()
	segments := make([]transcript.Segment, len(p.segments))
	copy(segments, p.segments)
	audioPath := p.audioPath
	totalDuration := p.totalDuration
	p.mu.Unlock()

	if len(segments) == 0 {
		p.logger.Info("No completed segments, skipping final transcript")
		return nil
	}

	final, stats := p.consolidator.Consolidate(segments, totalDuration)

	result := &transcript.Result{
		AudioFilePath: audioPath,
		Model:         p.config.Transcription.Model,
		Language:      p.config.Transcription.Language,
		TranscribedAt: time.Now(),
		Duration:      totalDuration,
		Coverage:      stats.Coverage,
		SegmentCount:  len(final),
		Segments:      final,
	}

	if err := p.writer.Write(p.config.Realtime.OutputPath, result); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.SetCoverage(stats.Coverage)
	}

	p.logger.Info("Final transcript written",
		slog.String("path", p.config.Realtime.OutputPath),
		slog.Int("segments", len(final)),
		slog.Int("deduplicated", stats.Deduplicated),
		slog.Int("gaps_filled", stats.GapsFilled),
		slog.Float64("coverage", stats.Coverage),
	)
	return nil
}

// syncGauges refreshes level-style metrics from component snapshots.
func (p *Pipeline) syncGauges() {
	if p.metrics == nil {
		return
	}

	watcherStats := p.watcher.GetStats()
	queueStats := p.queue.GetStats()
	realtimeStats := p.realtime.GetStats()

	p.metrics.SetPendingFiles(watcherStats.PendingCount)
	p.metrics.SetLiveRecordings(watcherStats.LiveRecordings)
	p.metrics.SetQueueDepth(queueStats.Pending, queueStats.InFlight)
	p.metrics.SetRealtimeBuckets(realtimeStats.Buckets)
}

// RealtimeText returns the current merged transcript text.
func (p *Pipeline) RealtimeText() string {
	return p.realtime.GenerateFullText()
}

// PendingFiles returns detected but unprocessed chunks.
func (p *Pipeline) PendingFiles() []watch.PendingFile {
	return p.watcher.PendingFiles()
}

// QueueItems returns a snapshot of queue items for status reporting.
func (p *Pipeline) QueueItems() []queue.QueueItemInfo {
	return p.queue.Items()
}

// GetStats returns an aggregate snapshot of every component.
func (p *Pipeline) GetStats() Stats {
	p.mu.Lock()
	chunksIn := p.chunksIn
	completed := p.resultsCompleted
	failed := p.resultsFailed
	merged := p.segmentsMerged
	breakerMessage := p.breakerMessage
	totalDuration := p.totalDuration
	covered := coveredSeconds(p.segments)
	p.mu.Unlock()

	coverage := 0.0
	if totalDuration > 0 {
		coverage = covered / totalDuration
		if coverage > 1 {
			coverage = 1
		}
	}

	return Stats{
		Uptime:           time.Since(p.startTime).Round(time.Second).String(),
		ChunksIn:         chunksIn,
		ResultsCompleted: completed,
		ResultsFailed:    failed,
		SegmentsMerged:   merged,
		Coverage:         coverage,
		BreakerMessage:   breakerMessage,
		Watcher:          p.watcher.GetStats(),
		Queue:            p.queue.GetStats(),
		Client:           p.client.GetStats(),
		Realtime:         p.realtime.GetStats(),
	}
}

// coveredSeconds sums raw segment durations before consolidation. Chunk
// overlap can push the raw sum past the recording length; GetStats clamps.
func coveredSeconds(segments []transcript.Segment) float64 {
	total := 0.0
	for _, seg := range segments {
		total += seg.Duration()
	}
	return total
}
