package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
)

// File name patterns recognized in the watched directory. Completed chunk
// files carry a three-digit sequence number; live recordings are sliced
// through a chunk.Extractor instead of being read whole.
var (
	chunkFileRe = regexp.MustCompile(`^(timerange_chunk_|truediff_chunk_|differential_chunk_)(\d{3})\.webm$`)
	liveFileRe  = regexp.MustCompile(`^recording_.*\.webm$`)
)

const (
	// DefaultPollInterval is how often the watched directory is scanned.
	DefaultPollInterval = 1 * time.Second

	// chunkChannelBuffer bounds how far detection may run ahead of the
	// consumer before polling blocks.
	chunkChannelBuffer = 16
)

// Config holds watcher settings.
type Config struct {
	// Directory is the recording folder to scan.
	Directory string

	// PollInterval is the scan period.
	PollInterval time.Duration

	// Extractor configures chunking of live recording files and supplies
	// the interval used to place completed chunk files on the timeline.
	Extractor chunk.ExtractorConfig

	// Stability configures the two-sample growth check applied to
	// completed chunk files before their first read.
	Stability chunk.StabilityConfig
}

// DefaultConfig returns watcher settings matching the recorder's defaults.
func DefaultConfig(directory string) Config {
	return Config{
		Directory:    directory,
		PollInterval: DefaultPollInterval,
		Extractor:    chunk.DefaultExtractorConfig(),
		Stability:    chunk.DefaultStabilityConfig(),
	}
}

// fileRecord tracks one detected identity.
type fileRecord struct {
	Identity   string
	Name       string
	Path       string
	Sequence   int
	Size       int64
	Live       bool
	DetectedAt time.Time
}

// PendingFile describes a detected chunk that has not been marked processed.
type PendingFile struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
	Live     bool   `json:"live"`
}

// Stats is a snapshot of watcher activity.
type Stats struct {
	FilesDetected  uint64 `json:"files_detected"`
	ChunksEmitted  uint64 `json:"chunks_emitted"`
	FileErrors     uint64 `json:"file_errors"`
	PendingCount   int    `json:"pending_count"`
	ProcessedCount int    `json:"processed_count"`
	LiveRecordings int    `json:"live_recordings"`
}

// Watcher scans a directory for chunk files and live recordings and emits
// ready chunks. Each identity (file name plus size for completed files,
// recording name plus sequence for extracted windows) is emitted at most
// once for the lifetime of the watcher.
type Watcher struct {
	config  Config
	logger  *slog.Logger
	checker *chunk.StabilityChecker

	// Detection state
	detected   map[string]*fileRecord
	processed  map[string]bool
	failed     map[string]bool
	extractors map[string]*chunk.Extractor

	// Statistics
	filesDetected uint64
	chunksEmitted uint64
	fileErrors    uint64

	chunks chan *chunk.AudioChunk

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// NewWatcher creates a watcher for the configured directory. Call Start to
// begin polling.
func NewWatcher(config Config, logger *slog.Logger) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		config:     config,
		logger:     logger,
		checker:    chunk.NewStabilityChecker(config.Stability),
		detected:   make(map[string]*fileRecord),
		processed:  make(map[string]bool),
		failed:     make(map[string]bool),
		extractors: make(map[string]*chunk.Extractor),
		chunks:     make(chan *chunk.AudioChunk, chunkChannelBuffer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Chunks returns the channel of ready chunks. The channel is closed after
// Stop returns, once any final partial windows have been flushed.
func (w *Watcher) Chunks() <-chan *chunk.AudioChunk {
	return w.chunks
}

// Start launches the polling loop.
func (w *Watcher) Start() {
	go w.pollLoop()
	w.logger.Info("File watcher started",
		slog.String("directory", w.config.Directory),
		slog.Duration("poll_interval", w.config.PollInterval))
}

// Stop halts polling, flushes final partial windows from live recordings,
// and closes the chunk channel.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done

	w.flushFinalChunks()
	close(w.chunks)

	stats := w.GetStats()
	w.logger.Info("File watcher stopped",
		slog.Uint64("files_detected", stats.FilesDetected),
		slog.Uint64("chunks_emitted", stats.ChunksEmitted),
		slog.Uint64("file_errors", stats.FileErrors))
}

// pollLoop scans the directory at the configured interval.
func (w *Watcher) pollLoop() {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Debug("Poll loop started")

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Poll loop stopped")
			return
		case <-ticker.C:
			w.poll(w.ctx)
		}
	}
}

// poll performs one directory scan.
func (w *Watcher) poll(ctx context.Context) {
	entries, err := os.ReadDir(w.config.Directory)
	if err != nil {
		w.recordFileError(w.config.Directory, fmt.Errorf("failed to read directory: %w", err))
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if m := chunkFileRe.FindStringSubmatch(name); m != nil {
			w.pollChunkFile(ctx, name, m[2])
		} else if liveFileRe.MatchString(name) {
			w.pollLiveFile(ctx, name)
		}
	}
}

// pollChunkFile handles one completed chunk file. The file becomes a chunk
// only after it passes the stability check; its identity is the file name
// combined with the stable size, so a later rewrite of the same name is a
// new identity.
func (w *Watcher) pollChunkFile(ctx context.Context, name, seqDigits string) {
	w.mu.RLock()
	skip := w.failed[name]
	w.mu.RUnlock()
	if skip {
		return
	}

	path := filepath.Join(w.config.Directory, name)
	src := chunk.NewFileSource(path)

	// Cheap pre-check so already-detected files skip the stability delay.
	if current, err := src.Size(); err == nil && w.isDetected(fmt.Sprintf("%s:%d", name, current)) {
		return
	}

	size, err := w.checker.Check(ctx, src)
	if err != nil {
		if errors.Is(err, chunk.ErrInsufficientData) {
			w.logger.Debug("Chunk file not stable yet",
				slog.String("file", name),
				slog.String("reason", err.Error()))
			return
		}
		w.markFailed(name, err)
		return
	}

	identity := fmt.Sprintf("%s:%d", name, size)
	if w.isDetected(identity) {
		return
	}

	data, err := src.ReadRange(0, size)
	if err != nil {
		w.markFailed(name, err)
		return
	}

	seq, err := strconv.Atoi(seqDigits)
	if err != nil {
		w.markFailed(name, fmt.Errorf("invalid sequence number %q: %w", seqDigits, err))
		return
	}

	interval := w.config.Extractor.IntervalSeconds
	c := &chunk.AudioChunk{
		ID:             uuid.NewString(),
		SequenceNumber: seq,
		StartTime:      float64(seq) * interval,
		EndTime:        float64(seq+1) * interval,
		AudioData:      data,
		SampleRate:     w.config.Extractor.SampleRate,
		Channels:       w.config.Extractor.Channels,
		SourceFilePath: path,
		Kind:           chunk.KindNormal,
		CreatedAt:      time.Now(),
	}

	w.mu.Lock()
	w.detected[identity] = &fileRecord{
		Identity:   identity,
		Name:       name,
		Path:       path,
		Sequence:   seq,
		Size:       size,
		DetectedAt: time.Now(),
	}
	w.filesDetected++
	w.mu.Unlock()

	w.logger.Info("Chunk file detected",
		slog.String("file", name),
		slog.Int("sequence", seq),
		slog.Int64("size", size))

	w.emit(ctx, c)
}

// pollLiveFile routes a live recording through its extractor. At most one
// window is extracted per poll so one recording cannot starve the rest of
// the directory.
func (w *Watcher) pollLiveFile(ctx context.Context, name string) {
	path := filepath.Join(w.config.Directory, name)

	w.mu.Lock()
	ex, ok := w.extractors[name]
	if !ok {
		ex = chunk.NewExtractor(chunk.NewFileSource(path), w.config.Extractor, w.checker, w.logger)
		w.extractors[name] = ex
		w.logger.Info("Live recording detected", slog.String("file", name))
	}
	w.mu.Unlock()

	c, err := ex.ExtractNext(ctx)
	if err != nil {
		if errors.Is(err, chunk.ErrInsufficientData) {
			return
		}
		w.recordFileError(path, err)
		return
	}

	identity := fmt.Sprintf("%s#%d", name, c.SequenceNumber)
	w.mu.Lock()
	if _, seen := w.detected[identity]; seen {
		w.mu.Unlock()
		return
	}
	w.detected[identity] = &fileRecord{
		Identity:   identity,
		Name:       name,
		Path:       path,
		Sequence:   c.SequenceNumber,
		Size:       int64(len(c.AudioData)),
		Live:       true,
		DetectedAt: time.Now(),
	}
	w.filesDetected++
	w.mu.Unlock()

	w.emit(ctx, c)
}

// flushFinalChunks finalizes every live extractor so trailing partial
// windows are not lost on shutdown.
func (w *Watcher) flushFinalChunks() {
	w.mu.Lock()
	extractors := make(map[string]*chunk.Extractor, len(w.extractors))
	for name, ex := range w.extractors {
		extractors[name] = ex
	}
	w.mu.Unlock()

	ctx := context.Background()
	for name, ex := range extractors {
		c, err := ex.Finalize(ctx)
		if err != nil {
			if errors.Is(err, chunk.ErrChunkTooShort) {
				w.logger.Debug("Final window too short, dropped",
					slog.String("file", name))
				continue
			}
			w.recordFileError(name, err)
			continue
		}
		if c == nil {
			continue
		}

		identity := fmt.Sprintf("%s#%d", name, c.SequenceNumber)
		w.mu.Lock()
		if _, seen := w.detected[identity]; seen {
			w.mu.Unlock()
			continue
		}
		w.detected[identity] = &fileRecord{
			Identity:   identity,
			Name:       name,
			Sequence:   c.SequenceNumber,
			Size:       int64(len(c.AudioData)),
			Live:       true,
			DetectedAt: time.Now(),
		}
		w.filesDetected++
		w.mu.Unlock()

		w.logger.Info("Final chunk flushed",
			slog.String("file", name),
			slog.Int("sequence", c.SequenceNumber))

		// Blocking send without ctx guard: the consumer is still
		// draining and the channel is not yet closed.
		w.chunks <- c
		w.mu.Lock()
		w.chunksEmitted++
		w.mu.Unlock()
	}
}

// emit delivers a chunk to the channel, honoring cancellation.
func (w *Watcher) emit(ctx context.Context, c *chunk.AudioChunk) {
	select {
	case w.chunks <- c:
		w.mu.Lock()
		w.chunksEmitted++
		w.mu.Unlock()
	case <-ctx.Done():
	}
}

func (w *Watcher) isDetected(identity string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.detected[identity]
	return ok
}

// markFailed records a matched file that could not be turned into a chunk.
// The name is skipped on later polls.
func (w *Watcher) markFailed(name string, err error) {
	w.mu.Lock()
	w.failed[name] = true
	w.fileErrors++
	w.mu.Unlock()

	w.logger.Error("Chunk file failed",
		slog.String("file", name),
		slog.String("error", err.Error()))
}

// recordFileError counts a transient I/O problem that will be retried on
// the next poll.
func (w *Watcher) recordFileError(path string, err error) {
	w.mu.Lock()
	w.fileErrors++
	w.mu.Unlock()

	w.logger.Error("File watcher error",
		slog.String("path", path),
		slog.String("error", err.Error()))
}

// MarkProcessed records that the consumer is done with an identity.
// It returns false if the identity was never detected.
func (w *Watcher) MarkProcessed(identity string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.detected[identity]; !ok {
		return false
	}
	w.processed[identity] = true
	return true
}

// Identity returns the detection identity the watcher would assign to a
// chunk, so the consumer can report completion with MarkProcessed.
func Identity(c *chunk.AudioChunk) string {
	name := filepath.Base(c.SourceFilePath)
	if liveFileRe.MatchString(name) || c.SourceFilePath == "" {
		return fmt.Sprintf("%s#%d", name, c.SequenceNumber)
	}
	return fmt.Sprintf("%s:%d", name, int64(len(c.AudioData)))
}

// PendingFiles returns detected identities not yet marked processed,
// sorted by sequence number.
func (w *Watcher) PendingFiles() []PendingFile {
	w.mu.RLock()
	defer w.mu.RUnlock()

	pending := make([]PendingFile, 0)
	for identity, rec := range w.detected {
		if w.processed[identity] {
			continue
		}
		pending = append(pending, PendingFile{
			Identity: identity,
			Name:     rec.Name,
			Sequence: rec.Sequence,
			Live:     rec.Live,
		})
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Sequence != pending[j].Sequence {
			return pending[i].Sequence < pending[j].Sequence
		}
		return pending[i].Identity < pending[j].Identity
	})
	return pending
}

// GetStats returns a snapshot of watcher counters.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	pending := 0
	for identity := range w.detected {
		if !w.processed[identity] {
			pending++
		}
	}

	return Stats{
		FilesDetected:  w.filesDetected,
		ChunksEmitted:  w.chunksEmitted,
		FileErrors:     w.fileErrors,
		PendingCount:   pending,
		ProcessedCount: len(w.processed),
		LiveRecordings: len(w.extractors),
	}
}
