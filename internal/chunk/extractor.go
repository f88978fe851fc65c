package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iwabuchi404/koe-note-sub001/internal/webm"
)

// ErrChunkTooShort reports a chunk rejected by the quality gate: its
// payload is empty or it covers less than the configured minimum duration.
var ErrChunkTooShort = errors.New("chunk too short")

// HeaderStrategy identifies how a chunk was made independently decodable.
type HeaderStrategy int

const (
	// StrategyNone means the chunk's leading bytes already carry the real
	// header (only ever true for sequence 0).
	StrategyNone HeaderStrategy = iota
	// StrategyReal prefixes the header extracted from the recording start.
	StrategyReal
	// StrategySynthesized prefixes the constant minimal header.
	StrategySynthesized
	// StrategyRaw emits the bytes unmodified. Last resort; such chunks may
	// not decode standalone.
	StrategyRaw
)

// String returns a human-readable representation of the strategy.
func (h HeaderStrategy) String() string {
	switch h {
	case StrategyNone:
		return "none"
	case StrategyReal:
		return "real_header"
	case StrategySynthesized:
		return "synthesized_header"
	case StrategyRaw:
		return "raw"
	default:
		return fmt.Sprintf("unknown(%d)", int(h))
	}
}

// ExtractorConfig contains configuration for differential chunk extraction.
type ExtractorConfig struct {
	IntervalSeconds  float64 // target duration of each chunk
	OverlapSeconds   float64 // declared overlap carried on each chunk
	MinChunkDuration float64 // quality gate threshold
	SampleRate       int
	Channels         int
}

// DefaultExtractorConfig returns the stock extraction settings.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		IntervalSeconds:  10,
		OverlapSeconds:   0,
		MinChunkDuration: 1.0,
		SampleRate:       44100,
		Channels:         1,
	}
}

// Extractor slices a growing recording into self-contained chunks. It owns
// the differential read offset, the cached container header, and the
// monotonic sequence counter for one recording session.
type Extractor struct {
	config    ExtractorConfig
	source    Source
	stability *StabilityChecker
	logger    *slog.Logger

	// Differential state
	lastOffset int64
	nextSeq    int
	startedAt  time.Time

	// Header strategy
	header       []byte // real header with doctype normalized, nil until chunk 0 parses
	lastStrategy HeaderStrategy

	// Statistics
	chunksExtracted uint64
	bytesExtracted  uint64
	headerFallbacks uint64
	placeholders    uint64

	now func() time.Time

	mu sync.RWMutex
}

// ExtractorStats represents extractor statistics.
type ExtractorStats struct {
	ChunksExtracted uint64 `json:"chunks_extracted"`
	BytesExtracted  uint64 `json:"bytes_extracted"`
	HeaderFallbacks uint64 `json:"header_fallbacks"`
	Placeholders    uint64 `json:"placeholders"`
	LastOffset      int64  `json:"last_offset"`
	NextSequence    int    `json:"next_sequence"`
	LastStrategy    string `json:"last_strategy"`
	HasRealHeader   bool   `json:"has_real_header"`
}

// NewExtractor creates an extractor for one recording source. The session
// clock starts now; chunk time ranges are measured against it.
func NewExtractor(source Source, config ExtractorConfig, stability *StabilityChecker, logger *slog.Logger) *Extractor {
	if config.IntervalSeconds <= 0 {
		config.IntervalSeconds = DefaultExtractorConfig().IntervalSeconds
	}
	if config.MinChunkDuration <= 0 {
		config.MinChunkDuration = DefaultExtractorConfig().MinChunkDuration
	}

	e := &Extractor{
		config:    config,
		source:    source,
		stability: stability,
		logger:    logger,
		now:       time.Now,
	}
	e.startedAt = e.now()
	return e
}

// ExtractNext emits the next chunk when its time window has fully elapsed
// and the source holds new, stable bytes. Returns ErrInsufficientData while
// either condition is pending; callers retry on the next poll tick. A
// window that stays empty a full extra interval is closed with a zero-byte
// placeholder chunk so the sequence never stalls.
func (e *Extractor) ExtractNext(ctx context.Context) (*AudioChunk, error) {
	e.mu.RLock()
	seq := e.nextSeq
	started := e.startedAt
	e.mu.RUnlock()

	elapsed := e.now().Sub(started).Seconds()
	windowEnd := float64(seq+1) * e.config.IntervalSeconds
	if elapsed < windowEnd {
		return nil, fmt.Errorf("%w: window %d completes at %.1fs, elapsed %.1fs",
			ErrInsufficientData, seq, windowEnd, elapsed)
	}

	size, err := e.stability.Check(ctx, e.source)
	if err != nil {
		if errors.Is(err, ErrInsufficientData) && elapsed >= windowEnd+e.config.IntervalSeconds {
			return e.emitPlaceholder(seq, windowEnd)
		}
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if size <= e.lastOffset {
		if elapsed >= windowEnd+e.config.IntervalSeconds {
			return e.emitPlaceholderLocked(e.nextSeq, float64(e.nextSeq+1)*e.config.IntervalSeconds)
		}
		return nil, fmt.Errorf("%w: no new bytes (size %d, processed %d)",
			ErrInsufficientData, size, e.lastOffset)
	}

	raw, err := e.source.ReadRange(e.lastOffset, size)
	if err != nil {
		return nil, fmt.Errorf("reading differential range: %w", err)
	}

	chunk := e.buildChunk(raw, elapsed)
	e.lastOffset = size
	return chunk, nil
}

// Finalize emits the final, possibly short chunk after the recording has
// stopped. No stability check runs since nothing is appending anymore.
// Returns (nil, nil) when no unprocessed bytes remain, ErrChunkTooShort
// when the tail is below the minimum duration.
func (e *Extractor) Finalize(ctx context.Context) (*AudioChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size, err := e.source.Size()
	if err != nil {
		return nil, fmt.Errorf("sampling source size: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if size <= e.lastOffset {
		return nil, nil
	}

	raw, err := e.source.ReadRange(e.lastOffset, size)
	if err != nil {
		return nil, fmt.Errorf("reading final range: %w", err)
	}

	elapsed := e.now().Sub(e.startedAt).Seconds()
	start := float64(e.nextSeq) * e.config.IntervalSeconds
	if elapsed-start < e.config.MinChunkDuration {
		return nil, fmt.Errorf("%w: final %.2fs below minimum %.2fs",
			ErrChunkTooShort, elapsed-start, e.config.MinChunkDuration)
	}

	chunk := e.buildChunk(raw, elapsed)
	e.lastOffset = size
	return chunk, nil
}

// buildChunk assembles a chunk from a differential byte range and advances
// the sequence. Callers hold the mutex.
func (e *Extractor) buildChunk(raw []byte, elapsed float64) *AudioChunk {
	seq := e.nextSeq

	var data []byte
	var strategy HeaderStrategy
	if seq == 0 {
		// The leading bytes of the recording carry the real header.
		data = raw
		strategy = StrategyNone
		e.cacheHeader(raw)
	} else {
		data, strategy = e.assemble(raw)
	}

	start := float64(seq) * e.config.IntervalSeconds
	end := start + e.config.IntervalSeconds
	if end > elapsed {
		end = elapsed
	}

	overlap := 0.0
	if seq > 0 {
		overlap = e.config.OverlapSeconds
	}

	chunk := &AudioChunk{
		ID:                  uuid.NewString(),
		SequenceNumber:      seq,
		StartTime:           start,
		EndTime:             end,
		AudioData:           data,
		SampleRate:          e.config.SampleRate,
		Channels:            e.config.Channels,
		OverlapWithPrevious: overlap,
		SourceFilePath:      e.source.Path(),
		Kind:                KindNormal,
		CreatedAt:           e.now(),
	}

	e.nextSeq++
	e.chunksExtracted++
	e.bytesExtracted += uint64(len(raw))
	e.lastStrategy = strategy

	e.logger.Debug("chunk extracted",
		slog.Int("sequence", seq),
		slog.String("strategy", strategy.String()),
		slog.Int("raw_bytes", len(raw)),
		slog.Int("chunk_bytes", len(data)),
		slog.Float64("start", start),
		slog.Float64("end", end))

	return chunk
}

// cacheHeader extracts and normalizes the reusable header from the first
// chunk's bytes.
func (e *Extractor) cacheHeader(raw []byte) {
	header, err := webm.ExtractHeaderPrefix(raw)
	if err != nil {
		e.logger.Warn("first chunk has no parseable header, later chunks fall back to a synthesized one",
			slog.String("error", err.Error()))
		return
	}

	fixed, err := webm.EnsureWebMDocType(header)
	if err != nil {
		e.logger.Warn("could not normalize header doctype, caching header as is",
			slog.String("error", err.Error()))
		e.header = header
		return
	}

	e.header = fixed
	e.logger.Debug("cached recording header", slog.Int("header_bytes", len(fixed)))
}

// assemble makes a non-first byte range independently decodable. Strategy
// order: real extracted header, synthesized minimal header, raw bytes.
func (e *Extractor) assemble(raw []byte) ([]byte, HeaderStrategy) {
	if e.header != nil {
		candidate := make([]byte, 0, len(e.header)+len(raw))
		candidate = append(candidate, e.header...)
		candidate = append(candidate, raw...)
		if chunkParses(candidate) {
			return webm.RebaseClusterTimecode(candidate), StrategyReal
		}
		e.headerFallbacks++
		e.logger.Warn("real header did not produce a parseable chunk, trying synthesized header",
			slog.Int("sequence", e.nextSeq))
	}

	candidate := append(webm.SynthesizeMinimalHeader(), raw...)
	if chunkParses(candidate) {
		return webm.RebaseClusterTimecode(candidate), StrategySynthesized
	}

	e.headerFallbacks++
	e.logger.Warn("no header strategy produced a parseable chunk, emitting raw bytes",
		slog.Int("sequence", e.nextSeq),
		slog.Int("raw_bytes", len(raw)))
	return raw, StrategyRaw
}

// chunkParses reports whether an assembled chunk probes as a container with
// at least one cluster.
func chunkParses(data []byte) bool {
	info, err := webm.Probe(data)
	return err == nil && info.ClusterOffset >= 0
}

// emitPlaceholder closes a window that never received data.
func (e *Extractor) emitPlaceholder(seq int, windowEnd float64) (*AudioChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextSeq != seq {
		// Another caller advanced the sequence in the meantime.
		return nil, fmt.Errorf("%w: window %d already closed", ErrInsufficientData, seq)
	}
	return e.emitPlaceholderLocked(seq, windowEnd)
}

// emitPlaceholderLocked advances the sequence with a zero-byte live
// placeholder spanning the empty window. Callers hold the mutex.
func (e *Extractor) emitPlaceholderLocked(seq int, windowEnd float64) (*AudioChunk, error) {
	chunk := &AudioChunk{
		ID:             uuid.NewString(),
		SequenceNumber: seq,
		StartTime:      windowEnd - e.config.IntervalSeconds,
		EndTime:        windowEnd,
		SampleRate:     e.config.SampleRate,
		Channels:       e.config.Channels,
		SourceFilePath: e.source.Path(),
		Kind:           KindLivePlaceholder,
		CreatedAt:      e.now(),
	}

	e.nextSeq++
	e.placeholders++

	e.logger.Warn("window received no data, emitting placeholder to keep the sequence advancing",
		slog.Int("sequence", seq),
		slog.Float64("window_end", windowEnd))

	return chunk, nil
}

// GetStats returns current extractor statistics.
func (e *Extractor) GetStats() ExtractorStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return ExtractorStats{
		ChunksExtracted: e.chunksExtracted,
		BytesExtracted:  e.bytesExtracted,
		HeaderFallbacks: e.headerFallbacks,
		Placeholders:    e.placeholders,
		LastOffset:      e.lastOffset,
		NextSequence:    e.nextSeq,
		LastStrategy:    e.lastStrategy.String(),
		HasRealHeader:   e.header != nil,
	}
}

// HasRealHeader reports whether the recording's own header was successfully
// cached from the first chunk.
func (e *Extractor) HasRealHeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.header != nil
}
