package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// RealtimeConfig holds streaming text view settings.
type RealtimeConfig struct {
	// BufferSize caps the number of retained buckets; the oldest bucket
	// is evicted first.
	BufferSize int

	// WriteInterval is the flush cadence. Flushes are skipped while the
	// buffer is unchanged.
	WriteInterval time.Duration

	// OutputPath is the live text file. Empty disables file flushing;
	// the in-memory view still works.
	OutputPath string

	// Smoothing applies punctuation normalization to the merged text.
	Smoothing bool
}

// DefaultRealtimeConfig returns production streaming settings.
func DefaultRealtimeConfig(outputPath string) RealtimeConfig {
	return RealtimeConfig{
		BufferSize:    1000,
		WriteInterval: 3000 * time.Millisecond,
		OutputPath:    outputPath,
		Smoothing:     true,
	}
}

// RealtimeStats is a snapshot of streaming view activity.
type RealtimeStats struct {
	Buckets   int    `json:"buckets"`
	Updates   uint64 `json:"updates"`
	Rejected  uint64 `json:"rejected"`
	Evictions uint64 `json:"evictions"`
	Flushes   uint64 `json:"flushes"`
	Dirty     bool   `json:"dirty"`
}

// bucketKey addresses one integer-second span of the timeline.
type bucketKey struct {
	start int
	end   int
}

// bucketEntry pairs a stored segment with its insertion time.
type bucketEntry struct {
	seg     Segment
	addedAt time.Time
}

// RealtimeManager maintains the live transcript view. Segments land in
// integer-second time buckets; within a bucket the segment from the higher
// chunk sequence wins, which models re-transcription of overlapping windows
// as the recording grows.
type RealtimeManager struct {
	config RealtimeConfig
	logger *slog.Logger

	buckets map[bucketKey]bucketEntry
	order   []bucketKey
	dirty   bool

	// Statistics
	updates   uint64
	rejected  uint64
	evictions uint64
	flushes   uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// NewRealtimeManager creates a streaming view. Call Start to enable the
// periodic flush.
func NewRealtimeManager(config RealtimeConfig, logger *slog.Logger) *RealtimeManager {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultRealtimeConfig("").BufferSize
	}
	if config.WriteInterval <= 0 {
		config.WriteInterval = DefaultRealtimeConfig("").WriteInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RealtimeManager{
		config:  config,
		logger:  logger,
		buckets: make(map[bucketKey]bucketEntry),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// AddSegments merges new segments into the view.
func (m *RealtimeManager) AddSegments(segments []Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, seg := range segments {
		key := bucketKey{start: int(seg.Start), end: int(seg.End)}

		existing, ok := m.buckets[key]
		if ok && existing.seg.ChunkSequence > seg.ChunkSequence {
			m.rejected++
			continue
		}

		m.buckets[key] = bucketEntry{seg: seg, addedAt: now}
		m.updates++
		m.dirty = true

		if !ok {
			m.order = append(m.order, key)
			if len(m.order) > m.config.BufferSize {
				oldest := m.order[0]
				m.order = m.order[1:]
				if old, held := m.buckets[oldest]; held {
					m.logger.Debug("Evicting oldest realtime bucket",
						slog.Int("start_second", oldest.start),
						slog.Duration("age", now.Sub(old.addedAt)))
				}
				delete(m.buckets, oldest)
				m.evictions++
			}
		}
	}
}

// GenerateFullText returns the merged text of all buckets in timeline order.
func (m *RealtimeManager) GenerateFullText() string {
	m.mu.RLock()
	segments := make([]Segment, 0, len(m.buckets))
	for _, entry := range m.buckets {
		segments = append(segments, entry.seg)
	}
	smoothing := m.config.Smoothing
	m.mu.RUnlock()

	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Start != segments[j].Start {
			return segments[i].Start < segments[j].Start
		}
		return segments[i].End < segments[j].End
	})

	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(seg.Text)
	}

	text := b.String()
	if smoothing {
		text = smoothText(text)
	}
	return text
}

// Start launches the periodic flush loop.
func (m *RealtimeManager) Start() {
	go m.flushLoop()
	m.logger.Info("Realtime text manager started",
		slog.Duration("write_interval", m.config.WriteInterval),
		slog.Int("buffer_size", m.config.BufferSize))
}

// Stop halts the flush loop and writes any unflushed text.
func (m *RealtimeManager) Stop() {
	m.cancel()
	<-m.done

	if err := m.Flush(); err != nil {
		m.logger.Error("Final realtime flush failed", slog.String("error", err.Error()))
	}

	stats := m.GetStats()
	m.logger.Info("Realtime text manager stopped",
		slog.Uint64("updates", stats.Updates),
		slog.Uint64("flushes", stats.Flushes))
}

// flushLoop writes the view on a timer while it keeps changing.
func (m *RealtimeManager) flushLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.WriteInterval)
	defer ticker.Stop()

	m.logger.Debug("Flush loop started")

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Flush loop stopped")
			return
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Error("Realtime flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush writes the merged text to the output file if the view changed
// since the last flush.
func (m *RealtimeManager) Flush() error {
	m.mu.Lock()
	if !m.dirty || m.config.OutputPath == "" {
		m.mu.Unlock()
		return nil
	}
	m.dirty = false
	m.flushes++
	m.mu.Unlock()

	text := m.GenerateFullText()
	if err := os.WriteFile(m.config.OutputPath, []byte(text+"\n"), 0644); err != nil {
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
		return fmt.Errorf("failed to write realtime text: %w", err)
	}
	return nil
}

// GetStats returns a snapshot of view counters.
func (m *RealtimeManager) GetStats() RealtimeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return RealtimeStats{
		Buckets:   len(m.buckets),
		Updates:   m.updates,
		Rejected:  m.rejected,
		Evictions: m.evictions,
		Flushes:   m.flushes,
		Dirty:     m.dirty,
	}
}
