package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()

	config := Config{
		Directory:    dir,
		PollInterval: 10 * time.Millisecond,
		Extractor: chunk.ExtractorConfig{
			IntervalSeconds:  0.05,
			MinChunkDuration: 0.001,
			SampleRate:       44100,
			Channels:         1,
		},
		Stability: chunk.StabilityConfig{
			Delay:    1 * time.Millisecond,
			MinBytes: 4,
		},
	}
	return NewWatcher(config, newTestLogger())
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// drainChunks collects up to n chunks that are already buffered.
func drainChunks(t *testing.T, w *Watcher, n int) []*chunk.AudioChunk {
	t.Helper()

	chunks := make([]*chunk.AudioChunk, 0, n)
	for i := 0; i < n; i++ {
		select {
		case c := <-w.chunks:
			chunks = append(chunks, c)
		default:
			return chunks
		}
	}
	return chunks
}

func TestWatcherDetectsChunkFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "timerange_chunk_000.webm", []byte("chunk-zero-data"))
	writeFile(t, dir, "truediff_chunk_001.webm", []byte("chunk-one-data"))
	writeFile(t, dir, "differential_chunk_002.webm", []byte("chunk-two-data"))
	writeFile(t, dir, "notes.txt", []byte("ignored"))
	writeFile(t, dir, "timerange_chunk_03.webm", []byte("two digits, ignored"))

	w := newTestWatcher(t, dir)
	w.poll(context.Background())

	chunks := drainChunks(t, w, 10)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	// Emission follows directory name order; index by sequence instead.
	bySeq := make(map[int]*chunk.AudioChunk)
	for _, c := range chunks {
		bySeq[c.SequenceNumber] = c
	}
	for seq := 0; seq < 3; seq++ {
		c, ok := bySeq[seq]
		if !ok {
			t.Fatalf("Missing chunk for sequence %d", seq)
		}
		if c.Kind != chunk.KindNormal {
			t.Errorf("Sequence %d: expected normal kind, got %v", seq, c.Kind)
		}
		wantStart := float64(seq) * 0.05
		if c.StartTime != wantStart {
			t.Errorf("Sequence %d: expected start %.2f, got %.2f", seq, wantStart, c.StartTime)
		}
		if len(c.AudioData) == 0 {
			t.Errorf("Sequence %d: expected audio data", seq)
		}
	}
	if string(bySeq[1].AudioData) != "chunk-one-data" {
		t.Errorf("Sequence 1 data mismatch: got %q", string(bySeq[1].AudioData))
	}

	// A second poll of unchanged files emits nothing.
	w.poll(context.Background())
	if again := drainChunks(t, w, 10); len(again) != 0 {
		t.Errorf("Expected no chunks on second poll, got %d", len(again))
	}

	stats := w.GetStats()
	if stats.FilesDetected != 3 {
		t.Errorf("Expected 3 files detected, got %d", stats.FilesDetected)
	}
	if stats.ChunksEmitted != 3 {
		t.Errorf("Expected 3 chunks emitted, got %d", stats.ChunksEmitted)
	}
}

func TestWatcherChunkFileIdentityTracksSize(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "timerange_chunk_000.webm", []byte("first-version"))

	w := newTestWatcher(t, dir)
	w.poll(context.Background())

	first := drainChunks(t, w, 2)
	if len(first) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(first))
	}

	// Rewriting the file to a new size is a new identity.
	if err := os.WriteFile(path, []byte("second-version-longer"), 0644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	w.poll(context.Background())

	second := drainChunks(t, w, 2)
	if len(second) != 1 {
		t.Fatalf("Expected 1 chunk after rewrite, got %d", len(second))
	}
	if string(second[0].AudioData) != "second-version-longer" {
		t.Errorf("Expected rewritten data, got %q", string(second[0].AudioData))
	}

	stats := w.GetStats()
	if stats.FilesDetected != 2 {
		t.Errorf("Expected 2 identities detected, got %d", stats.FilesDetected)
	}
}

func TestWatcherWaitsForMinimumSize(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "timerange_chunk_000.webm", []byte("ab"))

	w := newTestWatcher(t, dir)
	w.poll(context.Background())

	if got := drainChunks(t, w, 2); len(got) != 0 {
		t.Fatalf("Expected no chunks for undersized file, got %d", len(got))
	}
	if stats := w.GetStats(); stats.FileErrors != 0 {
		t.Errorf("Undersized file is not an error, got %d errors", stats.FileErrors)
	}

	// Once the file reaches the minimum size it is picked up.
	if err := os.WriteFile(path, []byte("abcdef"), 0644); err != nil {
		t.Fatalf("Failed to grow file: %v", err)
	}
	w.poll(context.Background())

	if got := drainChunks(t, w, 2); len(got) != 1 {
		t.Fatalf("Expected 1 chunk after growth, got %d", len(got))
	}
}

func TestWatcherMarksUnreadableFileFailed(t *testing.T) {
	dir := t.TempDir()
	if err := os.Symlink(filepath.Join(dir, "missing-target"), filepath.Join(dir, "timerange_chunk_000.webm")); err != nil {
		t.Skipf("Symlinks unavailable: %v", err)
	}

	w := newTestWatcher(t, dir)
	w.poll(context.Background())
	w.poll(context.Background())

	stats := w.GetStats()
	if stats.FileErrors != 1 {
		t.Errorf("Expected exactly 1 file error across polls, got %d", stats.FileErrors)
	}
	if stats.FilesDetected != 0 {
		t.Errorf("Expected no detections, got %d", stats.FilesDetected)
	}
}

func TestWatcherDirectoryError(t *testing.T) {
	w := newTestWatcher(t, "/nonexistent/watch/dir")
	w.poll(context.Background())

	stats := w.GetStats()
	if stats.FileErrors != 1 {
		t.Errorf("Expected 1 file error, got %d", stats.FileErrors)
	}
}

func TestWatcherLiveRecordingExtraction(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recording_20260115.webm", make([]byte, 64))

	w := newTestWatcher(t, dir)

	// The first poll starts the recording's session clock; its first
	// window is still open.
	w.poll(context.Background())
	if got := drainChunks(t, w, 2); len(got) != 0 {
		t.Fatalf("Expected no chunks before the first window closes, got %d", len(got))
	}

	// First window closes at 50ms on the session clock.
	time.Sleep(60 * time.Millisecond)
	w.poll(context.Background())

	chunks := drainChunks(t, w, 2)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk from live recording, got %d", len(chunks))
	}
	if chunks[0].SequenceNumber != 0 {
		t.Errorf("Expected sequence 0, got %d", chunks[0].SequenceNumber)
	}
	if len(chunks[0].AudioData) != 64 {
		t.Errorf("Expected 64 bytes, got %d", len(chunks[0].AudioData))
	}

	// New bytes in the next window produce the next sequence.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open recording: %v", err)
	}
	if _, err := f.Write(make([]byte, 32)); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	f.Close()

	time.Sleep(60 * time.Millisecond)
	w.poll(context.Background())

	chunks = drainChunks(t, w, 2)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 more chunk, got %d", len(chunks))
	}
	if chunks[0].SequenceNumber != 1 {
		t.Errorf("Expected sequence 1, got %d", chunks[0].SequenceNumber)
	}

	stats := w.GetStats()
	if stats.LiveRecordings != 1 {
		t.Errorf("Expected 1 live recording, got %d", stats.LiveRecordings)
	}
}

func TestWatcherPendingAndMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "timerange_chunk_001.webm", []byte("later-chunk"))
	writeFile(t, dir, "timerange_chunk_000.webm", []byte("first-chunk"))

	w := newTestWatcher(t, dir)
	w.poll(context.Background())
	drainChunks(t, w, 4)

	pending := w.PendingFiles()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending files, got %d", len(pending))
	}
	if pending[0].Sequence != 0 || pending[1].Sequence != 1 {
		t.Errorf("Expected pending sorted by sequence, got %d then %d",
			pending[0].Sequence, pending[1].Sequence)
	}

	if !w.MarkProcessed(pending[0].Identity) {
		t.Error("Expected MarkProcessed to accept a detected identity")
	}
	if w.MarkProcessed("never-seen:123") {
		t.Error("Expected MarkProcessed to reject an unknown identity")
	}

	pending = w.PendingFiles()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending file, got %d", len(pending))
	}
	if pending[0].Sequence != 1 {
		t.Errorf("Expected remaining sequence 1, got %d", pending[0].Sequence)
	}

	stats := w.GetStats()
	if stats.ProcessedCount != 1 {
		t.Errorf("Expected 1 processed, got %d", stats.ProcessedCount)
	}
	if stats.PendingCount != 1 {
		t.Errorf("Expected 1 pending, got %d", stats.PendingCount)
	}
}

func TestWatcherLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "timerange_chunk_000.webm", []byte("lifecycle-chunk"))
	writeFile(t, dir, "recording_live.webm", make([]byte, 48))

	// A long extraction interval keeps the live recording's first window
	// open for the whole test, so only Stop can flush it.
	config := Config{
		Directory:    dir,
		PollInterval: 10 * time.Millisecond,
		Extractor: chunk.ExtractorConfig{
			IntervalSeconds:  10,
			MinChunkDuration: 0.001,
			SampleRate:       44100,
			Channels:         1,
		},
		Stability: chunk.StabilityConfig{
			Delay:    1 * time.Millisecond,
			MinBytes: 4,
		},
	}
	w := NewWatcher(config, newTestLogger())
	w.Start()

	select {
	case c := <-w.Chunks():
		if c.SequenceNumber != 0 {
			t.Errorf("Expected sequence 0, got %d", c.SequenceNumber)
		}
		if string(c.AudioData) != "lifecycle-chunk" {
			t.Errorf("Expected chunk file data, got %q", string(c.AudioData))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for chunk")
	}

	// Give the live recording time to be noticed before shutdown.
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	// Stop finalizes the live recording's partial window and closes the
	// channel.
	var finals []*chunk.AudioChunk
	for c := range w.Chunks() {
		finals = append(finals, c)
	}
	if len(finals) != 1 {
		t.Fatalf("Expected 1 final chunk, got %d", len(finals))
	}
	if len(finals[0].AudioData) != 48 {
		t.Errorf("Expected final chunk with 48 bytes, got %d", len(finals[0].AudioData))
	}
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name     string
		chunk    *chunk.AudioChunk
		expected string
	}{
		{
			name: "live recording chunk",
			chunk: &chunk.AudioChunk{
				SequenceNumber: 3,
				SourceFilePath: "/rec/recording_20260115.webm",
				AudioData:      []byte("abc"),
			},
			expected: "recording_20260115.webm#3",
		},
		{
			name: "completed chunk file",
			chunk: &chunk.AudioChunk{
				SequenceNumber: 1,
				SourceFilePath: "/rec/timerange_chunk_001.webm",
				AudioData:      []byte("abcdef"),
			},
			expected: "timerange_chunk_001.webm:6",
		},
		{
			name: "no source path",
			chunk: &chunk.AudioChunk{
				SequenceNumber: 2,
			},
			expected: ".#2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identity(tt.chunk); got != tt.expected {
				t.Errorf("Expected identity %q, got %q", tt.expected, got)
			}
		})
	}
}
