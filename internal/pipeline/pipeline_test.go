package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
	"github.com/iwabuchi404/koe-note-sub001/internal/queue"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcription"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcript"
	"github.com/iwabuchi404/koe-note-sub001/internal/watch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestConfig(dir, outputPath, endpoint string, tempDir string) Config {
	return Config{
		Watcher: watch.Config{
			Directory:    dir,
			PollInterval: 10 * time.Millisecond,
			Extractor: chunk.ExtractorConfig{
				IntervalSeconds:  10,
				MinChunkDuration: 0.001,
				SampleRate:       44100,
				Channels:         1,
			},
			Stability: chunk.StabilityConfig{
				Delay:    time.Millisecond,
				MinBytes: 4,
			},
		},
		Transcription: transcription.Config{
			Endpoint: endpoint,
			Language: "ja",
			Model:    "kotoba-whisper-v2.0-faster",
			Timeout:  5 * time.Second,
		},
		Queue: queue.Config{
			Workers:        2,
			MaxRetries:     1,
			RetryBaseDelay: 10 * time.Millisecond,
			RetryMaxDelay:  50 * time.Millisecond,
			TempDir:        tempDir,
		},
		Consolidator: transcript.DefaultConsolidatorConfig(),
		Realtime: transcript.RealtimeConfig{
			OutputPath:    outputPath,
			WriteInterval: 10 * time.Second,
		},
		Writer:       transcript.WriterConfig{Timestamped: true},
		DrainTimeout: 5 * time.Second,
	}
}

// segmentServer returns canned Japanese segments keyed by chunk sequence.
func segmentServer(t *testing.T, texts map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		text, ok := texts[r.FormValue("sequence")]
		if !ok {
			http.Error(w, "unknown sequence", http.StatusBadRequest)
			return
		}
		resp := map[string]interface{}{
			"text":     text,
			"language": "ja",
			"duration": 10.0,
			"segments": []map[string]interface{}{
				{"start": 0.2, "end": 4.8, "text": text, "confidence": 0.9},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func waitForStats(t *testing.T, p *Pipeline, ok func(Stats) bool) Stats {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		stats := p.GetStats()
		if ok(stats) {
			return stats
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for pipeline state, last stats: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	tempDir := t.TempDir()
	outputPath := filepath.Join(t.TempDir(), "out", "transcript.txt")

	for seq, data := range map[int]string{
		0: "chunk-zero-container-data",
		1: "chunk-one-container-data!",
	} {
		name := fmt.Sprintf("timerange_chunk_%03d.webm", seq)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0644); err != nil {
			t.Fatalf("Failed to write chunk file: %v", err)
		}
	}

	server := segmentServer(t, map[string]string{
		"0": "最初のチャンクです",
		"1": "次のチャンクです",
	})
	defer server.Close()

	p, err := NewPipeline(newTestConfig(dir, outputPath, server.URL, tempDir), newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	p.Start()
	stats := waitForStats(t, p, func(s Stats) bool { return s.ResultsCompleted == 2 })

	if stats.ChunksIn != 2 {
		t.Errorf("Expected 2 chunks in, got %d", stats.ChunksIn)
	}
	if stats.ResultsFailed != 0 {
		t.Errorf("Expected no failures, got %d", stats.ResultsFailed)
	}
	if stats.Watcher.ProcessedCount != 2 {
		t.Errorf("Expected both chunks marked processed, got %d", stats.Watcher.ProcessedCount)
	}
	if pending := p.PendingFiles(); len(pending) != 0 {
		t.Errorf("Expected no pending files, got %d", len(pending))
	}

	text := p.RealtimeText()
	if !strings.Contains(text, "最初のチャンクです") || !strings.Contains(text, "次のチャンクです") {
		t.Errorf("Expected realtime text to hold both chunks, got %q", text)
	}

	p.Stop()

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read final transcript: %v", err)
	}
	body := string(data)

	for _, want := range []string{
		"model: kotoba-whisper-v2.0-faster",
		"language: ja",
		"[00:00:00.2] 最初のチャンクです",
		"[00:00:10.2] 次のチャンクです",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected final transcript to contain %q, got:\n%s", want, body)
		}
	}
	// Segments sit at 0.2-4.8 and 10.2-14.8; the 5.4s hole gets a
	// silence placeholder in the final pass.
	if !strings.Contains(body, "[silence]") {
		t.Errorf("Expected silence filler for the gap, got:\n%s", body)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected spool files cleaned up, found %d", len(entries))
	}
}

func TestPipelineFailedChunkStillMarkedProcessed(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(t.TempDir(), "transcript.txt")

	if err := os.WriteFile(filepath.Join(dir, "timerange_chunk_000.webm"), []byte("broken-audio-payload"), 0644); err != nil {
		t.Fatalf("Failed to write chunk file: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported audio", http.StatusBadRequest)
	}))
	defer server.Close()

	p, err := NewPipeline(newTestConfig(dir, outputPath, server.URL, t.TempDir()), newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	p.Start()
	stats := waitForStats(t, p, func(s Stats) bool { return s.ResultsFailed == 1 })

	if stats.ResultsCompleted != 0 {
		t.Errorf("Expected no completions, got %d", stats.ResultsCompleted)
	}
	if stats.Watcher.ProcessedCount != 1 {
		t.Errorf("Expected failed chunk marked processed, got %d", stats.Watcher.ProcessedCount)
	}

	p.Stop()

	// Nothing completed, so no transcript file is produced.
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Error("Expected no final transcript without completed segments")
	}
}

func TestPipelineBreakerSurfacesMessage(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(t.TempDir(), "transcript.txt")

	for seq := 0; seq < 6; seq++ {
		name := fmt.Sprintf("timerange_chunk_%03d.webm", seq)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("payload-bytes"), 0644); err != nil {
			t.Fatalf("Failed to write chunk file: %v", err)
		}
	}

	// A closed listener makes every request an unreachable failure.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	config := newTestConfig(dir, outputPath, endpoint, t.TempDir())
	config.Queue.Workers = 1
	config.Queue.MaxRetries = 0
	config.Queue.BreakerThreshold = 5
	config.Queue.BreakerWindow = 10 * time.Second
	config.DrainTimeout = 2 * time.Second

	p, err := NewPipeline(config, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	p.Start()
	stats := waitForStats(t, p, func(s Stats) bool { return s.BreakerMessage != "" })

	if !strings.Contains(stats.BreakerMessage, "transcription service unreachable") {
		t.Errorf("Unexpected breaker message %q", stats.BreakerMessage)
	}
	if !stats.Queue.BreakerTripped {
		t.Error("Expected queue stats to report tripped breaker")
	}

	p.Stop()
}
