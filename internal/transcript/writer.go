package transcript

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriterConfig selects the transcript file format.
type WriterConfig struct {
	// Timestamped emits one "[HH:MM:SS.d] text" line per segment;
	// otherwise segments are concatenated as plain text.
	Timestamped bool
}

// Writer renders a consolidated transcript to a file: a metadata block
// followed by the segment text.
type Writer struct {
	config WriterConfig
	logger *slog.Logger
}

// NewWriter creates a transcript writer.
func NewWriter(config WriterConfig, logger *slog.Logger) *Writer {
	return &Writer{
		config: config,
		logger: logger,
	}
}

// Write renders the transcript to path, creating parent directories as
// needed. The write goes through a temp file so a crash never leaves a
// half-written transcript.
func (w *Writer) Write(path string, result *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	content := w.render(result)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move transcript into place: %w", err)
	}

	w.logger.Info("Transcript written",
		slog.String("path", path),
		slog.Int("segments", result.SegmentCount),
		slog.Float64("duration", result.Duration),
		slog.Float64("coverage", result.Coverage))

	return nil
}

// render produces the file content.
func (w *Writer) render(result *Result) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("audio_file: %s\n", result.AudioFilePath))
	b.WriteString(fmt.Sprintf("model: %s\n", result.Model))
	b.WriteString(fmt.Sprintf("transcribed_at: %s\n", result.TranscribedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("duration: %.1f\n", result.Duration))
	b.WriteString(fmt.Sprintf("segment_count: %d\n", result.SegmentCount))
	b.WriteString(fmt.Sprintf("language: %s\n", result.Language))
	b.WriteString(fmt.Sprintf("coverage: %.1f%%\n", result.Coverage*100))
	b.WriteString("\n")

	if w.config.Timestamped {
		for _, seg := range result.Segments {
			b.WriteString(fmt.Sprintf("[%s] %s\n", formatTimestamp(seg.Start), seg.Text))
		}
	} else {
		for i, seg := range result.Segments {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(seg.Text)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// formatTimestamp renders seconds as HH:MM:SS.d. Rounding to tenths happens
// before the split so 59.96s carries into the minute instead of printing
// as 60.0 seconds.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := int(math.Round(seconds * 10))
	h := tenths / 36000
	m := (tenths % 36000) / 600
	s := float64(tenths%600) / 10
	return fmt.Sprintf("%02d:%02d:%04.1f", h, m, s)
}
