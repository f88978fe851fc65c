package chunk

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags how an AudioChunk was produced. Placeholder and estimated
// chunks flow through the same pipeline as normal ones but are exempt from
// quality gating, so the sequence keeps advancing under degraded input.
type Kind int

const (
	KindNormal Kind = iota
	KindLivePlaceholder
	KindEstimated
)

// String returns a human-readable representation of the chunk kind.
func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindLivePlaceholder:
		return "live_placeholder"
	case KindEstimated:
		return "estimated"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// AudioChunk is a self-contained slice of the recording, ready for
// transcription. Immutable once handed to the queue; discarded after its
// result is produced.
type AudioChunk struct {
	ID                  string  `json:"id"`
	SequenceNumber      int     `json:"sequence_number"`
	StartTime           float64 `json:"start_time"` // seconds from recording start
	EndTime             float64 `json:"end_time"`
	AudioData           []byte  `json:"-"`
	SampleRate          int     `json:"sample_rate"`
	Channels            int     `json:"channels"`
	OverlapWithPrevious float64 `json:"overlap_with_previous"`
	SourceFilePath      string  `json:"source_file_path,omitempty"`
	Kind                Kind    `json:"kind"`

	CreatedAt time.Time `json:"created_at"`
}

// Duration returns the chunk's covered time range in seconds.
func (c *AudioChunk) Duration() float64 {
	return c.EndTime - c.StartTime
}

// Validate checks the chunk's structural invariants. A live placeholder may
// be zero-length in both time and bytes; everything else must cover a
// positive time range.
func (c *AudioChunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk has no id")
	}
	if c.SequenceNumber < 0 {
		return fmt.Errorf("negative sequence number: %d", c.SequenceNumber)
	}
	if c.Kind == KindLivePlaceholder {
		if c.EndTime < c.StartTime {
			return fmt.Errorf("placeholder end time %.3f before start time %.3f", c.EndTime, c.StartTime)
		}
		return nil
	}
	if c.EndTime <= c.StartTime {
		return fmt.Errorf("end time %.3f not after start time %.3f", c.EndTime, c.StartTime)
	}
	if len(c.AudioData) == 0 {
		return errors.New("chunk has no audio data")
	}
	return nil
}

// String returns a human-readable representation of the chunk.
func (c *AudioChunk) String() string {
	return fmt.Sprintf("AudioChunk{Seq:%d, Kind:%s, Range:%.2f-%.2fs, Bytes:%d}",
		c.SequenceNumber, c.Kind, c.StartTime, c.EndTime, len(c.AudioData))
}
