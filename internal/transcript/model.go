package transcript

import (
	"fmt"
	"time"
)

// Segment is one piece of transcribed speech positioned on the recording
// timeline. Start and End are absolute seconds from the beginning of the
// recording; ChunkSequence records which chunk produced the segment so
// overlap resolution can prefer fresher extractions.
type Segment struct {
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Text          string  `json:"text"`
	Confidence    float32 `json:"confidence,omitempty"`
	Speaker       string  `json:"speaker,omitempty"`
	ChunkSequence int     `json:"chunk_sequence"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Overlap returns how many seconds of s and other cover the same part of
// the timeline, zero if they are disjoint.
func (s Segment) Overlap(other Segment) float64 {
	start := s.Start
	if other.Start > start {
		start = other.Start
	}
	end := s.End
	if other.End < end {
		end = other.End
	}
	if end <= start {
		return 0
	}
	return end - start
}

func (s Segment) String() string {
	return fmt.Sprintf("Segment[%.1f-%.1fs seq=%d text=%q]",
		s.Start, s.End, s.ChunkSequence, s.Text)
}

// Result is the consolidated transcript document.
type Result struct {
	AudioFilePath string    `json:"audio_file_path"`
	Model         string    `json:"model"`
	Language      string    `json:"language"`
	TranscribedAt time.Time `json:"transcribed_at"`
	Duration      float64   `json:"duration"`
	Coverage      float64   `json:"coverage"`
	SegmentCount  int       `json:"segment_count"`
	Segments      []Segment `json:"segments"`
}
