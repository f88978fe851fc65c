package queue

import (
	"fmt"
	"time"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcript"
)

// Status represents the lifecycle state of a queue item.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

// String returns the status label.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its label.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// QueueItem wraps a chunk awaiting transcription. Items are owned by the
// queue: after Enqueue only the worker currently processing an item may
// mutate it.
type QueueItem struct {
	Chunk      *chunk.AudioChunk
	Status     Status
	Priority   int
	RetryCount int
	MaxRetries int

	AddedAt     time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// tempPath is the on-disk spool of the chunk payload. It exists from
	// first processing until the item is finalized.
	tempPath string

	// index is maintained by the heap.
	index int
}

func (i *QueueItem) String() string {
	return fmt.Sprintf("QueueItem[seq=%d status=%s priority=%d retries=%d/%d]",
		i.Chunk.SequenceNumber, i.Status, i.Priority, i.RetryCount, i.MaxRetries)
}

// ChunkResult is the outcome of processing one chunk. Segments are absolute
// on the recording timeline. A Terminal result is the queue-wide
// service-unavailable signal, not tied to any one chunk.
type ChunkResult struct {
	ChunkID        string               `json:"chunk_id"`
	SequenceNumber int                  `json:"sequence_number"`
	Status         Status               `json:"status"`
	Text           string               `json:"text,omitempty"`
	Segments       []transcript.Segment `json:"segments,omitempty"`
	Confidence     float32              `json:"confidence,omitempty"`
	StartTime      float64              `json:"start_time"`
	EndTime        float64              `json:"end_time"`
	Error          string               `json:"error,omitempty"`
	RetryCount     int                  `json:"retry_count"`
	Terminal       bool                 `json:"terminal,omitempty"`
	ProcessingTime time.Duration        `json:"processing_time"`
	ProcessedAt    time.Time            `json:"processed_at"`
}

// itemHeap orders pending items so the highest priority is popped first.
// Ties go to the earlier sequence, then to the earlier arrival.
type itemHeap []*QueueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if h[i].Chunk.SequenceNumber != h[j].Chunk.SequenceNumber {
		return h[i].Chunk.SequenceNumber < h[j].Chunk.SequenceNumber
	}
	return h[i].AddedAt.Before(h[j].AddedAt)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*QueueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
