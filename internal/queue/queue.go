package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcript"
	"github.com/iwabuchi404/koe-note-sub001/internal/transcription"
)

// Config contains queue settings.
type Config struct {
	// Workers is the number of concurrent transcription workers.
	Workers int

	// MaxRetries is the per-item retry budget.
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff
	// between attempts.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// BreakerThreshold and BreakerWindow configure the circuit breaker.
	BreakerThreshold int
	BreakerWindow    time.Duration

	// ResultBuffer is the capacity of the results channel.
	ResultBuffer int

	// TempDir holds spooled audio payloads. Empty means the system
	// temp directory.
	TempDir string
}

// DefaultConfig returns production queue settings.
func DefaultConfig() Config {
	return Config{
		Workers:          2,
		MaxRetries:       3,
		RetryBaseDelay:   1000 * time.Millisecond,
		RetryMaxDelay:    5000 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerWindow:    30 * time.Second,
		ResultBuffer:     100,
	}
}

// QueueStats is a snapshot of queue activity.
type QueueStats struct {
	Enqueued            uint64 `json:"enqueued"`
	Completed           uint64 `json:"completed"`
	Failed              uint64 `json:"failed"`
	Retries             uint64 `json:"retries"`
	Placeholders        uint64 `json:"placeholders"`
	Pending             int    `json:"pending"`
	InFlight            int    `json:"in_flight"`
	TotalChunksKnown    int    `json:"total_chunks_known"`
	BreakerTripped      bool   `json:"breaker_tripped"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Workers             int    `json:"workers"`
}

// QueueItemInfo is a read-only view of one item for status reporting.
type QueueItemInfo struct {
	ChunkID        string  `json:"chunk_id"`
	SequenceNumber int     `json:"sequence_number"`
	Status         Status  `json:"status"`
	Priority       int     `json:"priority"`
	RetryCount     int     `json:"retry_count"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
}

// Queue runs transcription of enqueued chunks through a fixed worker pool.
// Internal collections are owned by the queue; callers observe them only
// through snapshot accessors.
type Queue struct {
	config  Config
	client  *transcription.Client
	logger  *slog.Logger
	breaker *Breaker

	// Collections, guarded by mu
	items     map[string]*QueueItem
	pending   itemHeap
	inFlight  map[string]*QueueItem
	completed map[string]*ChunkResult

	totalChunksKnown int
	trippedEmitted   bool
	stopping         bool

	// Statistics
	enqueued       uint64
	completedCount uint64
	failedCount    uint64
	retryCount     uint64
	placeholders   uint64

	results chan *ChunkResult
	notify  chan struct{}
	quit    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a queue. Call Start to launch the workers.
func NewQueue(config Config, client *transcription.Client, logger *slog.Logger) *Queue {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	if config.RetryMaxDelay < config.RetryBaseDelay {
		config.RetryMaxDelay = DefaultConfig().RetryMaxDelay
	}
	if config.ResultBuffer <= 0 {
		config.ResultBuffer = DefaultConfig().ResultBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		config:    config,
		client:    client,
		logger:    logger,
		breaker:   NewBreaker(config.BreakerThreshold, config.BreakerWindow),
		items:     make(map[string]*QueueItem),
		pending:   make(itemHeap, 0),
		inFlight:  make(map[string]*QueueItem),
		completed: make(map[string]*ChunkResult),
		results:   make(chan *ChunkResult, config.ResultBuffer),
		notify:    make(chan struct{}, 1),
		quit:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Results returns the channel of processing outcomes, emitted in completion
// order. The channel is closed by Stop after in-flight items finish.
func (q *Queue) Results() <-chan *ChunkResult {
	return q.results
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.logger.Info("Transcription queue started",
		slog.Int("workers", q.config.Workers),
		slog.Int("max_retries", q.config.MaxRetries))
}

// Stop halts dequeuing, waits for in-flight items to finish, cleans up
// spooled payloads, and closes the results channel.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		return
	}
	q.stopping = true
	q.mu.Unlock()

	close(q.quit)
	q.wg.Wait()
	q.cancel()

	// Drop spools of items that never finalized.
	q.mu.Lock()
	for _, item := range q.items {
		if item.tempPath != "" {
			os.Remove(item.tempPath)
			item.tempPath = ""
		}
	}
	q.mu.Unlock()

	close(q.results)

	stats := q.GetStats()
	q.logger.Info("Transcription queue stopped",
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("retries", stats.Retries),
		slog.Int("left_pending", stats.Pending))
}

// Enqueue adds a chunk for transcription. Placeholder chunks complete
// immediately without a service call. Priority favors earlier sequence
// numbers relative to how many chunks the queue has seen.
func (q *Queue) Enqueue(c *chunk.AudioChunk) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing chunk: %w", err)
	}

	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		return fmt.Errorf("queue is stopped")
	}
	if _, exists := q.items[c.ID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("chunk %s already enqueued", c.ID)
	}

	q.totalChunksKnown++
	priority := q.totalChunksKnown - c.SequenceNumber
	if priority < 0 {
		priority = 0
	}

	item := &QueueItem{
		Chunk:      c,
		Status:     StatusPending,
		Priority:   priority,
		MaxRetries: q.config.MaxRetries,
		AddedAt:    time.Now(),
	}
	q.items[c.ID] = item
	q.enqueued++

	if c.Kind == chunk.KindLivePlaceholder {
		item.Status = StatusCompleted
		item.CompletedAt = time.Now()
		q.placeholders++
		q.completedCount++
		result := &ChunkResult{
			ChunkID:        c.ID,
			SequenceNumber: c.SequenceNumber,
			Status:         StatusCompleted,
			StartTime:      c.StartTime,
			EndTime:        c.EndTime,
			ProcessedAt:    time.Now(),
		}
		q.completed[c.ID] = result
		q.mu.Unlock()

		q.logger.Debug("Placeholder chunk completed without transcription",
			slog.Int("sequence", c.SequenceNumber))
		q.emitResult(result)
		return nil
	}

	heap.Push(&q.pending, item)
	q.mu.Unlock()

	q.logger.Debug("Chunk enqueued",
		slog.String("chunk_id", c.ID),
		slog.Int("sequence", c.SequenceNumber),
		slog.Int("priority", priority))

	q.signal()
	return nil
}

// signal wakes one idle worker.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// worker processes items until the queue stops or the breaker trips.
func (q *Queue) worker(workerID int) {
	defer q.wg.Done()

	q.logger.Debug("Queue worker started", slog.Int("worker_id", workerID))

	for {
		item := q.dequeue()
		if item == nil {
			break
		}
		q.process(item, workerID)
	}

	q.logger.Debug("Queue worker stopped", slog.Int("worker_id", workerID))
}

// dequeue pops the highest-priority pending item, blocking while the queue
// is empty. It returns nil when the queue is stopping or the breaker has
// tripped.
func (q *Queue) dequeue() *QueueItem {
	for {
		q.mu.Lock()
		if q.stopping || q.trippedEmitted {
			q.mu.Unlock()
			return nil
		}
		if q.pending.Len() > 0 {
			item := heap.Pop(&q.pending).(*QueueItem)
			item.Status = StatusProcessing
			item.StartedAt = time.Now()
			q.inFlight[item.Chunk.ID] = item
			if q.pending.Len() > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return item
		}
		q.mu.Unlock()

		select {
		case <-q.quit:
			return nil
		case <-q.notify:
		}
	}
}

// process runs one transcription attempt for an item the worker owns.
func (q *Queue) process(item *QueueItem, workerID int) {
	if err := q.spool(item); err != nil {
		q.finalizeFailed(item, fmt.Errorf("failed to spool audio payload: %w", err))
		return
	}

	payload, err := os.ReadFile(item.tempPath)
	if err != nil {
		q.finalizeFailed(item, fmt.Errorf("failed to read spooled payload: %w", err))
		return
	}

	// The request chunk is a copy; the item's payload stays on disk.
	requestChunk := *item.Chunk
	requestChunk.AudioData = payload

	resp, err := q.client.Transcribe(q.ctx, &transcription.Request{
		Chunk:     &requestChunk,
		RequestID: uuid.NewString(),
		Timestamp: time.Now(),
	})
	if err == nil {
		q.breaker.RecordOutcome()
		q.finalizeCompleted(item, resp, workerID)
		return
	}

	if errors.Is(err, context.Canceled) {
		q.repend(item)
		return
	}

	se, isService := transcription.AsServiceError(err)
	if isService && se.Kind == transcription.ErrorUnreachable {
		if q.breaker.RecordUnreachable() {
			q.trip(item)
			return
		}
	} else {
		q.breaker.RecordOutcome()
	}

	if isService && se.Retryable() && item.RetryCount < item.MaxRetries {
		q.scheduleRetry(item, err, workerID)
		return
	}

	q.finalizeFailed(item, err)
}

// spool writes the chunk payload to a temp file on first processing and
// releases the in-memory copy. The file lives until the item finalizes.
func (q *Queue) spool(item *QueueItem) error {
	if item.tempPath != "" {
		return nil
	}

	f, err := os.CreateTemp(q.config.TempDir, fmt.Sprintf("chunk_%s_*.webm", item.Chunk.ID))
	if err != nil {
		return err
	}
	if _, err := f.Write(item.Chunk.AudioData); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}

	item.tempPath = f.Name()
	item.Chunk.AudioData = nil
	return nil
}

// finalizeCompleted records a successful result and emits it.
func (q *Queue) finalizeCompleted(item *QueueItem, resp *transcription.Response, workerID int) {
	result := q.translate(item, resp)

	q.mu.Lock()
	item.Status = StatusCompleted
	item.CompletedAt = time.Now()
	delete(q.inFlight, item.Chunk.ID)
	q.completed[item.Chunk.ID] = result
	q.completedCount++
	q.removeSpoolLocked(item)
	q.mu.Unlock()

	q.logger.Debug("Chunk transcribed",
		slog.Int("worker_id", workerID),
		slog.Int("sequence", item.Chunk.SequenceNumber),
		slog.Int("segments", len(result.Segments)),
		slog.Int("retries", item.RetryCount))

	q.emitResult(result)
}

// finalizeFailed records a permanent failure and emits a failed result
// carrying an actionable message.
func (q *Queue) finalizeFailed(item *QueueItem, err error) {
	result := &ChunkResult{
		ChunkID:        item.Chunk.ID,
		SequenceNumber: item.Chunk.SequenceNumber,
		Status:         StatusFailed,
		StartTime:      item.Chunk.StartTime,
		EndTime:        item.Chunk.EndTime,
		Error:          failureMessage(err),
		RetryCount:     item.RetryCount,
		ProcessingTime: time.Since(item.StartedAt),
		ProcessedAt:    time.Now(),
	}

	q.mu.Lock()
	item.Status = StatusFailed
	item.CompletedAt = time.Now()
	delete(q.inFlight, item.Chunk.ID)
	q.completed[item.Chunk.ID] = result
	q.failedCount++
	q.removeSpoolLocked(item)
	q.mu.Unlock()

	q.logger.Error("Chunk transcription failed permanently",
		slog.String("chunk_id", item.Chunk.ID),
		slog.Int("sequence", item.Chunk.SequenceNumber),
		slog.Int("retries", item.RetryCount),
		slog.String("error", err.Error()))

	q.emitResult(result)
}

// scheduleRetry re-enqueues the item after an exponential backoff delay,
// at reduced priority so persistent failures cannot starve newer chunks.
func (q *Queue) scheduleRetry(item *QueueItem, err error, workerID int) {
	q.mu.Lock()
	item.RetryCount++
	item.Status = StatusPending
	delete(q.inFlight, item.Chunk.ID)
	q.retryCount++
	retries := item.RetryCount
	q.mu.Unlock()

	delay := q.backoffDelay(retries)
	q.logger.Warn("Chunk transcription failed, retrying",
		slog.Int("worker_id", workerID),
		slog.Int("sequence", item.Chunk.SequenceNumber),
		slog.Int("retry", retries),
		slog.Int("max_retries", item.MaxRetries),
		slog.Duration("backoff", delay),
		slog.String("error", err.Error()))

	time.AfterFunc(delay, func() {
		q.requeue(item)
	})
}

// requeue pushes a retried item back onto the pending heap.
func (q *Queue) requeue(item *QueueItem) {
	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		return
	}
	if item.Priority > 0 {
		item.Priority--
	}
	heap.Push(&q.pending, item)
	q.mu.Unlock()

	q.signal()
}

// repend returns an item to pending untouched, used when its attempt was
// canceled rather than failed.
func (q *Queue) repend(item *QueueItem) {
	q.mu.Lock()
	item.Status = StatusPending
	delete(q.inFlight, item.Chunk.ID)
	heap.Push(&q.pending, item)
	q.mu.Unlock()
}

// trip halts processing and emits the single terminal result. The item
// whose failure fired the breaker goes back to pending untouched; the
// outage is the service's fault, not the chunk's.
func (q *Queue) trip(item *QueueItem) {
	q.mu.Lock()
	item.Status = StatusPending
	delete(q.inFlight, item.Chunk.ID)
	heap.Push(&q.pending, item)

	if q.trippedEmitted {
		q.mu.Unlock()
		return
	}
	q.trippedEmitted = true
	pending := q.pending.Len()
	q.mu.Unlock()

	q.logger.Error("Circuit breaker tripped, transcription halted",
		slog.Int("consecutive_failures", q.breaker.ConsecutiveFailures()),
		slog.Duration("window", q.config.BreakerWindow),
		slog.Int("left_pending", pending))

	q.emitResult(&ChunkResult{
		SequenceNumber: -1,
		Status:         StatusFailed,
		Error:          "transcription service unreachable; restart it",
		Terminal:       true,
		ProcessedAt:    time.Now(),
	})
}

// removeSpoolLocked deletes the item's temp file. Caller holds mu.
func (q *Queue) removeSpoolLocked(item *QueueItem) {
	if item.tempPath != "" {
		os.Remove(item.tempPath)
		item.tempPath = ""
	}
}

// emitResult delivers a result to the channel in completion order.
func (q *Queue) emitResult(r *ChunkResult) {
	q.results <- r
}

// backoffDelay returns the retry delay for the given attempt count.
func (q *Queue) backoffDelay(retryCount int) time.Duration {
	delay := q.config.RetryBaseDelay * time.Duration(1<<uint(retryCount-1))
	if delay > q.config.RetryMaxDelay {
		delay = q.config.RetryMaxDelay
	}
	return delay
}

// translate rebases the service's chunk-relative segments onto the
// recording timeline. A text-only response becomes one segment spanning
// the chunk.
func (q *Queue) translate(item *QueueItem, resp *transcription.Response) *ChunkResult {
	c := item.Chunk

	segments := make([]transcript.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, transcript.Segment{
			Start:         c.StartTime + s.Start,
			End:           c.StartTime + s.End,
			Text:          s.Text,
			Confidence:    s.Confidence,
			Speaker:       s.Speaker,
			ChunkSequence: c.SequenceNumber,
		})
	}
	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, transcript.Segment{
			Start:         c.StartTime,
			End:           c.EndTime,
			Text:          resp.Text,
			Confidence:    resp.Confidence,
			ChunkSequence: c.SequenceNumber,
		})
	}

	text := resp.Text
	if text == "" {
		for i, s := range segments {
			if i > 0 {
				text += " "
			}
			text += s.Text
		}
	}

	confidence := resp.Confidence
	if confidence == 0 && len(resp.Segments) > 0 {
		for _, s := range resp.Segments {
			confidence += s.Confidence
		}
		confidence /= float32(len(resp.Segments))
	}

	return &ChunkResult{
		ChunkID:        c.ID,
		SequenceNumber: c.SequenceNumber,
		Status:         StatusCompleted,
		Text:           text,
		Segments:       segments,
		Confidence:     confidence,
		StartTime:      c.StartTime,
		EndTime:        c.EndTime,
		RetryCount:     item.RetryCount,
		ProcessingTime: time.Since(item.StartedAt),
		ProcessedAt:    time.Now(),
	}
}

// failureMessage maps an error to the message shown to the user.
func failureMessage(err error) string {
	se, ok := transcription.AsServiceError(err)
	if !ok {
		return fmt.Sprintf("transcription failed: %v", err)
	}

	switch se.Kind {
	case transcription.ErrorUnreachable:
		return "transcription service unreachable; restart it"
	case transcription.ErrorTimeout:
		return "transcription request timed out; the service may be overloaded"
	case transcription.ErrorHTTPStatus:
		if se.StatusCode == 429 {
			return "transcription service is rate limiting requests; reduce worker concurrency"
		}
		if se.StatusCode >= 500 {
			return fmt.Sprintf("transcription service error (HTTP %d); check the service logs", se.StatusCode)
		}
		return fmt.Sprintf("transcription request rejected (HTTP %d); the chunk may be malformed", se.StatusCode)
	case transcription.ErrorBadResponse:
		return "transcription service returned an unreadable response; check service compatibility"
	default:
		return fmt.Sprintf("transcription failed: %v", err)
	}
}

// GetStats returns a snapshot of queue counters.
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Enqueued:            q.enqueued,
		Completed:           q.completedCount,
		Failed:              q.failedCount,
		Retries:             q.retryCount,
		Placeholders:        q.placeholders,
		Pending:             q.pendingCountLocked(),
		InFlight:            len(q.inFlight),
		TotalChunksKnown:    q.totalChunksKnown,
		BreakerTripped:      q.breaker.Tripped(),
		ConsecutiveFailures: q.breaker.ConsecutiveFailures(),
		Workers:             q.config.Workers,
	}
}

// pendingCountLocked counts items in pending state, including those waiting
// out a retry backoff. Caller holds mu.
func (q *Queue) pendingCountLocked() int {
	count := 0
	for _, item := range q.items {
		if item.Status == StatusPending {
			count++
		}
	}
	return count
}

// Items returns a snapshot of every known item for status reporting,
// ordered by sequence number.
func (q *Queue) Items() []QueueItemInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	infos := make([]QueueItemInfo, 0, len(q.items))
	for _, item := range q.items {
		infos = append(infos, QueueItemInfo{
			ChunkID:        item.Chunk.ID,
			SequenceNumber: item.Chunk.SequenceNumber,
			Status:         item.Status,
			Priority:       item.Priority,
			RetryCount:     item.RetryCount,
			StartTime:      item.Chunk.StartTime,
			EndTime:        item.Chunk.EndTime,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SequenceNumber < infos[j].SequenceNumber
	})
	return infos
}

// CompletedResult returns the stored result for a chunk, if it finished.
func (q *Queue) CompletedResult(chunkID string) (*ChunkResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.completed[chunkID]
	return r, ok
}
