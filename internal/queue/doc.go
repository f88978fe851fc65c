// Package queue schedules chunk transcription: a priority queue favoring
// earlier chunks, a fixed worker pool, exponential-backoff retries, and a
// circuit breaker that halts processing when the downstream service is
// unreachable. Results carry segments rebased onto the recording timeline.
package queue
