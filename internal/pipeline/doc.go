// Package pipeline wires the recording watcher, the transcription queue,
// and the transcript layers into one lifecycle. It pumps extracted chunks
// into the queue, routes per-chunk results into the realtime buffer, and
// produces the final consolidated transcript on shutdown.
package pipeline
