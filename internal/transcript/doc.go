// Package transcript turns per-chunk transcription output into a single
// coherent document: it merges overlapping segments, repairs boundary gaps,
// filters noise, maintains the realtime text view, and writes the final
// transcript file.
package transcript
