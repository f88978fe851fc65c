// Package chunk turns a growing WebM recording into self-contained audio
// chunks. It tracks the last processed byte offset, waits for the source to
// be stable before reading, and prefixes differential byte ranges with a
// container header so each chunk decodes on its own.
package chunk
