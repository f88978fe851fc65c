// Package watch polls a recording directory, detects completed chunk files
// and live recordings, and emits each ready chunk exactly once on a channel.
// It owns the detected/processed bookkeeping that defines the pipeline's
// authoritative work order.
package watch
