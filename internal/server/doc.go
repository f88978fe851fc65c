// Package server implements the HTTP API for monitoring and management.
// It exposes pipeline statistics, the pending-file list, the current
// realtime transcript, sanitized configuration, and Prometheus metrics.
package server
