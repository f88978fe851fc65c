// Package transcription implements the HTTP client for the speech-to-text
// service. It handles multipart form data requests with audio chunks and
// metadata, classifies failures into typed service errors, and manages rate
// limiting. Retries are the queue's responsibility, not the client's.
package transcription
