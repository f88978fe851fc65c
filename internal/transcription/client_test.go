package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
)

func testChunk() *chunk.AudioChunk {
	return &chunk.AudioChunk{
		ID:             "chunk-abc",
		SequenceNumber: 2,
		StartTime:      20.0,
		EndTime:        30.0,
		AudioData:      []byte("webm-audio-bytes"),
		SampleRate:     44100,
		Channels:       1,
		Kind:           chunk.KindNormal,
	}
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Endpoint:      endpoint,
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestTranscribeSuccess(t *testing.T) {
	var gotFields map[string]string
	var gotFileName string
	var gotFileData []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		gotFields = make(map[string]string)
		for key := range r.MultipartForm.Value {
			gotFields[key] = r.FormValue(key)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing audio file: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFileName = header.Filename
		gotFileData, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"chunk_id": "chunk-abc",
			"text": "こんにちは 世界",
			"language": "ja",
			"duration": 10.0,
			"segments": [
				{"start": 0.5, "end": 4.0, "text": "こんにちは", "confidence": 0.92},
				{"start": 5.0, "end": 9.5, "text": "世界", "confidence": 0.88}
			]
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/transcribe")

	resp, err := client.Transcribe(context.Background(), &Request{
		Chunk:     testChunk(),
		RequestID: "req-1",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if resp.Text != "こんにちは 世界" {
		t.Errorf("Expected text %q, got %q", "こんにちは 世界", resp.Text)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(resp.Segments))
	}
	if resp.Segments[0].Start != 0.5 || resp.Segments[0].End != 4.0 {
		t.Errorf("Segment 0 range mismatch: %.1f-%.1f", resp.Segments[0].Start, resp.Segments[0].End)
	}
	if resp.ProcessedAt.IsZero() {
		t.Error("Expected ProcessedAt to be set")
	}

	if gotFileName != "chunk-abc.webm" {
		t.Errorf("Expected file name chunk-abc.webm, got %q", gotFileName)
	}
	if string(gotFileData) != "webm-audio-bytes" {
		t.Errorf("Audio data mismatch: got %q", string(gotFileData))
	}

	expectedFields := map[string]string{
		"chunk_id":         "chunk-abc",
		"sequence":         "2",
		"language":         "ja",
		"model":            "kotoba-whisper-v2.0-faster",
		"chunk_start_time": "20.000",
		"chunk_end_time":   "30.000",
		"duration":         "10.000",
		"sample_rate":      "44100",
		"channels":         "1",
		"response_format":  "json",
	}
	for key, expected := range expectedFields {
		if got := gotFields[key]; got != expected {
			t.Errorf("Field %s: expected %q, got %q", key, expected, got)
		}
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 total / 1 success, got %d / %d",
			stats.TotalRequests, stats.SuccessRequests)
	}
	if stats.SuccessRate != 100 {
		t.Errorf("Expected 100%% success rate, got %.1f", stats.SuccessRate)
	}
}

func TestTranscribeHTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)

			_, err := client.Transcribe(context.Background(), &Request{Chunk: testChunk()})
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			se, ok := AsServiceError(err)
			if !ok {
				t.Fatalf("Expected ServiceError, got %T: %v", err, err)
			}
			if se.Kind != ErrorHTTPStatus {
				t.Errorf("Expected kind http_status, got %s", se.Kind)
			}
			if se.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, se.StatusCode)
			}
			if se.Retryable() != tt.retryable {
				t.Errorf("Expected retryable=%v for status %d", tt.retryable, tt.status)
			}
		})
	}
}

func TestTranscribeBadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not json")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Transcribe(context.Background(), &Request{Chunk: testChunk()})
	se, ok := AsServiceError(err)
	if !ok {
		t.Fatalf("Expected ServiceError, got %v", err)
	}
	if se.Kind != ErrorBadResponse {
		t.Errorf("Expected kind bad_response, got %s", se.Kind)
	}
	if se.Retryable() {
		t.Error("Malformed response must not be retryable")
	}
}

func TestTranscribeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	client := newTestClient(t, endpoint)

	_, err := client.Transcribe(context.Background(), &Request{Chunk: testChunk()})
	se, ok := AsServiceError(err)
	if !ok {
		t.Fatalf("Expected ServiceError, got %v", err)
	}
	if se.Kind != ErrorUnreachable {
		t.Errorf("Expected kind unreachable, got %s", se.Kind)
	}
	if !se.Retryable() {
		t.Error("Connection failure must be retryable")
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint: server.URL,
		Timeout:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Transcribe(context.Background(), &Request{Chunk: testChunk()})
	se, ok := AsServiceError(err)
	if !ok {
		t.Fatalf("Expected ServiceError, got %v", err)
	}
	if se.Kind != ErrorTimeout {
		t.Errorf("Expected kind timeout, got %s", se.Kind)
	}
	if !se.Retryable() {
		t.Error("Timeout must be retryable")
	}
}

func TestTranscribeCanceledContext(t *testing.T) {
	client := newTestClient(t, "http://localhost:1/transcribe")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Transcribe(ctx, &Request{Chunk: testChunk()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if _, ok := AsServiceError(err); ok {
		t.Error("Cancellation must not be classified as a service error")
	}
}

func TestCheckHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("Expected /health path, got %s", r.URL.Path)
			}
			io.WriteString(w, `{"status":"ok"}`)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL+"/transcribe")
		if err := client.CheckHealth(context.Background()); err != nil {
			t.Errorf("Expected healthy, got %v", err)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL+"/transcribe")
		err := client.CheckHealth(context.Background())
		se, ok := AsServiceError(err)
		if !ok {
			t.Fatalf("Expected ServiceError, got %v", err)
		}
		if se.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", se.StatusCode)
		}
	})
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost:8000/transcribe"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.config.Language != "ja" {
		t.Errorf("Expected default language ja, got %q", client.config.Language)
	}
	if client.config.Model != "kotoba-whisper-v2.0-faster" {
		t.Errorf("Expected default model, got %q", client.config.Model)
	}
	if client.config.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", client.config.Timeout)
	}
	if client.config.MaxConcurrent != 2 {
		t.Errorf("Expected default concurrency 2, got %d", client.config.MaxConcurrent)
	}
}

func TestErrorKindClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       *ServiceError
		kindLabel string
		retryable bool
	}{
		{"unreachable", &ServiceError{Kind: ErrorUnreachable}, "unreachable", true},
		{"timeout", &ServiceError{Kind: ErrorTimeout}, "timeout", true},
		{"server error", &ServiceError{Kind: ErrorHTTPStatus, StatusCode: 503}, "http_status", true},
		{"client error", &ServiceError{Kind: ErrorHTTPStatus, StatusCode: 422}, "http_status", false},
		{"bad response", &ServiceError{Kind: ErrorBadResponse}, "bad_response", false},
		{"unknown", &ServiceError{Kind: ErrorUnknown}, "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Kind.String(); got != tt.kindLabel {
				t.Errorf("Expected kind label %q, got %q", tt.kindLabel, got)
			}
			if got := tt.err.Retryable(); got != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, got)
			}
			if !strings.Contains(tt.err.Error(), tt.kindLabel) {
				t.Errorf("Expected error string to mention %q: %s", tt.kindLabel, tt.err.Error())
			}
		})
	}
}
