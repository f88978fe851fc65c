package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/iwabuchi404/koe-note-sub001/internal/chunk"
)

// Client provides HTTP client functionality for transcription service requests.
// Each Transcribe call performs exactly one attempt; retry scheduling belongs
// to the queue so backoff and circuit-breaking stay in one place.
type Client struct {
	config     Config
	httpClient *http.Client
	healthURL  string
	semaphore  chan struct{} // Rate limiting semaphore

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Language      string
	Model         string
	Timeout       time.Duration
	MaxConcurrent int
	OutputFormat  string // "json" or "text"
}

// DefaultConfig returns settings for a local faster-whisper service.
func DefaultConfig() Config {
	return Config{
		Endpoint:      "http://localhost:8000/transcribe",
		Language:      "ja",
		Model:         "kotoba-whisper-v2.0-faster",
		Timeout:       30 * time.Second,
		MaxConcurrent: 2,
		OutputFormat:  "json",
	}
}

// Request represents one transcription request.
type Request struct {
	// Chunk to transcribe
	Chunk *chunk.AudioChunk

	// Transcription parameters
	Language    string  `json:"language,omitempty"`
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`

	// Request metadata
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Response represents the response from the transcription service.
type Response struct {
	ChunkID     string    `json:"chunk_id"`
	Text        string    `json:"text"`
	Confidence  float32   `json:"confidence"`
	Language    string    `json:"language,omitempty"`
	Segments    []Segment `json:"segments,omitempty"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Segment represents a segment of transcribed text. Times are seconds
// relative to the start of the submitted chunk.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

// ClientStats represents client statistics.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription HTTP client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	if config.Language == "" {
		config.Language = "ja"
	}

	if config.Model == "" {
		config.Model = "kotoba-whisper-v2.0-faster"
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	if config.OutputFormat == "" {
		config.OutputFormat = "json"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	health := *endpoint
	health.Path = "/health"
	health.RawQuery = ""

	// Create semaphore for rate limiting
	semaphore := make(chan struct{}, config.MaxConcurrent)

	return &Client{
		config:     config,
		httpClient: httpClient,
		healthURL:  health.String(),
		semaphore:  semaphore,
	}, nil
}

// Transcribe sends an audio chunk for transcription. Failures are returned
// as *ServiceError so the caller can branch on kind; a canceled context is
// returned as-is.
func (c *Client) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	response, err := c.doRequest(ctx, request)
	if err != nil {
		c.incrementFailedRequests()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return response, nil
}

// CheckHealth probes the service's health endpoint.
func (c *Client) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{
			Kind:       ErrorHTTPStatus,
			StatusCode: resp.StatusCode,
			Message:    "health check failed",
		}
	}
	return nil
}

// doRequest performs a single HTTP request to the transcription service.
func (c *Client) doRequest(ctx context.Context, request *Request) (*Response, error) {
	// Create multipart form data
	body, contentType, err := c.createMultipartRequest(request)
	if err != nil {
		return nil, &ServiceError{Kind: ErrorUnknown, Message: err.Error(), Err: err}
	}

	// Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return nil, &ServiceError{Kind: ErrorUnknown, Message: err.Error(), Err: err}
	}

	// Set headers
	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "KoeNote-Transcriber/1.0")

	// Perform request
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	// Read response body
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Kind: ErrorBadResponse, Message: err.Error(), Err: err}
	}

	// Check HTTP status
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{
			Kind:       ErrorHTTPStatus,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	// Parse response
	var transcriptionResp Response
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, &ServiceError{
			Kind:    ErrorBadResponse,
			Message: fmt.Sprintf("failed to parse response JSON: %v", err),
			Err:     err,
		}
	}

	// Set processed timestamp
	transcriptionResp.ProcessedAt = time.Now()

	return &transcriptionResp, nil
}

// createMultipartRequest creates a multipart/form-data request body.
func (c *Client) createMultipartRequest(request *Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Add audio file
	if len(request.Chunk.AudioData) > 0 {
		filename := fmt.Sprintf("%s.webm", request.Chunk.ID)
		fileWriter, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}

		if _, err := fileWriter.Write(request.Chunk.AudioData); err != nil {
			return nil, "", fmt.Errorf("failed to write audio data: %w", err)
		}
	}

	language := request.Language
	if language == "" {
		language = c.config.Language
	}
	model := request.Model
	if model == "" {
		model = c.config.Model
	}

	// Add chunk metadata fields
	fields := map[string]string{
		// Basic chunk information
		"chunk_id":    request.Chunk.ID,
		"sequence":    fmt.Sprintf("%d", request.Chunk.SequenceNumber),
		"sample_rate": fmt.Sprintf("%d", request.Chunk.SampleRate),
		"channels":    fmt.Sprintf("%d", request.Chunk.Channels),
		"duration":    fmt.Sprintf("%.3f", request.Chunk.Duration()),

		// Position in the recording
		"chunk_start_time": fmt.Sprintf("%.3f", request.Chunk.StartTime),
		"chunk_end_time":   fmt.Sprintf("%.3f", request.Chunk.EndTime),

		// Transcription parameters
		"language": language,
		"model":    model,

		// Request metadata
		"request_id":        request.RequestID,
		"request_timestamp": request.Timestamp.Format(time.RFC3339),

		// Configuration
		"response_format": c.config.OutputFormat,
	}

	// Add optional request parameters
	if request.Prompt != "" {
		fields["prompt"] = request.Prompt
	}
	if request.Temperature > 0 {
		fields["temperature"] = fmt.Sprintf("%.2f", request.Temperature)
	}

	// Write all form fields
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	// Close writer
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	activeRequests := len(c.semaphore)

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  activeRequests,
	}
}

// Close waits for all active requests to complete.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
