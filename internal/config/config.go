package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Watcher       WatcherConfig       `yaml:"watcher"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Queue         QueueConfig         `yaml:"queue"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// WatcherConfig contains recording directory watcher configuration
type WatcherConfig struct {
	Directory      string `yaml:"directory"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// ChunkingConfig contains chunk extraction parameters
type ChunkingConfig struct {
	IntervalSeconds  float64 `yaml:"interval_seconds"`
	OverlapSeconds   float64 `yaml:"overlap_seconds"`
	StabilityDelayMs int     `yaml:"stability_delay_ms"`
	MinStableBytes   int64   `yaml:"min_stable_bytes"`
	MinChunkDuration float64 `yaml:"min_chunk_duration"` // seconds
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
}

// TranscriptionConfig contains transcription service configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
	OutputFormat  string `yaml:"output_format"`
}

// QueueConfig contains transcription queue configuration
type QueueConfig struct {
	MaxConcurrency       int `yaml:"max_concurrency"`
	MaxRetries           int `yaml:"max_retries"`
	BackoffBaseMs        int `yaml:"backoff_base_ms"`
	BackoffMaxMs         int `yaml:"backoff_max_ms"`
	BreakerThreshold     int `yaml:"breaker_threshold"`
	BreakerWindowSeconds int `yaml:"breaker_window_seconds"`
}

// ConsolidationConfig contains transcript consolidation configuration
type ConsolidationConfig struct {
	OverlapThreshold     float64 `yaml:"overlap_threshold"` // seconds
	QualityThreshold     float32 `yaml:"quality_threshold"`
	EnableTextSmoothing  bool    `yaml:"enable_text_smoothing"`
	EnableTimeAdjustment bool    `yaml:"enable_time_adjustment"`
	MaxSilenceGap        float64 `yaml:"max_silence_gap"` // seconds
	SilencePlaceholder   string  `yaml:"silence_placeholder"`
}

// RealtimeConfig contains realtime transcript output configuration
type RealtimeConfig struct {
	WriteIntervalMs int    `yaml:"write_interval_ms"`
	BufferSize      int    `yaml:"buffer_size"`
	OutputPath      string `yaml:"output_path"`
	Timestamped     bool   `yaml:"timestamped"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the stock configuration. Load layers file values on top
// of it, so a partial config file only needs to name the keys it changes.
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{
			Directory:      "recordings",
			PollIntervalMs: 1000,
		},
		Chunking: ChunkingConfig{
			IntervalSeconds:  10,
			OverlapSeconds:   0,
			StabilityDelayMs: 500,
			MinStableBytes:   1000,
			MinChunkDuration: 1.0,
			SampleRate:       44100,
			Channels:         1,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "http://localhost:8000/transcribe",
			Model:         "kotoba-whisper-v2.0-faster",
			Language:      "ja",
			Timeout:       30,
			MaxConcurrent: 2,
			OutputFormat:  "json",
		},
		Queue: QueueConfig{
			MaxConcurrency:       2,
			MaxRetries:           3,
			BackoffBaseMs:        1000,
			BackoffMaxMs:         5000,
			BreakerThreshold:     5,
			BreakerWindowSeconds: 30,
		},
		Consolidation: ConsolidationConfig{
			OverlapThreshold:     0.5,
			QualityThreshold:     0.0,
			EnableTextSmoothing:  true,
			EnableTimeAdjustment: true,
			MaxSilenceGap:        5.0,
			SilencePlaceholder:   "[silence]",
		},
		Realtime: RealtimeConfig{
			WriteIntervalMs: 3000,
			BufferSize:      1000,
			OutputPath:      "output/transcript.txt",
			Timestamped:     true,
		},
		HTTP: HTTPConfig{
			Port:    8085,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Watcher.Validate(); err != nil {
		return fmt.Errorf("watcher config: %w", err)
	}

	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Consolidation.Validate(); err != nil {
		return fmt.Errorf("consolidation config: %w", err)
	}

	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates watcher configuration
func (w *WatcherConfig) Validate() error {
	if w.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	if w.PollIntervalMs < 100 {
		return fmt.Errorf("poll_interval_ms must be at least 100, got %d", w.PollIntervalMs)
	}

	return nil
}

// Validate validates chunking configuration
func (c *ChunkingConfig) Validate() error {
	if c.IntervalSeconds < 5 || c.IntervalSeconds > 20 {
		return fmt.Errorf("interval_seconds must be between 5 and 20, got %f", c.IntervalSeconds)
	}

	if c.OverlapSeconds < 0 || c.OverlapSeconds >= c.IntervalSeconds {
		return fmt.Errorf("overlap_seconds must be between 0 and interval_seconds (exclusive), got %f", c.OverlapSeconds)
	}

	if c.StabilityDelayMs < 0 {
		return fmt.Errorf("stability_delay_ms cannot be negative, got %d", c.StabilityDelayMs)
	}

	if c.MinStableBytes < 0 {
		return fmt.Errorf("min_stable_bytes cannot be negative, got %d", c.MinStableBytes)
	}

	if c.MinChunkDuration <= 0 {
		return fmt.Errorf("min_chunk_duration must be positive, got %f", c.MinChunkDuration)
	}

	if c.MinChunkDuration > c.IntervalSeconds {
		return fmt.Errorf("min_chunk_duration (%f) must not exceed interval_seconds (%f)",
			c.MinChunkDuration, c.IntervalSeconds)
	}

	if c.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000 Hz, got %d", c.SampleRate)
	}

	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}

	return nil
}

// Validate validates transcription configuration. The api_key may be empty;
// the stock deployment is a local service with no authentication.
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.OutputFormat] {
		return fmt.Errorf("output_format must be 'json' or 'text', got '%s'", t.OutputFormat)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", q.MaxConcurrency)
	}

	if q.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", q.MaxRetries)
	}

	if q.BackoffBaseMs < 1 {
		return fmt.Errorf("backoff_base_ms must be at least 1, got %d", q.BackoffBaseMs)
	}

	if q.BackoffMaxMs < q.BackoffBaseMs {
		return fmt.Errorf("backoff_max_ms (%d) must be at least backoff_base_ms (%d)",
			q.BackoffMaxMs, q.BackoffBaseMs)
	}

	if q.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be at least 1, got %d", q.BreakerThreshold)
	}

	if q.BreakerWindowSeconds < 1 {
		return fmt.Errorf("breaker_window_seconds must be at least 1, got %d", q.BreakerWindowSeconds)
	}

	return nil
}

// Validate validates consolidation configuration
func (c *ConsolidationConfig) Validate() error {
	if c.OverlapThreshold < 0 {
		return fmt.Errorf("overlap_threshold cannot be negative, got %f", c.OverlapThreshold)
	}

	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be between 0 and 1, got %f", c.QualityThreshold)
	}

	if c.MaxSilenceGap <= 0 {
		return fmt.Errorf("max_silence_gap must be positive, got %f", c.MaxSilenceGap)
	}

	if c.SilencePlaceholder == "" {
		return fmt.Errorf("silence_placeholder cannot be empty")
	}

	return nil
}

// Validate validates realtime output configuration
func (r *RealtimeConfig) Validate() error {
	if r.WriteIntervalMs < 100 {
		return fmt.Errorf("write_interval_ms must be at least 100, got %d", r.WriteIntervalMs)
	}

	if r.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", r.BufferSize)
	}

	if r.OutputPath == "" {
		return fmt.Errorf("output_path cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output accepts stdout, stderr, or a file path; nothing to reject here.
	return nil
}

// GetPollInterval returns the watcher poll interval as a time.Duration
func (w *WatcherConfig) GetPollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// GetStabilityDelay returns the stability sampling delay as a time.Duration
func (c *ChunkingConfig) GetStabilityDelay() time.Duration {
	return time.Duration(c.StabilityDelayMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetBackoffBase returns the retry backoff base as a time.Duration
func (q *QueueConfig) GetBackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseMs) * time.Millisecond
}

// GetBackoffMax returns the retry backoff ceiling as a time.Duration
func (q *QueueConfig) GetBackoffMax() time.Duration {
	return time.Duration(q.BackoffMaxMs) * time.Millisecond
}

// GetBreakerWindow returns the breaker sliding window as a time.Duration
func (q *QueueConfig) GetBreakerWindow() time.Duration {
	return time.Duration(q.BreakerWindowSeconds) * time.Second
}

// GetWriteInterval returns the realtime flush interval as a time.Duration
func (r *RealtimeConfig) GetWriteInterval() time.Duration {
	return time.Duration(r.WriteIntervalMs) * time.Millisecond
}

// Sanitized returns a copy safe to expose over the monitoring API.
func (c *Config) Sanitized() *Config {
	out := *c
	if out.Transcription.APIKey != "" {
		out.Transcription.APIKey = "***"
	}
	return &out
}
