package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type TranscriptionSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
}

type TranscriptionResponse struct {
	ChunkID     string                 `json:"chunk_id"`
	Text        string                 `json:"text"`
	Confidence  float32                `json:"confidence"`
	Language    string                 `json:"language"`
	Segments    []TranscriptionSegment `json:"segments"`
	Duration    float64                `json:"duration"`
	ProcessedAt time.Time              `json:"processed_at"`
}

var cannedPhrases = []string{
	"これはテスト用の文字起こしです",
	"音声チャンクを受信しました",
	"次のセグメントに続きます",
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	err := r.ParseMultipartForm(10 << 20) // 10 MB
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	// Get basic form fields
	chunkID := r.FormValue("chunk_id")
	sequence := r.FormValue("sequence")
	duration := r.FormValue("duration")
	sampleRate := r.FormValue("sample_rate")
	channels := r.FormValue("channels")

	// Get position in the recording
	chunkStartTime := r.FormValue("chunk_start_time")
	chunkEndTime := r.FormValue("chunk_end_time")

	// Get transcription parameters
	language := r.FormValue("language")
	model := r.FormValue("model")

	// Get request metadata
	requestID := r.FormValue("request_id")
	responseFormat := r.FormValue("response_format")

	// Get audio file
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Read file content to get size
	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	// Log comprehensive request information
	log.Printf("🎤 TRANSCRIPTION REQUEST RECEIVED:")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  📊 Basic Info:")
	log.Printf("    Request ID: %s", requestID)
	log.Printf("    Chunk ID: %s", chunkID)
	log.Printf("    Sequence: %s", sequence)
	log.Printf("    Duration: %s seconds", duration)
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  ⏱️  Recording Position:")
	log.Printf("    Chunk Start: %s", chunkStartTime)
	log.Printf("    Chunk End: %s", chunkEndTime)
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  🎧 Audio Info:")
	log.Printf("    Filename: %s", header.Filename)
	log.Printf("    Audio Size: %d bytes", len(audioData))
	log.Printf("    Content-Type: %s", header.Header.Get("Content-Type"))
	log.Printf("    Sample Rate: %s", sampleRate)
	log.Printf("    Channels: %s", channels)
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  🛠️  Transcription Parameters:")
	log.Printf("    Model: %s", model)
	log.Printf("    Language: %s", language)
	log.Printf("    Response Format: %s", responseFormat)

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	// Create fake transcription response. Segment times are relative to
	// the start of the submitted chunk.
	chunkDuration := parseFloat64(duration)
	if chunkDuration <= 0 {
		chunkDuration = 10.0
	}
	segments := buildSegments(chunkDuration)

	text := ""
	for i, seg := range segments {
		if i > 0 {
			text += " "
		}
		text += seg.Text
	}

	response := TranscriptionResponse{
		ChunkID:     chunkID,
		Text:        text,
		Confidence:  0.95,
		Language:    "ja",
		Segments:    segments,
		Duration:    chunkDuration,
		ProcessedAt: time.Now(),
	}

	// Send JSON response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ TRANSCRIPTION RESPONSE SENT: '%s'", response.Text)
	log.Println("---")
}

// buildSegments splits the chunk duration over the canned phrases.
func buildSegments(duration float64) []TranscriptionSegment {
	n := len(cannedPhrases)
	step := duration / float64(n)
	segments := make([]TranscriptionSegment, 0, n)

	for i, phrase := range cannedPhrases {
		segments = append(segments, TranscriptionSegment{
			Start:      float64(i) * step,
			End:        float64(i+1) * step,
			Text:       phrase,
			Confidence: 0.95,
		})
	}
	return segments
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func parseFloat64(s string) float64 {
	var val float64
	fmt.Sscanf(s, "%f", &val)
	return val
}

func main() {
	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/health", healthHandler)

	port := ":9000"
	log.Printf("🚀 Test Transcription Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s/transcribe", port)
	log.Println("💡 Update your config to use: http://localhost:9000/transcribe")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
