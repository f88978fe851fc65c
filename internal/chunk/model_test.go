package chunk

import (
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindNormal, "normal"},
		{KindLivePlaceholder, "live_placeholder"},
		{KindEstimated, "estimated"},
		{Kind(99), "unknown(99)"},
	}

	for _, tt := range tests {
		result := tt.kind.String()
		if result != tt.expected {
			t.Errorf("Kind(%d).String() = %q, expected %q", int(tt.kind), result, tt.expected)
		}
	}
}

func TestAudioChunkValidate(t *testing.T) {
	tests := []struct {
		name        string
		chunk       AudioChunk
		expectError bool
	}{
		{
			name: "valid normal chunk",
			chunk: AudioChunk{
				ID:             "c1",
				SequenceNumber: 0,
				StartTime:      0,
				EndTime:        10,
				AudioData:      []byte{0x1A, 0x45},
			},
		},
		{
			name: "zero length placeholder is valid",
			chunk: AudioChunk{
				ID:             "c2",
				SequenceNumber: 3,
				StartTime:      30,
				EndTime:        30,
				Kind:           KindLivePlaceholder,
			},
		},
		{
			name: "placeholder spanning its window is valid",
			chunk: AudioChunk{
				ID:             "c3",
				SequenceNumber: 3,
				StartTime:      30,
				EndTime:        40,
				Kind:           KindLivePlaceholder,
			},
		},
		{
			name: "missing id",
			chunk: AudioChunk{
				StartTime: 0,
				EndTime:   10,
				AudioData: []byte{0x01},
			},
			expectError: true,
		},
		{
			name: "negative sequence",
			chunk: AudioChunk{
				ID:             "c4",
				SequenceNumber: -1,
				StartTime:      0,
				EndTime:        10,
				AudioData:      []byte{0x01},
			},
			expectError: true,
		},
		{
			name: "end not after start",
			chunk: AudioChunk{
				ID:        "c5",
				StartTime: 10,
				EndTime:   10,
				AudioData: []byte{0x01},
			},
			expectError: true,
		},
		{
			name: "placeholder end before start",
			chunk: AudioChunk{
				ID:        "c6",
				StartTime: 10,
				EndTime:   9,
				Kind:      KindLivePlaceholder,
			},
			expectError: true,
		},
		{
			name: "normal chunk without audio data",
			chunk: AudioChunk{
				ID:        "c7",
				StartTime: 0,
				EndTime:   10,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chunk.Validate()

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestAudioChunkDuration(t *testing.T) {
	chunk := AudioChunk{StartTime: 5, EndTime: 12.5}
	if d := chunk.Duration(); d != 7.5 {
		t.Errorf("Duration() = %.2f, expected 7.50", d)
	}
}

func TestAudioChunkString(t *testing.T) {
	chunk := AudioChunk{
		SequenceNumber: 2,
		StartTime:      10,
		EndTime:        15,
		AudioData:      make([]byte, 2048),
		Kind:           KindNormal,
	}
	s := chunk.String()
	if !containsStr(s, "Seq:2") || !containsStr(s, "normal") || !containsStr(s, "2048") {
		t.Errorf("String() missing expected content: %s", s)
	}
}
