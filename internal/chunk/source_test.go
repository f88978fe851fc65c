package chunk

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording_20260101.webm")
	content := []byte("0123456789abcdef")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	src := NewFileSource(path)

	if src.Path() != path {
		t.Errorf("Path() = %q, expected %q", src.Path(), path)
	}

	size, err := src.Size()
	if err != nil {
		t.Fatalf("Size() failed: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("Size() = %d, expected %d", size, len(content))
	}

	tests := []struct {
		name        string
		from, to    int64
		expected    string
		expectError bool
	}{
		{
			name:     "middle range",
			from:     4,
			to:       10,
			expected: "456789",
		},
		{
			name:     "full file",
			from:     0,
			to:       16,
			expected: "0123456789abcdef",
		},
		{
			name:     "empty range",
			from:     5,
			to:       5,
			expected: "",
		},
		{
			name:        "range past end",
			from:        10,
			to:          32,
			expectError: true,
		},
		{
			name:        "negative start",
			from:        -1,
			to:          4,
			expectError: true,
		},
		{
			name:        "inverted range",
			from:        8,
			to:          4,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := src.ReadRange(tt.from, tt.to)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("ReadRange(%d, %d) = %q, expected %q", tt.from, tt.to, data, tt.expected)
			}
		})
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.webm"))

	if _, err := src.Size(); err == nil {
		t.Errorf("Size() on a missing file should fail")
	}
	if _, err := src.ReadRange(0, 10); err == nil {
		t.Errorf("ReadRange() on a missing file should fail")
	}
}
