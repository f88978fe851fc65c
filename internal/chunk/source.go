package chunk

import (
	"fmt"
	"io"
	"os"
)

// Source abstracts the growing recording being sliced. The file behind it
// is still being appended to while reads happen, so Size and ReadRange are
// sampled views, not a consistent snapshot.
type Source interface {
	// Path identifies the source for logging and chunk metadata.
	Path() string
	// Size returns the current byte size.
	Size() (int64, error)
	// ReadRange returns the bytes in [from, to). The full range must exist;
	// a short read is an error.
	ReadRange(from, to int64) ([]byte, error)
}

// FileSource reads a recording file on local disk.
type FileSource struct {
	path string
}

// NewFileSource returns a Source backed by the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the file path.
func (s *FileSource) Path() string {
	return s.path
}

// Size returns the file's current size in bytes.
func (s *FileSource) Size() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", s.path, err)
	}
	return info.Size(), nil
}

// ReadRange reads the byte range [from, to) from the file.
func (s *FileSource) ReadRange(from, to int64) ([]byte, error) {
	if from < 0 || to < from {
		return nil, fmt.Errorf("invalid range [%d, %d)", from, to)
	}
	if to == from {
		return []byte{}, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	buf := make([]byte, to-from)
	if _, err := f.ReadAt(buf, from); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("read %s: range [%d, %d) past end of file: %w", s.path, from, to, err)
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	return buf, nil
}
