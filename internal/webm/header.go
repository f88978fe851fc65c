package webm

import (
	"errors"
	"fmt"
)

// Recognized DocType values. Recordings produced by browser MediaRecorder
// implementations occasionally declare the wider matroska type even though
// the payload is plain WebM/Opus.
const (
	DocTypeWebM     = "webm"
	DocTypeMatroska = "matroska"
)

var (
	// ErrInvalidContainer reports a buffer that does not start with a
	// parseable EBML header.
	ErrInvalidContainer = errors.New("invalid container")

	// ErrNoCluster reports a container whose first Cluster could not be
	// located within the search window.
	ErrNoCluster = errors.New("no cluster element found")
)

// HasEBMLSignature reports whether buf starts with the 4-byte EBML magic.
func HasEBMLSignature(buf []byte) bool {
	return len(buf) >= 4 &&
		buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3
}

// ExtractHeaderPrefix verifies the EBML signature at offset 0 and returns a
// copy of everything before the first Cluster element: the EBML header plus
// Segment, Info and Tracks. That prefix can be reused to make later raw
// byte ranges of the same recording decodable on their own.
func ExtractHeaderPrefix(firstChunk []byte) ([]byte, error) {
	if !HasEBMLSignature(firstChunk) {
		return nil, fmt.Errorf("%w: EBML signature not found at offset 0", ErrInvalidContainer)
	}

	idx := FindElement(firstChunk, IDCluster, DefaultSearchWindow)
	if idx < 0 {
		return nil, fmt.Errorf("%w in first %d bytes", ErrNoCluster, DefaultSearchWindow)
	}

	header := make([]byte, idx)
	copy(header, firstChunk[:idx])
	return header, nil
}

// docTypeLoc records where the DocType element sits inside an EBML header.
// Offsets within payload are relative to payloadStart.
type docTypeLoc struct {
	payloadStart int // first byte of the EBML header payload
	payloadEnd   int // one past the last byte of the EBML header payload
	elemOffset   int // DocType element ID, relative to payloadStart
	sizeWidth    int // encoded width of the DocType size field
	valueStart   int // DocType string start, relative to payloadStart
	valueEnd     int // DocType string end, relative to payloadStart
}

// locateDocType parses just enough of the EBML header to find the DocType
// element and its string payload.
func locateDocType(buf []byte) (docTypeLoc, string, error) {
	var loc docTypeLoc

	if !HasEBMLSignature(buf) {
		return loc, "", fmt.Errorf("%w: EBML signature not found", ErrInvalidContainer)
	}

	headerSize, hw, ok := ReadVint(buf, 4)
	if !ok {
		return loc, "", fmt.Errorf("%w: unreadable EBML header size", ErrInvalidContainer)
	}

	loc.payloadStart = 4 + hw
	loc.payloadEnd = loc.payloadStart + int(headerSize)
	if loc.payloadEnd > len(buf) {
		return loc, "", fmt.Errorf("%w: EBML header truncated (declared %d bytes, have %d)",
			ErrInvalidContainer, headerSize, len(buf)-loc.payloadStart)
	}

	payload := buf[loc.payloadStart:loc.payloadEnd]
	loc.elemOffset = FindElement(payload, IDDocType, len(payload))
	if loc.elemOffset < 0 {
		return loc, "", fmt.Errorf("%w: DocType element not found", ErrInvalidContainer)
	}

	size, sw, ok := ReadVint(payload, loc.elemOffset+2)
	if !ok {
		return loc, "", fmt.Errorf("%w: unreadable DocType size", ErrInvalidContainer)
	}

	loc.sizeWidth = sw
	loc.valueStart = loc.elemOffset + 2 + sw
	loc.valueEnd = loc.valueStart + int(size)
	if loc.valueEnd > len(payload) {
		return loc, "", fmt.Errorf("%w: DocType payload truncated", ErrInvalidContainer)
	}

	return loc, string(payload[loc.valueStart:loc.valueEnd]), nil
}

// EnsureWebMDocType returns header with its DocType guaranteed to read as
// the 4 ASCII bytes "webm". A matroska declaration is rewritten in place,
// shrinking the DocType payload and the enclosing EBML header size and
// shifting all following bytes forward. The input buffer is never modified;
// when no rewrite is needed the input is returned as is.
func EnsureWebMDocType(header []byte) ([]byte, error) {
	loc, docType, err := locateDocType(header)
	if err != nil {
		return nil, err
	}

	if docType == DocTypeWebM {
		return header, nil
	}
	if docType != DocTypeMatroska {
		return nil, fmt.Errorf("unexpected doctype %q", docType)
	}

	delta := len(DocTypeMatroska) - len(DocTypeWebM)
	headerSize := loc.payloadEnd - loc.payloadStart

	newHeaderSize, err := EncodeVint(uint64(headerSize-delta), loc.payloadStart-4)
	if err != nil {
		return nil, fmt.Errorf("re-encoding EBML header size: %w", err)
	}
	newDocTypeSize, err := EncodeVint(uint64(len(DocTypeWebM)), loc.sizeWidth)
	if err != nil {
		return nil, fmt.Errorf("re-encoding DocType size: %w", err)
	}

	payload := header[loc.payloadStart:loc.payloadEnd]

	out := make([]byte, 0, len(header)-delta)
	out = append(out, header[:4]...)
	out = append(out, newHeaderSize...)
	out = append(out, payload[:loc.elemOffset+2]...)
	out = append(out, newDocTypeSize...)
	out = append(out, DocTypeWebM...)
	out = append(out, payload[loc.valueEnd:]...)
	out = append(out, header[loc.payloadEnd:]...)

	return out, nil
}

// appendElement appends an element (ID, minimal-width size, payload) to dst.
// Payload lengths here always fit in a vint, so the size encoding cannot fail.
func appendElement(dst []byte, id uint32, payload []byte) []byte {
	dst = append(dst, idBytes(id)...)
	size, _ := EncodeVint(uint64(len(payload)), 0)
	dst = append(dst, size...)
	return append(dst, payload...)
}

// appendUintElement appends an element whose payload is an unsigned integer
// in its minimal big-endian byte count.
func appendUintElement(dst []byte, id uint32, v uint64) []byte {
	n := 1
	for x := v >> 8; x > 0; x >>= 8 {
		n++
	}
	payload := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		payload[i] = byte(v)
		v >>= 8
	}
	return appendElement(dst, id, payload)
}

// SynthesizeMinimalHeader builds the constant, schema-minimal EBML header
// plus an unknown-size Segment. Prefixing a raw Cluster-level byte range
// with it yields a stream most decoders accept as a standalone file. Used
// when no real header from the recording is available.
func SynthesizeMinimalHeader() []byte {
	var doc []byte
	doc = appendUintElement(doc, IDEBMLVersion, 1)
	doc = appendUintElement(doc, IDEBMLReadVersion, 1)
	doc = appendUintElement(doc, IDEBMLMaxIDLength, 4)
	doc = appendUintElement(doc, IDEBMLMaxSizeLength, 8)
	doc = appendElement(doc, IDDocType, []byte(DocTypeWebM))
	doc = appendUintElement(doc, IDDocTypeVersion, 4)
	doc = appendUintElement(doc, IDDocTypeReadVersion, 2)

	header := appendElement(nil, IDEBML, doc)
	header = append(header, idBytes(IDSegment)...)
	header = append(header, 0xFF) // unknown-size Segment
	return header
}

// ContainerInfo summarizes what a probe saw at the front of a buffer.
type ContainerInfo struct {
	DocType       string
	ClusterOffset int // offset of the first Cluster, -1 if none found
	HeaderBytes   int // bytes before the first Cluster, -1 if none found
	TotalBytes    int
}

// Probe inspects the leading bytes of a container without decoding media
// data. Intended for logging and for sanity checks on freshly assembled
// chunks.
func Probe(buf []byte) (*ContainerInfo, error) {
	_, docType, err := locateDocType(buf)
	if err != nil {
		return nil, err
	}

	info := &ContainerInfo{
		DocType:       docType,
		ClusterOffset: -1,
		HeaderBytes:   -1,
		TotalBytes:    len(buf),
	}

	if idx := FindElement(buf, IDCluster, DefaultSearchWindow); idx >= 0 {
		info.ClusterOffset = idx
		info.HeaderBytes = idx
	}

	return info, nil
}

// String returns a human-readable representation of the container info.
func (i *ContainerInfo) String() string {
	return fmt.Sprintf("ContainerInfo{DocType:%q, ClusterOffset:%d, HeaderBytes:%d, TotalBytes:%d}",
		i.DocType, i.ClusterOffset, i.HeaderBytes, i.TotalBytes)
}
