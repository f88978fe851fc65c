package webm

// EBML element IDs, marker bits included, as they appear on the wire.
const (
	// Top-level structure
	IDEBML    = 0x1A45DFA3
	IDSegment = 0x18538067
	IDInfo    = 0x1549A966
	IDTracks  = 0x1654AE6B
	IDCluster = 0x1F43B675

	// EBML header fields
	IDEBMLVersion        = 0x4286
	IDEBMLReadVersion    = 0x42F7
	IDEBMLMaxIDLength    = 0x42F2
	IDEBMLMaxSizeLength  = 0x42F3
	IDDocType            = 0x4282
	IDDocTypeVersion     = 0x4287
	IDDocTypeReadVersion = 0x4285

	// Cluster children
	IDTimecode    = 0xE7
	IDSimpleBlock = 0xA3
	IDBlockGroup  = 0xA0
)

// DefaultSearchWindow bounds element scans. Container metadata sits near the
// front of the stream, so capping the scan keeps FindElement cheap even on
// multi-megabyte buffers.
const DefaultSearchWindow = 64 * 1024

// idBytes returns the on-wire byte sequence of an element ID. IDs carry
// their length in their leading bits, so the byte count follows from the
// value itself.
func idBytes(id uint32) []byte {
	switch {
	case id <= 0xFF:
		return []byte{byte(id)}
	case id <= 0xFFFF:
		return []byte{byte(id >> 8), byte(id)}
	case id <= 0xFFFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	}
}

// ReadElementID decodes an element ID at offset. Unlike ReadVint the marker
// bits are kept, matching how IDs are written in the EBML schema. Element
// IDs are at most 4 bytes long.
func ReadElementID(buf []byte, offset int) (id uint32, width int, ok bool) {
	if offset < 0 || offset >= len(buf) {
		return 0, 0, false
	}

	first := buf[offset]
	if first == 0 {
		return 0, 0, false
	}

	width = 1
	for mask := byte(0x80); first&mask == 0; mask >>= 1 {
		width++
	}

	if width > 4 || offset+width > len(buf) {
		return 0, 0, false
	}

	id = uint32(first)
	for i := 1; i < width; i++ {
		id = id<<8 | uint32(buf[offset+i])
	}

	return id, width, true
}

// FindElement scans buf for the byte pattern of the given element ID and
// returns its offset, or -1 if not found. The scan covers at most
// searchWindow bytes from the start; searchWindow <= 0 scans the whole
// buffer.
func FindElement(buf []byte, id uint32, searchWindow int) int {
	pattern := idBytes(id)

	limit := len(buf)
	if searchWindow > 0 && searchWindow < limit {
		limit = searchWindow
	}

	last := limit - len(pattern)
	for i := 0; i <= last; i++ {
		match := true
		for j := range pattern {
			if buf[i+j] != pattern[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}

	return -1
}
