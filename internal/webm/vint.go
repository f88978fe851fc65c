package webm

import (
	"fmt"
)

// MaxVintWidth is the largest encoded length of an EBML variable-length
// integer. The leading-zero count of the first byte selects the width, so a
// valid vint always has its marker bit within the first 8 bytes.
const MaxVintWidth = 8

// ReadVint decodes an EBML variable-length integer starting at offset.
// The number of leading zero bits in the first byte determines the encoded
// width; the value is the concatenation of the remaining bits across all
// width bytes. Returns ok=false if the marker bit is absent or the buffer
// ends before the vint does. Malformed input is an expected condition here
// (partially written recordings), so this never panics.
func ReadVint(buf []byte, offset int) (value uint64, width int, ok bool) {
	if offset < 0 || offset >= len(buf) {
		return 0, 0, false
	}

	first := buf[offset]
	if first == 0 {
		// No marker bit in the first byte means width > 8.
		return 0, 0, false
	}

	width = 1
	for mask := byte(0x80); first&mask == 0; mask >>= 1 {
		width++
	}

	if offset+width > len(buf) {
		return 0, 0, false
	}

	// Clear the marker bit, then pull in the remaining bytes.
	value = uint64(first & (0xFF >> width))
	for i := 1; i < width; i++ {
		value = value<<8 | uint64(buf[offset+i])
	}

	return value, width, true
}

// VintWidth returns the minimal encoded width for value, skipping widths
// whose all-ones payload is reserved for the unknown-size marker. Returns 0
// when the value cannot be encoded within MaxVintWidth bytes.
func VintWidth(value uint64) int {
	for w := 1; w <= MaxVintWidth; w++ {
		if value < maxVintValue(w) {
			return w
		}
	}
	return 0
}

// EncodeVint encodes value as an EBML variable-length integer. A width of 0
// selects the minimal width for the value; an explicit width must be large
// enough to hold the value's payload bits. Encoding the all-ones payload at
// an explicit width is allowed, since that pattern doubles as the
// unknown-size marker.
func EncodeVint(value uint64, width int) ([]byte, error) {
	if width == 0 {
		width = VintWidth(value)
		if width == 0 {
			return nil, fmt.Errorf("vint value too large: %d", value)
		}
	}

	if width < 1 || width > MaxVintWidth {
		return nil, fmt.Errorf("invalid vint width: %d (valid range 1-%d)", width, MaxVintWidth)
	}

	if value > maxVintValue(width) {
		return nil, fmt.Errorf("vint value %d does not fit in %d bytes", value, width)
	}

	buf := make([]byte, width)
	for i := width - 1; i >= 1; i-- {
		buf[i] = byte(value)
		value >>= 8
	}
	buf[0] = byte(value) | byte(0x80)>>(width-1)

	return buf, nil
}

// maxVintValue returns the all-ones payload for the given width, the largest
// value representable in width bytes.
func maxVintValue(width int) uint64 {
	return (uint64(1) << (7 * width)) - 1
}
