package webm

// RebaseClusterTimecode returns a copy of chunk in which the first Cluster's
// absolute Timecode is rewritten to zero and the relative timecodes of its
// SimpleBlocks are zeroed as well. Each chunk is handed to decoders as its
// own file starting at time zero; absolute timecodes from deep inside the
// recording make some decoders reject or mis-seek the chunk.
//
// The rewrite preserves every element's byte width, zero-filling the unused
// trailing bytes, so no offsets shift. The element walk stops cleanly at the
// first malformed or truncated point (partial writes are normal for a live
// recording) and returns whatever was rebased up to there.
func RebaseClusterTimecode(chunk []byte) []byte {
	out := make([]byte, len(chunk))
	copy(out, chunk)

	clusterOff := FindElement(out, IDCluster, DefaultSearchWindow)
	if clusterOff < 0 {
		return out
	}

	sizeOff := clusterOff + len(idBytes(IDCluster))
	size, sw, ok := ReadVint(out, sizeOff)
	if !ok {
		return out
	}

	payloadStart := sizeOff + sw
	payloadEnd := len(out)
	if size != maxVintValue(sw) {
		// Known-size cluster; an unknown size (all-ones vint) runs to the
		// end of the buffer.
		if end := payloadStart + int(size); end < payloadEnd {
			payloadEnd = end
		}
	}

	for pos := payloadStart; pos < payloadEnd; {
		id, idw, ok := ReadElementID(out, pos)
		if !ok {
			break
		}
		if id == IDCluster {
			// A following cluster ends the first one's unknown-size payload.
			break
		}

		elemSize, esw, ok := ReadVint(out, pos+idw)
		if !ok {
			break
		}

		dataStart := pos + idw + esw
		dataEnd := dataStart + int(elemSize)
		if dataEnd > payloadEnd {
			break
		}

		switch id {
		case IDTimecode:
			for i := dataStart; i < dataEnd; i++ {
				out[i] = 0
			}
		case IDSimpleBlock:
			// Payload layout: track number vint, int16 relative timecode,
			// flags byte, frame data.
			_, tw, ok := ReadVint(out, dataStart)
			if !ok || dataStart+tw+2 > dataEnd {
				return out
			}
			out[dataStart+tw] = 0
			out[dataStart+tw+1] = 0
		}

		pos = dataEnd
	}

	return out
}
