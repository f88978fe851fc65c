package webm

import (
	"testing"
)

func TestRebaseClusterTimecode(t *testing.T) {
	t.Run("zeroes cluster timecode preserving width", func(t *testing.T) {
		// Timecode 123456 encodes as 3 payload bytes.
		cluster := createTestCluster(t, 123456, nil)

		result := RebaseClusterTimecode(cluster)

		if len(result) != len(cluster) {
			t.Fatalf("rebase changed length from %d to %d", len(cluster), len(result))
		}

		tcOff := FindElement(result, IDTimecode, 0)
		if tcOff < 0 {
			t.Fatalf("timecode element missing after rebase")
		}
		size, sw, ok := ReadVint(result, tcOff+1)
		if !ok || size != 3 {
			t.Fatalf("timecode size = %d (ok=%v), expected 3", size, ok)
		}
		for i := 0; i < int(size); i++ {
			if result[tcOff+1+sw+i] != 0 {
				t.Errorf("timecode byte %d = 0x%02X, expected 0x00", i, result[tcOff+1+sw+i])
			}
		}
	})

	t.Run("zeroes simpleblock relative timecodes", func(t *testing.T) {
		frame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
		cluster := createTestCluster(t, 500, [][]byte{
			createTestSimpleBlock(t, 1, 100, frame),
			createTestSimpleBlock(t, 1, -200, frame),
		})

		result := RebaseClusterTimecode(cluster)

		var blocks int
		for pos := 0; pos < len(result); pos++ {
			if result[pos] != 0xA3 {
				continue
			}
			size, sw, ok := ReadVint(result, pos+1)
			if !ok {
				continue
			}
			dataStart := pos + 1 + sw
			_, tw, ok := ReadVint(result, dataStart)
			if !ok {
				continue
			}
			blocks++
			if result[dataStart+tw] != 0 || result[dataStart+tw+1] != 0 {
				t.Errorf("block %d relative timecode not zeroed: 0x%02X 0x%02X",
					blocks, result[dataStart+tw], result[dataStart+tw+1])
			}
			// Flag byte and frame data stay put.
			if result[dataStart+tw+2] != 0x80 {
				t.Errorf("block %d flags byte changed", blocks)
			}
			if !bytesEqual(result[dataStart+tw+3:dataStart+tw+3+len(frame)], frame) {
				t.Errorf("block %d frame data changed", blocks)
			}
			pos = dataStart + int(size) - 1
		}
		if blocks != 2 {
			t.Fatalf("found %d simpleblocks, expected 2", blocks)
		}
	})

	t.Run("handles header prefixed chunk", func(t *testing.T) {
		chunk := append(SynthesizeMinimalHeader(), createTestCluster(t, 99999, [][]byte{
			createTestSimpleBlock(t, 1, 40, []byte{0x01}),
		})...)

		result := RebaseClusterTimecode(chunk)

		clusterOff := FindElement(result, IDCluster, 0)
		tcOff := FindElement(result[clusterOff:], IDTimecode, 0) + clusterOff
		size, sw, ok := ReadVint(result, tcOff+1)
		if !ok {
			t.Fatalf("timecode unreadable after rebase")
		}
		for i := 0; i < int(size); i++ {
			if result[tcOff+1+sw+i] != 0 {
				t.Errorf("timecode byte %d not zeroed", i)
			}
		}
	})

	t.Run("unknown size cluster walks to end of buffer", func(t *testing.T) {
		payload := appendUintElement(nil, IDTimecode, 777)
		payload = append(payload, createTestSimpleBlock(t, 1, 50, []byte{0x0A, 0x0B})...)

		cluster := append([]byte{}, idBytes(IDCluster)...)
		cluster = append(cluster, 0xFF) // unknown size
		cluster = append(cluster, payload...)

		result := RebaseClusterTimecode(cluster)

		tcOff := FindElement(result, IDTimecode, 0)
		size, sw, _ := ReadVint(result, tcOff+1)
		for i := 0; i < int(size); i++ {
			if result[tcOff+1+sw+i] != 0 {
				t.Errorf("timecode byte %d not zeroed", i)
			}
		}

		sbOff := FindElement(result, IDSimpleBlock, 0)
		_, sbw, _ := ReadVint(result, sbOff+1)
		dataStart := sbOff + 1 + sbw
		_, tw, _ := ReadVint(result, dataStart)
		if result[dataStart+tw] != 0 || result[dataStart+tw+1] != 0 {
			t.Errorf("simpleblock relative timecode not zeroed")
		}
	})

	t.Run("second cluster is left alone", func(t *testing.T) {
		first := createTestCluster(t, 1000, nil)
		second := createTestCluster(t, 2000, nil)
		chunk := append(append([]byte{}, first...), second...)

		result := RebaseClusterTimecode(chunk)

		// Second cluster's timecode starts after the first cluster.
		tcOff := FindElement(result[len(first):], IDTimecode, 0) + len(first)
		size, sw, _ := ReadVint(result, tcOff+1)
		allZero := true
		for i := 0; i < int(size); i++ {
			if result[tcOff+1+sw+i] != 0 {
				allZero = false
			}
		}
		if allZero {
			t.Errorf("second cluster's timecode was rebased too")
		}
	})

	t.Run("no cluster returns unchanged copy", func(t *testing.T) {
		buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

		result := RebaseClusterTimecode(buf)

		if !bytesEqual(result, buf) {
			t.Errorf("buffer without cluster was modified")
		}
		result[0] = 0xFF
		if buf[0] != 0x01 {
			t.Errorf("result aliases the input buffer")
		}
	})

	t.Run("truncated block stops the walk cleanly", func(t *testing.T) {
		cluster := createTestCluster(t, 300, [][]byte{
			createTestSimpleBlock(t, 1, 10, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}),
		})
		truncated := cluster[:len(cluster)-4]

		result := RebaseClusterTimecode(truncated)

		if len(result) != len(truncated) {
			t.Fatalf("rebase changed length of truncated chunk")
		}
		// The timecode before the truncation point is still rebased.
		tcOff := FindElement(result, IDTimecode, 0)
		size, sw, ok := ReadVint(result, tcOff+1)
		if !ok {
			t.Fatalf("timecode unreadable")
		}
		for i := 0; i < int(size); i++ {
			if result[tcOff+1+sw+i] != 0 {
				t.Errorf("timecode byte %d not zeroed in truncated chunk", i)
			}
		}
	})

	t.Run("input buffer is never modified", func(t *testing.T) {
		cluster := createTestCluster(t, 4242, [][]byte{
			createTestSimpleBlock(t, 1, 7, []byte{0xAA}),
		})
		original := make([]byte, len(cluster))
		copy(original, cluster)

		RebaseClusterTimecode(cluster)

		if !bytesEqual(cluster, original) {
			t.Errorf("input buffer was modified")
		}
	})
}
