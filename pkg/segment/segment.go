// Package segment splits packets that exceed the radio frame limit into
// tagged segments and reassembles them on the receiving side.
//
// Each segment starts with an ASCII tag: '0' when more segments follow and
// '1' for the final one. There is no sequence number; ordering relies on the
// transport delivering segments in order and without loss.
package segment

import (
	"errors"

	"github.com/dbehnke/kiss-nexus/pkg/kiss"
)

// Segment tags (ASCII digits on the wire)
const (
	TagContinuation byte = '0'
	TagFinal        byte = '1'
)

// Size limits, shared with the KISS codec
const (
	MaxSegmentSize = kiss.MaxSegmentSize
	MaxFrameLength = kiss.MaxFrameLength
)

// DefaultMaxPacketSize bounds the total size of a reassembled packet
const DefaultMaxPacketSize = 4096

var (
	// ErrOversize is returned for a frame longer than MaxFrameLength
	ErrOversize = errors.New("segment: frame exceeds maximum segment length")
	// ErrProtocol is returned for an inconsistent tag sequence
	ErrProtocol = errors.New("segment: protocol violation")
)

// Splitter cuts outbound packets into tagged segments
type Splitter struct {
	// TagSingle prefixes packets that fit in one segment with TagFinal.
	// When false they are sent untagged.
	TagSingle bool
}

// Split cuts packet into tagged segments using the default Splitter
func Split(packet []byte) [][]byte {
	return Splitter{TagSingle: true}.Split(packet)
}

// Split cuts packet into segments of at most MaxSegmentSize payload bytes.
// Segments never share memory with packet.
func (s Splitter) Split(packet []byte) [][]byte {
	if len(packet) <= MaxSegmentSize {
		if !s.TagSingle {
			return [][]byte{append([]byte(nil), packet...)}
		}
		return [][]byte{tagged(TagFinal, packet)}
	}

	segments := make([][]byte, 0, (len(packet)+MaxSegmentSize-1)/MaxSegmentSize)
	for len(packet) > 0 {
		n := MaxSegmentSize
		if n > len(packet) {
			n = len(packet)
		}
		chunk := packet[:n]
		packet = packet[n:]

		tag := TagContinuation
		if len(packet) == 0 {
			tag = TagFinal
		}
		segments = append(segments, tagged(tag, chunk))
	}
	return segments
}

func tagged(tag byte, payload []byte) []byte {
	seg := make([]byte, 0, len(payload)+1)
	seg = append(seg, tag)
	return append(seg, payload...)
}
