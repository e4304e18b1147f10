package segment

import (
	"fmt"

	"github.com/dbehnke/kiss-nexus/pkg/logger"
)

// Reassembler collects tagged segments back into whole packets.
// One Reassembler belongs to one connection's receive path; it is not safe
// for concurrent use.
type Reassembler struct {
	log           *logger.Logger
	maxPacketSize int

	segments [][]byte
	pending  int
}

// NewReassembler creates an empty reassembler
func NewReassembler(log *logger.Logger) *Reassembler {
	if log == nil {
		log = logger.New(logger.Config{Level: "info"})
	}
	return &Reassembler{
		log:           log,
		maxPacketSize: DefaultMaxPacketSize,
	}
}

// WithMaxPacketSize overrides the reassembled size limit. Values <= 0 keep the default.
func (r *Reassembler) WithMaxPacketSize(n int) *Reassembler {
	if n > 0 {
		r.maxPacketSize = n
	}
	return r
}

// Process feeds one received frame payload.
//
// It returns the complete packet when frame finishes (or is not part of) a
// segmented sequence, and nil with a nil error while segments are still
// being collected. A full-length frame with no segment tag is only an error
// while a sequence is open. Every error leaves the reassembler empty and
// drops frame.
func (r *Reassembler) Process(frame []byte) ([]byte, error) {
	if len(frame) > MaxFrameLength {
		r.log.Warn("Discarded very long frame, even longer than a segmented frame",
			logger.Int("frame_len", len(frame)))
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrOversize, len(frame), MaxFrameLength)
	}

	if len(frame) < MaxFrameLength && len(r.segments) == 0 {
		return frame, nil
	}

	if len(frame) == 0 {
		r.log.Warn("Empty frame inside segmented data, discarding",
			logger.Int("segments", len(r.segments)))
		r.Reset()
		return nil, fmt.Errorf("%w: empty frame while reassembling", ErrProtocol)
	}

	switch frame[0] {
	case TagContinuation:
		end := len(frame)
		if end > MaxSegmentSize+1 {
			end = MaxSegmentSize + 1
		}
		if len(r.segments) == 0 {
			r.log.Debug("Start of segmented data, caching to recombine")
		} else {
			r.log.Debug("Continuation of segmented data",
				logger.Int("segments", len(r.segments)))
		}
		return nil, r.add(frame[1:end])

	case TagFinal:
		if len(r.segments) == 0 {
			r.log.Warn("Corrupt segmentation, end segment with no prior segments. Discarding")
			r.Reset()
			return nil, fmt.Errorf("%w: final segment without prior segments", ErrProtocol)
		}
		if err := r.add(frame[1:]); err != nil {
			return nil, err
		}

		packet := make([]byte, 0, r.pending)
		for _, seg := range r.segments {
			packet = append(packet, seg...)
		}
		r.log.Debug("End of segmented data, packet complete",
			logger.Int("segments", len(r.segments)),
			logger.Int("packet_len", len(packet)))
		r.Reset()
		return packet, nil

	default:
		if len(r.segments) == 0 {
			// Full-length frame that was never segmented
			return frame, nil
		}
		r.log.Warn("Unexpected segment tag, discarding segmented data",
			logger.String("tag", fmt.Sprintf("0x%02X", frame[0])),
			logger.Int("segments", len(r.segments)))
		r.Reset()
		return nil, fmt.Errorf("%w: unexpected tag 0x%02X", ErrProtocol, frame[0])
	}
}

func (r *Reassembler) add(payload []byte) error {
	if r.pending+len(payload) > r.maxPacketSize {
		size := r.pending + len(payload)
		r.log.Warn("Segmented packet exceeds size limit, discarding",
			logger.Int("size", size),
			logger.Int("limit", r.maxPacketSize))
		r.Reset()
		return fmt.Errorf("%w: reassembled packet exceeds %d bytes", ErrProtocol, r.maxPacketSize)
	}
	r.segments = append(r.segments, append([]byte(nil), payload...))
	r.pending += len(payload)
	return nil
}

// Reset discards all buffered segments
func (r *Reassembler) Reset() {
	r.segments = nil
	r.pending = 0
}

// Pending returns the number of buffered segments
func (r *Reassembler) Pending() int {
	return len(r.segments)
}

// PendingBytes returns the number of buffered payload bytes
func (r *Reassembler) PendingBytes() int {
	return r.pending
}
