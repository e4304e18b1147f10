package kiss

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming is returned when a frame is not bounded by FEND on both ends
	ErrFraming = errors.New("kiss: malformed frame")
	// ErrOversize is returned when a packet exceeds MaxFrameLength
	ErrOversize = errors.New("kiss: packet exceeds maximum frame length")
	// ErrBadEscape is returned by Unescape on a dangling or unknown escape sequence
	ErrBadEscape = errors.New("kiss: invalid escape sequence")
)

// Encode escapes a raw packet and wraps it in a KISS data frame.
// Packets longer than MaxFrameLength are refused with ErrOversize.
func Encode(packet []byte) ([]byte, error) {
	if len(packet) > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrOversize, len(packet), MaxFrameLength)
	}

	frame := make([]byte, 0, len(packet)+headerSize+1+escapeOverhead(packet))
	frame = append(frame, FEND, CmdData)
	frame = appendEscaped(frame, packet)
	frame = append(frame, FEND)
	return frame, nil
}

// Decode strips the KISS delimiters and command byte from a frame.
//
// The returned payload is NOT unescaped. Escape sequences are passed through
// to the radio untouched; callers that need the original bytes must run the
// result through Unescape.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < headerSize+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFraming, len(frame))
	}
	if frame[0] != FEND || frame[len(frame)-1] != FEND {
		return nil, fmt.Errorf("%w: header not found (first=0x%02X last=0x%02X)",
			ErrFraming, frame[0], frame[len(frame)-1])
	}

	payload := make([]byte, len(frame)-headerSize-1)
	copy(payload, frame[headerSize:len(frame)-1])
	return payload, nil
}

// Escape returns p with every FEND and FESC replaced by its two-byte escape sequence.
func Escape(p []byte) []byte {
	return appendEscaped(make([]byte, 0, len(p)+escapeOverhead(p)), p)
}

// Unescape reverses Escape.
func Unescape(p []byte) ([]byte, error) {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		b := p[i]
		if b != FESC {
			out = append(out, b)
			continue
		}
		if i+1 >= len(p) {
			return nil, fmt.Errorf("%w: trailing FESC at offset %d", ErrBadEscape, i)
		}
		i++
		switch p[i] {
		case TFEND:
			out = append(out, FEND)
		case TFESC:
			out = append(out, FESC)
		default:
			return nil, fmt.Errorf("%w: FESC followed by 0x%02X at offset %d", ErrBadEscape, p[i], i)
		}
	}
	return out, nil
}

func appendEscaped(dst, p []byte) []byte {
	for _, b := range p {
		switch b {
		case FEND:
			dst = append(dst, FESC, TFEND)
		case FESC:
			dst = append(dst, FESC, TFESC)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

func escapeOverhead(p []byte) int {
	n := 0
	for _, b := range p {
		if b == FEND || b == FESC {
			n++
		}
	}
	return n
}
