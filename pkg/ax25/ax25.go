// Package ax25 decodes the address header of AX.25 frames for display.
// Nothing here gates forwarding; packets that fail to parse are still bridged.
package ax25

import (
	"errors"
	"fmt"
	"strings"
)

const (
	addrLen     = 7
	maxRepeater = 8

	controlUI   byte = 0x03
	pidNoLayer3 byte = 0xF0
)

// ErrShortFrame is returned when the frame cannot hold destination and source addresses
var ErrShortFrame = errors.New("ax25: frame too short")

// Address is one callsign-SSID field
type Address struct {
	Callsign string
	SSID     byte
	// Repeated is the H bit on digipeater entries
	Repeated bool
}

func (a Address) String() string {
	s := a.Callsign
	if a.SSID > 0 {
		s = fmt.Sprintf("%s-%d", s, a.SSID)
	}
	if a.Repeated {
		s += "*"
	}
	return s
}

// Header is the decoded address block of an AX.25 frame
type Header struct {
	Destination Address
	Source      Address
	Path        []Address
	Control     byte
	PID         byte
	// InfoOffset is the index of the first information byte, or len(frame) when absent
	InfoOffset int
}

// String renders the header in TNC2 style: SRC>DST,PATH
func (h Header) String() string {
	var b strings.Builder
	b.WriteString(h.Source.String())
	b.WriteByte('>')
	b.WriteString(h.Destination.String())
	for _, p := range h.Path {
		b.WriteByte(',')
		b.WriteString(p.String())
	}
	return b.String()
}

// IsUI reports whether the frame is an unnumbered information frame with no layer 3
func (h Header) IsUI() bool {
	return h.Control&^0x10 == controlUI && h.PID == pidNoLayer3
}

// ParseHeader decodes the address, control and PID fields of frame
func ParseHeader(frame []byte) (Header, error) {
	var h Header
	if len(frame) < 2*addrLen {
		return h, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}

	var err error
	if h.Destination, err = parseAddress(frame[0:addrLen]); err != nil {
		return h, fmt.Errorf("destination: %w", err)
	}
	if h.Source, err = parseAddress(frame[addrLen : 2*addrLen]); err != nil {
		return h, fmt.Errorf("source: %w", err)
	}
	h.Source.Repeated = false

	// The last address has the extension bit set
	end := 2 * addrLen
	for frame[end-1]&0x01 == 0 {
		if len(h.Path) == maxRepeater {
			return h, fmt.Errorf("ax25: more than %d digipeaters", maxRepeater)
		}
		if end+addrLen > len(frame) {
			return h, fmt.Errorf("%w: address field not terminated", ErrShortFrame)
		}
		digi, err := parseAddress(frame[end : end+addrLen])
		if err != nil {
			return h, fmt.Errorf("digipeater %d: %w", len(h.Path)+1, err)
		}
		h.Path = append(h.Path, digi)
		end += addrLen
	}
	h.Destination.Repeated = false

	h.InfoOffset = len(frame)
	if end < len(frame) {
		h.Control = frame[end]
		h.InfoOffset = end + 1
	}
	if end+1 < len(frame) {
		h.PID = frame[end+1]
		h.InfoOffset = end + 2
	}
	return h, nil
}

// parseAddress decodes a 7-byte shifted callsign field
func parseAddress(addr []byte) (Address, error) {
	var callsign strings.Builder
	for i := 0; i < 6; i++ {
		c := addr[i] >> 1
		if c == ' ' {
			continue
		}
		if c < '0' || c > 'Z' || (c > '9' && c < 'A') {
			return Address{}, fmt.Errorf("ax25: invalid callsign character 0x%02X", c)
		}
		callsign.WriteByte(c)
	}
	if callsign.Len() == 0 {
		return Address{}, errors.New("ax25: empty callsign")
	}

	return Address{
		Callsign: callsign.String(),
		SSID:     (addr[6] >> 1) & 0x0F,
		Repeated: addr[6]&0x80 != 0,
	}, nil
}

// EncodeAddress builds a 7-byte address field. last sets the extension bit.
func EncodeAddress(a Address, last bool) ([]byte, error) {
	call := strings.ToUpper(a.Callsign)
	if len(call) == 0 || len(call) > 6 {
		return nil, fmt.Errorf("ax25: callsign %q must be 1-6 characters", a.Callsign)
	}
	if a.SSID > 15 {
		return nil, fmt.Errorf("ax25: ssid %d out of range", a.SSID)
	}

	out := make([]byte, addrLen)
	for i := 0; i < 6; i++ {
		c := byte(' ')
		if i < len(call) {
			c = call[i]
		}
		out[i] = c << 1
	}
	out[6] = 0x60 | a.SSID<<1
	if a.Repeated {
		out[6] |= 0x80
	}
	if last {
		out[6] |= 0x01
	}
	return out, nil
}
