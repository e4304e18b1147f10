package radio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Serial line framing between the host and the modem firmware.
//
//	host -> modem: len(2, big endian) payload
//	modem -> host: len(2, big endian) rssi(1, int8 dBm) snr(1, int8 quarter dB) payload
const (
	txHeaderSize = 2
	rxHeaderSize = 4

	// MaxPacketSize is the largest payload the length prefix can carry
	MaxPacketSize = 0xFFFF
)

// ErrPacketSize is returned for packets the serial framing cannot carry
var ErrPacketSize = errors.New("radio: packet size out of range")

// Framer reads and writes modem frames on a byte stream
type Framer struct {
	r *bufio.Reader
	w io.Writer
}

// NewFramer wraps rw
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{r: bufio.NewReader(rw), w: rw}
}

// WritePacket sends one payload to the modem for transmission
func (f *Framer) WritePacket(payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketSize, len(payload))
	}
	buf := make([]byte, txHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[txHeaderSize:], payload)

	if _, err := f.w.Write(buf); err != nil {
		return fmt.Errorf("radio: write to modem: %w", err)
	}
	return nil
}

// ReadPacket blocks until the modem reports one received packet
func (f *Framer) ReadPacket() (Packet, error) {
	var hdr [rxHeaderSize]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return Packet{}, err
	}

	n := int(binary.BigEndian.Uint16(hdr[0:2]))
	if n == 0 {
		return Packet{}, fmt.Errorf("%w: empty frame from modem", ErrPacketSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return Packet{}, err
	}

	return Packet{
		Data: payload,
		Signal: &SignalReport{
			RSSI: float64(int8(hdr[2])),
			SNR:  float64(int8(hdr[3])) / 4,
		},
		Received: time.Now(),
	}, nil
}

// writeReceived encodes a modem->host frame. Used by tests to play the modem.
func writeReceived(w io.Writer, payload []byte, rssi, snrQuarter int8) error {
	buf := make([]byte, rxHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	buf[2] = byte(rssi)
	buf[3] = byte(snrQuarter)
	copy(buf[rxHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}
