// Package radio is the boundary to the radio modem. A Link transmits raw
// packets over the air and delivers packets heard from the air.
package radio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a closed link
var ErrClosed = errors.New("radio: link closed")

// SignalReport is the modem's reception quality for one packet
type SignalReport struct {
	RSSI float64 `json:"rssi"` // dBm
	SNR  float64 `json:"snr"`  // dB
}

func (s SignalReport) String() string {
	return fmt.Sprintf("RSSI=%.0fdBm SNR=%.2fdB", s.RSSI, s.SNR)
}

// Packet is one raw AX.25 packet crossing the radio boundary
type Packet struct {
	Data     []byte
	Signal   *SignalReport // nil when the modem reports nothing
	Received time.Time
}

// Link is a radio data link
type Link interface {
	// Transmit sends one packet over the air. It may block until the modem accepts it.
	Transmit(ctx context.Context, pkt Packet) error
	// Packets delivers received packets. A link may close the channel when
	// its device goes away; consumers also watch their own context.
	Packets() <-chan Packet
	// Close stops the link
	Close() error
}
