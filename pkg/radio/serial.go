package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"go.bug.st/serial"
)

// SerialConfig configures a modem attached to a serial port
type SerialConfig struct {
	Device   string
	BaudRate int
}

// Serial is a Link to a modem on a serial port
type Serial struct {
	port    io.ReadWriteCloser
	framer  *Framer
	log     *logger.Logger
	packets chan Packet

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// OpenSerial opens the serial device and starts reading from the modem
func OpenSerial(cfg SerialConfig, log *logger.Logger) (*Serial, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("no device path (e.g., /dev/ttyUSB0 or COM3) provided for radio serial")
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}

	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	if log == nil {
		log = logger.New(logger.Config{Level: "info"})
	}
	log.Info("Radio serial port opened",
		logger.String("device", cfg.Device),
		logger.Int("baud_rate", cfg.BaudRate))

	return NewSerial(port, log), nil
}

// NewSerial runs the modem protocol over an already open port
func NewSerial(port io.ReadWriteCloser, log *logger.Logger) *Serial {
	if log == nil {
		log = logger.New(logger.Config{Level: "info"})
	}
	s := &Serial{
		port:    port,
		framer:  NewFramer(port),
		log:     log.WithComponent("radio.serial"),
		packets: make(chan Packet, 16),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Transmit implements Link
func (s *Serial) Transmit(ctx context.Context, pkt Packet) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.framer.WritePacket(pkt.Data)
}

// Packets implements Link
func (s *Serial) Packets() <-chan Packet {
	return s.packets
}

// Close implements Link
func (s *Serial) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
	})
	return err
}

func (s *Serial) readLoop() {
	defer close(s.packets)

	for {
		pkt, err := s.framer.ReadPacket()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, ErrPacketSize) {
				s.log.Warn("Ignoring malformed modem frame", logger.Error(err))
				continue
			}
			s.log.Error("Radio serial read failed", logger.Error(err))
			return
		}

		s.log.Debug("Packet received from radio",
			logger.Int("len", len(pkt.Data)),
			logger.String("signal", pkt.Signal.String()))

		select {
		case s.packets <- pkt:
		case <-s.done:
			return
		}
	}
}
