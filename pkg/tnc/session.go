package tnc

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/dbehnke/kiss-nexus/pkg/kiss"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/metrics"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
	"github.com/dbehnke/kiss-nexus/pkg/segment"
)

// session is the receive side of one client connection. Its parser and
// reassembler are never shared with another connection.
type session struct {
	server *Server
	conn   net.Conn
	remote string
	log    *logger.Logger

	parser      *kiss.Parser
	reassembler *segment.Reassembler
	// segments counts frames folded into the packet being reassembled
	segments int
}

func newSession(ctx context.Context, s *Server, conn net.Conn) *session {
	remote := conn.RemoteAddr().String()
	log := s.log.WithComponent("tnc.session")

	c := &session{
		server:      s,
		conn:        conn,
		remote:      remote,
		log:         log,
		reassembler: segment.NewReassembler(log).WithMaxPacketSize(s.config.MaxPacketSize),
	}
	c.parser = kiss.NewParser(func(frame []byte) error {
		return c.handleFrame(ctx, frame)
	}, log).WithMaxFrameBytes(s.config.MaxFrameBytes).WithFaultHandler(c.fault)
	return c
}

// serve runs one client connection until it closes or ctx is canceled
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	// Scoped to this connection
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newSession(ctx, s, conn)

	s.setClient(c)
	s.metrics.ClientConnected()
	s.log.Info("Accepted connection", logger.String("remote", c.remote))
	s.emit(Event{Type: EventClientConnect, Remote: c.remote})

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	defer func() {
		_ = conn.Close()
		c.parser.Reset()
		c.reassembler.Reset()
		s.setClient(nil)
		s.metrics.ClientDisconnected()
		s.log.Info("Closed connection", logger.String("remote", c.remote))
		s.emit(Event{Type: EventClientDisconnect, Remote: c.remote})
	}()

	buf := make([]byte, s.config.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.parser.Parse(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				c.log.Warn("Read from client failed", logger.String("remote", c.remote), logger.Error(err))
			}
			return
		}
	}
}

// handleFrame takes one complete frame from the parser to the radio
func (c *session) handleFrame(ctx context.Context, frame []byte) error {
	s := c.server
	s.metrics.FrameReceived(len(frame))
	c.log.Debug("Received KISS frame",
		logger.String("remote", c.remote),
		logger.Hex("frame", frame))

	payload, err := kiss.Decode(frame)
	if err == nil && s.config.UnescapeInbound {
		payload, err = kiss.Unescape(payload)
	}
	if err != nil {
		c.log.Warn("KISS header not found, abort decoding of frame",
			logger.Hex("frame", frame), logger.Error(err))
		c.drop(metrics.ErrorFraming, frame, err)
		return nil
	}

	packet, err := c.reassembler.Process(payload)
	s.metrics.SetReassemblyPending(c.reassembler.Pending())
	if err != nil {
		kind := metrics.ErrorSegmentation
		if errors.Is(err, segment.ErrOversize) {
			kind = metrics.ErrorOversize
		}
		if errors.Is(err, segment.ErrProtocol) {
			c.segments = 0
		}
		c.drop(kind, payload, err)
		return nil
	}
	c.segments++
	if packet == nil {
		return nil
	}

	segments := c.segments
	c.segments = 0
	if segments > 1 {
		s.metrics.PacketReassembled()
	}

	txCtx, cancel := context.WithTimeout(ctx, transmitTimeout)
	err = s.link.Transmit(txCtx, radio.Packet{Data: packet})
	cancel()
	if err != nil {
		c.log.Error("Radio transmit failed", logger.Int("len", len(packet)), logger.Error(err))
		c.drop(metrics.ErrorRadio, packet, err)
		return nil
	}
	s.metrics.PacketToRadio()
	s.emit(Event{Type: EventPacket, Direction: DirectionTX, Remote: c.remote, Data: packet, Segments: segments})
	return nil
}

func (c *session) drop(kind string, data []byte, err error) {
	c.server.metrics.ErrorOccurred(kind)
	c.server.emit(Event{Type: EventDropped, Direction: DirectionTX, Remote: c.remote, Data: data, Err: err})
}

// fault is called by the parser for handler failures and runaway frames
func (c *session) fault(err error) {
	kind := metrics.ErrorCallback
	if errors.Is(err, kiss.ErrFrameTooLong) {
		kind = metrics.ErrorFraming
	}
	c.drop(kind, nil, err)
}
