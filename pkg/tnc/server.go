// Package tnc serves the KISS TCP interface of the bridge: it decodes frames
// from the connected client for the radio and encodes packets heard on the
// radio for the client.
package tnc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/kiss"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/metrics"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
	"github.com/dbehnke/kiss-nexus/pkg/segment"
)

// ErrRadioClosed is returned by Start when the radio link stops delivering packets
var ErrRadioClosed = errors.New("tnc: radio link closed")

const (
	writeTimeout = 10 * time.Second
	// transmitTimeout bounds how long one client frame may wait on the radio
	transmitTimeout = 5 * time.Second
)

// Config holds TNC server configuration
type Config struct {
	Host            string
	Port            int
	QueueSize       int
	ReadBufferSize  int
	MaxFrameBytes   int
	MaxPacketSize   int
	TagSingle       bool
	UnescapeInbound bool
}

// Server is the KISS TCP server. It serves one client at a time; further
// clients wait in the listen backlog until the current one disconnects.
type Server struct {
	config    Config
	log       *logger.Logger
	link      radio.Link
	metrics   *metrics.Collector
	observers []Observer
	splitter  segment.Splitter

	queue   chan radio.Packet
	started chan struct{}

	mu       sync.RWMutex
	listener net.Listener
	client   *session
}

// NewServer creates a TNC server bridging clients to link
func NewServer(cfg Config, link radio.Link, log *logger.Logger) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if log == nil {
		log = logger.New(logger.Config{Level: "info"})
	}
	return &Server{
		config:   cfg,
		log:      log.WithComponent("tnc.server"),
		link:     link,
		metrics:  metrics.NewCollector(),
		splitter: segment.Splitter{TagSingle: cfg.TagSingle},
		queue:    make(chan radio.Packet, cfg.QueueSize),
		started:  make(chan struct{}),
	}
}

// WithMetrics injects a shared metrics collector
func (s *Server) WithMetrics(c *metrics.Collector) *Server {
	if c != nil {
		s.metrics = c
	}
	return s
}

// AddObserver registers an event observer. It must be called before Start.
func (s *Server) AddObserver(o Observer) *Server {
	s.observers = append(s.observers, o)
	return s
}

// Start listens for KISS clients and runs the bridge until ctx is canceled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.started)

	s.log.Info("KISS server started. Listening",
		logger.String("addr", ln.Addr().String()),
		logger.Int("queue_size", s.config.QueueSize))

	// Every loop stops with Start, whichever of them ends it
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	errChan := make(chan error, 2)
	wg.Add(3)
	go func() {
		defer wg.Done()
		errChan <- s.acceptLoop(runCtx, ln)
	}()
	go func() {
		defer wg.Done()
		errChan <- s.radioLoop(runCtx)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(runCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errChan:
	}

	cancel()
	_ = ln.Close()
	s.mu.RLock()
	if s.client != nil {
		_ = s.client.conn.Close()
	}
	s.mu.RUnlock()
	wg.Wait()

	s.log.Info("KISS server stopped")
	return runErr
}

// WaitStarted blocks until the listener is bound or ctx is canceled
func (s *Server) WaitStarted(ctx context.Context) error {
	select {
	case <-s.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the listening address. It should be called after WaitStarted.
func (s *Server) Addr() (net.Addr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil, fmt.Errorf("server not started")
	}
	return s.listener.Addr(), nil
}

// Client returns the remote address of the connected client, or "" if none
func (s *Server) Client() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return ""
	}
	return s.client.remote
}

// Metrics returns the server's collector
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// Enqueue hands a packet heard on the radio to the client writer. It blocks
// while the queue is full.
func (s *Server) Enqueue(ctx context.Context, pkt radio.Packet) error {
	select {
	case s.queue <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.serve(ctx, conn)
	}
}

// radioLoop moves packets heard on the radio into the client queue
func (s *Server) radioLoop(ctx context.Context) error {
	packets := s.link.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				s.log.Error("Radio link closed")
				return ErrRadioClosed
			}
			s.metrics.PacketFromRadio()
			if err := s.Enqueue(ctx, pkt); err != nil {
				return nil
			}
		}
	}
}

// writeLoop is the only writer to client connections
func (s *Server) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-s.queue:
			s.sendToClient(pkt)
		}
	}
}

func (s *Server) sendToClient(pkt radio.Packet) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		s.log.Debug("No KISS client connected, dropping radio packet",
			logger.Int("len", len(pkt.Data)))
		s.metrics.PacketDropped()
		s.emit(Event{Type: EventDropped, Direction: DirectionRX, Data: pkt.Data, Signal: pkt.Signal,
			Err: errors.New("no client connected")})
		return
	}

	segs := s.splitter.Split(pkt.Data)
	for i, seg := range segs {
		frame, err := kiss.Encode(seg)
		if err != nil {
			s.log.Warn("Discarded oversize segment", logger.Int("segment", i), logger.Error(err))
			s.metrics.ErrorOccurred(metrics.ErrorOversize)
			s.emit(Event{Type: EventDropped, Direction: DirectionRX, Remote: client.remote, Data: pkt.Data, Err: err})
			return
		}

		s.log.Debug("Sending frame to client",
			logger.String("remote", client.remote),
			logger.Hex("frame", frame))

		_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := client.conn.Write(frame); err != nil {
			s.log.Warn("Failed to write to KISS client, closing connection",
				logger.String("remote", client.remote),
				logger.Error(err))
			// The reader notices the close and cleans up
			_ = client.conn.Close()
			return
		}
		s.metrics.FrameSent(len(frame))
	}

	if len(segs) > 1 {
		s.metrics.SegmentsSent(len(segs))
	}
	s.emit(Event{Type: EventPacket, Direction: DirectionRX, Remote: client.remote,
		Data: pkt.Data, Segments: len(segs), Signal: pkt.Signal})
}

func (s *Server) setClient(c *session) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

func (s *Server) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Event observer panicked",
						logger.String("event", string(ev.Type)),
						logger.Any("panic", r))
				}
			}()
			o.Observe(ev)
		}()
	}
}
