package testhelpers

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/kiss"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/segment"
)

// ErrTimeout is returned when no packet arrives in time
var ErrTimeout = errors.New("testhelpers: timed out waiting for packet")

// MockClient is a KISS TCP client in the style of aprx: it splits outgoing
// packets into segments and reassembles what the bridge sends back
type MockClient struct {
	Splitter segment.Splitter

	conn        net.Conn
	parser      *kiss.Parser
	reassembler *segment.Reassembler
	mu          sync.Mutex
	packets     chan []byte
	frames      [][]byte
	closed      bool
}

// NewMockClient creates an unconnected client
func NewMockClient(log *logger.Logger) *MockClient {
	m := &MockClient{
		packets:     make(chan []byte, 64),
		reassembler: segment.NewReassembler(log),
	}
	m.parser = kiss.NewParser(m.handleFrame, log)
	return m
}

// Connect dials the bridge and starts reading
func (m *MockClient) Connect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	go m.readLoop(conn)
	return nil
}

// SendPacket splits, encodes and writes one packet
func (m *MockClient) SendPacket(packet []byte) error {
	var stream []byte
	for _, seg := range m.Splitter.Split(packet) {
		frame, err := kiss.Encode(seg)
		if err != nil {
			return err
		}
		stream = append(stream, frame...)
	}
	return m.SendRaw(stream)
}

// SendRaw writes bytes to the bridge unmodified
func (m *MockClient) SendRaw(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return net.ErrClosed
	}
	_, err := conn.Write(data)
	return err
}

// ReceivePacket waits for the next reassembled packet
func (m *MockClient) ReceivePacket(timeout time.Duration) ([]byte, error) {
	select {
	case p := <-m.packets:
		return p, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// FrameCount returns the number of KISS frames received so far
func (m *MockClient) FrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Close closes the connection
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.conn == nil {
		return nil
	}
	m.closed = true
	return m.conn.Close()
}

func (m *MockClient) readLoop(conn net.Conn) {
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			m.parser.Parse(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (m *MockClient) handleFrame(frame []byte) error {
	m.mu.Lock()
	m.frames = append(m.frames, frame)
	m.mu.Unlock()

	seg, err := kiss.Decode(frame)
	if err != nil {
		return err
	}
	// The bridge escapes what it sends
	if seg, err = kiss.Unescape(seg); err != nil {
		return err
	}
	packet, err := m.reassembler.Process(seg)
	if err != nil || packet == nil {
		return err
	}
	m.packets <- packet
	return nil
}
