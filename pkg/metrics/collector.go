package metrics

import (
	"sync"
)

// Error kinds counted by the collector
const (
	ErrorFraming      = "framing"
	ErrorOversize     = "oversize"
	ErrorSegmentation = "segmentation"
	ErrorCallback     = "callback"
	ErrorRadio        = "radio"
)

// Collector collects bridge metrics
type Collector struct {
	mu sync.RWMutex

	// Client metrics
	totalConnections uint64
	clientConnected  bool

	// Network side (KISS frames)
	framesReceived uint64
	framesSent     uint64
	bytesReceived  uint64
	bytesSent      uint64

	// Radio side (raw packets)
	packetsToRadio   uint64
	packetsFromRadio uint64
	packetsDropped   uint64

	// Segmentation
	segmentsSent       uint64
	packetsReassembled uint64
	reassemblyPending  int

	errors map[string]uint64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		errors: make(map[string]uint64),
	}
}

// ClientConnected records a KISS client connection
func (c *Collector) ClientConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalConnections++
	c.clientConnected = true
}

// ClientDisconnected records the KISS client going away
func (c *Collector) ClientDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clientConnected = false
	c.reassemblyPending = 0
}

// FrameReceived records a complete frame from the client
func (c *Collector) FrameReceived(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesReceived++
	c.bytesReceived += uint64(size)
}

// FrameSent records a frame written to the client
func (c *Collector) FrameSent(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesSent++
	c.bytesSent += uint64(size)
}

// PacketToRadio records a packet handed to the radio
func (c *Collector) PacketToRadio() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsToRadio++
}

// PacketFromRadio records a packet heard on the radio
func (c *Collector) PacketFromRadio() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsFromRadio++
}

// PacketDropped records a radio packet dropped because no client was connected
func (c *Collector) PacketDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsDropped++
}

// SegmentsSent records a packet split into n segments
func (c *Collector) SegmentsSent(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.segmentsSent += uint64(n)
}

// PacketReassembled records a completed multi-segment packet
func (c *Collector) PacketReassembled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsReassembled++
}

// SetReassemblyPending records the number of segments awaiting their final segment
func (c *Collector) SetReassemblyPending(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reassemblyPending = n
}

// ErrorOccurred records a dropped frame by error kind
func (c *Collector) ErrorOccurred(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors[kind]++
}

// Reset resets gauges (useful for testing)
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clientConnected = false
	c.reassemblyPending = 0
	// Note: cumulative counters are kept
}

// Snapshot is a point-in-time copy of all metrics
type Snapshot struct {
	TotalConnections   uint64            `json:"total_connections"`
	ClientConnected    bool              `json:"client_connected"`
	FramesReceived     uint64            `json:"frames_received"`
	FramesSent         uint64            `json:"frames_sent"`
	BytesReceived      uint64            `json:"bytes_received"`
	BytesSent          uint64            `json:"bytes_sent"`
	PacketsToRadio     uint64            `json:"packets_to_radio"`
	PacketsFromRadio   uint64            `json:"packets_from_radio"`
	PacketsDropped     uint64            `json:"packets_dropped"`
	SegmentsSent       uint64            `json:"segments_sent"`
	PacketsReassembled uint64            `json:"packets_reassembled"`
	ReassemblyPending  int               `json:"reassembly_pending"`
	Errors             map[string]uint64 `json:"errors"`
}

// Snapshot returns a copy of the current metrics
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	errs := make(map[string]uint64, len(c.errors))
	for k, v := range c.errors {
		errs[k] = v
	}
	return Snapshot{
		TotalConnections:   c.totalConnections,
		ClientConnected:    c.clientConnected,
		FramesReceived:     c.framesReceived,
		FramesSent:         c.framesSent,
		BytesReceived:      c.bytesReceived,
		BytesSent:          c.bytesSent,
		PacketsToRadio:     c.packetsToRadio,
		PacketsFromRadio:   c.packetsFromRadio,
		PacketsDropped:     c.packetsDropped,
		SegmentsSent:       c.segmentsSent,
		PacketsReassembled: c.packetsReassembled,
		ReassemblyPending:  c.reassemblyPending,
		Errors:             errs,
	}
}

// GetErrors returns the count for one error kind
func (c *Collector) GetErrors(kind string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errors[kind]
}

// GetFramesReceived returns total frames received from clients
func (c *Collector) GetFramesReceived() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.framesReceived
}

// GetFramesSent returns total frames written to clients
func (c *Collector) GetFramesSent() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.framesSent
}

// GetPacketsToRadio returns total packets handed to the radio
func (c *Collector) GetPacketsToRadio() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packetsToRadio
}
