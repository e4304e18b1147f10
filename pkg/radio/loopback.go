package radio

import (
	"context"
	"sync"
	"time"
)

// Loopback is an in-memory Link. With echo enabled every transmitted packet
// is heard back as a received one; otherwise transmissions are queued on
// Transmitted for inspection. Transmit never waits on that queue: once it is
// full, further packets are counted in Dropped and discarded.
type Loopback struct {
	echo bool
	rx   chan Packet
	tx   chan Packet

	mu      sync.Mutex
	closed  bool
	dropped uint64
	done    chan struct{}
}

// NewLoopback creates a loopback link with the given channel depth
func NewLoopback(depth int, echo bool) *Loopback {
	if depth <= 0 {
		depth = 16
	}
	return &Loopback{
		echo: echo,
		rx:   make(chan Packet, depth),
		tx:   make(chan Packet, depth),
		done: make(chan struct{}),
	}
}

// Transmit implements Link
func (l *Loopback) Transmit(ctx context.Context, pkt Packet) error {
	pkt.Data = append([]byte(nil), pkt.Data...)
	if l.echo {
		if pkt.Received.IsZero() {
			pkt.Received = time.Now()
		}
		return l.Inject(ctx, pkt)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.tx <- pkt:
	default:
		l.dropped++
	}
	return nil
}

// Dropped returns the number of transmissions discarded because nobody
// drained Transmitted
func (l *Loopback) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Inject delivers pkt as if it was heard on the air
func (l *Loopback) Inject(ctx context.Context, pkt Packet) error {
	if pkt.Received.IsZero() {
		pkt.Received = time.Now()
	}
	return l.send(ctx, l.rx, pkt)
}

func (l *Loopback) send(ctx context.Context, ch chan Packet, pkt Packet) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	select {
	case ch <- pkt:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Packets implements Link
func (l *Loopback) Packets() <-chan Packet {
	return l.rx
}

// Transmitted returns packets passed to Transmit when echo is off
func (l *Loopback) Transmitted() <-chan Packet {
	return l.tx
}

// Close implements Link
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return nil
}
