package tnc

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/kiss"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/metrics"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
	"github.com/dbehnke/kiss-nexus/pkg/segment"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(typ EventType, dir Direction) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == typ && ev.Direction == dir {
			n++
		}
	}
	return n
}

type testBridge struct {
	srv    *Server
	link   *radio.Loopback
	events *eventLog
	addr   string
}

func startBridge(t *testing.T, cfg Config) *testBridge {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	link := radio.NewLoopback(16, false)
	events := &eventLog{}
	srv := NewServer(cfg, link, logger.New(logger.Config{Level: "error"})).AddObserver(events)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errChan:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop in time")
		}
		_ = link.Close()
	})

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := srv.WaitStarted(waitCtx); err != nil {
		t.Fatalf("server failed to start: %v", err)
	}
	addr, err := srv.Addr()
	if err != nil {
		t.Fatalf("Addr returned error: %v", err)
	}
	return &testBridge{srv: srv, link: link, events: events, addr: addr.String()}
}

func (b *testBridge) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", b.addr, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitFor(t, "client registration", func() bool { return b.srv.Client() != "" })
	return conn
}

func (b *testBridge) nextTransmitted(t *testing.T) radio.Packet {
	t.Helper()
	select {
	case pkt := <-b.link.Transmitted():
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for radio transmission")
	}
	return radio.Packet{}
}

func (b *testBridge) expectNoTransmission(t *testing.T) {
	t.Helper()
	select {
	case pkt := <-b.link.Transmitted():
		t.Fatalf("unexpected radio transmission of %d bytes", len(pkt.Data))
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func plainPacket(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 0xC0)
	}
	return p
}

func encodeAll(t *testing.T, segs [][]byte) []byte {
	t.Helper()
	var stream []byte
	for _, seg := range segs {
		frame, err := kiss.Encode(seg)
		if err != nil {
			t.Fatalf("Encode returned error: %v", err)
		}
		stream = append(stream, frame...)
	}
	return stream
}

func TestServer_New(t *testing.T) {
	srv := NewServer(Config{Port: 10001}, radio.NewLoopback(1, false), nil)
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.config.QueueSize != 64 || srv.config.ReadBufferSize != 1024 {
		t.Errorf("expected defaults, got queue=%d read=%d", srv.config.QueueSize, srv.config.ReadBufferSize)
	}
	if _, err := srv.Addr(); err == nil {
		t.Error("expected Addr error before Start")
	}
}

func TestServer_BackToBackFramesReachRadio(t *testing.T) {
	b := startBridge(t, Config{})
	conn := b.dial(t)

	if _, err := conn.Write([]byte{0xC0, 0x00, 0x41, 0x42, 0xC0, 0xC0, 0x00, 0x43, 0xC0}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if pkt := b.nextTransmitted(t); !bytes.Equal(pkt.Data, []byte{0x41, 0x42}) {
		t.Errorf("first packet = % X", pkt.Data)
	}
	if pkt := b.nextTransmitted(t); !bytes.Equal(pkt.Data, []byte{0x43}) {
		t.Errorf("second packet = % X", pkt.Data)
	}
	waitFor(t, "tx events", func() bool { return b.events.count(EventPacket, DirectionTX) == 2 })
}

func TestServer_ReassemblesSegmentsAcrossReads(t *testing.T) {
	b := startBridge(t, Config{})
	conn := b.dial(t)

	packet := plainPacket(450)
	stream := encodeAll(t, segment.Split(packet))

	// Dribble the stream out in small writes
	for off := 0; off < len(stream); off += 7 {
		end := off + 7
		if end > len(stream) {
			end = len(stream)
		}
		if _, err := conn.Write(stream[off:end]); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	pkt := b.nextTransmitted(t)
	if !bytes.Equal(pkt.Data, packet) {
		t.Fatalf("reassembled packet differs (%d vs %d bytes)", len(pkt.Data), len(packet))
	}
	b.expectNoTransmission(t)

	waitFor(t, "reassembly metric", func() bool { return b.srv.Metrics().Snapshot().PacketsReassembled == 1 })
	if got := b.srv.Metrics().GetFramesReceived(); got != 3 {
		t.Errorf("expected 3 frames received, got %d", got)
	}
}

func TestServer_OversizeFrameDropped(t *testing.T) {
	b := startBridge(t, Config{})
	conn := b.dial(t)

	oversize, err := kiss.Encode(plainPacket(kiss.MaxFrameLength))
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	// Hand-build a frame one byte past the ceiling
	oversize = append(oversize[:len(oversize)-1], 0x01, kiss.FEND)
	valid, _ := kiss.Encode([]byte("ok"))

	if _, err := conn.Write(append(oversize, valid...)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if pkt := b.nextTransmitted(t); string(pkt.Data) != "ok" {
		t.Fatalf("expected the valid frame after the oversize one, got %q", pkt.Data)
	}
	if got := b.srv.Metrics().GetErrors(metrics.ErrorOversize); got != 1 {
		t.Errorf("expected 1 oversize error, got %d", got)
	}
	if b.events.count(EventDropped, DirectionTX) != 1 {
		t.Errorf("expected one dropped event")
	}
}

func TestServer_FinalSegmentWithoutStartDropped(t *testing.T) {
	b := startBridge(t, Config{})
	conn := b.dial(t)

	bad := append([]byte{segment.TagFinal}, plainPacket(segment.MaxSegmentSize)...)
	stream := encodeAll(t, [][]byte{bad, []byte("after")})
	if _, err := conn.Write(stream); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if pkt := b.nextTransmitted(t); string(pkt.Data) != "after" {
		t.Fatalf("expected next frame to pass, got %q", pkt.Data)
	}
	if got := b.srv.Metrics().GetErrors(metrics.ErrorSegmentation); got != 1 {
		t.Errorf("expected 1 segmentation error, got %d", got)
	}
}

func TestServer_EscapedPayloadPassesThrough(t *testing.T) {
	tests := []struct {
		name     string
		unescape bool
		want     []byte
	}{
		{"escaped by default", false, []byte{0x01, kiss.FESC, kiss.TFEND, 0x02}},
		{"unescaped when configured", true, []byte{0x01, kiss.FEND, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := startBridge(t, Config{UnescapeInbound: tt.unescape})
			conn := b.dial(t)

			frame, _ := kiss.Encode([]byte{0x01, kiss.FEND, 0x02})
			if _, err := conn.Write(frame); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if pkt := b.nextTransmitted(t); !bytes.Equal(pkt.Data, tt.want) {
				t.Errorf("radio got % X, want % X", pkt.Data, tt.want)
			}
		})
	}
}

func TestServer_RadioPacketSegmentedToClient(t *testing.T) {
	b := startBridge(t, Config{TagSingle: true})
	conn := b.dial(t)

	packet := plainPacket(450)
	if err := b.link.Inject(context.Background(), radio.Packet{Data: packet, Signal: &radio.SignalReport{RSSI: -90, SNR: 7.5}}); err != nil {
		t.Fatalf("Inject returned error: %v", err)
	}

	var frames [][]byte
	p := kiss.NewParser(func(frame []byte) error {
		frames = append(frames, frame)
		return nil
	}, logger.New(logger.Config{Level: "error"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for len(frames) < 3 {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed after %d frames: %v", len(frames), err)
		}
		p.Parse(buf[:n])
	}

	var reassembled []byte
	for i, frame := range frames {
		seg, err := kiss.Decode(frame)
		if err != nil {
			t.Fatalf("frame %d: Decode returned error: %v", i, err)
		}
		wantTag := segment.TagContinuation
		if i == 2 {
			wantTag = segment.TagFinal
		}
		if seg[0] != wantTag {
			t.Errorf("frame %d tag = %q, want %q", i, seg[0], wantTag)
		}
		reassembled = append(reassembled, seg[1:]...)
	}
	if !bytes.Equal(reassembled, packet) {
		t.Fatalf("client received a different packet")
	}

	waitFor(t, "rx event", func() bool { return b.events.count(EventPacket, DirectionRX) == 1 })
	snap := b.srv.Metrics().Snapshot()
	if snap.FramesSent != 3 || snap.SegmentsSent != 3 || snap.PacketsFromRadio != 1 {
		t.Errorf("unexpected metrics %+v", snap)
	}
}

func TestServer_RadioPacketDroppedWithoutClient(t *testing.T) {
	b := startBridge(t, Config{})

	if err := b.link.Inject(context.Background(), radio.Packet{Data: []byte("nobody home")}); err != nil {
		t.Fatalf("Inject returned error: %v", err)
	}

	waitFor(t, "dropped packet", func() bool { return b.srv.Metrics().Snapshot().PacketsDropped == 1 })
	if b.events.count(EventDropped, DirectionRX) != 1 {
		t.Errorf("expected one rx dropped event")
	}
}

func TestServer_ReconnectResetsState(t *testing.T) {
	b := startBridge(t, Config{})

	first := b.dial(t)
	partial := encodeAll(t, segment.Split(plainPacket(450))[:1])
	// Leave a half frame in the parser too
	partial = append(partial, kiss.FEND, 0x00, 0x55)
	if _, err := first.Write(partial); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, "first segment", func() bool { return b.srv.Metrics().GetFramesReceived() == 1 })
	_ = first.Close()
	waitFor(t, "disconnect", func() bool { return b.srv.Client() == "" })

	second := b.dial(t)
	final := append([]byte{segment.TagFinal}, []byte("tail")...)
	if _, err := second.Write(encodeAll(t, [][]byte{final})); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// With fresh state a short final segment is an ordinary frame
	if pkt := b.nextTransmitted(t); !bytes.Equal(pkt.Data, final) {
		t.Fatalf("expected untouched frame after reconnect, got %q", pkt.Data)
	}
	if got := b.srv.Metrics().Snapshot().TotalConnections; got != 2 {
		t.Errorf("expected 2 connections, got %d", got)
	}
}

func TestServer_EnqueueBlocksWhenFull(t *testing.T) {
	srv := NewServer(Config{QueueSize: 1}, radio.NewLoopback(1, false), logger.New(logger.Config{Level: "error"}))

	if err := srv.Enqueue(context.Background(), radio.Packet{Data: []byte("a")}); err != nil {
		t.Fatalf("first Enqueue returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := srv.Enqueue(ctx, radio.Packet{Data: []byte("b")}); err != context.DeadlineExceeded {
		t.Fatalf("expected blocking enqueue to time out, got %v", err)
	}
}

func TestServer_ObserverPanicIsContained(t *testing.T) {
	link := radio.NewLoopback(4, false)
	srv := NewServer(Config{}, link, logger.New(logger.Config{Level: "error"}))
	called := false
	srv.AddObserver(ObserverFunc(func(ev Event) { panic("observer bug") }))
	srv.AddObserver(ObserverFunc(func(ev Event) { called = true }))

	srv.emit(Event{Type: EventPacket})
	if !called {
		t.Fatal("second observer not called after first panicked")
	}
}

func TestServer_RadioClosedStopsServer(t *testing.T) {
	host, modem := net.Pipe()
	link := radio.NewSerial(host, logger.New(logger.Config{Level: "error"}))
	srv := NewServer(Config{Host: "127.0.0.1"}, link, logger.New(logger.Config{Level: "error"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()
	if err := srv.WaitStarted(ctx); err != nil {
		t.Fatalf("server failed to start: %v", err)
	}

	// Modem goes away
	_ = modem.Close()

	select {
	case err := <-errChan:
		if err != ErrRadioClosed {
			t.Fatalf("expected ErrRadioClosed, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("server did not stop after radio closed")
	}
}

func TestServer_UndrainedRadioDoesNotStallClient(t *testing.T) {
	b := startBridge(t, Config{})
	conn := b.dial(t)

	const packets = 40
	var stream []byte
	for i := 0; i < packets; i++ {
		frame, _ := kiss.Encode([]byte{byte('a' + i%26)})
		stream = append(stream, frame...)
	}
	if _, err := conn.Write(stream); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	waitFor(t, "all packets handed to the radio", func() bool {
		return b.srv.Metrics().Snapshot().PacketsToRadio == packets
	})
	if got := b.srv.Metrics().GetFramesReceived(); got != packets {
		t.Errorf("expected %d frames received, got %d", packets, got)
	}
	if got := b.link.Dropped(); got != packets-16 {
		t.Errorf("expected %d transmissions dropped by the loopback, got %d", packets-16, got)
	}

	// A later client is still served
	_ = conn.Close()
	waitFor(t, "disconnect", func() bool { return b.srv.Client() == "" })
	b.dial(t)
}

func TestServer_StopsAllLoopsWhenRadioCloses(t *testing.T) {
	host, modem := net.Pipe()
	link := radio.NewSerial(host, logger.New(logger.Config{Level: "error"}))
	srv := NewServer(Config{Host: "127.0.0.1", QueueSize: 1}, link, logger.New(logger.Config{Level: "error"}))

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(context.Background())
	}()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := srv.WaitStarted(waitCtx); err != nil {
		t.Fatalf("server failed to start: %v", err)
	}

	_ = modem.Close()
	select {
	case err := <-errChan:
		if err != ErrRadioClosed {
			t.Fatalf("expected ErrRadioClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after radio closed")
	}

	// With the writer gone nothing drains the queue any more
	if err := srv.Enqueue(context.Background(), radio.Packet{Data: []byte("a")}); err != nil {
		t.Fatalf("first Enqueue returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.Enqueue(ctx, radio.Packet{Data: []byte("b")}); err != context.DeadlineExceeded {
		t.Errorf("expected queue to stay full after Start returned, got %v", err)
	}
	if got := srv.Metrics().Snapshot().PacketsDropped; got != 0 {
		t.Errorf("expected no packets handled after stop, got %d dropped", got)
	}
}
