package radio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/logger"
)

func TestLoopback_Echo(t *testing.T) {
	l := NewLoopback(4, true)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Transmit(ctx, Packet{Data: []byte("ping")}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}

	select {
	case pkt := <-l.Packets():
		if string(pkt.Data) != "ping" {
			t.Errorf("echoed %q, want %q", pkt.Data, "ping")
		}
		if pkt.Received.IsZero() {
			t.Errorf("expected Received timestamp to be set")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for echoed packet")
	}
}

func TestLoopback_TransmittedAndClose(t *testing.T) {
	l := NewLoopback(1, false)
	ctx := context.Background()

	data := []byte("abc")
	if err := l.Transmit(ctx, Packet{Data: data}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	data[0] = 'X'

	pkt := <-l.Transmitted()
	if string(pkt.Data) != "abc" {
		t.Errorf("transmitted %q, want copy %q", pkt.Data, "abc")
	}

	_ = l.Close()
	if err := l.Transmit(ctx, Packet{Data: []byte("late")}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestLoopback_TransmitDropsWhenUndrained(t *testing.T) {
	l := NewLoopback(2, false)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := l.Transmit(ctx, Packet{Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("Transmit %d returned error: %v", i, err)
		}
	}
	if got := l.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped transmissions, got %d", got)
	}

	// The oldest packets are the ones kept
	for want := byte(0); want < 2; want++ {
		pkt := <-l.Transmitted()
		if pkt.Data[0] != want {
			t.Errorf("transmitted %d, want %d", pkt.Data[0], want)
		}
	}
}

func TestLoopback_InjectHonoursContext(t *testing.T) {
	l := NewLoopback(1, true)
	defer l.Close()

	if err := l.Inject(context.Background(), Packet{Data: []byte("fill")}); err != nil {
		t.Fatalf("Inject returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Transmit(ctx, Packet{Data: []byte("blocked")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded on full receive queue, got %v", err)
	}
}

func TestFramer_WriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReceived(&buf, []byte{0x01, 0x02, 0x03}, -97, -18); err != nil {
		t.Fatalf("writeReceived returned error: %v", err)
	}

	f := NewFramer(&buf)
	pkt, err := f.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket returned error: %v", err)
	}
	if !bytes.Equal(pkt.Data, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("payload = % X", pkt.Data)
	}
	if pkt.Signal == nil || pkt.Signal.RSSI != -97 || pkt.Signal.SNR != -4.5 {
		t.Errorf("signal = %+v, want RSSI -97 SNR -4.5", pkt.Signal)
	}

	if err := f.WritePacket([]byte("tx")); err != nil {
		t.Fatalf("WritePacket returned error: %v", err)
	}
	if got := buf.Bytes(); !bytes.Equal(got, []byte{0x00, 0x02, 't', 'x'}) {
		t.Errorf("wire bytes = % X", got)
	}
}

func TestFramer_Errors(t *testing.T) {
	f := NewFramer(&bytes.Buffer{})
	if err := f.WritePacket(nil); !errors.Is(err, ErrPacketSize) {
		t.Errorf("empty payload: expected ErrPacketSize, got %v", err)
	}
	if err := f.WritePacket(make([]byte, MaxPacketSize+1)); !errors.Is(err, ErrPacketSize) {
		t.Errorf("huge payload: expected ErrPacketSize, got %v", err)
	}

	if _, err := f.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("empty stream: expected EOF, got %v", err)
	}

	truncated := bytes.NewBuffer([]byte{0x00, 0x05, 0x00, 0x00, 'a'})
	if _, err := NewFramer(truncated).ReadPacket(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated payload: expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestSerial_OverPipe(t *testing.T) {
	host, modem := net.Pipe()
	defer modem.Close()

	link := NewSerial(host, logger.New(logger.Config{Level: "error"}))
	defer link.Close()

	// modem -> host
	go func() {
		_ = writeReceived(modem, []byte("heard"), -80, 20)
	}()

	select {
	case pkt := <-link.Packets():
		if string(pkt.Data) != "heard" {
			t.Errorf("received %q, want %q", pkt.Data, "heard")
		}
		if pkt.Signal.SNR != 5 {
			t.Errorf("SNR = %v, want 5", pkt.Signal.SNR)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet from modem")
	}

	// host -> modem
	errCh := make(chan error, 1)
	go func() {
		errCh <- link.Transmit(context.Background(), Packet{Data: []byte("send")})
	}()

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(modem, hdr); err != nil {
		t.Fatalf("modem read header: %v", err)
	}
	payload := make([]byte, binary.BigEndian.Uint16(hdr))
	if _, err := io.ReadFull(modem, payload); err != nil {
		t.Fatalf("modem read payload: %v", err)
	}
	if string(payload) != "send" {
		t.Errorf("modem got %q, want %q", payload, "send")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
}

func TestSerial_CloseStopsReader(t *testing.T) {
	host, modem := net.Pipe()
	defer modem.Close()

	link := NewSerial(host, logger.New(logger.Config{Level: "error"}))
	if err := link.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case _, ok := <-link.Packets():
		if ok {
			t.Fatal("expected packets channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not stop after Close")
	}

	if err := link.Transmit(context.Background(), Packet{Data: []byte("x")}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
