package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
	"github.com/dbehnke/kiss-nexus/pkg/tnc"
	"github.com/gorilla/websocket"
)

func TestWebSocketHub_New(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	hub := NewWebSocketHub(log)

	if hub == nil {
		t.Fatal("NewWebSocketHub returned nil")
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("Expected no clients, got %d", hub.GetClientCount())
	}
}

func TestWebSocketHub_BroadcastWithoutClients(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	hub := NewWebSocketHub(log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go hub.Run(ctx)

	// Must not block or panic with nobody listening
	hub.Broadcast(Event{Type: "test", Data: map[string]interface{}{"message": "hello"}})
	hub.Observe(tnc.Event{Type: tnc.EventClientConnect, Remote: "127.0.0.1:1"})
}

// dialHub connects a websocket client and waits for the hub to register it
func dialHub(t *testing.T, hub *WebSocketHub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(hub.Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for client registration")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read websocket message: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("Failed to decode event %q: %v", msg, err)
	}
	return ev
}

func TestWebSocketHub_ObservePacket(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	hub := NewWebSocketHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)

	hub.Observe(tnc.Event{
		Type:      tnc.EventPacket,
		Direction: tnc.DirectionRX,
		Data:      []byte{0x41, 0x42},
		Segments:  1,
		Signal:    &radio.SignalReport{RSSI: -88, SNR: 4},
		Time:      time.Now(),
	})

	ev := readEvent(t, conn)
	if ev.Type != "packet" {
		t.Fatalf("Expected packet event, got %q", ev.Type)
	}
	if ev.Data["direction"] != "rx" || ev.Data["data"] != "4142" {
		t.Errorf("Unexpected packet data: %v", ev.Data)
	}
	if ev.Data["rssi"] != -88.0 {
		t.Errorf("Expected rssi -88, got %v", ev.Data["rssi"])
	}
	if ev.Data["dropped"] != false {
		t.Errorf("Expected dropped=false, got %v", ev.Data["dropped"])
	}
}

func TestWebSocketHub_ObserveDropAndClient(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	hub := NewWebSocketHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)

	hub.Observe(tnc.Event{Type: tnc.EventClientConnect, Remote: "10.0.0.2:4000", Time: time.Now()})
	hub.Observe(tnc.Event{Type: tnc.EventDropped, Direction: tnc.DirectionTX, Err: errors.New("bad tag"), Time: time.Now()})

	ev := readEvent(t, conn)
	if ev.Type != "client" || ev.Data["connected"] != true || ev.Data["remote"] != "10.0.0.2:4000" {
		t.Errorf("Unexpected client event: %+v", ev)
	}

	ev = readEvent(t, conn)
	if ev.Type != "packet" || ev.Data["dropped"] != true || ev.Data["error"] != "bad tag" {
		t.Errorf("Unexpected drop event: %+v", ev)
	}
}

func TestEvent_Marshal(t *testing.T) {
	event := Event{
		Type:      "status_update",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"status":  "running",
			"version": "dev",
		},
	}

	data, err := event.Marshal()
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	if !strings.Contains(string(data), "status_update") {
		t.Error("Marshaled data doesn't contain event type")
	}
}
