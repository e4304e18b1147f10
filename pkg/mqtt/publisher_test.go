package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/ax25"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
	"github.com/dbehnke/kiss-nexus/pkg/tnc"
)

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type recordingTransport struct {
	messages []message
	err      error
}

func (r *recordingTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, message{topic, qos, retained, payload})
	return nil
}

// TestNewPublisher tests creating a new MQTT publisher
func TestNewPublisher(t *testing.T) {
	config := Config{
		Enabled:     true,
		Broker:      "tcp://localhost:1883",
		TopicPrefix: "kiss/test",
		ClientID:    "test-client",
		QoS:         1,
	}

	pub := New(config, nil)
	if pub == nil {
		t.Fatal("Expected non-nil publisher")
	}

	if pub.config.Broker != config.Broker {
		t.Errorf("Expected broker %s, got %s", config.Broker, pub.config.Broker)
	}
}

func TestPublisher_StartStop(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		pub := New(Config{Enabled: enabled, Broker: "tcp://localhost:1883"}, nil)
		if err := pub.Start(context.Background()); err != nil {
			t.Errorf("enabled=%v: expected no error, got %v", enabled, err)
		}
		pub.Stop()
	}
}

func TestPublisher_DisabledPublishesNothing(t *testing.T) {
	transport := &recordingTransport{}
	pub := New(Config{Enabled: false, TopicPrefix: "kiss/test"}, nil).WithTransport(transport)

	if err := pub.PublishPacket(PacketEvent{Direction: "rx"}); err != nil {
		t.Errorf("Expected no error when disabled, got %v", err)
	}
	pub.Observe(tnc.Event{Type: tnc.EventClientConnect})

	if len(transport.messages) != 0 {
		t.Errorf("Expected nothing published, got %d messages", len(transport.messages))
	}
}

func TestPublisher_ObserveTopics(t *testing.T) {
	transport := &recordingTransport{}
	pub := New(Config{Enabled: true, TopicPrefix: "kiss/nexus/", QoS: 1, Retained: true}, nil).WithTransport(transport)

	now := time.Now()
	pub.Observe(tnc.Event{Type: tnc.EventClientConnect, Remote: "127.0.0.1:9", Time: now})
	pub.Observe(tnc.Event{Type: tnc.EventPacket, Direction: tnc.DirectionRX, Data: []byte{1}, Time: now})
	pub.Observe(tnc.Event{Type: tnc.EventPacket, Direction: tnc.DirectionTX, Data: []byte{2}, Time: now})
	pub.Observe(tnc.Event{Type: tnc.EventDropped, Direction: tnc.DirectionTX, Time: now})
	pub.Observe(tnc.Event{Type: tnc.EventClientDisconnect, Remote: "127.0.0.1:9", Time: now})

	want := []string{
		"kiss/nexus/client/connect",
		"kiss/nexus/packets/rx",
		"kiss/nexus/packets/tx",
		"kiss/nexus/client/disconnect",
	}
	if len(transport.messages) != len(want) {
		t.Fatalf("Expected %d messages, got %d", len(want), len(transport.messages))
	}
	for i, topic := range want {
		m := transport.messages[i]
		if m.topic != topic {
			t.Errorf("message %d: expected topic %s, got %s", i, topic, m.topic)
		}
		if m.qos != 1 || !m.retained {
			t.Errorf("message %d: qos/retained not applied", i)
		}
	}

	var client ClientEvent
	if err := json.Unmarshal(transport.messages[0].payload, &client); err != nil {
		t.Fatalf("Failed to decode client event: %v", err)
	}
	if !client.Connected || client.Remote != "127.0.0.1:9" {
		t.Errorf("Unexpected client event %+v", client)
	}
}

func TestPublisher_TransportError(t *testing.T) {
	transport := &recordingTransport{err: errors.New("broker gone")}
	pub := New(Config{Enabled: true}, nil).WithTransport(transport)

	err := pub.PublishClient(ClientEvent{Connected: true})
	if err == nil {
		t.Fatal("Expected transport error")
	}

	// Observe logs instead of failing
	pub.Observe(tnc.Event{Type: tnc.EventClientConnect})
}

func TestNewPacketEvent(t *testing.T) {
	var frame []byte
	for i, a := range []ax25.Address{{Callsign: "APRS"}, {Callsign: "N0CALL", SSID: 9}} {
		b, err := ax25.EncodeAddress(a, i == 1)
		if err != nil {
			t.Fatalf("EncodeAddress failed: %v", err)
		}
		frame = append(frame, b...)
	}
	frame = append(frame, 0x03, 0xF0, '>')

	ev := NewPacketEvent(tnc.Event{
		Direction: tnc.DirectionRX,
		Data:      frame,
		Segments:  1,
		Signal:    &radio.SignalReport{RSSI: -110.5, SNR: -2.25},
	})

	if ev.Source != "N0CALL-9" || ev.Destination != "APRS" || ev.Header != "N0CALL-9>APRS" {
		t.Errorf("Unexpected addresses: %+v", ev)
	}
	if ev.Length != len(frame) || ev.Direction != "rx" {
		t.Errorf("Unexpected packet event: %+v", ev)
	}
	if ev.RSSI == nil || *ev.RSSI != -110.5 || ev.SNR == nil || *ev.SNR != -2.25 {
		t.Error("Signal report not copied")
	}

	plain := NewPacketEvent(tnc.Event{Direction: tnc.DirectionTX, Data: []byte("hi")})
	if plain.Source != "" || plain.Data != "6869" {
		t.Errorf("Unexpected non-AX.25 event: %+v", plain)
	}
}

// TestTopicFormat tests topic formatting
func TestTopicFormat(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		suffix   string
		expected string
	}{
		{
			name:     "simple topic",
			prefix:   "kiss/nexus",
			suffix:   "packets/rx",
			expected: "kiss/nexus/packets/rx",
		},
		{
			name:     "trailing slash in prefix",
			prefix:   "kiss/nexus/",
			suffix:   "packets/rx",
			expected: "kiss/nexus/packets/rx",
		},
		{
			name:     "empty prefix",
			prefix:   "",
			suffix:   "client/connect",
			expected: "client/connect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := New(Config{TopicPrefix: tt.prefix}, nil)
			topic := pub.formatTopic(tt.suffix)
			if topic != tt.expected {
				t.Errorf("Expected topic %s, got %s", tt.expected, topic)
			}
		})
	}
}
