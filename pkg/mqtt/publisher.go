package mqtt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/ax25"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/tnc"
)

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retained    bool
}

// Transport delivers a serialized message to the broker
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Publisher handles MQTT event publishing
type Publisher struct {
	config    Config
	log       *logger.Logger
	transport Transport
}

// PacketEvent is published for every packet that crossed the bridge
type PacketEvent struct {
	Direction   string    `json:"direction"`
	Length      int       `json:"length"`
	Segments    int       `json:"segments"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Header      string    `json:"header,omitempty"`
	Data        string    `json:"data"`
	RSSI        *float64  `json:"rssi,omitempty"`
	SNR         *float64  `json:"snr,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ClientEvent is published when the KISS client connects or disconnects
type ClientEvent struct {
	Remote    string    `json:"remote"`
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a new MQTT publisher
func New(config Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &Publisher{
		config: config,
		log:    log.WithComponent("mqtt"),
	}
}

// WithTransport sets the broker transport
func (p *Publisher) WithTransport(t Transport) *Publisher {
	p.transport = t
	return p
}

// Start starts the MQTT publisher
func (p *Publisher) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher disabled")
		return nil
	}

	p.log.Info("Starting MQTT publisher",
		logger.String("broker", p.config.Broker),
		logger.String("client_id", p.config.ClientID))

	if p.transport == nil {
		// TODO: dial p.config.Broker once an MQTT client library is added to go.mod
		p.log.Warn("No MQTT transport configured - events will be logged only")
	}

	return nil
}

// Stop stops the MQTT publisher
func (p *Publisher) Stop() {
	if !p.config.Enabled {
		return
	}

	p.log.Info("Stopping MQTT publisher")
}

// Observe implements tnc.Observer
func (p *Publisher) Observe(ev tnc.Event) {
	if !p.config.Enabled {
		return
	}

	var err error
	switch ev.Type {
	case tnc.EventPacket:
		err = p.PublishPacket(NewPacketEvent(ev))
	case tnc.EventClientConnect, tnc.EventClientDisconnect:
		err = p.PublishClient(ClientEvent{
			Remote:    ev.Remote,
			Connected: ev.Type == tnc.EventClientConnect,
			Timestamp: ev.Time,
		})
	}
	if err != nil {
		p.log.Warn("Failed to publish event",
			logger.String("event", string(ev.Type)),
			logger.Error(err))
	}
}

// PublishPacket publishes to <prefix>/packets/rx or <prefix>/packets/tx
func (p *Publisher) PublishPacket(event PacketEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("packets/" + event.Direction)
	return p.publish(topic, event)
}

// PublishClient publishes to <prefix>/client/connect or <prefix>/client/disconnect
func (p *Publisher) PublishClient(event ClientEvent) error {
	if !p.config.Enabled {
		return nil
	}

	suffix := "client/disconnect"
	if event.Connected {
		suffix = "client/connect"
	}
	return p.publish(p.formatTopic(suffix), event)
}

// NewPacketEvent converts a bridge event into its published form
func NewPacketEvent(ev tnc.Event) PacketEvent {
	out := PacketEvent{
		Direction: string(ev.Direction),
		Length:    len(ev.Data),
		Segments:  ev.Segments,
		Data:      hex.EncodeToString(ev.Data),
		Timestamp: ev.Time,
	}
	if ev.Signal != nil {
		rssi, snr := ev.Signal.RSSI, ev.Signal.SNR
		out.RSSI = &rssi
		out.SNR = &snr
	}
	if hdr, err := ax25.ParseHeader(ev.Data); err == nil {
		out.Source = hdr.Source.String()
		out.Destination = hdr.Destination.String()
		out.Header = hdr.String()
	}
	return out
}

// publish publishes an event to a topic
func (p *Publisher) publish(topic string, event interface{}) error {
	payload, err := p.serializeEvent(event)
	if err != nil {
		p.log.Error("Failed to serialize event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}

	if p.transport == nil {
		p.log.Debug("Would publish MQTT event",
			logger.String("topic", topic),
			logger.Int("payload_size", len(payload)))
		return nil
	}

	if err := p.transport.Publish(topic, p.config.QoS, p.config.Retained, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// serializeEvent serializes an event to JSON
func (p *Publisher) serializeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}

// formatTopic formats a topic with the configured prefix
func (p *Publisher) formatTopic(suffix string) string {
	prefix := strings.TrimSuffix(p.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}
