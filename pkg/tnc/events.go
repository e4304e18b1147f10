package tnc

import (
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/radio"
)

// EventType identifies what happened on the bridge
type EventType string

const (
	EventPacket           EventType = "packet"            // A packet crossed the bridge
	EventDropped          EventType = "dropped"           // A frame or packet was discarded
	EventClientConnect    EventType = "client_connect"    // A KISS client connected
	EventClientDisconnect EventType = "client_disconnect" // The KISS client went away
)

// Direction is relative to the radio
type Direction string

const (
	DirectionRX Direction = "rx" // Heard on the radio, sent to the client
	DirectionTX Direction = "tx" // Received from the client, sent to the radio
)

// Event describes one bridge occurrence for observers
type Event struct {
	Type      EventType
	Direction Direction
	Remote    string
	Data      []byte // Raw packet (not framed)
	Segments  int    // Segments the packet travelled in
	Signal    *radio.SignalReport
	Err       error
	Time      time.Time
}

// Observer receives bridge events. Observe is called synchronously from the
// bridge goroutines and must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ev Event)

// Observe implements Observer
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}
