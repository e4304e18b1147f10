package main

import (
	"testing"

	"github.com/dbehnke/kiss-nexus/pkg/config"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
)

func TestOpenRadio(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	link, err := openRadio(config.RadioConfig{Type: "loopback", Echo: true}, log)
	if err != nil {
		t.Fatalf("openRadio(loopback) returned error: %v", err)
	}
	if _, ok := link.(*radio.Loopback); !ok {
		t.Errorf("Expected *radio.Loopback, got %T", link)
	}
	_ = link.Close()

	if _, err := openRadio(config.RadioConfig{Type: "SERIAL", Device: "/dev/does-not-exist", BaudRate: 9600}, log); err == nil {
		t.Error("Expected error opening a missing serial device")
	}

	if _, err := openRadio(config.RadioConfig{Type: "SDR"}, log); err == nil {
		t.Error("Expected error for unknown radio type")
	}
}
