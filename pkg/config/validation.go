package config

import (
	"fmt"
	"strings"

	"github.com/dbehnke/kiss-nexus/pkg/kiss"
)

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate TNC config
	if cfg.TNC.Port <= 0 || cfg.TNC.Port > 65535 {
		return fmt.Errorf("tnc.port must be between 1 and 65535")
	}
	if cfg.TNC.QueueSize <= 0 {
		return fmt.Errorf("tnc.queue_size must be positive")
	}
	if cfg.TNC.ReadBufferSize <= 0 {
		return fmt.Errorf("tnc.read_buffer_size must be positive")
	}
	// A frame carrying one full segment must fit, with every byte escaped
	if minFrame := 2*kiss.MaxFrameLength + 3; cfg.TNC.MaxFrameBytes < minFrame {
		return fmt.Errorf("tnc.max_frame_bytes must be at least %d", minFrame)
	}
	if cfg.TNC.MaxPacketSize < kiss.MaxSegmentSize {
		return fmt.Errorf("tnc.max_packet_size must be at least %d", kiss.MaxSegmentSize)
	}

	// Validate radio config
	switch strings.ToUpper(cfg.Radio.Type) {
	case "LOOPBACK":
	case "SERIAL":
		if cfg.Radio.Device == "" {
			return fmt.Errorf("radio.device is required for SERIAL radio")
		}
		if cfg.Radio.BaudRate <= 0 {
			return fmt.Errorf("radio.baud_rate must be positive")
		}
	default:
		return fmt.Errorf("invalid radio.type %s (must be LOOPBACK or SERIAL)", cfg.Radio.Type)
	}

	// Validate web config
	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
		if cfg.Web.Port == cfg.TNC.Port {
			return fmt.Errorf("web.port and tnc.port must differ")
		}
	}

	// Validate MQTT config
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	// Validate database config
	if cfg.Database.Enabled {
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required when database is enabled")
		}
		if cfg.Database.RetentionDays < 0 {
			return fmt.Errorf("database.retention_days must not be negative")
		}
	}

	// Validate metrics config
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		if cfg.Metrics.Prometheus.Port < 0 || cfg.Metrics.Prometheus.Port > 65535 {
			return fmt.Errorf("metrics.prometheus.port must be between 0 and 65535")
		}
		if !strings.HasPrefix(cfg.Metrics.Prometheus.Path, "/") {
			return fmt.Errorf("metrics.prometheus.path must start with /")
		}
	}

	return nil
}
