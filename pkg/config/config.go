package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	TNC      TNCConfig      `mapstructure:"tnc"`
	Radio    RadioConfig    `mapstructure:"radio"`
	Web      WebConfig      `mapstructure:"web"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds server identification
type ServerConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// TNCConfig holds the KISS TCP server configuration
type TNCConfig struct {
	// Host and port as configured in the KISS client (aprx <interface> section)
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	QueueSize       int  `mapstructure:"queue_size"`       // Radio -> client packets waiting for the writer
	ReadBufferSize  int  `mapstructure:"read_buffer_size"` // Bytes per socket read
	MaxFrameBytes   int  `mapstructure:"max_frame_bytes"`  // Unterminated frame limit in the parser
	MaxPacketSize   int  `mapstructure:"max_packet_size"`  // Reassembled packet limit
	// TagSingle prefixes packets that fit in one segment with '1'. A 200-byte
	// packet then goes out as a 201-byte lone final segment, which a peer
	// reassembling by the same rules drops. Set false to send them untagged.
	TagSingle       bool `mapstructure:"tag_single"`
	UnescapeInbound bool `mapstructure:"unescape_inbound"` // Unescape client frames before the radio
}

// RadioConfig selects and configures the radio link
type RadioConfig struct {
	Type     string `mapstructure:"type"` // LOOPBACK or SERIAL
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	Echo     bool   `mapstructure:"echo"` // LOOPBACK: hear our own transmissions
}

// WebConfig holds web dashboard configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MQTTConfig holds MQTT client configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         byte   `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

// DatabaseConfig holds the packet log database configuration
type DatabaseConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Set defaults
	setDefaults()

	// Set config file
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/kiss-nexus")
	}

	// Environment variables
	viper.SetEnvPrefix("KISS")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal to struct
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.name", "KISS-Nexus")
	viper.SetDefault("server.description", "LoRa KISS TNC")

	// TNC defaults
	viper.SetDefault("tnc.host", "0.0.0.0")
	viper.SetDefault("tnc.port", 10001)
	viper.SetDefault("tnc.queue_size", 64)
	viper.SetDefault("tnc.read_buffer_size", 1024)
	viper.SetDefault("tnc.max_frame_bytes", 4096)
	viper.SetDefault("tnc.max_packet_size", 4096)
	viper.SetDefault("tnc.tag_single", true)
	viper.SetDefault("tnc.unescape_inbound", false)

	// Radio defaults
	viper.SetDefault("radio.type", "LOOPBACK")
	viper.SetDefault("radio.baud_rate", 115200)
	viper.SetDefault("radio.echo", false)

	// Web defaults
	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.host", "0.0.0.0")
	viper.SetDefault("web.port", 8080)

	// MQTT defaults
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.topic_prefix", "kiss/nexus")
	viper.SetDefault("mqtt.client_id", "kiss-nexus")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retained", false)

	// Database defaults
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.path", "kiss-nexus.db")
	viper.SetDefault("database.retention_days", 7)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.port", 9090)
	viper.SetDefault("metrics.prometheus.path", "/metrics")
}
