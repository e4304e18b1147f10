package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/logger"
)

// PrometheusConfig holds Prometheus server configuration
type PrometheusConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// PrometheusHandler handles Prometheus metrics HTTP requests
type PrometheusHandler struct {
	collector *Collector
}

// NewPrometheusHandler creates a new Prometheus handler
func NewPrometheusHandler(collector *Collector) *PrometheusHandler {
	return &PrometheusHandler{
		collector: collector,
	}
}

// ServeHTTP handles HTTP requests for metrics
func (h *PrometheusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	snap := h.collector.Snapshot()
	var output strings.Builder

	connected := 0
	if snap.ClientConnected {
		connected = 1
	}

	writeMetric(&output, "kiss_connections_total", "counter", "Total number of KISS client connections", snap.TotalConnections)
	writeMetric(&output, "kiss_client_connected", "gauge", "Whether a KISS client is connected", connected)

	// Network side
	writeMetric(&output, "kiss_frames_received_total", "counter", "Total KISS frames received from the client", snap.FramesReceived)
	writeMetric(&output, "kiss_frames_sent_total", "counter", "Total KISS frames sent to the client", snap.FramesSent)
	writeMetric(&output, "kiss_bytes_received_total", "counter", "Total frame bytes received from the client", snap.BytesReceived)
	writeMetric(&output, "kiss_bytes_sent_total", "counter", "Total frame bytes sent to the client", snap.BytesSent)

	// Radio side
	writeMetric(&output, "kiss_radio_packets_tx_total", "counter", "Total packets handed to the radio", snap.PacketsToRadio)
	writeMetric(&output, "kiss_radio_packets_rx_total", "counter", "Total packets heard on the radio", snap.PacketsFromRadio)
	writeMetric(&output, "kiss_radio_packets_dropped_total", "counter", "Radio packets dropped with no client connected", snap.PacketsDropped)

	// Segmentation
	writeMetric(&output, "kiss_segments_sent_total", "counter", "Total segments sent to the client", snap.SegmentsSent)
	writeMetric(&output, "kiss_packets_reassembled_total", "counter", "Total multi-segment packets reassembled", snap.PacketsReassembled)
	writeMetric(&output, "kiss_reassembly_pending_segments", "gauge", "Segments waiting for their final segment", snap.ReassemblyPending)

	// Errors
	output.WriteString("# HELP kiss_frame_errors_total Frames dropped by error kind\n")
	output.WriteString("# TYPE kiss_frame_errors_total counter\n")
	kinds := make([]string, 0, len(snap.Errors))
	for kind := range snap.Errors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		output.WriteString(fmt.Sprintf("kiss_frame_errors_total{kind=%q} %d\n", kind, snap.Errors[kind]))
	}

	w.Write([]byte(output.String()))
}

func writeMetric(b *strings.Builder, name, kind, help string, value interface{}) {
	b.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	b.WriteString(fmt.Sprintf("# TYPE %s %s\n", name, kind))
	b.WriteString(fmt.Sprintf("%s %v\n", name, value))
}

// PrometheusServer is an HTTP server for Prometheus metrics
type PrometheusServer struct {
	config    PrometheusConfig
	collector *Collector
	log       *logger.Logger
	server    *http.Server
}

// NewPrometheusServer creates a new Prometheus metrics server
func NewPrometheusServer(config PrometheusConfig, collector *Collector, log *logger.Logger) *PrometheusServer {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &PrometheusServer{
		config:    config,
		collector: collector,
		log:       log.WithComponent("metrics"),
	}
}

// Start starts the Prometheus metrics server
func (s *PrometheusServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("Prometheus metrics server disabled")
		return nil
	}

	handler := NewPrometheusHandler(s.collector)
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, handler)

	// Use a listener to get the actual port (useful for testing with port 0)
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	s.server = &http.Server{
		Handler: mux,
	}

	s.log.Info("Starting Prometheus metrics server",
		logger.Int("port", actualPort),
		logger.String("path", s.config.Path))

	// Start server
	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.log.Info("Shutting down Prometheus metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown error: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Stop stops the Prometheus metrics server
func (s *PrometheusServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}
