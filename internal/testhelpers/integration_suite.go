package testhelpers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/database"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
	"github.com/dbehnke/kiss-nexus/pkg/tnc"
)

// IntegrationSuite runs a bridge on a loopback radio for end-to-end tests
type IntegrationSuite struct {
	T       *testing.T
	Logger  *logger.Logger
	Ctx     context.Context
	Cancel  context.CancelFunc
	Radio   *radio.Loopback
	Server  *tnc.Server
	DB      *database.DB
	Clients []*MockClient

	done chan error
}

// NewIntegrationSuite creates a new integration test suite
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	log := logger.New(logger.Config{
		Level:  "error",
		Format: "text",
	})

	return &IntegrationSuite{
		T:      t,
		Logger: log,
		Ctx:    ctx,
		Cancel: cancel,
	}
}

// DefaultConfig returns a bridge configuration listening on a free port
func DefaultConfig() tnc.Config {
	return tnc.Config{
		Host:          "127.0.0.1",
		Port:          0,
		QueueSize:     16,
		MaxFrameBytes: 4096,
		MaxPacketSize: 4096,
	}
}

// StartBridge starts a bridge whose radio echoes everything it transmits
func (s *IntegrationSuite) StartBridge(cfg tnc.Config, echo bool, observers ...tnc.Observer) *tnc.Server {
	s.Radio = radio.NewLoopback(16, echo)
	s.Server = tnc.NewServer(cfg, s.Radio, s.Logger)
	for _, o := range observers {
		s.Server.AddObserver(o)
	}

	s.done = make(chan error, 1)
	go func() {
		s.done <- s.Server.Start(s.Ctx)
	}()

	if err := s.Server.WaitStarted(s.Ctx); err != nil {
		s.T.Fatalf("bridge failed to start: %v", err)
	}
	return s.Server
}

// OpenDatabase opens a scratch packet log
func (s *IntegrationSuite) OpenDatabase() *database.DB {
	db, err := database.NewDB(database.Config{Path: filepath.Join(s.T.TempDir(), "kiss.db")}, s.Logger)
	if err != nil {
		s.T.Fatalf("failed to open database: %v", err)
	}
	s.DB = db
	return db
}

// ConnectClient connects a new mock client to the running bridge
func (s *IntegrationSuite) ConnectClient() *MockClient {
	addr, err := s.Server.Addr()
	if err != nil {
		s.T.Fatalf("bridge has no address: %v", err)
	}

	client := NewMockClient(s.Logger)
	if err := client.Connect(addr.String()); err != nil {
		s.T.Fatalf("client failed to connect: %v", err)
	}
	s.Clients = append(s.Clients, client)

	if !s.WaitFor(func() bool { return s.Server.Client() != "" }, 2*time.Second, "client registration") {
		s.T.Fatal("bridge never registered the client")
	}
	return client
}

// Cleanup cleans up resources
func (s *IntegrationSuite) Cleanup() {
	for _, c := range s.Clients {
		_ = c.Close()
	}

	s.Cancel()
	if s.done != nil {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			s.T.Errorf("bridge did not stop")
		}
	}
	if s.Radio != nil {
		_ = s.Radio.Close()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

// WaitFor waits for a condition to be true
func (s *IntegrationSuite) WaitFor(condition func() bool, timeout time.Duration, message string) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.T.Logf("WaitFor timeout: %s", message)
	return false
}

// AssertEventually asserts that a condition becomes true within timeout
func (s *IntegrationSuite) AssertEventually(condition func() bool, timeout time.Duration, message string) {
	if !s.WaitFor(condition, timeout, message) {
		s.T.Errorf("Assertion failed: %s", message)
	}
}
