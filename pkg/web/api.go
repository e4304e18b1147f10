package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/database"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StatusSource reports the live state of the bridge
type StatusSource interface {
	Client() string
	Metrics() *metrics.Collector
}

// PacketSource lists recorded packets
type PacketSource interface {
	GetRecent(limit int) ([]database.PacketRecord, error)
}

// StationSource lists the heard list
type StationSource interface {
	GetRecent(limit int) ([]database.Station, error)
}

// API handles REST API endpoints
type API struct {
	logger   *logger.Logger
	status   StatusSource
	packets  PacketSource
	stations StationSource
	started  time.Time
}

// NewAPI creates a new API instance
func NewAPI(log *logger.Logger) *API {
	return &API{
		logger:  log,
		started: time.Now(),
	}
}

// HandleStatus handles the /api/status endpoint
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	version, commit, buildTime := GetVersionInfo()
	response := map[string]interface{}{
		"status":     "running",
		"service":    "kiss-nexus",
		"version":    version,
		"commit":     commit,
		"build_time": buildTime,
		"uptime":     int64(time.Since(a.started).Seconds()),
	}
	if a.status != nil {
		response["client"] = a.status.Client()
		response["metrics"] = a.status.Metrics().Snapshot()
	}

	a.writeJSON(w, response)
}

// HandlePackets handles the /api/packets endpoint
func (a *API) HandlePackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Without a database the packet log is simply empty
	if a.packets == nil {
		a.writeJSON(w, []database.PacketRecord{})
		return
	}

	packets, err := a.packets.GetRecent(listLimit(r))
	if err != nil {
		a.logger.Error("Failed to load packets", logger.Error(err))
		http.Error(w, "Failed to load packets", http.StatusInternalServerError)
		return
	}
	if packets == nil {
		packets = []database.PacketRecord{}
	}
	a.writeJSON(w, packets)
}

// HandleStations handles the /api/stations endpoint
func (a *API) HandleStations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.stations == nil {
		a.writeJSON(w, []database.Station{})
		return
	}

	stations, err := a.stations.GetRecent(listLimit(r))
	if err != nil {
		a.logger.Error("Failed to load stations", logger.Error(err))
		http.Error(w, "Failed to load stations", http.StatusInternalServerError)
		return
	}
	if stations == nil {
		stations = []database.Station{}
	}
	a.writeJSON(w, stations)
}

func (a *API) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to encode response", logger.Error(err))
	}
}

// listLimit reads ?limit= clamped to [1, maxListLimit]
func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
