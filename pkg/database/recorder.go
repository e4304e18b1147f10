package database

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/ax25"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/tnc"
)

const recorderQueueSize = 256

// Recorder persists packets crossing the bridge. It is a tnc.Observer; writes
// happen on the Run goroutine so the bridge never waits for sqlite.
type Recorder struct {
	packets  *PacketRepository
	stations *StationRepository
	log      *logger.Logger
	queue    chan tnc.Event
}

// NewRecorder creates a recorder writing to db
func NewRecorder(db *DB, log *logger.Logger) *Recorder {
	return &Recorder{
		packets:  NewPacketRepository(db.GetDB()),
		stations: NewStationRepository(db.GetDB()),
		log:      log.WithComponent("database.recorder"),
		queue:    make(chan tnc.Event, recorderQueueSize),
	}
}

// Observe implements tnc.Observer
func (r *Recorder) Observe(ev tnc.Event) {
	if ev.Type != tnc.EventPacket {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.log.Warn("Recorder queue full, packet not stored",
			logger.String("direction", string(ev.Direction)),
			logger.Int("len", len(ev.Data)))
	}
}

// Run drains queued events into the database until ctx is canceled
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			if err := r.store(ev); err != nil {
				r.log.Error("Failed to store packet", logger.Error(err))
			}
		}
	}
}

// Prune deletes packets older than retention on every tick until ctx is canceled
func (r *Recorder) Prune(ctx context.Context, retention, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := r.packets.DeleteOlderThan(time.Now().Add(-retention))
			if err != nil {
				r.log.Error("Failed to prune packet log", logger.Error(err))
				continue
			}
			if deleted > 0 {
				r.log.Info("Pruned packet log", logger.Int64("deleted", deleted))
			}
		}
	}
}

func (r *Recorder) store(ev tnc.Event) error {
	rec := NewPacketRecord(ev)
	if err := r.packets.Create(rec); err != nil {
		return err
	}
	if ev.Direction != tnc.DirectionRX || rec.Source == "" {
		return nil
	}
	return r.stations.Heard(rec.Source, rec.Path, rec.RSSI, rec.CreatedAt)
}

// NewPacketRecord builds the stored form of a packet event. Packets that are
// not AX.25 are stored without addresses.
func NewPacketRecord(ev tnc.Event) *PacketRecord {
	rec := &PacketRecord{
		Direction: string(ev.Direction),
		Length:    len(ev.Data),
		Segments:  ev.Segments,
		Data:      hex.EncodeToString(ev.Data),
		Remote:    ev.Remote,
		CreatedAt: ev.Time,
	}
	if ev.Signal != nil {
		rssi, snr := ev.Signal.RSSI, ev.Signal.SNR
		rec.RSSI = &rssi
		rec.SNR = &snr
	}
	if h, err := ax25.ParseHeader(ev.Data); err == nil {
		rec.Source = h.Source.String()
		rec.Destination = h.Destination.String()
		path := make([]string, 0, len(h.Path))
		for _, a := range h.Path {
			path = append(path, a.String())
		}
		rec.Path = strings.Join(path, ",")
	}
	return rec
}
