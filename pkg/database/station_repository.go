package database

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StationRepository maintains the heard list
type StationRepository struct {
	db *gorm.DB
}

// NewStationRepository creates a new station repository
func NewStationRepository(db *gorm.DB) *StationRepository {
	return &StationRepository{db: db}
}

// Heard records a packet from callsign, creating the station on first sight
func (r *StationRepository) Heard(callsign, path string, rssi *float64, at time.Time) error {
	station := Station{
		Callsign:    callsign,
		LastPath:    path,
		LastRSSI:    rssi,
		PacketCount: 1,
		FirstHeard:  at,
		LastHeard:   at,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "callsign"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_path":    path,
			"last_rssi":    rssi,
			"last_heard":   at,
			"packet_count": gorm.Expr("packet_count + 1"),
		}),
	}).Create(&station).Error
}

// GetByCallsign retrieves a station by its callsign
func (r *StationRepository) GetByCallsign(callsign string) (*Station, error) {
	var station Station
	err := r.db.Where("callsign = ?", callsign).First(&station).Error
	if err != nil {
		return nil, err
	}
	return &station, nil
}

// GetRecent returns the most recently heard stations
func (r *StationRepository) GetRecent(limit int) ([]Station, error) {
	var stations []Station
	err := r.db.Order("last_heard DESC").Limit(limit).Find(&stations).Error
	return stations, err
}

// Count returns the total number of stations heard
func (r *StationRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&Station{}).Count(&count).Error
	return count, err
}

// DeleteAll clears the heard list
func (r *StationRepository) DeleteAll() error {
	return r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Station{}).Error
}
