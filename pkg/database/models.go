package database

import (
	"time"

	"gorm.io/gorm"
)

// PacketRecord is one packet that crossed the bridge
type PacketRecord struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Direction   string    `gorm:"index;size:2;not null" json:"direction"` // "rx" or "tx"
	Length      int       `gorm:"not null" json:"length"`
	Source      string    `gorm:"index;size:12" json:"source,omitempty"`
	Destination string    `gorm:"size:12" json:"destination,omitempty"`
	Path        string    `gorm:"size:100" json:"path,omitempty"`
	Segments    int       `gorm:"default:1" json:"segments"`
	Data        string    `gorm:"type:text" json:"data"` // hex
	RSSI        *float64  `json:"rssi,omitempty"`
	SNR         *float64  `json:"snr,omitempty"`
	Remote      string    `gorm:"size:64" json:"remote,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for PacketRecord
func (PacketRecord) TableName() string {
	return "packets"
}

// BeforeCreate hook to ensure CreatedAt is set
func (p *PacketRecord) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Segments == 0 {
		p.Segments = 1
	}
	return nil
}

// Station is an entry in the heard list, keyed by the AX.25 source address
type Station struct {
	Callsign    string    `gorm:"primarykey;size:12" json:"callsign"`
	LastPath    string    `gorm:"size:100" json:"last_path,omitempty"`
	LastRSSI    *float64  `json:"last_rssi,omitempty"`
	PacketCount int64     `gorm:"default:0" json:"packet_count"`
	FirstHeard  time.Time `json:"first_heard"`
	LastHeard   time.Time `gorm:"index" json:"last_heard"`
}

// TableName specifies the table name for Station
func (Station) TableName() string {
	return "stations"
}

// Via returns the digipeater path, or "direct"
func (s *Station) Via() string {
	if s.LastPath == "" {
		return "direct"
	}
	return s.LastPath
}
