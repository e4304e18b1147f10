package database

import (
	"time"

	"gorm.io/gorm"
)

// PacketRepository handles packet log database operations
type PacketRepository struct {
	db *gorm.DB
}

// NewPacketRepository creates a new packet repository
func NewPacketRepository(db *gorm.DB) *PacketRepository {
	return &PacketRepository{db: db}
}

// Create adds a new packet record
func (r *PacketRepository) Create(p *PacketRecord) error {
	return r.db.Create(p).Error
}

// GetRecent retrieves the most recent N packets
func (r *PacketRepository) GetRecent(limit int) ([]PacketRecord, error) {
	var packets []PacketRecord
	err := r.db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&packets).Error
	return packets, err
}

// GetRecentPaginated retrieves packets with pagination
func (r *PacketRepository) GetRecentPaginated(page, perPage int) ([]PacketRecord, int64, error) {
	var packets []PacketRecord
	var total int64

	if err := r.db.Model(&PacketRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	err := r.db.Order("created_at DESC").Order("id DESC").
		Offset(offset).
		Limit(perPage).
		Find(&packets).Error

	return packets, total, err
}

// CountByDirection returns the number of stored packets per direction
func (r *PacketRepository) CountByDirection() (map[string]int64, error) {
	var rows []struct {
		Direction string
		Count     int64
	}
	err := r.db.Model(&PacketRecord{}).
		Select("direction, COUNT(*) AS count").
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Direction] = row.Count
	}
	return counts, nil
}

// DeleteOlderThan deletes packets recorded before the specified time
func (r *PacketRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", before).Delete(&PacketRecord{})
	return result.RowsAffected, result.Error
}
