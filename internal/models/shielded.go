package models

import (
	"time"
)

// ShieldedSupplySnapshot is the per-block value held in each shielded pool, in ZEC
type ShieldedSupplySnapshot struct {
	ID          uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	BlockHeight int64     `json:"block_height" gorm:"uniqueIndex;not null"`
	BlockTime   time.Time `json:"block_time" gorm:"index;not null"`
	Sprout      float64   `json:"sprout"`
	Sapling     float64   `json:"sapling"`
	Orchard     float64   `json:"orchard"`
	Total       float64   `json:"total"`
	CreatedAt   time.Time `json:"-"`
}

// Point projects the snapshot onto a chart point
func (s ShieldedSupplySnapshot) Point() PricePoint {
	return PricePoint{Timestamp: s.BlockTime, Value: s.Total}
}
