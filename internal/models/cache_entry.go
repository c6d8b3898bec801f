package models

import (
	"time"
)

// CacheEntry is one persisted key/value pair of the small client cache
type CacheEntry struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Value     string    `json:"value" gorm:"not null"` // JSON document
	UpdatedAt time.Time `json:"updated_at"`
}
