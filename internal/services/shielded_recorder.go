package services

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/zec-tracker/internal/models"
)

const (
	defaultRetention = 7 * 24 * time.Hour
	pruneInterval    = time.Hour
)

// ShieldedRecorder keeps the live snapshots seen by the supply poll so the one day
// supply view has fine-grained data the daily dataset lacks.
type ShieldedRecorder struct {
	db        *gorm.DB
	retention time.Duration

	mu         sync.Mutex
	lastPruned time.Time
}

func NewShieldedRecorder(db *gorm.DB) *ShieldedRecorder {
	return &ShieldedRecorder{
		db:        db,
		retention: defaultRetention,
	}
}

// Record stores a snapshot, replacing any earlier row for the same height
func (r *ShieldedRecorder) Record(snap *models.ShieldedSupplySnapshot) error {
	if snap == nil {
		return nil
	}
	row := *snap
	row.ID = 0
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "block_height"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_time", "sprout", "sapling", "orchard", "total"}),
	}).Create(&row)
	if result.Error != nil {
		return result.Error
	}

	r.mu.Lock()
	due := time.Since(r.lastPruned) >= pruneInterval
	if due {
		r.lastPruned = time.Now()
	}
	r.mu.Unlock()
	if due {
		r.prune()
	}
	return nil
}

func (r *ShieldedRecorder) prune() {
	cutoff := time.Now().UTC().Add(-r.retention)
	result := r.db.Where("block_time < ?", cutoff).Delete(&models.ShieldedSupplySnapshot{})
	if result.Error != nil {
		log.Printf("Shielded recorder: failed to prune: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("Shielded recorder: pruned %d snapshots older than %s", result.RowsAffected, cutoff.Format(time.RFC3339))
	}
}

// History returns snapshots within window of now, oldest first
func (r *ShieldedRecorder) History(window time.Duration) ([]models.ShieldedSupplySnapshot, error) {
	var snapshots []models.ShieldedSupplySnapshot
	query := r.db.Order("block_height ASC")
	if window > 0 {
		query = query.Where("block_time >= ?", time.Now().UTC().Add(-window))
	}
	if err := query.Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Series projects History onto chart points
func (r *ShieldedRecorder) Series(window time.Duration) (models.Series, error) {
	snapshots, err := r.History(window)
	if err != nil {
		return nil, err
	}
	series := make(models.Series, 0, len(snapshots))
	for _, s := range snapshots {
		series = append(series, s.Point())
	}
	return series, nil
}

// Latest returns the highest recorded snapshot, nil when none
func (r *ShieldedRecorder) Latest() *models.ShieldedSupplySnapshot {
	var snap models.ShieldedSupplySnapshot
	if err := r.db.Order("block_height DESC").First(&snap).Error; err != nil {
		return nil
	}
	return &snap
}
