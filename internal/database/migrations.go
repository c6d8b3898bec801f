package database

import (
	"log"

	"gorm.io/gorm"
)

// cleanupDuplicateSnapshots removes duplicate block heights before the unique index is added.
// Older databases recorded every poll, including repeated polls of the same tip.
func cleanupDuplicateSnapshots(db *gorm.DB) error {
	if !db.Migrator().HasTable("shielded_supply_snapshots") {
		return nil
	}

	// Keep the most recently recorded row for each height
	result := db.Exec(`
		DELETE FROM shielded_supply_snapshots
		WHERE id NOT IN (
			SELECT MAX(id)
			FROM shielded_supply_snapshots
			GROUP BY block_height
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d duplicate shielded snapshot rows", result.RowsAffected)
	}
	return nil
}

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	return backfillSnapshotTotals(db)
}

// backfillSnapshotTotals fills total for rows written before the total column existed.
// Safe to run repeatedly: only rows with a zero total and non-zero pools are touched.
func backfillSnapshotTotals(db *gorm.DB) error {
	result := db.Exec(`
		UPDATE shielded_supply_snapshots
		SET total = sprout + sapling + orchard
		WHERE total = 0 AND (sprout + sapling + orchard) > 0
	`)
	if result.Error != nil {
		log.Printf("Warning: failed to backfill snapshot totals: %v", result.Error)
		return nil
	}
	if result.RowsAffected > 0 {
		log.Printf("Backfilled totals for %d shielded snapshots", result.RowsAffected)
	}
	return nil
}
