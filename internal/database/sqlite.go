package database

import (
	"log"

	"github.com/codyseavey/zec-tracker/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Initialize(dbPath string) error {
	db, err := Open(dbPath)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open connects to the sqlite file at dbPath and migrates the schema.
// Tests use it directly with a temp path instead of the package global.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	log.Println("Database connected successfully")

	if err := cleanupDuplicateSnapshots(db); err != nil {
		log.Printf("Warning: failed to clean duplicate snapshots: %v", err)
	}

	// Auto-migrate the schema
	err = db.AutoMigrate(&models.CacheEntry{}, &models.ShieldedSupplySnapshot{})
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")
	return db, nil
}

func GetDB() *gorm.DB {
	return DB
}
