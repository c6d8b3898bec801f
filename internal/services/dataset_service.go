package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/codyseavey/zec-tracker/internal/zcash"
)

// DatasetService keeps the static shielded supply dataset current by merging one
// live snapshot per UTC day into the file served at /data
type DatasetService struct {
	path          string
	node          SnapshotSource
	updateHour    int // UTC hour of day from which today's entry is written (0-23)
	checkInterval time.Duration
	now           func() time.Time

	mu          sync.Mutex
	lastUpdated time.Time
}

func NewDatasetService(path string, node SnapshotSource, updateHour int) *DatasetService {
	if updateHour < 0 || updateHour > 23 {
		updateHour = 0
	}
	return &DatasetService{
		path:          path,
		node:          node,
		updateHour:    updateHour,
		checkInterval: 15 * time.Minute,
		now:           time.Now,
	}
}

// Start begins the background update worker
func (s *DatasetService) Start(ctx context.Context) {
	log.Printf("Dataset service started: will merge a daily entry into %s", s.path)

	// Catch up on startup if today's entry is missing
	s.checkAndUpdate(ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Dataset service stopping...")
			return
		case <-ticker.C:
			s.checkAndUpdate(ctx)
		}
	}
}

func (s *DatasetService) checkAndUpdate(ctx context.Context) {
	now := s.now().UTC()
	if now.Hour() < s.updateHour {
		return
	}

	d, err := zcash.LoadDataset(s.path)
	if err != nil {
		log.Printf("Dataset service: failed to load %s: %v", s.path, err)
		return
	}
	if n := len(d.Data); n > 0 && time.Unix(d.Data[n-1].T, 0).UTC().Format("2006-01-02") == now.Format("2006-01-02") {
		return
	}

	if _, err := s.merge(ctx, d); err != nil {
		log.Printf("Dataset service: failed to update: %v", err)
	}
}

// Update merges the current tip into the dataset regardless of timing
func (s *DatasetService) Update(ctx context.Context) (zcash.Entry, error) {
	d, err := zcash.LoadDataset(s.path)
	if err != nil {
		return zcash.Entry{}, err
	}
	return s.merge(ctx, d)
}

func (s *DatasetService) merge(ctx context.Context, d *zcash.Dataset) (zcash.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.node.LatestSnapshot(ctx)
	if err != nil {
		return zcash.Entry{}, fmt.Errorf("failed to fetch latest snapshot: %w", err)
	}
	if snap == nil {
		return zcash.Entry{}, errors.New("node returned no snapshot")
	}

	e := zcash.EntryFromSnapshot(*snap)
	appended := d.MergeDaily(e, s.now())
	if err := d.Save(s.path); err != nil {
		return zcash.Entry{}, fmt.Errorf("failed to save dataset: %w", err)
	}

	s.lastUpdated = s.now()
	action := "updated"
	if appended {
		action = "appended"
	}
	log.Printf("Dataset service: %s entry for block %d (total %.2f ZEC, %d entries)", action, e.H, e.V, len(d.Data))
	return e, nil
}

// LastUpdated returns when this process last wrote the dataset
func (s *DatasetService) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}
