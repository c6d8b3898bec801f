package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/codyseavey/zec-tracker/internal/database"
	"github.com/codyseavey/zec-tracker/internal/models"
)

type stubNode struct {
	snap *models.ShieldedSupplySnapshot
	err  error
}

func (s stubNode) LatestSnapshot(ctx context.Context) (*models.ShieldedSupplySnapshot, error) {
	return s.snap, s.err
}

func TestShieldedService_FetchShieldedSupplySeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"startBlock":1,"endBlock":1000,"sampleInterval":576,"dataPoints":2},
			"data":[{"t":1600000000,"h":1,"sp":0,"sa":10,"or":0,"v":10},{"t":1600086400,"h":577,"sp":0,"sa":12.5,"or":0,"v":12.5}]}`))
	}))
	defer server.Close()

	svc := NewShieldedService(server.URL, "", nil)
	series := svc.FetchShieldedSupplySeries(context.Background())
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	if series[1].Value != 12.5 || !series[1].Timestamp.Equal(time.Unix(1600086400, 0)) {
		t.Errorf("unexpected point: %+v", series[1])
	}
}

func TestShieldedService_FetchShieldedSupplySeries_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	svc := NewShieldedService(server.URL, server.URL, nil)
	if series := svc.FetchShieldedSupplySeries(context.Background()); series != nil {
		t.Errorf("expected nil, got %+v", series)
	}
	if series := svc.FetchShieldedSupplyHourly(context.Background()); series != nil {
		t.Errorf("expected nil hourly, got %+v", series)
	}
}

func TestShieldedService_FetchShieldedSupplyHourly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"t":"2025-01-01T00:00:00Z","v":4800000},{"t":"2025-01-01T01:00:00Z","v":4800050}]}`))
	}))
	defer server.Close()

	svc := NewShieldedService("", server.URL, nil)
	series := svc.FetchShieldedSupplyHourly(context.Background())
	if len(series) != 2 || series[1].Value != 4800050 {
		t.Errorf("unexpected hourly series: %+v", series)
	}
}

func TestShieldedService_FetchLiveShieldedSnapshot(t *testing.T) {
	t.Run("returns snapshot", func(t *testing.T) {
		want := &models.ShieldedSupplySnapshot{BlockHeight: 2700000, Total: 5000000}
		svc := NewShieldedService("", "", stubNode{snap: want})
		if got := svc.FetchLiveShieldedSnapshot(context.Background()); got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("nil on node failure", func(t *testing.T) {
		svc := NewShieldedService("", "", stubNode{err: errors.New("getblock failed")})
		if got := svc.FetchLiveShieldedSnapshot(context.Background()); got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("nil without node", func(t *testing.T) {
		svc := NewShieldedService("", "", nil)
		if got := svc.FetchLiveShieldedSnapshot(context.Background()); got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})
}

func TestShieldedRecorder(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	rec := NewShieldedRecorder(db)
	now := time.Now().UTC()

	snaps := []models.ShieldedSupplySnapshot{
		{BlockHeight: 100, BlockTime: now.Add(-10 * 24 * time.Hour), Sapling: 1, Total: 1},
		{BlockHeight: 200, BlockTime: now.Add(-2 * time.Hour), Sapling: 2, Total: 2},
		{BlockHeight: 300, BlockTime: now.Add(-time.Hour), Sapling: 3, Total: 3},
	}
	for i := range snaps {
		if err := rec.Record(&snaps[i]); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	// Same height again replaces the row instead of duplicating it
	updated := models.ShieldedSupplySnapshot{BlockHeight: 300, BlockTime: now.Add(-time.Hour), Sapling: 3.5, Total: 3.5}
	if err := rec.Record(&updated); err != nil {
		t.Fatalf("Record() update error: %v", err)
	}

	series, err := rec.Series(24 * time.Hour)
	if err != nil {
		t.Fatalf("Series() error: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2: %+v", len(series), series)
	}
	if series[0].Value != 2 || series[1].Value != 3.5 {
		t.Errorf("unexpected series values: %+v", series)
	}

	latest := rec.Latest()
	if latest == nil || latest.BlockHeight != 300 || latest.Total != 3.5 {
		t.Errorf("Latest() = %+v", latest)
	}
}
