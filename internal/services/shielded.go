package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/codyseavey/zec-tracker/internal/metrics"
	"github.com/codyseavey/zec-tracker/internal/models"
	"github.com/codyseavey/zec-tracker/internal/zcash"
)

// SnapshotSource yields the current chain tip pool totals
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context) (*models.ShieldedSupplySnapshot, error)
}

// ShieldedService serves the shielded supply series: the precomputed daily dataset,
// the recent fine-grained window, and live snapshots read from a node.
type ShieldedService struct {
	datasetURL string
	hourlyURL  string
	client     *http.Client
	node       SnapshotSource
}

func NewShieldedService(datasetURL, hourlyURL string, node SnapshotSource) *ShieldedService {
	return &ShieldedService{
		datasetURL: datasetURL,
		hourlyURL:  hourlyURL,
		client: &http.Client{
			Timeout: defaultFetchTimeout,
		},
		node: node,
	}
}

// FetchShieldedSupplySeries returns the full daily history
func (s *ShieldedService) FetchShieldedSupplySeries(ctx context.Context) models.Series {
	var ds zcash.Dataset
	if err := getJSON(ctx, s.client, "shielded", s.datasetURL, &ds); err != nil {
		fetchFailed("shielded", err)
		return nil
	}
	series := ds.Series()
	if len(series) == 0 {
		fetchFailed("shielded", fmt.Errorf("dataset has no entries"))
		return nil
	}
	return series
}

type hourlyResponse struct {
	Data models.Series `json:"data"`
}

// FetchShieldedSupplyHourly returns the recent window recorded from live snapshots.
// The daily dataset is too coarse for a one day view.
func (s *ShieldedService) FetchShieldedSupplyHourly(ctx context.Context) models.Series {
	var resp hourlyResponse
	if err := getJSON(ctx, s.client, "shielded_hourly", s.hourlyURL, &resp); err != nil {
		fetchFailed("shielded_hourly", err)
		return nil
	}
	if len(resp.Data) == 0 {
		fetchFailed("shielded_hourly", fmt.Errorf("no recent snapshots"))
		return nil
	}
	return resp.Data
}

// FetchLiveShieldedSnapshot reads the tip block's pool values. Either RPC call
// failing yields nil, never a partial snapshot.
func (s *ShieldedService) FetchLiveShieldedSnapshot(ctx context.Context) *models.ShieldedSupplySnapshot {
	if s.node == nil {
		return nil
	}
	snap, err := s.node.LatestSnapshot(ctx)
	if err != nil {
		fetchFailed("rpc", err)
		return nil
	}
	metrics.ShieldedSupplyZEC.Set(snap.Total)
	metrics.ShieldedBlockHeight.Set(float64(snap.BlockHeight))
	return snap
}
