package zcash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/codyseavey/zec-tracker/internal/format"
	"github.com/codyseavey/zec-tracker/internal/models"
)

// DefaultSampleInterval is one day of blocks at the original 150s spacing
const DefaultSampleInterval = 576

// PoolActivations are the heights at which each shielded pool came into existence
var PoolActivations = map[string]int64{
	"sprout":  1,
	"sapling": 419200,
	"orchard": 1687104,
}

// Entry is one sampled block in the dataset file. Amounts are in ZEC.
type Entry struct {
	T  int64   `json:"t"`
	H  int64   `json:"h"`
	SP float64 `json:"sp"`
	SA float64 `json:"sa"`
	OR float64 `json:"or"`
	V  float64 `json:"v"`
}

// Meta describes how a dataset was generated
type Meta struct {
	Generated       time.Time        `json:"generated"`
	StartBlock      int64            `json:"startBlock"`
	EndBlock        int64            `json:"endBlock"`
	SampleInterval  int64            `json:"sampleInterval"`
	DataPoints      int              `json:"dataPoints"`
	Pools           []string         `json:"pools"`
	PoolActivations map[string]int64 `json:"poolActivations"`
}

// Dataset is the precomputed daily shielded supply history served as static JSON
type Dataset struct {
	Meta        Meta       `json:"meta"`
	Data        []Entry    `json:"data"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	LatestBlock int64      `json:"latestBlock,omitempty"`
}

// EntryFromSnapshot rounds a snapshot to hundredths of a coin
func EntryFromSnapshot(s models.ShieldedSupplySnapshot) Entry {
	return Entry{
		T:  s.BlockTime.Unix(),
		H:  s.BlockHeight,
		SP: format.Round2(s.Sprout),
		SA: format.Round2(s.Sapling),
		OR: format.Round2(s.Orchard),
		V:  format.Round2(s.Total),
	}
}

// Series projects the dataset onto total shielded supply over time
func (d *Dataset) Series() models.Series {
	out := make(models.Series, 0, len(d.Data))
	for _, e := range d.Data {
		out = append(out, models.PricePoint{Timestamp: time.Unix(e.T, 0).UTC(), Value: e.V})
	}
	return out
}

func dateKey(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}

// MergeDaily overwrites the last entry when e falls on the same UTC date, otherwise
// appends it. Returns true when a new entry was appended.
func (d *Dataset) MergeDaily(e Entry, now time.Time) bool {
	appended := true
	if n := len(d.Data); n > 0 && dateKey(d.Data[n-1].T) == dateKey(e.T) {
		d.Data[n-1] = e
		appended = false
	} else {
		d.Data = append(d.Data, e)
	}

	updated := now.UTC()
	d.LastUpdated = &updated
	d.LatestBlock = e.H
	d.Meta.DataPoints = len(d.Data)
	if e.H > d.Meta.EndBlock {
		d.Meta.EndBlock = e.H
	}
	return appended
}

// LoadDataset reads a dataset file from disk
func LoadDataset(path string) (*Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var d Dataset
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	return &d, nil
}

// Save writes the dataset to path via a temp file and rename
func (d *Dataset) Save(path string) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return os.Rename(tmp, path)
}

// SamplePlan lists the heights to sample from start to current at the given stride.
// The current tip is always included.
func SamplePlan(start, current, interval int64) []int64 {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if start < 1 {
		start = 1
	}
	if current < start {
		return nil
	}
	plan := make([]int64, 0, (current-start)/interval+2)
	for h := start; h <= current; h += interval {
		plan = append(plan, h)
	}
	if plan[len(plan)-1] != current {
		plan = append(plan, current)
	}
	return plan
}

// ErrNodeUnreachable is returned when the initial connectivity check fails
var ErrNodeUnreachable = errors.New("node unreachable")

// BlockSource is the subset of Client the dataset builder needs
type BlockSource interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetBlock(ctx context.Context, height int64) (*Block, error)
}

// BuildOptions controls a full dataset walk
type BuildOptions struct {
	StartBlock     int64
	SampleInterval int64
	Progress       func(done, total int, e Entry)
}

// BuildDataset walks the node from StartBlock to the tip. A failed connectivity check
// aborts with ErrNodeUnreachable; a failed block is logged and left as a gap.
func BuildDataset(ctx context.Context, src BlockSource, opts BuildOptions) (*Dataset, error) {
	tip, err := src.GetBlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeUnreachable, err)
	}
	if opts.StartBlock <= 0 {
		opts.StartBlock = 1
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}

	plan := SamplePlan(opts.StartBlock, tip, opts.SampleInterval)
	data := make([]Entry, 0, len(plan))
	for i, height := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := src.GetBlock(ctx, height)
		if err != nil {
			log.Printf("Dataset: skipping block %d: %v", height, err)
			continue
		}
		e := EntryFromSnapshot(ExtractPools(block))
		data = append(data, e)
		if opts.Progress != nil {
			opts.Progress(i+1, len(plan), e)
		}
	}

	return &Dataset{
		Meta: Meta{
			Generated:       time.Now().UTC(),
			StartBlock:      opts.StartBlock,
			EndBlock:        tip,
			SampleInterval:  opts.SampleInterval,
			DataPoints:      len(data),
			Pools:           []string{"sprout", "sapling", "orchard"},
			PoolActivations: PoolActivations,
		},
		Data: data,
	}, nil
}

// UpdateDaily fetches the tip block and merges it into d
func UpdateDaily(ctx context.Context, src BlockSource, d *Dataset) (Entry, bool, error) {
	height, err := src.GetBlockCount(ctx)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrNodeUnreachable, err)
	}
	block, err := src.GetBlock(ctx, height)
	if err != nil {
		return Entry{}, false, err
	}
	e := EntryFromSnapshot(ExtractPools(block))
	return e, d.MergeDaily(e, time.Now()), nil
}
