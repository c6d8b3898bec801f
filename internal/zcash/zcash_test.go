package zcash

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func rpcServer(t *testing.T, handler func(method string, params []any) (any, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"id": req.ID, "result": result, "error": nil}
		if rpcErr != "" {
			resp["result"] = nil
			resp["error"] = map[string]any{"code": -8, "message": rpcErr}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_GetBlockCount(t *testing.T) {
	server := rpcServer(t, func(method string, params []any) (any, string) {
		if method != "getblockcount" {
			return nil, "unexpected method"
		}
		return 2500000, ""
	})
	defer server.Close()

	c := NewClient(server.URL, Options{})
	height, err := c.GetBlockCount(context.Background())
	if err != nil {
		t.Fatalf("GetBlockCount() error: %v", err)
	}
	if height != 2500000 {
		t.Errorf("height = %d, want 2500000", height)
	}
}

func TestClient_BasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpcuser" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"result":7,"error":null,"id":"x"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, Options{User: "rpcuser", Password: "secret", MaxRetries: 1})
	if _, err := c.GetBlockCount(context.Background()); err != nil {
		t.Fatalf("GetBlockCount() with auth error: %v", err)
	}
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"result":42,"error":null,"id":"x"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, Options{MaxRetries: 3, RetryDelay: time.Millisecond})
	height, err := c.GetBlockCount(context.Background())
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if height != 42 {
		t.Errorf("height = %d, want 42", height)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := rpcServer(t, func(method string, params []any) (any, string) {
		atomic.AddInt32(&calls, 1)
		return nil, "Block height out of range"
	})
	defer server.Close()

	c := NewClient(server.URL, Options{MaxRetries: 3, RetryDelay: time.Millisecond})
	_, err := c.GetBlock(context.Background(), 99999999)
	if !errors.Is(err, ErrRPC) {
		t.Fatalf("expected ErrRPC, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_GetBlockSendsHeightAsString(t *testing.T) {
	server := rpcServer(t, func(method string, params []any) (any, string) {
		if len(params) != 2 || params[0] != "419200" || params[1] != float64(1) {
			return nil, "bad params"
		}
		return map[string]any{
			"hash":   "abc",
			"height": 419200,
			"time":   1540779337,
			"valuePools": []map[string]any{
				{"id": "sprout", "chainValueZat": 100000000},
			},
		}, ""
	})
	defer server.Close()

	c := NewClient(server.URL, Options{MaxRetries: 1})
	block, err := c.GetBlock(context.Background(), 419200)
	if err != nil {
		t.Fatalf("GetBlock() error: %v", err)
	}
	if block.Height != 419200 || len(block.ValuePools) != 1 {
		t.Errorf("unexpected block: %+v", block)
	}
}

func TestExtractPools(t *testing.T) {
	block := &Block{
		Height: 2000000,
		Time:   1672531200,
		ValuePools: []ValuePool{
			{ID: "transparent", ChainValueZat: 999},
			{ID: "sprout", ChainValueZat: 2500000000},
			{ID: "sapling", ChainValueZat: 123456789012},
			{ID: "orchard", ChainValueZat: 50},
		},
	}
	snap := ExtractPools(block)

	if snap.Sprout != 25 {
		t.Errorf("Sprout = %v, want 25", snap.Sprout)
	}
	if snap.Sapling != 1234.56789012 {
		t.Errorf("Sapling = %v, want 1234.56789012", snap.Sapling)
	}
	if snap.Orchard != 0.0000005 {
		t.Errorf("Orchard = %v, want 0.0000005", snap.Orchard)
	}
	if snap.Total != 1259.56789062 {
		t.Errorf("Total = %v, want 1259.56789062", snap.Total)
	}
	if !snap.BlockTime.Equal(time.Unix(1672531200, 0)) {
		t.Errorf("BlockTime = %v", snap.BlockTime)
	}
}

func TestExtractPools_MissingPoolsAreZero(t *testing.T) {
	snap := ExtractPools(&Block{Height: 10})
	if snap.Sprout != 0 || snap.Sapling != 0 || snap.Orchard != 0 || snap.Total != 0 {
		t.Errorf("expected all zero, got %+v", snap)
	}
}

func TestSamplePlan(t *testing.T) {
	tests := []struct {
		name     string
		start    int64
		current  int64
		interval int64
		want     []int64
	}{
		{"tip on stride", 1, 11, 5, []int64{1, 6, 11}},
		{"tip appended", 1, 13, 5, []int64{1, 6, 11, 13}},
		{"single block", 7, 7, 576, []int64{7}},
		{"tip before start", 10, 5, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SamplePlan(tt.start, tt.current, tt.interval)
			if len(got) != len(tt.want) {
				t.Fatalf("SamplePlan() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SamplePlan()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDataset_MergeDaily(t *testing.T) {
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	d := &Dataset{Data: []Entry{{T: day.Unix(), H: 100, V: 1}}}
	now := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	if appended := d.MergeDaily(Entry{T: day.Add(5 * time.Hour).Unix(), H: 200, V: 2}, now); appended {
		t.Error("same UTC date should overwrite, not append")
	}
	if len(d.Data) != 1 || d.Data[0].V != 2 {
		t.Errorf("expected overwritten last entry, got %+v", d.Data)
	}

	if appended := d.MergeDaily(Entry{T: day.Add(24 * time.Hour).Unix(), H: 300, V: 3}, now); !appended {
		t.Error("next UTC date should append")
	}
	if len(d.Data) != 2 {
		t.Fatalf("len(Data) = %d, want 2", len(d.Data))
	}
	if d.LatestBlock != 300 || d.LastUpdated == nil || !d.LastUpdated.Equal(now) {
		t.Errorf("metadata not updated: latestBlock=%d lastUpdated=%v", d.LatestBlock, d.LastUpdated)
	}
	if d.Meta.DataPoints != 2 {
		t.Errorf("DataPoints = %d, want 2", d.Meta.DataPoints)
	}
}

type fakeSource struct {
	tip     int64
	tipErr  error
	failing map[int64]bool
}

func (f *fakeSource) GetBlockCount(ctx context.Context) (int64, error) {
	return f.tip, f.tipErr
}

func (f *fakeSource) GetBlock(ctx context.Context, height int64) (*Block, error) {
	if f.failing[height] {
		return nil, errors.New("timeout")
	}
	return &Block{
		Height:     height,
		Time:       1600000000 + height,
		ValuePools: []ValuePool{{ID: "sapling", ChainValueZat: height * 100000000}},
	}, nil
}

func TestBuildDataset_SkipsFailedBlocks(t *testing.T) {
	src := &fakeSource{tip: 20, failing: map[int64]bool{11: true}}
	d, err := BuildDataset(context.Background(), src, BuildOptions{StartBlock: 1, SampleInterval: 10})
	if err != nil {
		t.Fatalf("BuildDataset() error: %v", err)
	}
	// plan is 1, 11, 20 with 11 failing
	if len(d.Data) != 2 || d.Data[0].H != 1 || d.Data[1].H != 20 {
		t.Errorf("unexpected data: %+v", d.Data)
	}
	if d.Meta.EndBlock != 20 || d.Meta.DataPoints != 2 || d.Meta.SampleInterval != 10 {
		t.Errorf("unexpected meta: %+v", d.Meta)
	}
	if d.Data[1].SA != 20 || d.Data[1].V != 20 {
		t.Errorf("unexpected amounts: %+v", d.Data[1])
	}
}

func TestBuildDataset_UnreachableIsFatal(t *testing.T) {
	src := &fakeSource{tipErr: errors.New("connection refused")}
	_, err := BuildDataset(context.Background(), src, BuildOptions{})
	if !errors.Is(err, ErrNodeUnreachable) {
		t.Errorf("expected ErrNodeUnreachable, got %v", err)
	}
}

func TestDataset_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shielded-pool-data.json")
	d := &Dataset{
		Meta: Meta{StartBlock: 1, EndBlock: 5, SampleInterval: 576, DataPoints: 1, Pools: []string{"sprout", "sapling", "orchard"}},
		Data: []Entry{{T: 1600000000, H: 5, SP: 1.5, SA: 2.25, OR: 0, V: 3.75}},
	}
	if err := d.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset() error: %v", err)
	}
	if len(loaded.Data) != 1 || loaded.Data[0] != d.Data[0] {
		t.Errorf("loaded data = %+v, want %+v", loaded.Data, d.Data)
	}
	series := loaded.Series()
	if len(series) != 1 || series[0].Value != 3.75 {
		t.Errorf("Series() = %+v", series)
	}
}
