// Package zcash talks JSON-RPC to a zcashd/zebrad node (directly or through the
// RPC forwarding proxy) and builds the shielded pool dataset from block data.
package zcash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/codyseavey/zec-tracker/internal/format"
	"github.com/codyseavey/zec-tracker/internal/models"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// ErrRPC marks an error reported by the node inside a JSON-RPC response
var ErrRPC = errors.New("rpc error")

// Options configures a Client. Zero values take the defaults.
type Options struct {
	User       string
	Password   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client is a minimal JSON-RPC 1.0 client with bounded fixed-backoff retries
type Client struct {
	url        string
	user       string
	password   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

func NewClient(rpcURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Client{
		url:        rpcURL,
		user:       opts.User,
		password:   opts.Password,
		client:     &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call invokes method and decodes the result into out, retrying failed attempts
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: uuid.NewString(), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = c.do(ctx, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < c.maxRetries {
			log.Printf("Zcash RPC: %s attempt %d failed, retrying in %v: %v", method, attempt, c.retryDelay, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	return fmt.Errorf("%s: %w", method, lastErr)
}

func (c *Client) do(ctx context.Context, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" && c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: %s", ErrRPC, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// GetBlockCount returns the current chain tip height
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	if err := c.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// ValuePool is one entry of a block's valuePools array
type ValuePool struct {
	ID            string `json:"id"`
	ChainValueZat int64  `json:"chainValueZat"`
}

// Block is the subset of getblock (verbosity 1) this package reads
type Block struct {
	Hash       string      `json:"hash"`
	Height     int64       `json:"height"`
	Time       int64       `json:"time"`
	ValuePools []ValuePool `json:"valuePools"`
}

// GetBlock fetches a block by height. The node expects the height as a string.
func (c *Client) GetBlock(ctx context.Context, height int64) (*Block, error) {
	var block Block
	if err := c.Call(ctx, "getblock", []any{strconv.FormatInt(height, 10), 1}, &block); err != nil {
		return nil, err
	}
	if block.Height == 0 {
		block.Height = height
	}
	return &block, nil
}

// ExtractPools sums the chain value of each shielded pool, converting zatoshi to ZEC.
// Missing pools count as zero.
func ExtractPools(b *Block) models.ShieldedSupplySnapshot {
	var sprout, sapling, orchard int64
	for _, p := range b.ValuePools {
		switch p.ID {
		case "sprout":
			sprout = p.ChainValueZat
		case "sapling":
			sapling = p.ChainValueZat
		case "orchard":
			orchard = p.ChainValueZat
		}
	}
	return models.ShieldedSupplySnapshot{
		BlockHeight: b.Height,
		BlockTime:   time.Unix(b.Time, 0).UTC(),
		Sprout:      format.ZEC(sprout),
		Sapling:     format.ZEC(sapling),
		Orchard:     format.ZEC(orchard),
		Total:       format.ZEC(sprout + sapling + orchard),
	}
}

// LatestSnapshot performs the two sequential calls (tip height, then that block).
// Either failing fails the whole snapshot; no partial data is returned.
func (c *Client) LatestSnapshot(ctx context.Context) (*models.ShieldedSupplySnapshot, error) {
	height, err := c.GetBlockCount(ctx)
	if err != nil {
		return nil, err
	}
	block, err := c.GetBlock(ctx, height)
	if err != nil {
		return nil, err
	}
	snap := ExtractPools(block)
	return &snap, nil
}
