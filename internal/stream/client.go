// Package stream keeps a live price feed: one websocket connection with automatic
// reconnect, falling back to REST polling after repeated failures or while the
// displayed currency is not the one the stream quotes.
package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codyseavey/zec-tracker/internal/metrics"
	"github.com/codyseavey/zec-tracker/internal/models"
)

const (
	DefaultBackoff          = 2 * time.Second
	DefaultPollInterval     = 10 * time.Second
	DefaultRecoveryInterval = 30 * time.Second
)

// PriceSource is the REST quote used while polling. Nil means no data.
type PriceSource interface {
	FetchSimplePrice(ctx context.Context, currency string) *float64
}

type Config struct {
	URL             string
	StreamCurrency  string
	DisplayCurrency string
	Dialer          Dialer
	Prices          PriceSource

	// OnTick and OnState are called from the client's goroutines, never concurrently
	// with each other for the same client.
	OnTick  func(Tick)
	OnState func(models.ConnectionState)

	Backoff          time.Duration
	PollInterval     time.Duration
	RecoveryInterval time.Duration
}

type Client struct {
	cfg       Config
	reconnect chan struct{}

	mu         sync.Mutex
	m          *machine
	runCtx     context.Context
	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup

	emitMu sync.Mutex
}

func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = DefaultRecoveryInterval
	}
	if cfg.DisplayCurrency == "" {
		cfg.DisplayCurrency = cfg.StreamCurrency
	}
	return &Client{
		cfg:       cfg,
		reconnect: make(chan struct{}, 1),
		m:         newMachine(cfg.StreamCurrency, cfg.DisplayCurrency),
	}
}

// State returns the current connection state
func (c *Client) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.state
}

// SetCurrency changes the displayed currency. Streamed ticks in any other currency
// are ignored from now on and the price is polled over REST instead.
func (c *Client) SetCurrency(currency string) {
	c.mu.Lock()
	before := c.m.displayCurrency
	c.m.setDisplayCurrency(currency)
	changed := c.m.displayCurrency != before
	c.mu.Unlock()

	// A fresh poller fetches the new currency at once instead of on the next tick
	if changed {
		c.stopPolling()
	}
	c.syncPolling()
}

// Reconnect skips the current wait and dials immediately
func (c *Client) Reconnect() {
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

// Run dials, reads and recovers until ctx is cancelled
func (c *Client) Run(ctx context.Context) {
	log.Printf("Stream: starting (%s)", c.cfg.URL)
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	c.syncPolling()
	defer func() {
		c.mu.Lock()
		c.runCtx = nil
		c.mu.Unlock()
		c.stopPolling()
		c.pollWG.Wait()
		log.Println("Stream: stopped")
	}()

	for {
		c.transition(func(m *machine) { m.connecting() })

		conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
		if err == nil {
			c.opened()
			err = c.read(ctx, conn)
			conn.Close()
		}
		if ctx.Err() != nil {
			return
		}

		metrics.StreamReconnectsTotal.Inc()
		var act action
		c.transition(func(m *machine) { act = m.close() })

		wait := c.cfg.Backoff
		if act == actionPoll {
			c.syncPolling()
			wait = c.cfg.RecoveryInterval
			log.Printf("Stream: transport unavailable (%v), polling; next probe in %v", err, wait)
		} else {
			log.Printf("Stream: connection closed (%v), reconnecting in %v", err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.reconnect:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (c *Client) opened() {
	var wasPolling bool
	c.transition(func(m *machine) { wasPolling = m.open() })
	if wasPolling {
		log.Println("Stream: transport recovered")
	}
	c.syncPolling()
}

// syncPolling starts or stops the poller to match the machine. Outside Run there is
// nothing to poll for.
func (c *Client) syncPolling() {
	c.mu.Lock()
	ctx := c.runCtx
	want := ctx != nil && c.m.needsPolling()
	c.mu.Unlock()

	if want {
		c.startPolling(ctx)
	} else {
		c.stopPolling()
	}
}

// Polling reports whether a REST poller is active
func (c *Client) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollCancel != nil
}

// read delivers messages until the connection fails or ctx ends
func (c *Client) read(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.mu.Lock()
		tick, reason, ok := c.m.message(raw)
		c.mu.Unlock()
		if !ok {
			metrics.TicksDroppedTotal.WithLabelValues(reason).Inc()
			continue
		}
		c.emitTick(tick)
	}
}

// startPolling is a no-op when a poller is already running
func (c *Client) startPolling(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollCancel != nil || c.cfg.Prices == nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollWG.Add(1)
	go c.pollLoop(pollCtx)
}

func (c *Client) stopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	c.pollCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) pollLoop(ctx context.Context) {
	defer c.pollWG.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	c.mu.Lock()
	currency := c.m.displayCurrency
	c.mu.Unlock()

	price := c.cfg.Prices.FetchSimplePrice(ctx, currency)
	if price == nil || ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	// A currency switch while the request was in flight makes this price stale
	if c.m.displayCurrency != currency {
		c.mu.Unlock()
		metrics.TicksDroppedTotal.WithLabelValues("currency").Inc()
		return
	}
	tick, ok := c.m.poll(*price)
	c.mu.Unlock()
	if ok {
		c.emitTick(tick)
	}
}

// transition applies f and reports a state change, if any
func (c *Client) transition(f func(m *machine)) {
	c.mu.Lock()
	before := c.m.state
	f(c.m)
	after := c.m.state
	c.mu.Unlock()

	if before == after {
		return
	}
	metrics.SetStreamState(string(after))
	if c.cfg.OnState != nil {
		c.emitMu.Lock()
		c.cfg.OnState(after)
		c.emitMu.Unlock()
	}
}

func (c *Client) emitTick(t Tick) {
	metrics.TicksTotal.Inc()
	if c.cfg.OnTick == nil {
		return
	}
	c.emitMu.Lock()
	c.cfg.OnTick(t)
	c.emitMu.Unlock()
}
