package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codyseavey/zec-tracker/internal/models"
)

type fakeConn struct {
	msgs      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	fail     bool
	attempts int
	conns    chan *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.attempts++
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

type fixedPrice float64

func (p fixedPrice) FetchSimplePrice(ctx context.Context, currency string) *float64 {
	v := float64(p)
	return &v
}

func waitState(t *testing.T, states <-chan models.ConnectionState, want models.ConnectionState) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func waitTick(t *testing.T, ticks <-chan Tick) Tick {
	t.Helper()
	select {
	case tick := <-ticks:
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	return Tick{}
}

func TestClient_FallbackAndRecovery(t *testing.T) {
	dialer := &fakeDialer{fail: true, conns: make(chan *fakeConn, 4)}
	states := make(chan models.ConnectionState, 16)
	ticks := make(chan Tick, 16)

	client := New(Config{
		URL:              "wss://example.invalid/ws",
		StreamCurrency:   "usd",
		Dialer:           dialer,
		Prices:           fixedPrice(50),
		OnTick:           func(t Tick) { ticks <- t },
		OnState:          func(s models.ConnectionState) { states <- s },
		Backoff:          time.Millisecond,
		PollInterval:     time.Hour,
		RecoveryInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	waitState(t, states, models.ConnectionPolling)
	polled := waitTick(t, ticks)
	if !polled.Polled || polled.Price != 50 {
		t.Errorf("expected polled tick at 50, got %+v", polled)
	}
	if got := dialer.Attempts(); got != MaxFailures {
		t.Errorf("dial attempts = %d, want %d", got, MaxFailures)
	}

	dialer.setFail(false)
	client.Reconnect()
	waitState(t, states, models.ConnectionConnected)
	conn := <-dialer.conns

	conn.msgs <- []byte(`{"e":"trade","p":"64.20"}`)
	tick := waitTick(t, ticks)
	if tick.Polled || tick.Price != 64.2 || tick.Direction != models.DirectionUp || tick.Previous != 50 {
		t.Errorf("unexpected streamed tick: %+v", tick)
	}

	conn.msgs <- []byte(`{"p":"garbage"}`)
	conn.msgs <- []byte(`{"p":"64.10"}`)
	tick = waitTick(t, ticks)
	if tick.Price != 64.1 || tick.Direction != models.DirectionDown {
		t.Errorf("malformed message was not skipped: %+v", tick)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if client.State() != models.ConnectionConnected {
		t.Errorf("State() = %s", client.State())
	}
}

func TestClient_ReconnectsAfterClose(t *testing.T) {
	dialer := &fakeDialer{conns: make(chan *fakeConn, 4)}
	states := make(chan models.ConnectionState, 16)

	client := New(Config{
		URL:            "wss://example.invalid/ws",
		StreamCurrency: "usd",
		Dialer:         dialer,
		OnState:        func(s models.ConnectionState) { states <- s },
		Backoff:        time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitState(t, states, models.ConnectionConnected)
	first := <-dialer.conns
	first.Close()

	waitState(t, states, models.ConnectionConnecting)
	waitState(t, states, models.ConnectionConnected)
	if got := dialer.Attempts(); got != 2 {
		t.Errorf("dial attempts = %d, want 2", got)
	}
}

type countingPrices struct {
	mu      sync.Mutex
	calls   int
	fetched chan string
}

func newCountingPrices() *countingPrices {
	return &countingPrices{fetched: make(chan string, 16)}
}

func (p *countingPrices) FetchSimplePrice(ctx context.Context, currency string) *float64 {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.fetched <- currency
	v := 59.0
	return &v
}

func (p *countingPrices) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestClient_PollsWhileCurrencyDiffers(t *testing.T) {
	dialer := &fakeDialer{conns: make(chan *fakeConn, 4)}
	states := make(chan models.ConnectionState, 16)
	ticks := make(chan Tick, 16)
	prices := newCountingPrices()

	client := New(Config{
		URL:             "wss://example.invalid/ws",
		StreamCurrency:  "usd",
		DisplayCurrency: "eur",
		Dialer:          dialer,
		Prices:          prices,
		OnTick:          func(t Tick) { ticks <- t },
		OnState:         func(s models.ConnectionState) { states <- s },
		Backoff:         time.Millisecond,
		PollInterval:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitState(t, states, models.ConnectionConnected)
	conn := <-dialer.conns
	tick := waitTick(t, ticks)
	if !tick.Polled || tick.Currency != "eur" || tick.Price != 59 {
		t.Errorf("expected a polled eur tick, got %+v", tick)
	}
	if !client.Polling() {
		t.Error("poller stopped while the stream quotes another currency")
	}

	// Back on the streamed currency the poller stops and trades flow again
	client.SetCurrency("usd")
	if client.Polling() {
		t.Error("poller still running on the streamed currency")
	}
	conn.msgs <- []byte(`{"p":"64.20"}`)
	if tick := waitTick(t, ticks); tick.Polled || tick.Currency != "usd" {
		t.Errorf("expected a streamed usd tick, got %+v", tick)
	}

	// A new foreign currency is fetched at once, not on the next interval
	client.SetCurrency("gbp")
	select {
	case cur := <-prices.fetched:
		for cur != "gbp" {
			cur = <-prices.fetched
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gbp was not polled")
	}
	if client.State() != models.ConnectionConnected {
		t.Errorf("State() = %s, want connected", client.State())
	}
}

func TestClient_StartPollingIsIdempotent(t *testing.T) {
	prices := newCountingPrices()
	client := New(Config{
		StreamCurrency: "usd",
		Prices:         prices,
		PollInterval:   time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.startPolling(ctx)
	client.startPolling(ctx)

	select {
	case <-prices.fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not fetch")
	}
	time.Sleep(50 * time.Millisecond)
	if got := prices.Calls(); got != 1 {
		t.Errorf("price fetches = %d, want 1 from a single poller", got)
	}

	client.stopPolling()
	client.pollWG.Wait()
	if client.Polling() {
		t.Error("Polling() after stop")
	}
}
