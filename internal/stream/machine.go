package stream

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/codyseavey/zec-tracker/internal/models"
)

// MaxFailures is the number of consecutive close/error cycles before the client
// gives up on the transport and falls back to polling
const MaxFailures = 3

// Tick is one price observation delivered to the display
type Tick struct {
	Price     float64          `json:"price"`
	Previous  float64          `json:"previous"`
	Direction models.Direction `json:"direction"`
	Currency  string           `json:"currency"`
	Polled    bool             `json:"polled"`
	At        time.Time        `json:"at"`
}

type action int

const (
	actionReconnect action = iota
	actionPoll
)

// machine holds the connection lifecycle and tick classification. It does no I/O
// and is driven by the client (or tests) through open, close, message and poll.
type machine struct {
	state       models.ConnectionState
	failures    int
	maxFailures int

	streamCurrency  string
	displayCurrency string

	previous float64
	now      func() time.Time
}

func newMachine(streamCurrency, displayCurrency string) *machine {
	return &machine{
		state:           models.ConnectionConnecting,
		maxFailures:     MaxFailures,
		streamCurrency:  strings.ToLower(streamCurrency),
		displayCurrency: strings.ToLower(displayCurrency),
		now:             time.Now,
	}
}

// connecting marks a dial attempt. A polling client keeps its state while probing.
func (m *machine) connecting() {
	if m.state != models.ConnectionPolling {
		m.state = models.ConnectionConnecting
	}
}

// open resets the failure budget. Reports whether polling was active and must stop.
func (m *machine) open() bool {
	wasPolling := m.state == models.ConnectionPolling
	m.state = models.ConnectionConnected
	m.failures = 0
	return wasPolling
}

// close counts a failed cycle and decides what happens next
func (m *machine) close() action {
	m.failures++
	if m.state == models.ConnectionPolling || m.failures >= m.maxFailures {
		m.state = models.ConnectionPolling
		return actionPoll
	}
	m.state = models.ConnectionConnecting
	return actionReconnect
}

type tradeMessage struct {
	Price *string `json:"p"`
}

// message parses a streamed trade. Malformed payloads and ticks for a currency
// other than the displayed one are dropped; the reason is returned for accounting.
func (m *machine) message(raw []byte) (Tick, string, bool) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Price == nil {
		return Tick{}, "malformed", false
	}
	price, err := strconv.ParseFloat(*msg.Price, 64)
	if err != nil || !validPrice(price) {
		return Tick{}, "malformed", false
	}
	if m.streamCurrency != m.displayCurrency {
		return Tick{}, "currency", false
	}
	return m.accept(price, m.streamCurrency, false), "", true
}

// poll classifies a price fetched over REST in the displayed currency
func (m *machine) poll(price float64) (Tick, bool) {
	if !validPrice(price) {
		return Tick{}, false
	}
	return m.accept(price, m.displayCurrency, true), true
}

func (m *machine) accept(price float64, currency string, polled bool) Tick {
	prev := m.previous
	dir := models.DirectionFlat
	if prev > 0 {
		dir = models.DirectionOf(prev, price)
	}
	m.previous = price
	return Tick{
		Price:     price,
		Previous:  prev,
		Direction: dir,
		Currency:  currency,
		Polled:    polled,
		At:        m.now(),
	}
}

// setDisplayCurrency switches the accepted currency. The previous price belongs to
// the old currency and is forgotten.
func (m *machine) setDisplayCurrency(currency string) {
	currency = strings.ToLower(currency)
	if currency == m.displayCurrency {
		return
	}
	m.displayCurrency = currency
	m.previous = 0
}

// needsPolling reports whether REST polling must run: the transport is degraded, or
// the stream quotes a currency other than the displayed one
func (m *machine) needsPolling() bool {
	return m.state == models.ConnectionPolling || m.streamCurrency != m.displayCurrency
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
