package app

import (
	"github.com/codyseavey/zec-tracker/internal/format"
	"github.com/codyseavey/zec-tracker/internal/models"
)

// Event types published to the presentation layer
const (
	EventState      = "state"
	EventReady      = "ready"
	EventPrice      = "price"
	EventStats      = "stats"
	EventChart      = "chart"
	EventSupply     = "supply"
	EventConnection = "connection"
	EventProgress   = "progress"
	EventMode       = "mode"
	EventListings   = "listings"
	EventGame       = "game"
)

// FlashDuration is how long a direction flash stays on the price display
const FlashDuration = 600

// Event is one declarative render instruction
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher delivers events to connected views. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// PriceFrame updates the headline price
type PriceFrame struct {
	Price     float64          `json:"price"`
	Currency  string           `json:"currency"`
	Text      string           `json:"text"`
	Title     string           `json:"title"`
	Direction models.Direction `json:"direction"`
	FlashMS   int              `json:"flash_ms"`
	Roll      format.DigitRoll `json:"roll"`
	Polled    bool             `json:"polled"`
}

// StatsFrame carries the 24h statistics block
type StatsFrame struct {
	Currency  string           `json:"currency"`
	High      string           `json:"high"`
	Low       string           `json:"low"`
	Volume    string           `json:"volume"`
	Change    string           `json:"change"`
	Direction models.Direction `json:"direction"`
}

// SupplyFrame is one step of the shielded supply count-up
type SupplyFrame struct {
	Value     float64          `json:"value"`
	Text      string           `json:"text"`
	Percent   string           `json:"percent,omitempty"`
	Direction models.Direction `json:"direction"`
	Done      bool             `json:"done"`
}

// ProgressFrame drives the countdown to the next supply poll
type ProgressFrame struct {
	RemainingMS int64   `json:"remaining_ms"`
	Fraction    float64 `json:"fraction"`
}

func statsFrame(q *models.LiveQuote) StatsFrame {
	dir := models.DirectionFlat
	switch {
	case q.Change24h > 0:
		dir = models.DirectionUp
	case q.Change24h < 0:
		dir = models.DirectionDown
	}
	return StatsFrame{
		Currency:  q.Currency,
		High:      format.Price(q.High24h, q.Currency),
		Low:       format.Price(q.Low24h, q.Currency),
		Volume:    format.Symbol(q.Currency) + format.Stat(q.Volume24h),
		Change:    format.Percent(q.Change24h),
		Direction: dir,
	}
}
