package models

import (
	"time"
)

// MarketListing is one open prediction market shown in game mode
type MarketListing struct {
	EventTitle   string    `json:"event_title"`
	EventTicker  string    `json:"event_ticker"`
	MarketTicker string    `json:"market_ticker"`
	Status       string    `json:"status"`
	CloseTime    time.Time `json:"close_time"`
}
