package models

import (
	"time"
)

// LiveQuote is the most recent market snapshot for the displayed currency
type LiveQuote struct {
	Currency          string    `json:"currency"`
	Price             float64   `json:"price"`
	High24h           float64   `json:"high_24h"`
	Low24h            float64   `json:"low_24h"`
	Volume24h         float64   `json:"volume_24h"`
	Change24h         float64   `json:"change_24h"` // percent
	CirculatingSupply float64   `json:"circulating_supply,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ConnectionState governs whether ticks arrive via push or pull
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionConnected  ConnectionState = "connected"
	ConnectionPolling    ConnectionState = "degraded-polling"
)

// Mode is the top-level view selection
type Mode string

const (
	ModeDashboard Mode = "dashboard"
	ModeGame      Mode = "game"
)
