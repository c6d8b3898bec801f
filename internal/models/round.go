package models

import (
	"time"
)

// Outcome is the result of a settled prediction round
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomePush    Outcome = "push" // exit equals entry, stake refunded
)

// Round is a single up/down call in the prediction game
type Round struct {
	ID         string     `json:"id"`
	Direction  Direction  `json:"direction"`
	Stake      float64    `json:"stake"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Payout     float64    `json:"payout"`
	OpenedAt   time.Time  `json:"opened_at"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
}

// Wallet is the toy balance used by the prediction game
type Wallet struct {
	Balance   float64   `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
