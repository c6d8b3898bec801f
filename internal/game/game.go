// Package game is the toy up/down prediction game played against the live price.
// Balances are play money persisted through the cache.
package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codyseavey/zec-tracker/internal/cache"
	"github.com/codyseavey/zec-tracker/internal/format"
	"github.com/codyseavey/zec-tracker/internal/models"
)

const (
	StartingBalance = 1000.0
	MaxHistory      = 50
	payoutMultiple  = 2.0
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRoundOpen           = errors.New("a round is already open")
	ErrNoRound             = errors.New("no open round")
	ErrInvalidBet          = errors.New("invalid bet")
)

// State is the wallet plus round history, newest first
type State struct {
	Wallet  models.Wallet  `json:"wallet"`
	Open    *models.Round  `json:"open,omitempty"`
	History []models.Round `json:"history"`
}

type Game struct {
	cache *cache.Cache
	now   func() time.Time

	mu      sync.Mutex
	wallet  models.Wallet
	open    *models.Round
	history []models.Round
}

// Load restores the wallet and history from the cache. A missing or corrupt wallet
// starts fresh with StartingBalance.
func Load(ctx context.Context, c *cache.Cache) *Game {
	g := &Game{cache: c, now: time.Now}

	if w, ok := c.Wallet(ctx); ok && w.Balance >= 0 {
		g.wallet = w
	} else {
		g.wallet = models.Wallet{Balance: StartingBalance, UpdatedAt: g.now()}
	}

	if rounds, ok := c.Rounds(ctx); ok {
		for i := range rounds {
			r := rounds[i]
			if r.Outcome == models.OutcomePending {
				if g.open == nil {
					g.open = &r
				}
				continue
			}
			g.history = append(g.history, r)
		}
		if len(g.history) > MaxHistory {
			g.history = g.history[:MaxHistory]
		}
	}
	return g
}

// PlaceBet opens a round predicting the price will move in dir from entryPrice.
// The stake leaves the wallet immediately.
func (g *Game) PlaceBet(ctx context.Context, dir models.Direction, stake, entryPrice float64) (models.Round, error) {
	if dir != models.DirectionUp && dir != models.DirectionDown {
		return models.Round{}, fmt.Errorf("%w: direction must be up or down", ErrInvalidBet)
	}
	if !(stake > 0) || !(entryPrice > 0) {
		return models.Round{}, fmt.Errorf("%w: stake and price must be positive", ErrInvalidBet)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open != nil {
		return models.Round{}, ErrRoundOpen
	}
	if stake > g.wallet.Balance {
		return models.Round{}, ErrInsufficientBalance
	}

	now := g.now()
	round := models.Round{
		ID:         uuid.NewString(),
		Direction:  dir,
		Stake:      format.Round2(stake),
		EntryPrice: entryPrice,
		Outcome:    models.OutcomePending,
		OpenedAt:   now,
	}
	g.wallet.Balance = format.Round2(g.wallet.Balance - round.Stake)
	g.wallet.UpdatedAt = now
	g.open = &round

	g.persist(ctx)
	log.Printf("Game: opened round %s (%s, stake %.2f at %.4f)", round.ID, dir, round.Stake, entryPrice)
	return round, nil
}

// Settle closes the open round at exitPrice. A correct call pays twice the stake,
// a wrong call forfeits it, and an unchanged price refunds it.
func (g *Game) Settle(ctx context.Context, exitPrice float64) (models.Round, error) {
	if !(exitPrice > 0) {
		return models.Round{}, fmt.Errorf("%w: exit price must be positive", ErrInvalidBet)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open == nil {
		return models.Round{}, ErrNoRound
	}
	round := *g.open
	now := g.now()
	round.ExitPrice = exitPrice
	round.SettledAt = &now

	switch moved := models.DirectionOf(round.EntryPrice, exitPrice); {
	case moved == models.DirectionFlat:
		round.Outcome = models.OutcomePush
		round.Payout = round.Stake
	case moved == round.Direction:
		round.Outcome = models.OutcomeWin
		round.Payout = format.Round2(round.Stake * payoutMultiple)
	default:
		round.Outcome = models.OutcomeLoss
		round.Payout = 0
	}

	g.wallet.Balance = format.Round2(g.wallet.Balance + round.Payout)
	g.wallet.UpdatedAt = now
	g.open = nil
	g.history = append([]models.Round{round}, g.history...)
	if len(g.history) > MaxHistory {
		g.history = g.history[:MaxHistory]
	}

	g.persist(ctx)
	log.Printf("Game: settled round %s: %s (payout %.2f, balance %.2f)", round.ID, round.Outcome, round.Payout, g.wallet.Balance)
	return round, nil
}

// Reset restores the starting balance and clears history
func (g *Game) Reset(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.wallet = models.Wallet{Balance: StartingBalance, UpdatedAt: g.now()}
	g.open = nil
	g.history = nil
	g.persist(ctx)
}

// State returns a copy of the wallet, open round and history
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := State{
		Wallet:  g.wallet,
		History: append([]models.Round{}, g.history...),
	}
	if g.open != nil {
		r := *g.open
		s.Open = &r
	}
	return s
}

// persist writes wallet and rounds; the open round is stored first
func (g *Game) persist(ctx context.Context) {
	g.cache.SetWallet(ctx, g.wallet)
	rounds := make([]models.Round, 0, len(g.history)+1)
	if g.open != nil {
		rounds = append(rounds, *g.open)
	}
	rounds = append(rounds, g.history...)
	g.cache.SetRounds(ctx, rounds)
}
