package game

import (
	"context"
	"errors"
	"testing"

	"github.com/codyseavey/zec-tracker/internal/cache"
	"github.com/codyseavey/zec-tracker/internal/models"
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := cache.NewMemoryStore(16)
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	return cache.New(store)
}

func TestGame_StartsWithDefaultBalance(t *testing.T) {
	g := Load(context.Background(), newCache(t))
	if got := g.State().Wallet.Balance; got != StartingBalance {
		t.Errorf("balance = %v, want %v", got, StartingBalance)
	}
}

func TestGame_Settle(t *testing.T) {
	tests := []struct {
		name        string
		direction   models.Direction
		exit        float64
		wantOutcome models.Outcome
		wantBalance float64
	}{
		{"up call wins", models.DirectionUp, 65, models.OutcomeWin, 1100},
		{"down call wins", models.DirectionDown, 63, models.OutcomeWin, 1100},
		{"up call loses", models.DirectionUp, 63, models.OutcomeLoss, 900},
		{"unchanged refunds", models.DirectionDown, 64, models.OutcomePush, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			g := Load(ctx, newCache(t))
			if _, err := g.PlaceBet(ctx, tt.direction, 100, 64); err != nil {
				t.Fatalf("PlaceBet() error: %v", err)
			}
			if got := g.State().Wallet.Balance; got != 900 {
				t.Errorf("balance after bet = %v, want 900", got)
			}

			round, err := g.Settle(ctx, tt.exit)
			if err != nil {
				t.Fatalf("Settle() error: %v", err)
			}
			if round.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s", round.Outcome, tt.wantOutcome)
			}
			if got := g.State().Wallet.Balance; got != tt.wantBalance {
				t.Errorf("balance = %v, want %v", got, tt.wantBalance)
			}
			if round.SettledAt == nil {
				t.Error("SettledAt not set")
			}
		})
	}
}

func TestGame_Errors(t *testing.T) {
	ctx := context.Background()
	g := Load(ctx, newCache(t))

	if _, err := g.Settle(ctx, 64); !errors.Is(err, ErrNoRound) {
		t.Errorf("Settle() without round = %v, want ErrNoRound", err)
	}
	if _, err := g.PlaceBet(ctx, models.DirectionUp, 5000, 64); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("PlaceBet() over balance = %v, want ErrInsufficientBalance", err)
	}
	if _, err := g.PlaceBet(ctx, models.DirectionFlat, 10, 64); !errors.Is(err, ErrInvalidBet) {
		t.Errorf("PlaceBet() flat = %v, want ErrInvalidBet", err)
	}
	if _, err := g.PlaceBet(ctx, models.DirectionUp, 10, 64); err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}
	if _, err := g.PlaceBet(ctx, models.DirectionUp, 10, 64); !errors.Is(err, ErrRoundOpen) {
		t.Errorf("second PlaceBet() = %v, want ErrRoundOpen", err)
	}
}

func TestGame_PersistsAcrossLoads(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	g := Load(ctx, c)
	g.PlaceBet(ctx, models.DirectionUp, 250, 60)
	g.Settle(ctx, 61)
	open, _ := g.PlaceBet(ctx, models.DirectionDown, 50, 61)

	reloaded := Load(ctx, c)
	s := reloaded.State()
	if s.Wallet.Balance != 1200 {
		t.Errorf("balance = %v, want 1200", s.Wallet.Balance)
	}
	if s.Open == nil || s.Open.ID != open.ID {
		t.Errorf("open round not restored: %+v", s.Open)
	}
	if len(s.History) != 1 || s.History[0].Outcome != models.OutcomeWin {
		t.Errorf("history = %+v", s.History)
	}
}

func TestGame_HistoryCapped(t *testing.T) {
	ctx := context.Background()
	g := Load(ctx, newCache(t))
	for i := 0; i < MaxHistory+5; i++ {
		if _, err := g.PlaceBet(ctx, models.DirectionUp, 1, 10); err != nil {
			t.Fatalf("PlaceBet() #%d error: %v", i, err)
		}
		if _, err := g.Settle(ctx, 10); err != nil {
			t.Fatalf("Settle() #%d error: %v", i, err)
		}
	}
	if got := len(g.State().History); got != MaxHistory {
		t.Errorf("len(history) = %d, want %d", got, MaxHistory)
	}
}
