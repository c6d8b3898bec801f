package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"github.com/codyseavey/zec-tracker/internal/models"
)

// Keys of the persisted entries
const (
	KeyLastPrice = "last_price"
	KeyStats     = "stats"
	KeyCurrency  = "currency"
	KeyWallet    = "game_wallet"
	KeyRounds    = "game_rounds"
)

// CachedPrice is the last price painted, with the currency it was quoted in
type CachedPrice struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// Cache is the typed facade over a Store. Every read tolerates absence and
// corruption; every write logs its failure and continues.
type Cache struct {
	store Store
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// Options selects the backend for Open
type Options struct {
	Backend       string // sqlite, redis, memory
	DB            *gorm.DB
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds a Cache for the configured backend
func Open(ctx context.Context, opt Options) (*Cache, error) {
	switch strings.ToLower(opt.Backend) {
	case "", "sqlite":
		if opt.DB == nil {
			return nil, fmt.Errorf("sqlite cache backend requires a database")
		}
		return New(NewSQLStore(opt.DB)), nil
	case "redis":
		store, err := NewRedisStore(ctx, opt.RedisAddr, opt.RedisPassword, opt.RedisDB)
		if err != nil {
			return nil, err
		}
		return New(store), nil
	case "memory":
		store, err := NewMemoryStore(128)
		if err != nil {
			return nil, err
		}
		return New(store), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, opt.Backend)
	}
}

func (c *Cache) LastPrice(ctx context.Context) (CachedPrice, bool) {
	var p CachedPrice
	ok := c.get(ctx, KeyLastPrice, &p)
	return p, ok && p.Price > 0
}

func (c *Cache) SetLastPrice(ctx context.Context, price float64, currency string) {
	c.set(ctx, KeyLastPrice, CachedPrice{Price: price, Currency: currency})
}

func (c *Cache) Stats(ctx context.Context) (*models.LiveQuote, bool) {
	var q models.LiveQuote
	if !c.get(ctx, KeyStats, &q) {
		return nil, false
	}
	return &q, true
}

func (c *Cache) SetStats(ctx context.Context, q *models.LiveQuote) {
	if q == nil {
		return
	}
	c.set(ctx, KeyStats, q)
}

func (c *Cache) Currency(ctx context.Context) (string, bool) {
	var cur string
	ok := c.get(ctx, KeyCurrency, &cur)
	return cur, ok && cur != ""
}

func (c *Cache) SetCurrency(ctx context.Context, currency string) {
	c.set(ctx, KeyCurrency, currency)
}

func (c *Cache) Wallet(ctx context.Context) (models.Wallet, bool) {
	var w models.Wallet
	ok := c.get(ctx, KeyWallet, &w)
	return w, ok
}

func (c *Cache) SetWallet(ctx context.Context, w models.Wallet) {
	c.set(ctx, KeyWallet, w)
}

func (c *Cache) Rounds(ctx context.Context) ([]models.Round, bool) {
	var rounds []models.Round
	ok := c.get(ctx, KeyRounds, &rounds)
	return rounds, ok
}

func (c *Cache) SetRounds(ctx context.Context, rounds []models.Round) {
	c.set(ctx, KeyRounds, rounds)
}

func (c *Cache) get(ctx context.Context, key string, out any) bool {
	if c == nil || c.store == nil {
		return false
	}
	raw, ok := c.store.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("Cache: ignoring corrupt entry %q: %v", key, err)
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	if c == nil || c.store == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("Cache: failed to encode %q: %v", key, err)
		return
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		log.Printf("Cache: failed to write %q: %v", key, err)
	}
}
