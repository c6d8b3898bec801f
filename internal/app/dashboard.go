// Package app wires the data-fetch services, the price stream and both charts into
// one dashboard state object and keeps it fresh with background timers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/zec-tracker/internal/cache"
	"github.com/codyseavey/zec-tracker/internal/chart"
	"github.com/codyseavey/zec-tracker/internal/config"
	"github.com/codyseavey/zec-tracker/internal/format"
	"github.com/codyseavey/zec-tracker/internal/game"
	"github.com/codyseavey/zec-tracker/internal/models"
	"github.com/codyseavey/zec-tracker/internal/stream"
)

var (
	ErrInvalidMode     = errors.New("invalid mode")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrNoPrice         = errors.New("no live price yet")
	ErrGameDisabled    = errors.New("game is not enabled")
)

type MarketData interface {
	FetchCurrentQuote(ctx context.Context, currency string) *models.LiveQuote
	FetchHistoricalSeries(ctx context.Context, tf models.Timeframe, currency string) models.Series
	FetchCirculatingSupply(ctx context.Context) *float64
	FetchSimplePrice(ctx context.Context, currency string) *float64
}

type ShieldedData interface {
	FetchShieldedSupplySeries(ctx context.Context) models.Series
	FetchShieldedSupplyHourly(ctx context.Context) models.Series
	FetchLiveShieldedSnapshot(ctx context.Context) *models.ShieldedSupplySnapshot
}

type Listings interface {
	FetchListings(ctx context.Context, keyword string) []models.MarketListing
}

type Recorder interface {
	Record(snap *models.ShieldedSupplySnapshot) error
}

// Deps are the collaborators of a Dashboard. Recorder, Listings and Game are optional.
type Deps struct {
	Market    MarketData
	Shielded  ShieldedData
	Listings  Listings
	Recorder  Recorder
	Cache     *cache.Cache
	Game      *game.Game
	Publisher Publisher
	Dialer    stream.Dialer
}

// View is a point-in-time copy of everything the dashboard displays
type View struct {
	Mode           models.Mode                    `json:"mode"`
	Currency       string                         `json:"currency"`
	Ready          bool                           `json:"ready"`
	Connection     models.ConnectionState         `json:"connection"`
	Price          float64                        `json:"price"`
	PriceText      string                         `json:"price_text"`
	Title          string                         `json:"title"`
	Quote          *models.LiveQuote              `json:"quote,omitempty"`
	Stats          *StatsFrame                    `json:"stats,omitempty"`
	PriceChart     chart.Frame                    `json:"price_chart"`
	SupplyChart    chart.Frame                    `json:"supply_chart"`
	ShieldedTotal  float64                        `json:"shielded_total"`
	ShieldedText   string                         `json:"shielded_text"`
	ShieldedShare  string                         `json:"shielded_share,omitempty"`
	Snapshot       *models.ShieldedSupplySnapshot `json:"snapshot,omitempty"`
	NextSupplyPoll time.Time                      `json:"next_supply_poll"`
	Listings       []models.MarketListing         `json:"listings,omitempty"`
	Game           *game.State                    `json:"game,omitempty"`
}

// Dashboard is the explicit state object behind the UI. Charts, stream and timers
// all hang off it; nothing is package-global.
type Dashboard struct {
	cfg     config.Config
	deps    Deps
	price   *chart.Chart
	supply  *chart.Chart
	counter *chart.Animator
	stream  *stream.Client
	retime  chan struct{}

	mu             sync.RWMutex
	mode           models.Mode
	currency       string
	ready          bool
	connection     models.ConnectionState
	quote          *models.LiveQuote
	livePrice      float64
	priceText      string
	snapshot       *models.ShieldedSupplySnapshot
	circulating    float64
	nextSupplyPoll time.Time
	listings       []models.MarketListing
}

func New(cfg config.Config, deps Deps) *Dashboard {
	if deps.Publisher == nil {
		deps.Publisher = PublisherFunc(func(Event) {})
	}
	currency := strings.ToLower(cfg.DefaultCurrency)
	if currency == "" {
		currency = "usd"
	}

	d := &Dashboard{
		cfg:        cfg,
		deps:       deps,
		retime:     make(chan struct{}, 1),
		mode:       models.ModeDashboard,
		currency:   currency,
		connection: models.ConnectionConnecting,
	}

	render := chart.RendererFunc(func(f chart.Frame) {
		d.deps.Publisher.Publish(Event{Type: EventChart, Data: f})
	})
	d.price = chart.New(chart.PriceOptions(chart.SourceFunc(d.loadPrice), render))
	d.supply = chart.New(chart.SupplyOptions(chart.SourceFunc(d.loadSupply), render))
	d.counter = chart.NewAnimator(chart.DefaultCountUpDuration, 0, d.renderSupply)

	d.stream = stream.New(stream.Config{
		URL:             cfg.StreamURL,
		StreamCurrency:  cfg.StreamCurrency,
		DisplayCurrency: currency,
		Dialer:          deps.Dialer,
		Prices:          deps.Market,
		OnTick:          d.handleTick,
		OnState:         d.handleState,
	})
	return d
}

func (d *Dashboard) loadPrice(ctx context.Context, tf models.Timeframe) models.Series {
	return d.deps.Market.FetchHistoricalSeries(ctx, tf, d.Currency())
}

func (d *Dashboard) loadSupply(ctx context.Context, tf models.Timeframe) models.Series {
	if tf == models.Timeframe1D {
		return d.deps.Shielded.FetchShieldedSupplyHourly(ctx)
	}
	return d.deps.Shielded.FetchShieldedSupplySeries(ctx)
}

// Run starts the stream and the timers, fetches the initial data in the background
// and serves until ctx is cancelled. Everything Run starts is torn down before it
// returns, including when it unwinds from a panic.
func (d *Dashboard) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		d.counter.Stop()
		log.Println("Dashboard: stopped")
	}()

	// The cached currency decides what the stream accepts, so it is read first
	d.paintFromCache(ctx)

	wg.Add(2)
	go func() {
		defer wg.Done()
		d.stream.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in dashboard bootstrap: %v", r)
			}
		}()
		d.fetchInitial(ctx)
	}()

	d.loop(ctx)
}

// Bootstrap paints cached values, then fetches quote, history and supply and waits
// for them. Run does the same without waiting.
func (d *Dashboard) Bootstrap(ctx context.Context) {
	d.paintFromCache(ctx)
	d.fetchInitial(ctx)
}

// fetchInitial fetches quote, price history, supply and circulating supply in
// parallel. Each chart is initialized as soon as its own data resolves and the view
// is revealed on the first data from any source.
func (d *Dashboard) fetchInitial(ctx context.Context) {
	currency := d.Currency()

	var (
		history  models.Series
		shielded models.Series
		snap     *models.ShieldedSupplySnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if q := d.deps.Market.FetchCurrentQuote(gctx, currency); q != nil {
			d.applyQuote(ctx, q)
		}
		return nil
	})
	g.Go(func() error {
		history = d.deps.Market.FetchHistoricalSeries(gctx, d.price.Timeframe(), currency)
		if d.Currency() != currency {
			return nil
		}
		d.price.Initialize(history, d.LivePrice())
		if len(history) > 0 {
			d.reveal()
		}
		return nil
	})
	g.Go(func() error {
		shielded, snap = d.fetchSupply(gctx)
		return nil
	})
	g.Go(func() error {
		if supply := d.deps.Market.FetchCirculatingSupply(gctx); supply != nil {
			d.mu.Lock()
			d.circulating = *supply
			d.mu.Unlock()
		}
		return nil
	})
	_ = g.Wait()

	log.Printf("Dashboard: bootstrapped (%s, %d price points, %d supply points, live snapshot %v)",
		currency, len(history), len(shielded), snap != nil)
}

// fetchSupply loads the dataset and the live snapshot together, then initializes the
// supply chart and headline from them
func (d *Dashboard) fetchSupply(ctx context.Context) (models.Series, *models.ShieldedSupplySnapshot) {
	var (
		shielded models.Series
		snap     *models.ShieldedSupplySnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shielded = d.deps.Shielded.FetchShieldedSupplySeries(gctx)
		return nil
	})
	g.Go(func() error {
		snap = d.deps.Shielded.FetchLiveShieldedSnapshot(gctx)
		return nil
	})
	_ = g.Wait()

	var supplyLive float64
	if snap != nil {
		supplyLive = snap.Total
	}
	d.supply.Initialize(shielded, supplyLive)

	switch {
	case snap != nil:
		d.applySnapshot(snap, false)
	case len(shielded) > 0:
		last, _ := shielded.Last()
		d.counter.Set(last.Value)
	}
	if len(shielded) > 0 || snap != nil {
		d.reveal()
	}
	return shielded, snap
}

func (d *Dashboard) paintFromCache(ctx context.Context) {
	c := d.deps.Cache
	if cur, ok := c.Currency(ctx); ok {
		d.mu.Lock()
		d.currency = strings.ToLower(cur)
		d.mu.Unlock()
		d.stream.SetCurrency(cur)
	}
	currency := d.Currency()

	painted := false
	if p, ok := c.LastPrice(ctx); ok && strings.EqualFold(p.Currency, currency) {
		d.mu.Lock()
		d.livePrice = p.Price
		d.priceText = format.Price(p.Price, currency)
		d.mu.Unlock()
		d.deps.Publisher.Publish(Event{Type: EventPrice, Data: PriceFrame{
			Price:     p.Price,
			Currency:  currency,
			Text:      format.Price(p.Price, currency),
			Title:     format.Title(p.Price, currency),
			Direction: models.DirectionFlat,
			Roll:      format.RollDigits("", format.Price(p.Price, currency)),
		}})
		painted = true
	}
	if q, ok := c.Stats(ctx); ok && strings.EqualFold(q.Currency, currency) {
		d.mu.Lock()
		d.quote = q
		d.mu.Unlock()
		d.deps.Publisher.Publish(Event{Type: EventStats, Data: statsFrame(q)})
		painted = true
	}
	if painted {
		d.reveal()
	}
}

func (d *Dashboard) reveal() {
	d.mu.Lock()
	already := d.ready
	d.ready = true
	d.mu.Unlock()
	if !already {
		d.deps.Publisher.Publish(Event{Type: EventReady, Data: true})
	}
}

// applyQuote stores fresh 24h stats. While the stream delivers live trades in the
// displayed currency those win; otherwise the quote price is the newest price.
func (d *Dashboard) applyQuote(ctx context.Context, q *models.LiveQuote) {
	d.mu.Lock()
	if q.Currency != d.currency {
		d.mu.Unlock()
		return
	}
	d.quote = q
	prev := d.livePrice
	apply := prev == 0 || !d.streamingLocked()
	if q.CirculatingSupply > 0 {
		d.circulating = q.CirculatingSupply
	}
	d.mu.Unlock()

	d.deps.Publisher.Publish(Event{Type: EventStats, Data: statsFrame(q)})
	if apply && q.Price > 0 {
		dir := models.DirectionFlat
		if prev > 0 {
			dir = models.DirectionOf(prev, q.Price)
		}
		d.applyPrice(ctx, stream.Tick{Price: q.Price, Previous: prev, Currency: q.Currency, Direction: dir, Polled: true, At: time.Now()})
	}
	d.reveal()
}

// streamingLocked reports whether live trades for the displayed currency are flowing
func (d *Dashboard) streamingLocked() bool {
	return d.connection == models.ConnectionConnected && strings.EqualFold(d.currency, d.cfg.StreamCurrency)
}

func (d *Dashboard) handleTick(t stream.Tick) {
	d.applyPrice(context.Background(), t)
}

// applyPrice is the per-tick path: headline, title, digit roll, live tip and cache
func (d *Dashboard) applyPrice(ctx context.Context, t stream.Tick) {
	d.mu.Lock()
	if t.Currency != d.currency {
		d.mu.Unlock()
		return
	}
	prevText := d.priceText
	text := format.Price(t.Price, t.Currency)
	d.livePrice = t.Price
	d.priceText = text
	d.mu.Unlock()

	d.price.ApplyLiveTip(t.Price, t.At)
	d.deps.Cache.SetLastPrice(ctx, t.Price, t.Currency)

	frame := PriceFrame{
		Price:     t.Price,
		Currency:  t.Currency,
		Text:      text,
		Title:     format.Title(t.Price, t.Currency),
		Direction: t.Direction,
		Roll:      format.RollDigits(prevText, text),
		Polled:    t.Polled,
	}
	if t.Direction != models.DirectionFlat {
		frame.FlashMS = FlashDuration
	}
	d.deps.Publisher.Publish(Event{Type: EventPrice, Data: frame})
	d.reveal()
}

func (d *Dashboard) handleState(s models.ConnectionState) {
	d.mu.Lock()
	d.connection = s
	d.mu.Unlock()
	d.deps.Publisher.Publish(Event{Type: EventConnection, Data: s})
}

// applySnapshot records a live supply snapshot and moves the headline to it
func (d *Dashboard) applySnapshot(snap *models.ShieldedSupplySnapshot, animate bool) {
	d.mu.Lock()
	d.snapshot = snap
	d.mu.Unlock()

	if d.deps.Recorder != nil {
		if err := d.deps.Recorder.Record(snap); err != nil {
			log.Printf("Dashboard: failed to record snapshot %d: %v", snap.BlockHeight, err)
		}
	}
	if animate {
		d.counter.AnimateTo(snap.Total)
	} else {
		d.counter.Set(snap.Total)
	}
}

func (d *Dashboard) renderSupply(f chart.AnimationFrame) {
	d.deps.Publisher.Publish(Event{Type: EventSupply, Data: SupplyFrame{
		Value:     f.Value,
		Text:      format.Supply(f.Value),
		Percent:   d.shieldedShare(f.Value),
		Direction: f.Direction,
		Done:      f.Done,
	}})
}

// shieldedShare is the shielded total as a whole percent of circulating supply
func (d *Dashboard) shieldedShare(total float64) string {
	d.mu.RLock()
	circulating := d.circulating
	d.mu.RUnlock()
	if circulating <= 0 || total <= 0 {
		return ""
	}
	return fmt.Sprintf("%d%%", int(math.Round(total/circulating*100)))
}

// priceRefreshDelay is evaluated after every refresh so a timeframe change made
// while a refresh was in flight takes effect on the next schedule
func (d *Dashboard) priceRefreshDelay() time.Duration {
	if d.price.Timeframe() == models.Timeframe1H {
		return d.cfg.PriceRefreshFast
	}
	return d.cfg.PriceRefreshSlow
}

func (d *Dashboard) loop(ctx context.Context) {
	priceTimer := time.NewTimer(d.priceRefreshDelay())
	defer priceTimer.Stop()
	supplyTicker := time.NewTicker(d.cfg.SupplyPollInterval)
	defer supplyTicker.Stop()
	progressTicker := time.NewTicker(time.Second)
	defer progressTicker.Stop()
	d.scheduleSupplyPoll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-priceTimer.C:
			d.refreshPrice(ctx)
			priceTimer.Reset(d.priceRefreshDelay())
		case <-d.retime:
			if !priceTimer.Stop() {
				select {
				case <-priceTimer.C:
				default:
				}
			}
			priceTimer.Reset(d.priceRefreshDelay())
		case <-supplyTicker.C:
			d.pollSupply(ctx)
			d.scheduleSupplyPoll()
		case <-progressTicker.C:
			d.publishProgress()
		}
	}
}

func (d *Dashboard) refreshPrice(ctx context.Context) {
	if q := d.deps.Market.FetchCurrentQuote(ctx, d.Currency()); q != nil {
		d.applyQuote(ctx, q)
	}
	d.price.Refresh(ctx)
}

func (d *Dashboard) pollSupply(ctx context.Context) {
	snap := d.deps.Shielded.FetchLiveShieldedSnapshot(ctx)
	if snap == nil {
		return
	}
	d.supply.ApplyLiveTip(snap.Total, snap.BlockTime)
	d.applySnapshot(snap, true)
}

func (d *Dashboard) scheduleSupplyPoll() {
	d.mu.Lock()
	d.nextSupplyPoll = time.Now().Add(d.cfg.SupplyPollInterval)
	d.mu.Unlock()
}

func (d *Dashboard) publishProgress() {
	d.mu.RLock()
	next := d.nextSupplyPoll
	d.mu.RUnlock()

	remaining := time.Until(next)
	if remaining < 0 {
		remaining = 0
	}
	fraction := 1 - float64(remaining)/float64(d.cfg.SupplyPollInterval)
	d.deps.Publisher.Publish(Event{Type: EventProgress, Data: ProgressFrame{
		RemainingMS: remaining.Milliseconds(),
		Fraction:    math.Max(0, math.Min(1, fraction)),
	}})
}

// TogglePriceTimeframe advances the price chart and reschedules the refresh timer
func (d *Dashboard) TogglePriceTimeframe(ctx context.Context) (models.Timeframe, error) {
	tf, err := d.price.ToggleTimeframe(ctx)
	if err == nil {
		select {
		case d.retime <- struct{}{}:
		default:
		}
	}
	return tf, err
}

func (d *Dashboard) ToggleSupplyTimeframe(ctx context.Context) (models.Timeframe, error) {
	return d.supply.ToggleTimeframe(ctx)
}

// SetMode switches between the dashboard and the game. Entering the game loads
// the prediction market listings.
func (d *Dashboard) SetMode(ctx context.Context, mode models.Mode) error {
	if mode != models.ModeDashboard && mode != models.ModeGame {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	d.mu.Lock()
	d.mode = mode
	d.mu.Unlock()
	d.deps.Publisher.Publish(Event{Type: EventMode, Data: mode})

	if mode != models.ModeGame || d.deps.Listings == nil {
		return nil
	}
	listings := d.deps.Listings.FetchListings(ctx, d.cfg.MarketsKeyword)
	if listings == nil {
		return nil
	}
	d.mu.Lock()
	d.listings = listings
	d.mu.Unlock()
	d.deps.Publisher.Publish(Event{Type: EventListings, Data: listings})
	return nil
}

// SetCurrency switches the display currency. The old price is dropped at once; the
// chart keeps its series until the new currency's data has arrived.
func (d *Dashboard) SetCurrency(ctx context.Context, currency string) error {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if len(currency) < 3 || len(currency) > 5 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}

	d.mu.Lock()
	if currency == d.currency {
		d.mu.Unlock()
		return nil
	}
	d.currency = currency
	d.livePrice = 0
	d.priceText = ""
	d.quote = nil
	d.mu.Unlock()

	d.deps.Cache.SetCurrency(ctx, currency)
	d.stream.SetCurrency(currency)

	err := d.price.Reload(ctx)
	if q := d.deps.Market.FetchCurrentQuote(ctx, currency); q != nil {
		d.applyQuote(ctx, q)
	}
	return err
}

// Reconnect asks the stream to dial immediately
func (d *Dashboard) Reconnect() {
	d.stream.Reconnect()
}

// PlaceBet opens a game round at the current live price
func (d *Dashboard) PlaceBet(ctx context.Context, dir models.Direction, stake float64) (models.Round, error) {
	if d.deps.Game == nil {
		return models.Round{}, ErrGameDisabled
	}
	price := d.LivePrice()
	if price <= 0 {
		return models.Round{}, ErrNoPrice
	}
	round, err := d.deps.Game.PlaceBet(ctx, dir, stake, price)
	if err == nil {
		d.publishGame()
	}
	return round, err
}

// SettleRound closes the open round at the current live price
func (d *Dashboard) SettleRound(ctx context.Context) (models.Round, error) {
	if d.deps.Game == nil {
		return models.Round{}, ErrGameDisabled
	}
	price := d.LivePrice()
	if price <= 0 {
		return models.Round{}, ErrNoPrice
	}
	round, err := d.deps.Game.Settle(ctx, price)
	if err == nil {
		d.publishGame()
	}
	return round, err
}

func (d *Dashboard) publishGame() {
	d.deps.Publisher.Publish(Event{Type: EventGame, Data: d.deps.Game.State()})
}

func (d *Dashboard) Currency() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currency
}

func (d *Dashboard) LivePrice() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.livePrice
}

// View returns a copy of the current display state
func (d *Dashboard) View() View {
	priceFrame := d.price.Snapshot()
	supplyFrame := d.supply.Snapshot()
	total := d.counter.Value()

	d.mu.RLock()
	v := View{
		Mode:           d.mode,
		Currency:       d.currency,
		Ready:          d.ready,
		Connection:     d.connection,
		Price:          d.livePrice,
		PriceText:      d.priceText,
		PriceChart:     priceFrame,
		SupplyChart:    supplyFrame,
		ShieldedTotal:  total,
		ShieldedText:   format.Supply(total),
		NextSupplyPoll: d.nextSupplyPoll,
		Listings:       append([]models.MarketListing(nil), d.listings...),
	}
	if d.livePrice > 0 {
		v.Title = format.Title(d.livePrice, d.currency)
	}
	if d.quote != nil {
		q := *d.quote
		v.Quote = &q
		s := statsFrame(&q)
		v.Stats = &s
	}
	if d.snapshot != nil {
		s := *d.snapshot
		v.Snapshot = &s
	}
	d.mu.RUnlock()

	v.ShieldedShare = d.shieldedShare(total)
	if d.deps.Game != nil {
		s := d.deps.Game.State()
		v.Game = &s
	}
	return v
}
