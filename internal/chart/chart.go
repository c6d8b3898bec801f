// Package chart owns the displayed series of a chart: timeframe selection, the live
// tip, axis locking and the derived percent-change label. It renders nothing
// itself; every visible change is emitted as a Frame.
package chart

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codyseavey/zec-tracker/internal/metrics"
	"github.com/codyseavey/zec-tracker/internal/models"
)

// ErrTimeframeUnavailable means the next timeframe's data could not be loaded and
// the previous timeframe is still displayed
var ErrTimeframeUnavailable = errors.New("timeframe data unavailable")

// Source loads the historical series for a timeframe. Nil means no data.
type Source interface {
	Load(ctx context.Context, tf models.Timeframe) models.Series
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, tf models.Timeframe) models.Series

func (f SourceFunc) Load(ctx context.Context, tf models.Timeframe) models.Series {
	return f(ctx, tf)
}

// Frame is a declarative render instruction for one chart
type Frame struct {
	Chart         string           `json:"chart"`
	Timeframe     models.Timeframe `json:"timeframe"`
	Series        models.Series    `json:"series"`
	Label         Label            `json:"label"`
	Axis          *AxisRange       `json:"axis,omitempty"`
	TooltipLayout string           `json:"tooltip_layout"`
	Animate       bool             `json:"animate"`
	Error         string           `json:"error,omitempty"`
}

// Renderer receives frames. It is called with the chart locked and must not call
// back into the Chart.
type Renderer interface {
	Render(Frame)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(Frame)

func (f RendererFunc) Render(fr Frame) { f(fr) }

type Options struct {
	Name  string
	Cycle []models.Timeframe

	// Finest never gets a live tip appended on toggle
	Finest models.Timeframe
	// AxisLock pins the y-axis while this timeframe is active; empty disables
	AxisLock models.Timeframe
	// FullHistory is the timeframe whose series holds all history. Other timeframes
	// except Finest are cut from it instead of fetched. Empty disables derivation.
	FullHistory models.Timeframe

	Source   Source
	Renderer Renderer
	Now      func() time.Time
}

// PriceOptions configures the price chart: every timeframe is fetched and the
// hourly view is axis-locked
func PriceOptions(src Source, r Renderer) Options {
	return Options{
		Name:     "price",
		Cycle:    models.PriceCycle(),
		Finest:   models.Timeframe1H,
		AxisLock: models.Timeframe1H,
		Source:   src,
		Renderer: r,
	}
}

// SupplyOptions configures the shielded supply chart: views are cut from the daily
// dataset except the one day view, which needs the recent fine-grained window
func SupplyOptions(src Source, r Renderer) Options {
	return Options{
		Name:        "supply",
		Cycle:       models.SupplyCycle(),
		Finest:      models.Timeframe1D,
		FullHistory: models.TimeframeAll,
		Source:      src,
		Renderer:    r,
	}
}

type Chart struct {
	opts   Options
	flight singleflight.Group

	mu    sync.Mutex
	tf    models.Timeframe
	base  models.Series
	tip   *models.PricePoint
	full  models.Series
	live  float64
	label Label
	axis  *AxisRange
	gen   uint64
}

func New(opts Options) *Chart {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Renderer == nil {
		opts.Renderer = RendererFunc(func(Frame) {})
	}
	tf := models.Timeframe("")
	if len(opts.Cycle) > 0 {
		tf = opts.Cycle[0]
	}
	return &Chart{opts: opts, tf: tf}
}

// Initialize sets the first timeframe's series. live, when positive, is the best
// known current value; otherwise a tip already applied is kept.
func (c *Chart) Initialize(historical models.Series, live float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.base = historical.Clone()
	if c.tf == c.opts.FullHistory && len(historical) > 0 {
		c.full = historical.Clone()
	}
	c.tip = nil
	// A tick may have arrived before the history did
	if live > 0 {
		c.live = live
	}
	if c.live > 0 && c.tf != c.opts.Finest {
		c.setTip(c.live, c.opts.Now())
	}
	c.axis = nil
	c.update()
	c.emit(true, "")
}

// ToggleTimeframe advances to the next timeframe in the cycle. Concurrent calls share
// the one in-flight toggle. On failure the previous timeframe and series stay
// displayed and ErrTimeframeUnavailable is returned.
func (c *Chart) ToggleTimeframe(ctx context.Context) (models.Timeframe, error) {
	v, err, _ := c.flight.Do("toggle", func() (any, error) {
		return c.toggle(ctx)
	})
	tf, _ := v.(models.Timeframe)
	return tf, err
}

func (c *Chart) toggle(ctx context.Context) (models.Timeframe, error) {
	c.mu.Lock()
	from, gen, full := c.tf, c.gen, c.full
	next := c.next(from)
	c.mu.Unlock()

	series, newFull := c.resolve(ctx, next, full)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		metrics.StaleResultsTotal.WithLabelValues(c.opts.Name).Inc()
		return c.tf, nil
	}
	if len(series) == 0 {
		metrics.TimeframeTogglesTotal.WithLabelValues(c.opts.Name, "reverted").Inc()
		c.emit(false, "toggle-failed")
		return from, ErrTimeframeUnavailable
	}

	c.gen++
	c.tf = next
	c.base = series
	if newFull != nil {
		c.full = newFull
	}
	c.tip = nil
	if c.live > 0 && next != c.opts.Finest {
		c.setTip(c.live, c.opts.Now())
	}
	c.axis = nil
	c.update()
	metrics.TimeframeTogglesTotal.WithLabelValues(c.opts.Name, "ok").Inc()
	c.emit(true, "")
	return next, nil
}

// ApplyLiveTip replaces the trailing live point without refetching
func (c *Chart) ApplyLiveTip(value float64, at time.Time) {
	if !(value > 0) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.live = value
	c.setTip(value, at)
	c.update()
	c.emit(false, "")
}

// Refresh re-pulls the active timeframe in the background. The result is dropped if
// the timeframe changed while the fetch was in flight. Reports whether it applied.
func (c *Chart) Refresh(ctx context.Context) bool {
	c.mu.Lock()
	tf, gen := c.tf, c.gen
	c.mu.Unlock()

	// Refresh always reloads full history rather than reusing the held copy
	series, newFull := c.resolve(ctx, tf, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.tf != tf {
		metrics.StaleResultsTotal.WithLabelValues(c.opts.Name).Inc()
		return false
	}
	if len(series) == 0 {
		return false
	}

	c.base = series
	if newFull != nil {
		c.full = newFull
	}
	if c.tip != nil {
		c.setTip(c.tip.Value, c.tip.Timestamp)
	}
	c.update()
	c.emit(false, "")
	return true
}

// Reload refetches the active timeframe after a change the held data no longer
// reflects, such as the display currency. In-flight refreshes are invalidated. The
// series is swapped only once the new data arrives.
func (c *Chart) Reload(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	tf, gen := c.tf, c.gen
	c.live = 0
	c.mu.Unlock()

	series, newFull := c.resolve(ctx, tf, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		metrics.StaleResultsTotal.WithLabelValues(c.opts.Name).Inc()
		return nil
	}
	if len(series) == 0 {
		c.emit(false, "reload-failed")
		return ErrTimeframeUnavailable
	}

	c.gen++
	c.base = series
	if newFull != nil {
		c.full = newFull
	}
	c.tip = nil
	if c.live > 0 && tf != c.opts.Finest {
		c.setTip(c.live, c.opts.Now())
	}
	c.axis = nil
	c.update()
	c.emit(true, "")
	return nil
}

// resolve produces the series for tf. full, when non-nil, is reused for derived
// timeframes. The returned full history is non-nil when one was fetched.
func (c *Chart) resolve(ctx context.Context, tf models.Timeframe, full models.Series) (models.Series, models.Series) {
	if c.opts.Source == nil {
		return nil, nil
	}
	if c.opts.FullHistory == "" || tf == c.opts.Finest {
		return c.opts.Source.Load(ctx, tf), nil
	}

	var fetched models.Series
	if len(full) == 0 {
		fetched = c.opts.Source.Load(ctx, c.opts.FullHistory)
		if len(fetched) == 0 {
			return nil, nil
		}
		full = fetched
	}
	if tf == c.opts.FullHistory {
		return full.Clone(), fetched
	}
	return full.Since(c.opts.Now().Add(-tf.Window())), fetched
}

func (c *Chart) next(tf models.Timeframe) models.Timeframe {
	for i, t := range c.opts.Cycle {
		if t == tf {
			return c.opts.Cycle[(i+1)%len(c.opts.Cycle)]
		}
	}
	if len(c.opts.Cycle) > 0 {
		return c.opts.Cycle[0]
	}
	return tf
}

// setTip keeps the tip strictly the last point of the active series
func (c *Chart) setTip(value float64, at time.Time) {
	if last, ok := c.base.Last(); ok && !at.After(last.Timestamp) {
		at = last.Timestamp.Add(time.Millisecond)
	}
	c.tip = &models.PricePoint{Timestamp: at, Value: value}
}

// active is the historical series plus the live tip, if any
func (c *Chart) active() models.Series {
	out := make(models.Series, 0, len(c.base)+1)
	out = append(out, c.base...)
	if c.tip != nil {
		out = append(out, *c.tip)
	}
	return out
}

// update recomputes the label and the axis lock from the active series. A lock is
// kept across refreshes and only widened when new data leaves the pinned range.
func (c *Chart) update() {
	series := c.active()
	c.label = computeLabel(c.tf, series)

	if c.opts.AxisLock == "" || c.tf != c.opts.AxisLock {
		c.axis = nil
		return
	}
	min, max, ok := series.MinMax()
	if !ok {
		c.axis = nil
		return
	}
	if !c.axis.contains(min, max) {
		c.axis = LockAxisRange(series)
	}
}

func (c *Chart) frame(animate bool, errMsg string) Frame {
	var axis *AxisRange
	if c.axis != nil {
		a := *c.axis
		axis = &a
	}
	return Frame{
		Chart:         c.opts.Name,
		Timeframe:     c.tf,
		Series:        c.active(),
		Label:         c.label,
		Axis:          axis,
		TooltipLayout: c.tf.TooltipLayout(),
		Animate:       animate,
		Error:         errMsg,
	}
}

func (c *Chart) emit(animate bool, errMsg string) {
	c.opts.Renderer.Render(c.frame(animate, errMsg))
}

// Timeframe returns the active timeframe
func (c *Chart) Timeframe() models.Timeframe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tf
}

// Series returns a copy of the active series including the live tip
func (c *Chart) Series() models.Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active()
}

// Label returns the current derived label
func (c *Chart) Label() Label {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// Snapshot returns the frame that would be rendered now
func (c *Chart) Snapshot() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame(false, "")
}
