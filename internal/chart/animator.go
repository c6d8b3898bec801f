package chart

import (
	"math"
	"sync"
	"time"

	"github.com/codyseavey/zec-tracker/internal/models"
)

const (
	DefaultCountUpDuration = 1500 * time.Millisecond
	defaultFrameInterval   = time.Second / 30
)

// AnimationFrame is one step of a count-up. The final frame has Done set and
// carries the exact target value.
type AnimationFrame struct {
	Value     float64          `json:"value"`
	Direction models.Direction `json:"direction"`
	Done      bool             `json:"done"`
}

// Interpolate eases from toward to with a cubic ease-out. progress is clamped to
// [0, 1] and 1 returns to exactly.
func Interpolate(from, to, progress float64) float64 {
	if progress <= 0 {
		return from
	}
	if progress >= 1 {
		return to
	}
	eased := 1 - math.Pow(1-progress, 3)
	return from + (to-from)*eased
}

// Animator counts a headline number up (or down) to each new target. A new target
// cancels the running animation and starts from the value currently displayed.
type Animator struct {
	duration time.Duration
	interval time.Duration
	render   func(AnimationFrame)

	mu      sync.Mutex
	current float64
	target  float64
	gen     uint64
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewAnimator creates an Animator. render is called with the animator locked.
func NewAnimator(duration, interval time.Duration, render func(AnimationFrame)) *Animator {
	if duration <= 0 {
		duration = DefaultCountUpDuration
	}
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	if render == nil {
		render = func(AnimationFrame) {}
	}
	return &Animator{duration: duration, interval: interval, render: render}
}

// Value returns the value currently displayed
func (a *Animator) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Set jumps to v without animating
func (a *Animator) Set(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelLocked()
	a.current = v
	a.render(AnimationFrame{Value: v, Direction: models.DirectionFlat, Done: true})
}

// AnimateTo starts a count-up from the displayed value to target
func (a *Animator) AnimateTo(target float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop != nil && a.target == target {
		return
	}
	a.cancelLocked()
	from := a.current
	if from == target {
		return
	}
	a.target = target
	stop := make(chan struct{})
	a.stop = stop
	a.wg.Add(1)
	go a.run(a.gen, stop, from, target)
}

func (a *Animator) run(gen uint64, stop <-chan struct{}, from, to float64) {
	defer a.wg.Done()
	dir := models.DirectionOf(from, to)
	start := time.Now()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		progress := float64(time.Since(start)) / float64(a.duration)
		a.mu.Lock()
		if a.gen != gen {
			a.mu.Unlock()
			return
		}
		if progress >= 1 {
			a.current = to
			a.stop = nil
			a.render(AnimationFrame{Value: to, Direction: dir, Done: true})
			a.mu.Unlock()
			return
		}
		a.current = Interpolate(from, to, progress)
		a.render(AnimationFrame{Value: a.current, Direction: dir})
		a.mu.Unlock()
	}
}

func (a *Animator) cancelLocked() {
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	a.gen++
}

// Running reports whether a count-up is in progress
func (a *Animator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop != nil
}

// Stop cancels any running animation and waits for it to exit
func (a *Animator) Stop() {
	a.mu.Lock()
	a.cancelLocked()
	a.mu.Unlock()
	a.wg.Wait()
}

// Wait blocks until no animation goroutine is left
func (a *Animator) Wait() {
	a.wg.Wait()
}
