// Package loop runs the decode loop: it advances the touch driver, consumes
// each completed measurement exactly once and renders the decoded pattern.
package loop

import (
	"context"
	"math/bits"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sweeney/touch-led/internal/led"
	"github.com/sweeney/touch-led/internal/logic"
	"github.com/sweeney/touch-led/internal/touch"
)

// Loop is the single consumer of a touch driver's completion signal.
// Tick and Run must be called from one goroutine; Stats and Results may be
// used from any goroutine.
type Loop struct {
	touch    touch.Driver
	leds     led.Driver
	decoder  *logic.Decoder
	now      func() time.Time
	interval time.Duration

	iterations atomic.Uint64
	decodes    atomic.Uint64
	dropped    atomic.Uint64
	last       atomic.Uint32 // state<<16 | pattern
	presses    [logic.MaxChannels]atomic.Uint64

	prev logic.TouchState // owned by the loop goroutine

	results chan logic.Result
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used to timestamp results.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithInterval paces Run to one tick per interval. Zero (the default)
// runs ticks back to back, yielding the processor between them.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

// New creates a loop. The LED driver must already be initialized and reset.
func New(t touch.Driver, leds led.Driver, dec *logic.Decoder, opts ...Option) *Loop {
	l := &Loop{
		touch:   t,
		leds:    leds,
		decoder: dec,
		now:     time.Now,
		results: make(chan logic.Result, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Tick runs one iteration and reports whether a decode happened.
func (l *Loop) Tick() bool {
	l.iterations.Add(1)
	l.touch.Advance()

	if !l.touch.IsMeasurementComplete() {
		return false
	}
	// Clear before reading: a completion that lands after this point
	// raises the flag again and is decoded on a later tick.
	l.touch.ClearMeasurementComplete()
	state := l.touch.ReadTouchState()

	p := l.decoder.Decode(state)
	l.leds.Render(p)

	for v := uint16(logic.Rising(l.prev, state)); v != 0; v &= v - 1 {
		l.presses[bits.TrailingZeros16(v)].Add(1)
	}
	l.prev = state

	seq := l.decodes.Add(1)
	l.last.Store(uint32(state)<<16 | uint32(p))
	l.offer(logic.Result{
		Timestamp: l.now(),
		State:     state,
		Pattern:   p,
		Seq:       seq,
	})
	return true
}

// offer hands a result to the Results reader without blocking. An unread
// result is replaced by the newer one.
func (l *Loop) offer(r logic.Result) {
	select {
	case l.results <- r:
		return
	default:
	}
	select {
	case <-l.results:
		l.dropped.Add(1)
	default:
	}
	select {
	case l.results <- r:
	default:
		l.dropped.Add(1)
	}
}

// Results delivers decode results. Only the latest unread result is kept.
func (l *Loop) Results() <-chan logic.Result {
	return l.results
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	done := ctx.Done()

	if l.interval <= 0 {
		for {
			select {
			case <-done:
				return nil
			default:
			}
			l.Tick()
			runtime.Gosched()
		}
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Stats is a point-in-time view of loop counters.
type Stats struct {
	Iterations  uint64
	Decodes     uint64
	Dropped     uint64 // results replaced before being read
	RenderErrs  uint64 // failed LED writes, if the LED driver counts them
	LastState   logic.TouchState
	LastPattern logic.Pattern
	Presses     logic.PressCounts
}

// Stats returns the loop counters.
func (l *Loop) Stats() Stats {
	last := l.last.Load()
	st := Stats{
		Iterations:  l.iterations.Load(),
		Decodes:     l.decodes.Load(),
		Dropped:     l.dropped.Load(),
		LastState:   logic.TouchState(last >> 16),
		LastPattern: logic.Pattern(last),
	}
	for i := range l.presses {
		st.Presses[i] = int(l.presses[i].Load())
	}
	if e, ok := l.leds.(interface{ Errors() uint64 }); ok {
		st.RenderErrs = e.Errors()
	}
	return st
}
