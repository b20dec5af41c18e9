// Package touch provides touch acquisition drivers with hardware abstraction.
// Drivers run measurement cycles and publish each finished cycle through a
// Signal: a one-slot completion flag paired with the touch state it belongs to.
// The real implementations use the Linux GPIO character device or an MPR121
// controller on I2C. The fake implementation allows testing without hardware.
package touch

import (
	"sync/atomic"

	"github.com/sweeney/touch-led/internal/logic"
)

// Driver is the acquisition side of the decode loop.
type Driver interface {
	// Advance moves the measurement forward. Called on every loop tick;
	// must return promptly.
	Advance()

	// IsMeasurementComplete reports whether a finished cycle is waiting.
	IsMeasurementComplete() bool

	// ClearMeasurementComplete consumes the pending completion. Call it
	// before ReadTouchState.
	ClearMeasurementComplete()

	// ReadTouchState returns the snapshot of the most recent finished cycle.
	ReadTouchState() logic.TouchState

	// Close releases hardware resources.
	Close() error
}

// Measurer performs one synchronous measurement outside the loop.
type Measurer interface {
	Measure() (logic.TouchState, error)
}

// Signal is a single-producer/single-consumer completion flag with capacity
// one. The producer publishes a snapshot and sets the flag; the consumer
// clears the flag and reads the snapshot. A publish that lands while the
// flag is still set replaces the snapshot and counts as an overrun.
//
// The zero value is ready to use. A Signal must not be copied after first use.
type Signal struct {
	done      atomic.Bool
	state     atomic.Uint32
	published atomic.Uint64
	overruns  atomic.Uint64
}

// Publish stores state and raises the completion flag.
// Safe to call from any goroutine; never clears the flag.
func (s *Signal) Publish(state logic.TouchState) {
	// Snapshot first: a consumer that sees the flag must see this state.
	s.state.Store(uint32(state))
	if s.done.Swap(true) {
		s.overruns.Add(1)
	}
	s.published.Add(1)
}

// IsMeasurementComplete reports whether a completion is pending.
func (s *Signal) IsMeasurementComplete() bool {
	return s.done.Load()
}

// ClearMeasurementComplete lowers the flag. A Publish racing with the clear
// either lands before it, in which case the following ReadTouchState
// returns its state, or after it, in which case the flag is raised again.
func (s *Signal) ClearMeasurementComplete() {
	s.done.Store(false)
}

// ReadTouchState returns the latest published state.
func (s *Signal) ReadTouchState() logic.TouchState {
	return logic.TouchState(s.state.Load())
}

// TryReceive consumes a pending completion and returns its state.
// Returns false if nothing was pending.
func (s *Signal) TryReceive() (logic.TouchState, bool) {
	if !s.done.CompareAndSwap(true, false) {
		return 0, false
	}
	return s.ReadTouchState(), true
}

// Published returns the number of completions published.
func (s *Signal) Published() uint64 {
	return s.published.Load()
}

// Overruns returns how many completions replaced one that was never consumed.
func (s *Signal) Overruns() uint64 {
	return s.overruns.Load()
}

// Stats is implemented by drivers that embed a Signal.
type Stats interface {
	Published() uint64
	Overruns() uint64
}

// DefaultChip is the GPIO chip used for touch inputs and IRQ lines.
const DefaultChip = "gpiochip0"

// DefaultPins are the BCM offsets for four discrete touch keys.
var DefaultPins = []int{17, 27, 22, 23}
