package touch

import (
	"errors"
	"sync/atomic"

	"github.com/sweeney/touch-led/internal/logic"
)

// FakeDriver is a test double that completes measurements on demand.
// Complete may be called from any goroutine to play the role of an
// interrupt handler; Script steps are consumed by Advance.
type FakeDriver struct {
	Signal

	// Script contains steps consumed one per Advance call.
	// Once exhausted, Advance does nothing.
	Script []Step

	// MeasureError, if set, will be returned by Measure.
	MeasureError error

	// Closed tracks if Close was called.
	Closed bool

	index    int
	advances atomic.Uint64
}

// Step is one scripted Advance outcome.
type Step struct {
	Complete bool             // publish State during this Advance
	State    logic.TouchState // state to publish
}

// NewFakeDriver creates a FakeDriver with the given script.
func NewFakeDriver(script []Step) *FakeDriver {
	return &FakeDriver{Script: script}
}

// Advance consumes the next scripted step.
func (f *FakeDriver) Advance() {
	f.advances.Add(1)
	if f.index >= len(f.Script) {
		return
	}
	step := f.Script[f.index]
	f.index++
	if step.Complete {
		f.Publish(step.State)
	}
}

// Complete publishes state as a finished measurement cycle.
func (f *FakeDriver) Complete(state logic.TouchState) {
	f.Publish(state)
}

// Advances returns the number of Advance calls.
func (f *FakeDriver) Advances() uint64 {
	return f.advances.Load()
}

// Measure returns the last published state.
func (f *FakeDriver) Measure() (logic.TouchState, error) {
	if f.MeasureError != nil {
		return 0, f.MeasureError
	}
	if f.Published() == 0 {
		return 0, errors.New("no measurement published")
	}
	return f.ReadTouchState(), nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.Closed = true
	return nil
}
