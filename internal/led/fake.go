package led

import (
	"sync"

	"github.com/sweeney/touch-led/internal/logic"
)

// FakeDriver is a test double that records rendered patterns.
type FakeDriver struct {
	mu sync.Mutex

	// Rendered contains every pattern passed to Render, in order.
	Rendered []logic.Pattern

	// Current is the pattern currently shown.
	Current logic.Pattern

	// Initialized counts Initialize calls.
	Initialized int

	// Resets counts Reset calls.
	Resets int

	// InitError, if set, will be returned by Initialize.
	InitError error

	// RenderError, if set, makes Render fail and count an error.
	RenderError error

	// Closed tracks if Close was called.
	Closed bool

	errs uint64
}

// NewFakeDriver creates a FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Initialize records the call.
func (f *FakeDriver) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitError != nil {
		return f.InitError
	}
	f.Initialized++
	return nil
}

// Reset records the call and turns the fake LEDs off.
func (f *FakeDriver) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resets++
	f.Current = logic.PatternOff
	return nil
}

// Render records the pattern.
func (f *FakeDriver) Render(p logic.Pattern) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RenderError != nil {
		f.errs++
		return
	}
	f.Rendered = append(f.Rendered, p)
	f.Current = p
}

// Renders returns a copy of the rendered patterns.
func (f *FakeDriver) Renders() []logic.Pattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]logic.Pattern, len(f.Rendered))
	copy(out, f.Rendered)
	return out
}

// Shown returns the pattern currently shown.
func (f *FakeDriver) Shown() logic.Pattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Current
}

// Errors returns the number of failed renders.
func (f *FakeDriver) Errors() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs
}

// SetRenderError sets or clears the render failure.
func (f *FakeDriver) SetRenderError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RenderError = err
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.Current = logic.PatternOff
	return nil
}
