//go:build !linux

package touch

import (
	"errors"
	"time"

	"github.com/sweeney/touch-led/internal/logic"
)

// GPIODriver is not available on non-Linux platforms.
type GPIODriver struct {
	Signal
}

// GPIOConfig configures a GPIODriver.
type GPIOConfig struct {
	Chip      string
	Offsets   []int
	ActiveLow bool
	Debounce  time.Duration
	Rescan    int
}

// NewGPIODriver returns an error on non-Linux platforms.
func NewGPIODriver(cfg GPIOConfig) (*GPIODriver, error) {
	return nil, errors.New("touch: gpio not supported on this platform (requires Linux)")
}

// Advance does nothing on non-Linux platforms.
func (d *GPIODriver) Advance() {}

// Errors always returns 0 on non-Linux platforms.
func (d *GPIODriver) Errors() uint64 { return 0 }

// Measure is not implemented on non-Linux platforms.
func (d *GPIODriver) Measure() (logic.TouchState, error) {
	return 0, errors.New("touch: gpio not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *GPIODriver) Close() error {
	return nil
}

// WatchIRQ returns an error on non-Linux platforms.
func WatchIRQ(chip string, offset int, handler func()) (func() error, error) {
	return nil, errors.New("touch: irq not supported on this platform (requires Linux)")
}
