//go:build !linux

package led

import (
	"errors"

	"github.com/sweeney/touch-led/internal/logic"
)

// GPIODriver is not available on non-Linux platforms.
type GPIODriver struct{}

// NewGPIODriver returns an error on non-Linux platforms.
func NewGPIODriver(chip string, offsets []int, activeLow bool) (*GPIODriver, error) {
	return nil, errors.New("led: gpio not supported on this platform (requires Linux)")
}

// Initialize is not implemented on non-Linux platforms.
func (d *GPIODriver) Initialize() error {
	return errors.New("led: gpio not supported")
}

// Reset is not implemented on non-Linux platforms.
func (d *GPIODriver) Reset() error {
	return errors.New("led: gpio not supported")
}

// Render does nothing on non-Linux platforms.
func (d *GPIODriver) Render(p logic.Pattern) {}

// Errors always returns 0 on non-Linux platforms.
func (d *GPIODriver) Errors() uint64 { return 0 }

// Close is not implemented on non-Linux platforms.
func (d *GPIODriver) Close() error {
	return nil
}
