//go:build linux

package led

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/touch-led/internal/logic"
)

// GPIODriver drives one LED per GPIO output line. Bit j of a pattern maps
// to Offsets[j]; bits beyond the configured lines are ignored.
type GPIODriver struct {
	chip      string
	offsets   []int
	activeLow bool

	lines   *gpiocdev.Lines
	values  []int
	current logic.Pattern
	shown   bool // current reflects the hardware

	errs    atomic.Uint64 // read by status reporting
	failing bool
}

// NewGPIODriver creates a driver. No lines are claimed until Initialize.
func NewGPIODriver(chip string, offsets []int, activeLow bool) (*GPIODriver, error) {
	if len(offsets) == 0 || len(offsets) > logic.MaxChannels {
		return nil, fmt.Errorf("led: need 1..%d pins, got %d", logic.MaxChannels, len(offsets))
	}
	o := make([]int, len(offsets))
	copy(o, offsets)
	return &GPIODriver{
		chip:      chip,
		offsets:   o,
		activeLow: activeLow,
		values:    make([]int, len(o)),
	}, nil
}

// Initialize requests the LED lines as outputs, all off.
func (d *GPIODriver) Initialize() error {
	if d.lines != nil {
		return nil
	}
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsOutput(make([]int, len(d.offsets))...),
	}
	if d.activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	lines, err := gpiocdev.RequestLines(d.chip, d.offsets, opts...)
	if err != nil {
		return fmt.Errorf("request led pins %v on %s: %w", d.offsets, d.chip, err)
	}
	d.lines = lines
	d.current = logic.PatternOff
	d.shown = true
	return nil
}

// Reset turns every LED off.
func (d *GPIODriver) Reset() error {
	if d.lines == nil {
		return fmt.Errorf("led: not initialized")
	}
	d.shown = false
	return d.write(logic.PatternOff)
}

// Render writes the pattern to all lines in one request. Unchanged
// patterns are not rewritten.
func (d *GPIODriver) Render(p logic.Pattern) {
	if d.lines == nil {
		return
	}
	if d.shown && p == d.current {
		return
	}
	if err := d.write(p); err != nil {
		d.errs.Add(1)
		if !d.failing {
			d.failing = true
			log.Printf("led: %v", err)
		}
		return
	}
	d.failing = false
}

func (d *GPIODriver) write(p logic.Pattern) error {
	for j := range d.values {
		d.values[j] = 0
		if p.Lit(j) {
			d.values[j] = 1
		}
	}
	if err := d.lines.SetValues(d.values); err != nil {
		d.shown = false
		return fmt.Errorf("write led pins: %w", err)
	}
	d.current = p
	d.shown = true
	return nil
}

// Errors returns the number of failed writes.
func (d *GPIODriver) Errors() uint64 {
	return d.errs.Load()
}

// Close turns the LEDs off and releases the lines as inputs, so nothing
// is driven while the daemon is down.
func (d *GPIODriver) Close() error {
	if d.lines == nil {
		return nil
	}
	var errs []error

	if err := d.write(logic.PatternOff); err != nil {
		errs = append(errs, err)
	}
	if err := d.lines.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure led pins: %w", err))
	}
	if err := d.lines.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close led pins: %w", err))
	}
	d.lines = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
