//go:build linux

package touch

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/touch-led/internal/logic"
)

// GPIODriver reads discrete touch keys (one digital output per key, e.g.
// TTP223 modules) from Linux GPIO lines. Edge events arrive on the gpiocdev
// watcher goroutine, which takes a full snapshot and publishes it.
type GPIODriver struct {
	Signal

	mu     sync.Mutex // serializes snapshot+publish between producers
	lines  *gpiocdev.Lines
	values []int

	rescan int // ticks between forced snapshots (0 = edges only)
	ticks  int // owned by the loop goroutine

	errs    atomic.Uint64
	failing atomic.Bool
}

// GPIOConfig configures a GPIODriver.
type GPIOConfig struct {
	Chip      string
	Offsets   []int
	ActiveLow bool          // touched = electrically low
	Debounce  time.Duration // kernel debounce (0 = off)
	Rescan    int           // ticks between forced snapshots (0 = edges only)
}

// NewGPIODriver requests the touch input lines and starts watching edges.
func NewGPIODriver(cfg GPIOConfig) (*GPIODriver, error) {
	if len(cfg.Offsets) == 0 || len(cfg.Offsets) > logic.MaxChannels {
		return nil, fmt.Errorf("touch: need 1..%d pins, got %d", logic.MaxChannels, len(cfg.Offsets))
	}

	d := &GPIODriver{
		values: make([]int, len(cfg.Offsets)),
		rescan: cfg.Rescan,
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(d.handleEvent),
	}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
	}

	// Hold the lock so an early edge waits until lines is set.
	d.mu.Lock()
	lines, err := gpiocdev.RequestLines(cfg.Chip, cfg.Offsets, opts...)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("request touch pins %v on %s: %w", cfg.Offsets, cfg.Chip, err)
	}
	d.lines = lines

	// Initial cycle so the loop renders the power-on state.
	err = d.snapshotLocked()
	if err != nil {
		d.lines = nil
	}
	d.mu.Unlock()

	if err != nil {
		lines.Close()
		return nil, fmt.Errorf("initial touch read: %w", err)
	}
	return d, nil
}

// handleEvent runs on the gpiocdev watcher goroutine.
func (d *GPIODriver) handleEvent(evt gpiocdev.LineEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lines == nil {
		return
	}
	if err := d.snapshotLocked(); err != nil {
		d.recordError(fmt.Errorf("edge on line %d: %w", evt.Offset, err))
	}
}

// Advance forces a snapshot every rescan ticks to recover from lost edges.
// If the watcher is mid-snapshot the rescan is retried on the next tick.
func (d *GPIODriver) Advance() {
	if d.rescan <= 0 {
		return
	}
	d.ticks++
	if d.ticks < d.rescan {
		return
	}
	if !d.mu.TryLock() {
		return
	}
	defer d.mu.Unlock()
	d.ticks = 0
	if d.lines == nil {
		return
	}
	if err := d.snapshotLocked(); err != nil {
		d.recordError(err)
	}
}

func (d *GPIODriver) snapshotLocked() error {
	state, err := d.readLocked()
	if err != nil {
		return err
	}
	d.failing.Store(false)
	d.Publish(state)
	return nil
}

// readLocked reads all lines in one request so channels cannot tear.
func (d *GPIODriver) readLocked() (logic.TouchState, error) {
	if err := d.lines.Values(d.values); err != nil {
		return 0, fmt.Errorf("read touch pins: %w", err)
	}
	var state logic.TouchState
	for i, v := range d.values {
		if v != 0 {
			state |= 1 << uint(i)
		}
	}
	return state, nil
}

func (d *GPIODriver) recordError(err error) {
	d.errs.Add(1)
	if !d.failing.Swap(true) {
		log.Printf("touch: %v", err)
	}
}

// Errors returns the number of failed reads.
func (d *GPIODriver) Errors() uint64 {
	return d.errs.Load()
}

// Measure reads the keys once without publishing.
func (d *GPIODriver) Measure() (logic.TouchState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readLocked()
}

// Close stops edge watching and releases the lines.
func (d *GPIODriver) Close() error {
	d.mu.Lock()
	lines := d.lines
	d.lines = nil
	d.mu.Unlock()

	if lines == nil {
		return nil
	}
	if err := lines.Close(); err != nil {
		return fmt.Errorf("close touch pins: %w", err)
	}
	return nil
}

// WatchIRQ calls handler on each falling edge of an open-drain interrupt
// line, such as the MPR121 IRQ output. The handler runs on the gpiocdev
// watcher goroutine. The returned func stops watching.
func WatchIRQ(chip string, offset int, handler func()) (func() error, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { handler() }),
	)
	if err != nil {
		return nil, fmt.Errorf("request irq pin %d on %s: %w", offset, chip, err)
	}
	return line.Close, nil
}
