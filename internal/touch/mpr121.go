package touch

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"github.com/sweeney/touch-led/internal/logic"
)

// MPR121 register map (subset).
const (
	mprTouchStatusL = 0x00
	mprMHDR         = 0x2B
	mprNHDR         = 0x2C
	mprNCLR         = 0x2D
	mprFDLR         = 0x2E
	mprMHDF         = 0x2F
	mprNHDF         = 0x30
	mprNCLF         = 0x31
	mprFDLF         = 0x32
	mprNHDT         = 0x33
	mprNCLT         = 0x34
	mprFDLT         = 0x35
	mprTouchTh0     = 0x41
	mprReleaseTh0   = 0x42
	mprDebounce     = 0x5B
	mprConfig1      = 0x5C
	mprConfig2      = 0x5D
	mprECR          = 0x5E
	mprAutoConfig0  = 0x7B
	mprUpLimit      = 0x7D
	mprLowLimit     = 0x7E
	mprTargetLimit  = 0x7F
	mprSoftReset    = 0x80
)

const (
	// MPR121Address is the controller address with ADDR tied to ground.
	MPR121Address = 0x5A

	// MPR121Electrodes is the number of sensing electrodes.
	MPR121Electrodes = 12

	mprConfig2Reset = 0x24 // CONFIG2 value after soft reset
	mprTouchMask    = 0x0FFF
)

// MPR121Config configures an MPR121Driver.
type MPR121Config struct {
	Address          uint16
	Electrodes       uint8
	TouchThreshold   uint8
	ReleaseThreshold uint8
	Poll             int // ticks between status reads (0 = IRQ only)
}

// DefaultMPR121Config returns the thresholds recommended in the MPR121
// quick start guide for a 3.3V supply.
func DefaultMPR121Config() MPR121Config {
	return MPR121Config{
		Address:          MPR121Address,
		Electrodes:       MPR121Electrodes,
		TouchThreshold:   12,
		ReleaseThreshold: 6,
		Poll:             10,
	}
}

// MPR121Driver acquires touch state from an MPR121 capacitive controller.
// Measurement cycles are requested either by the controller's IRQ line
// (see Interrupt) or every Poll ticks from Advance. A worker goroutine
// started by Start performs the bus reads and publishes the result, so
// neither requester ever waits on the bus.
type MPR121Driver struct {
	Signal

	busMu sync.Mutex
	bus   drivers.I2C
	addr  uint16
	cfg   MPR121Config
	buf   [2]byte

	ticks int // owned by the loop goroutine

	req      chan struct{} // one slot: a pending request absorbs later ones
	quit     chan struct{}
	stopped  chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	errs    atomic.Uint64
	failing atomic.Bool
}

// NewMPR121Driver creates a driver on an already opened bus.
// Call Configure before use.
func NewMPR121Driver(bus drivers.I2C, cfg MPR121Config) *MPR121Driver {
	if cfg.Address == 0 {
		cfg.Address = MPR121Address
	}
	if cfg.Electrodes == 0 || cfg.Electrodes > MPR121Electrodes {
		cfg.Electrodes = MPR121Electrodes
	}
	return &MPR121Driver{
		bus:     bus,
		addr:    cfg.Address,
		cfg:     cfg,
		req:     make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the worker that runs requested cycles. Requests made
// before Start are served once it is running. Calling Start again is a no-op.
func (d *MPR121Driver) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.worker()
}

func (d *MPR121Driver) worker() {
	defer close(d.stopped)
	for {
		select {
		case <-d.quit:
			return
		case <-d.req:
			d.cycle()
		}
	}
}

// request asks the worker for a cycle without blocking.
func (d *MPR121Driver) request() {
	select {
	case d.req <- struct{}{}:
	default:
	}
}

// Configure resets the controller, programs thresholds, filters and
// auto-configuration, then starts measuring.
func (d *MPR121Driver) Configure() error {
	d.busMu.Lock()
	defer d.busMu.Unlock()

	if err := d.write(mprSoftReset, 0x63); err != nil {
		return fmt.Errorf("mpr121 soft reset: %w", err)
	}
	time.Sleep(time.Millisecond)
	if err := d.write(mprECR, 0x00); err != nil {
		return fmt.Errorf("mpr121 stop: %w", err)
	}

	v, err := d.read8(mprConfig2)
	if err != nil {
		return fmt.Errorf("mpr121 identify: %w", err)
	}
	if v != mprConfig2Reset {
		return fmt.Errorf("mpr121 not found at 0x%02x (config2=0x%02x)", d.addr, v)
	}

	for i := uint8(0); i < MPR121Electrodes; i++ {
		if err := d.write(mprTouchTh0+2*i, d.cfg.TouchThreshold); err != nil {
			return fmt.Errorf("mpr121 touch threshold %d: %w", i, err)
		}
		if err := d.write(mprReleaseTh0+2*i, d.cfg.ReleaseThreshold); err != nil {
			return fmt.Errorf("mpr121 release threshold %d: %w", i, err)
		}
	}

	regs := []struct{ reg, val uint8 }{
		// rising / falling / touched baseline filters
		{mprMHDR, 0x01}, {mprNHDR, 0x01}, {mprNCLR, 0x0E}, {mprFDLR, 0x00},
		{mprMHDF, 0x01}, {mprNHDF, 0x05}, {mprNCLF, 0x01}, {mprFDLF, 0x00},
		{mprNHDT, 0x00}, {mprNCLT, 0x00}, {mprFDLT, 0x00},
		{mprDebounce, 0x00},
		{mprConfig1, 0x10}, // 16uA charge current
		{mprConfig2, 0x20}, // 0.5us encoding, 1ms period
		// auto-config for 3.3V: USL=(Vdd-0.7)/Vdd*256, TL=USL*0.9, LSL=USL*0.65
		{mprAutoConfig0, 0x0B},
		{mprUpLimit, 200},
		{mprTargetLimit, 180},
		{mprLowLimit, 130},
	}
	for _, r := range regs {
		if err := d.write(r.reg, r.val); err != nil {
			return fmt.Errorf("mpr121 register 0x%02x: %w", r.reg, err)
		}
	}

	// Baseline tracking enabled, first N electrodes running.
	if err := d.write(mprECR, 0x80|d.cfg.Electrodes); err != nil {
		return fmt.Errorf("mpr121 start: %w", err)
	}
	return nil
}

// Interrupt requests a measurement cycle. Call it from the IRQ watcher.
func (d *MPR121Driver) Interrupt() {
	d.request()
}

// Advance requests a cycle every Poll ticks.
func (d *MPR121Driver) Advance() {
	if d.cfg.Poll <= 0 {
		return
	}
	d.ticks++
	if d.ticks < d.cfg.Poll {
		return
	}
	d.ticks = 0
	d.request()
}

func (d *MPR121Driver) cycle() {
	d.busMu.Lock()
	defer d.busMu.Unlock()

	state, err := d.status()
	if err != nil {
		d.errs.Add(1)
		if !d.failing.Swap(true) {
			log.Printf("touch: %v", err)
		}
		return
	}
	d.failing.Store(false)
	d.Publish(state)
}

// Measure reads the touch status once without publishing.
func (d *MPR121Driver) Measure() (logic.TouchState, error) {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.status()
}

// Errors returns the number of failed status reads.
func (d *MPR121Driver) Errors() uint64 {
	return d.errs.Load()
}

// status reads the two touch status registers in a single transaction.
func (d *MPR121Driver) status() (logic.TouchState, error) {
	if err := d.bus.Tx(d.addr, []byte{mprTouchStatusL}, d.buf[:]); err != nil {
		return 0, fmt.Errorf("mpr121 read status: %w", err)
	}
	if d.buf[1]&0x80 != 0 {
		return 0, errOvercurrent
	}
	raw := uint16(d.buf[0]) | uint16(d.buf[1])<<8
	mask := uint16(1)<<d.cfg.Electrodes - 1
	return logic.TouchState(raw & mprTouchMask & mask), nil
}

var errOvercurrent = errors.New("mpr121 over-current on REXT, electrodes stopped")

func (d *MPR121Driver) write(reg, val uint8) error {
	return d.bus.Tx(d.addr, []byte{reg, val}, nil)
}

func (d *MPR121Driver) read8(reg uint8) (uint8, error) {
	b := []byte{0}
	if err := d.bus.Tx(d.addr, []byte{reg}, b); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Close stops the worker and the electrodes. The bus is owned by the caller.
func (d *MPR121Driver) Close() error {
	d.stopOnce.Do(func() { close(d.quit) })
	if d.started.Load() {
		<-d.stopped
	}

	d.busMu.Lock()
	defer d.busMu.Unlock()
	if err := d.write(mprECR, 0x00); err != nil {
		return fmt.Errorf("mpr121 stop: %w", err)
	}
	return nil
}
