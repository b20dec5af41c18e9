// Package status provides a thread-safe status tracker for the touch-led daemon.
// It is read by HTTP handlers and heartbeat reporting.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/touch-led/internal/logic"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickUs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	TouchDriver string // "gpio", "mpr121" or "fake"
	Channels    int
	Table       []logic.Pattern
}

// LoopStats mirrors the decode loop counters, plus the publisher's
// offline queue.
type LoopStats struct {
	Iterations uint64
	Decodes    uint64
	Overruns   uint64 // completions replaced before being consumed
	Dropped    uint64 // results replaced before being reported
	TouchErrs  uint64
	RenderErrs uint64

	MQTTBuffered int    // messages waiting for the broker
	MQTTDropped  uint64 // offline messages lost to overflow
}

// Snapshot is a point-in-time view of daemon state.
// Copies may be read without holding the tracker lock.
type Snapshot struct {
	State         logic.TouchState
	Pattern       logic.Pattern
	LastDecode    time.Time
	Decoded       bool // at least one decode has happened
	Presses       logic.PressCounts
	Loop          LoopStats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
	Version       uint64
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records a decode result and the press counts after it.
func (t *Tracker) Update(res logic.Result, presses logic.PressCounts) {
	t.mu.Lock()
	t.snap.State = res.State
	t.snap.Pattern = res.Pattern
	t.snap.LastDecode = res.Timestamp
	t.snap.Decoded = true
	t.snap.Presses = presses
	t.snap.Version++
	t.mu.Unlock()
}

// SetLoopStats sets the loop counters. Counters alone do not bump Version.
func (t *Tracker) SetLoopStats(s LoopStats) {
	t.mu.Lock()
	t.snap.Loop = s
	t.mu.Unlock()
}

// SetPresses sets the per-channel press counts.
func (t *Tracker) SetPresses(p logic.PressCounts) {
	t.mu.Lock()
	if t.snap.Presses != p {
		t.snap.Presses = p
		t.snap.Version++
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	if t.snap.MQTTConnected != connected {
		t.snap.MQTTConnected = connected
		t.snap.Version++
	}
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Version returns a counter that changes whenever the decoded state or
// connectivity changes.
func (t *Tracker) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Version
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
