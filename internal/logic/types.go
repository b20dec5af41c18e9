// Package logic contains the pure touch-to-LED decode logic.
// This package has NO external dependencies (no GPIO, I2C, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"math/bits"
	"time"
)

// MaxChannels is the widest touch state and LED pattern supported.
const MaxChannels = 16

// TouchState is a snapshot of active touch channels.
// Bit i set = channel i touched.
type TouchState uint16

// Active reports whether channel i is touched.
func (s TouchState) Active(i int) bool {
	if i < 0 || i >= MaxChannels {
		return false
	}
	return s&(1<<uint(i)) != 0
}

// Channels returns the indices of touched channels in ascending order.
func (s TouchState) Channels() []int {
	out := make([]int, 0, bits.OnesCount16(uint16(s)))
	for v := uint16(s); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros16(v))
	}
	return out
}

// Pattern is a decoded LED display state.
// Bit j set = LED j lit.
type Pattern uint16

// PatternOff is the display state for "no channel active".
const PatternOff Pattern = 0

// Lit reports whether LED j is on.
func (p Pattern) Lit(j int) bool {
	if j < 0 || j >= MaxChannels {
		return false
	}
	return p&(1<<uint(j)) != 0
}

// LEDs returns the indices of lit LEDs in ascending order.
func (p Pattern) LEDs() []int {
	return TouchState(p).Channels()
}

// Result is one completed decode.
type Result struct {
	Timestamp time.Time
	State     TouchState
	Pattern   Pattern
	Seq       uint64 // decode sequence number, starting at 1
}

// PressCounts tracks per-channel presses (inactive -> active transitions)
// since startup.
type PressCounts [MaxChannels]int

// Total returns the sum of all channel presses.
func (c PressCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Decodes   uint64
	Presses   PressCounts
}
