package logic

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// Decoder maps touch state to LED patterns through a channel table.
// A Decoder is immutable after construction and safe for concurrent use.
type Decoder struct {
	table []Pattern
	mask  TouchState
}

// NewDecoder creates a decoder where channel i renders table[i].
// Entries beyond MaxChannels are ignored.
func NewDecoder(table []Pattern) *Decoder {
	if len(table) > MaxChannels {
		table = table[:MaxChannels]
	}
	t := make([]Pattern, len(table))
	copy(t, table)
	return &Decoder{
		table: t,
		mask:  TouchState(uint32(1)<<uint(len(t)) - 1),
	}
}

// DefaultTable maps channel i to LED i for n channels.
func DefaultTable(n int) []Pattern {
	if n > MaxChannels {
		n = MaxChannels
	}
	if n < 0 {
		n = 0
	}
	t := make([]Pattern, n)
	for i := range t {
		t[i] = 1 << uint(i)
	}
	return t
}

// ParseTable parses a comma-separated list of LED patterns, one per channel.
// Values accept any strconv base prefix (0x, 0b, 0o) or plain decimal.
func ParseTable(s string) ([]Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty table")
	}
	fields := strings.Split(s, ",")
	if len(fields) > MaxChannels {
		return nil, fmt.Errorf("table has %d entries, max %d", len(fields), MaxChannels)
	}
	table := make([]Pattern, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("entry %d %q: %w", i, f, err)
		}
		table = append(table, Pattern(v))
	}
	return table, nil
}

// Channels returns the number of configured channels.
func (d *Decoder) Channels() int {
	return len(d.table)
}

// Decode returns the pattern for a touch state. Channels outside the table
// are ignored; a state with no configured channel active decodes to PatternOff.
// Several active channels combine their patterns.
func (d *Decoder) Decode(state TouchState) Pattern {
	state &= d.mask
	p := PatternOff
	for v := uint16(state); v != 0; v &= v - 1 {
		p |= d.table[bits.TrailingZeros16(v)]
	}
	return p
}

// Table returns a copy of the channel table.
func (d *Decoder) Table() []Pattern {
	t := make([]Pattern, len(d.table))
	copy(t, d.table)
	return t
}

// Rising returns the channels pressed between two consecutive decodes:
// active in cur and inactive in prev.
func Rising(prev, cur TouchState) TouchState {
	return cur &^ prev
}

// Counter schedules heartbeats and carries the decode and press counts
// they report. The counts are kept by the decode loop and handed over
// with Sync. Not safe for concurrent use.
type Counter struct {
	decodes       uint64
	presses       PressCounts
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewCounter creates a counter. The startTime is used for calculating
// uptime in heartbeat events.
func NewCounter(startTime time.Time) *Counter {
	return &Counter{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Sync replaces the counts reported by the next heartbeat.
func (c *Counter) Sync(decodes uint64, presses PressCounts) {
	c.decodes = decodes
	c.presses = presses
}

// Decodes returns the last synced decode count.
func (c *Counter) Decodes() uint64 {
	return c.decodes
}

// Presses returns a copy of the last synced per-channel press counts.
func (c *Counter) Presses() PressCounts {
	return c.presses
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (c *Counter) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}
	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.startTime),
		Decodes:   c.decodes,
		Presses:   c.presses,
	}
}
