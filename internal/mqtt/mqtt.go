// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/touch-led/internal/logic"
)

// Topic is the MQTT topic for decode events.
const Topic = "touch/led/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "touch/led/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a decode result to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(res logic.Result) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// QueueStats reports on messages held while the broker is unreachable.
type QueueStats interface {
	Buffered() int
	Dropped() uint64
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Touch TouchPayload `json:"touch"`
}

// TouchPayload contains one decode.
type TouchPayload struct {
	Timestamp string `json:"timestamp"`
	Seq       uint64 `json:"seq"`
	State     string `json:"state"`
	Channels  []int  `json:"channels"`
	Pattern   string `json:"pattern"`
	LEDs      []int  `json:"leds"`
}

// Hex formats a 16-bit mask as 0x%04x.
func Hex(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}

// FormatPayload creates the JSON payload for a decode result.
func FormatPayload(res logic.Result) ([]byte, error) {
	payload := Payload{
		Touch: TouchPayload{
			Timestamp: res.Timestamp.UTC().Format(time.RFC3339),
			Seq:       res.Seq,
			State:     Hex(uint16(res.State)),
			Channels:  res.State.Channels(),
			Pattern:   Hex(uint16(res.Pattern)),
			LEDs:      res.Pattern.LEDs(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
