package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Touch         TouchJSON    `json:"touch"`
	LED           LEDJSON      `json:"led"`
	Ready         bool         `json:"ready"`
	LastDecode    string       `json:"last_decode,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Loop          LoopJSON     `json:"loop"`
	Presses       []int        `json:"presses"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// TouchJSON is the last decoded touch state.
type TouchJSON struct {
	State    string `json:"state"`
	Channels []int  `json:"channels"`
}

// LEDJSON is the last rendered pattern.
type LEDJSON struct {
	Pattern string `json:"pattern"`
	Lit     []int  `json:"lit"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
	Dropped   uint64 `json:"dropped"`
}

// LoopJSON is the JSON representation of loop counters.
type LoopJSON struct {
	Iterations uint64 `json:"iterations"`
	Decodes    uint64 `json:"decodes"`
	Overruns   uint64 `json:"overruns"`
	Dropped    uint64 `json:"dropped"`
	TouchErrs  uint64 `json:"touch_errors"`
	RenderErrs uint64 `json:"render_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickUs      int64    `json:"tick_us"`
	HeartbeatMs int64    `json:"heartbeat_ms"`
	Broker      string   `json:"broker"`
	HTTPPort    string   `json:"http_port"`
	TouchDriver string   `json:"touch_driver"`
	Channels    int      `json:"channels"`
	Table       []string `json:"table"`
}

func hex16(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}

func buildInner(snap Snapshot) StatusInner {
	table := make([]string, len(snap.Config.Table))
	for i, p := range snap.Config.Table {
		table[i] = hex16(uint16(p))
	}

	channels := snap.Config.Channels
	if channels > len(snap.Presses) {
		channels = len(snap.Presses)
	}
	presses := make([]int, channels)
	copy(presses, snap.Presses[:channels])

	inner := StatusInner{
		Touch: TouchJSON{
			State:    hex16(uint16(snap.State)),
			Channels: snap.State.Channels(),
		},
		LED: LEDJSON{
			Pattern: hex16(uint16(snap.Pattern)),
			Lit:     snap.Pattern.LEDs(),
		},
		Ready:         snap.Decoded,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Buffered:  snap.Loop.MQTTBuffered,
			Dropped:   snap.Loop.MQTTDropped,
		},
		Loop: LoopJSON{
			Iterations: snap.Loop.Iterations,
			Decodes:    snap.Loop.Decodes,
			Overruns:   snap.Loop.Overruns,
			Dropped:    snap.Loop.Dropped,
			TouchErrs:  snap.Loop.TouchErrs,
			RenderErrs: snap.Loop.RenderErrs,
		},
		Presses: presses,
		Config: ConfigJSON{
			TickUs:      snap.Config.TickUs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			TouchDriver: snap.Config.TouchDriver,
			Channels:    snap.Config.Channels,
			Table:       table,
		},
	}
	if snap.Decoded {
		inner.LastDecode = snap.LastDecode.UTC().Format(time.RFC3339Nano)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
