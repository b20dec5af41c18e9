package main

import (
	"encoding/json"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/touch-led/internal/led"
	"github.com/sweeney/touch-led/internal/logic"
	"github.com/sweeney/touch-led/internal/loop"
	"github.com/sweeney/touch-led/internal/mqtt"
	"github.com/sweeney/touch-led/internal/status"
	"github.com/sweeney/touch-led/internal/touch"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.Type != "" || info.IP != "" {
		t.Errorf("expected empty Type/IP, got %q/%q", info.Type, info.IP)
	}
}

func TestParsePins(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"17,27,22,23", []int{17, 27, 22, 23}, false},
		{" 5 , 6 ", []int{5, 6}, false},
		{"4,", []int{4}, false},
		{"", nil, true},
		{"a,b", nil, true},
		{"-1", nil, true},
		{"5,5", nil, true},
		{"0,1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16", nil, true},
	}
	for _, tt := range tests {
		got, err := parsePins(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parsePins(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePins(%q): %v", tt.in, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parsePins(%q): got %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parsePins(%q): got %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}

func TestFormatPinsRoundTrip(t *testing.T) {
	s := formatPins(touch.DefaultPins)
	if s != "17,27,22,23" {
		t.Errorf("formatPins: got %q", s)
	}
	pins, err := parsePins(s)
	if err != nil || len(pins) != len(touch.DefaultPins) {
		t.Errorf("parsePins(%q): %v, %v", s, pins, err)
	}
}

func defaultConfig(t *testing.T, touchKind, table string, electrodes int) (config, error) {
	t.Helper()
	return buildConfig(time.Millisecond, touchKind, "gpiochip0", "17,27,22,23", false, 0, 1000,
		"", touch.MPR121Address, electrodes, -1, 10,
		"gpiochip0", "5,6,13,19", false, table,
		"tcp://localhost:1883", "touch-led", 15*time.Minute, ":80", false)
}

func TestBuildConfigDefaultTable(t *testing.T) {
	cfg, err := defaultConfig(t, "gpio", "", 12)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if len(cfg.table) != 4 {
		t.Fatalf("table: got %d entries, want one per touch pin", len(cfg.table))
	}
	for i, p := range cfg.table {
		if p != logic.Pattern(1)<<i {
			t.Errorf("table[%d]: got %#x, want %#x", i, p, 1<<i)
		}
	}
	if cfg.i2cAddr != touch.MPR121Address {
		t.Errorf("i2cAddr: got %#x", cfg.i2cAddr)
	}
}

func TestBuildConfigMPR121Channels(t *testing.T) {
	cfg, err := defaultConfig(t, "mpr121", "", 8)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if len(cfg.table) != 8 {
		t.Errorf("table: got %d entries, want 8", len(cfg.table))
	}
}

func TestBuildConfigExplicitTable(t *testing.T) {
	cfg, err := defaultConfig(t, "gpio", "0x3,0xc", 12)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if len(cfg.table) != 2 || cfg.table[0] != 0x3 || cfg.table[1] != 0xC {
		t.Errorf("table: got %v", cfg.table)
	}
}

func TestBuildConfigErrors(t *testing.T) {
	tests := []struct {
		name       string
		touchKind  string
		table      string
		electrodes int
	}{
		{"unknown driver", "capsense", "", 12},
		{"too many electrodes", "mpr121", "", 13},
		{"no electrodes", "mpr121", "", 0},
		{"bad table", "gpio", "0x1,zz", 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := defaultConfig(t, tt.touchKind, tt.table, tt.electrodes); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildConfigBadI2CAddress(t *testing.T) {
	_, err := buildConfig(time.Millisecond, "mpr121", "gpiochip0", "17", false, 0, 0,
		"", 0x80, 12, -1, 10,
		"gpiochip0", "5", false, "",
		"tcp://localhost:1883", "touch-led", 0, "", false)
	if err == nil {
		t.Error("expected error for 0x80")
	}
}

func TestOpenTouchUnknownDriver(t *testing.T) {
	if _, err := openTouch(config{touchKind: "capsense"}); err == nil {
		t.Error("expected error")
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type harness struct {
	drv     *touch.FakeDriver
	leds    *led.FakeDriver
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	lp      *loop.Loop
	tick    chan time.Time
	sig     chan os.Signal
	errCh   chan error
}

func startHarness(t *testing.T, table []logic.Pattern, pub *mqtt.FakePublisher, heartbeat time.Duration, clock func() time.Time) *harness {
	t.Helper()
	h := &harness{
		drv:   touch.NewFakeDriver(nil),
		leds:  led.NewFakeDriver(),
		pub:   pub,
		tick:  make(chan time.Time),
		sig:   make(chan os.Signal, 1),
		errCh: make(chan error, 1),
	}
	h.tracker = status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{
		Broker:   "tcp://localhost:1883",
		Channels: len(table),
		Table:    table,
	})
	h.lp = loop.New(h.drv, h.leds, logic.NewDecoder(table), loop.WithInterval(100*time.Microsecond))

	go func() {
		h.errCh <- runLoop(h.lp, h.drv, h.pub, h.pub, h.tracker, heartbeat, clock, h.tick, h.sig)
	}()
	return h
}

// press completes a measurement and waits until it has been reported.
func (h *harness) press(t *testing.T, state logic.TouchState, wantEvents int) {
	t.Helper()
	h.drv.Complete(state)
	waitFor(t, "published event", func() bool { return h.pub.EventCount() >= wantEvents })
}

func (h *harness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	select {
	case err := <-h.errCh:
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after signal")
	}
}

func systemEvents(pub *mqtt.FakePublisher, name string) []mqtt.SystemEvent {
	var out []mqtt.SystemEvent
	for _, se := range pub.SystemEvents {
		if se.Event == name {
			out = append(out, se)
		}
	}
	return out
}

func newClock() func() time.Time {
	return fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)
}

func TestRunLoopNoTouchNoEvents(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())

	h.tick <- time.Time{}
	h.tick <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 touch events, got %d", len(pub.Events))
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	if pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", pub.SystemEvents[0].Event)
	}
	if n := len(h.leds.Renders()); n != 0 {
		t.Errorf("expected no renders without a completion, got %d", n)
	}
}

func TestRunLoopTouchAndRelease(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())

	h.press(t, 0x04, 1)
	if got := h.leds.Shown(); got != 0x04 {
		t.Errorf("LEDs after touch: got %#x, want 0x04", got)
	}
	h.press(t, 0, 2)
	if got := h.leds.Shown(); got != logic.PatternOff {
		t.Errorf("LEDs after release: got %#x, want off", got)
	}
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 2 {
		t.Fatalf("expected 2 touch events, got %d", len(pub.Events))
	}
	if pub.Events[0].State != 0x04 || pub.Events[0].Pattern != 0x04 {
		t.Errorf("event 0: got %+v", pub.Events[0])
	}
	if pub.Events[1].State != 0 || pub.Events[1].Pattern != logic.PatternOff {
		t.Errorf("event 1: got %+v", pub.Events[1])
	}

	snap := h.tracker.Snapshot()
	if snap.Presses[2] != 1 {
		t.Errorf("Presses[2]: got %d, want 1", snap.Presses[2])
	}
	if snap.Loop.Decodes != 2 {
		t.Errorf("Loop.Decodes: got %d, want 2", snap.Loop.Decodes)
	}
}

func TestRunLoopCustomTable(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startHarness(t, []logic.Pattern{0x3, 0xC}, pub, 0, newClock())

	h.press(t, 0x02, 1)
	h.stop(t, syscall.SIGTERM)

	if got := h.leds.Shown(); got != 0xC {
		t.Errorf("LEDs: got %#x, want 0xc", got)
	}
	if pub.Events[0].Pattern != 0xC {
		t.Errorf("published pattern: got %#x, want 0xc", pub.Events[0].Pattern)
	}
}

func TestRunLoopUnchangedStateNotRepublished(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())

	h.press(t, 0x01, 1)

	// Same state again: decoded, but not a change.
	h.drv.Complete(0x01)
	waitFor(t, "second decode", func() bool { return h.lp.Stats().Decodes >= 2 })

	h.press(t, 0x03, 2)
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 2 {
		t.Fatalf("expected 2 touch events, got %d", len(pub.Events))
	}
	if pub.Events[1].State != 0x03 {
		t.Errorf("event 1 state: got %#x, want 0x03", pub.Events[1].State)
	}
	// Channel 1 rose once, channel 0 once.
	snap := h.tracker.Snapshot()
	if snap.Presses[0] != 1 || snap.Presses[1] != 1 {
		t.Errorf("Presses: got %v", snap.Presses[:4])
	}
}

func TestRunLoopPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker unavailable")
	h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())

	h.drv.Complete(0x01)
	waitFor(t, "tracker update", func() bool { return h.tracker.Snapshot().Decoded })
	h.stop(t, syscall.SIGTERM)

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(pub.Events))
	}
	if got := h.leds.Shown(); got != 0x01 {
		t.Errorf("LEDs should still render: got %#x", got)
	}
	if len(systemEvents(pub, "SHUTDOWN")) != 1 {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())
			h.stop(t, tt.sig)

			if len(pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
			}
			se := pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" {
				t.Errorf("expected SHUTDOWN, got %q", se.Event)
			}
			if se.Reason != tt.want {
				t.Errorf("expected reason %s, got %q", tt.want, se.Reason)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}

			var sj status.StatusJSON
			if err := json.Unmarshal(se.RawPayload, &sj); err != nil {
				t.Fatalf("invalid shutdown payload: %v", err)
			}
			if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != tt.want {
				t.Errorf("payload event/reason: got %q/%q", sj.Status.Event, sj.Status.Reason)
			}
		})
	}
}

func TestRunLoopShutdownStopsLoop(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())
	h.stop(t, syscall.SIGTERM)

	before := h.lp.Stats().Iterations
	time.Sleep(20 * time.Millisecond)
	if after := h.lp.Stats().Iterations; after != before {
		t.Errorf("loop still ticking after shutdown: %d -> %d", before, after)
	}
}

func TestRunLoopStatusRefresh(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())

	h.press(t, 0x01, 1)
	// The second send returns only after the first tick was handled.
	h.tick <- time.Time{}
	h.tick <- time.Time{}

	snap := h.tracker.Snapshot()
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true after tick")
	}
	if snap.Loop.Iterations == 0 {
		t.Error("expected loop iterations in tracker")
	}
	if snap.Loop.Decodes != 1 {
		t.Errorf("Loop.Decodes: got %d, want 1", snap.Loop.Decodes)
	}
	h.stop(t, syscall.SIGTERM)
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: t0 (counter start), then one per tick at +5m, +10m, +15m.
	// The third tick reaches the 15m interval.
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute)
	h := startHarness(t, logic.DefaultTable(4), pub, 15*time.Minute, clock)

	h.press(t, 0x01, 1)
	h.press(t, 0, 2)
	for i := 0; i < 3; i++ {
		h.tick <- time.Time{}
	}
	h.stop(t, syscall.SIGTERM)

	hbs := systemEvents(pub, "HEARTBEAT")
	if len(hbs) != 1 {
		t.Fatalf("expected 1 HEARTBEAT event, got %d", len(hbs))
	}
	if hbs[0].Retained {
		t.Error("HEARTBEAT should not be retained")
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(hbs[0].RawPayload, &sj); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" {
		t.Errorf("payload event: got %q", sj.Status.Event)
	}
	if len(sj.Status.Presses) != 4 || sj.Status.Presses[0] != 1 {
		t.Errorf("payload presses: got %v", sj.Status.Presses)
	}
	if len(systemEvents(pub, "SHUTDOWN")) != 1 {
		t.Error("expected 1 SHUTDOWN event")
	}
}

func TestRunLoopQuickTapCountedInHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 15*time.Minute)
	h := startHarness(t, logic.DefaultTable(4), pub, 15*time.Minute, clock)

	// Tap and release land as two decodes; the reporter may see either
	// both results or only the release.
	h.drv.Complete(0x01)
	waitFor(t, "press decoded", func() bool { return h.lp.Stats().Decodes >= 1 })
	h.drv.Complete(0x00)
	waitFor(t, "release decoded", func() bool { return h.lp.Stats().Decodes >= 2 })

	h.tick <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	hbs := systemEvents(pub, "HEARTBEAT")
	if len(hbs) != 1 {
		t.Fatalf("expected 1 HEARTBEAT event, got %d", len(hbs))
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(hbs[0].RawPayload, &sj); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if sj.Status.Loop.Decodes != 2 {
		t.Errorf("heartbeat decodes: got %d, want 2", sj.Status.Loop.Decodes)
	}
	if len(sj.Status.Presses) != 4 || sj.Status.Presses[0] != 1 {
		t.Errorf("heartbeat presses: got %v, want ch0=1", sj.Status.Presses)
	}
	if got := h.tracker.Snapshot().Presses[0]; got != 1 {
		t.Errorf("tracker presses[0]: got %d, want 1", got)
	}
}

func TestRunLoopRefreshReportsQueueAndRenderErrors(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.SetQueue(5, 2)
	h := startHarness(t, logic.DefaultTable(4), pub, 0, newClock())
	h.leds.SetRenderError(errors.New("line busy"))

	h.drv.Complete(0x01)
	waitFor(t, "decode", func() bool { return h.lp.Stats().Decodes >= 1 })
	h.tick <- time.Time{}
	h.tick <- time.Time{}

	snap := h.tracker.Snapshot()
	if snap.Loop.RenderErrs != 1 {
		t.Errorf("render errors: got %d, want 1", snap.Loop.RenderErrs)
	}
	if snap.Loop.MQTTBuffered != 5 || snap.Loop.MQTTDropped != 2 {
		t.Errorf("mqtt queue: got buffered=%d dropped=%d, want 5 and 2",
			snap.Loop.MQTTBuffered, snap.Loop.MQTTDropped)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(snap), &sj); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if sj.Status.Loop.RenderErrs != 1 || sj.Status.MQTT.Buffered != 5 || sj.Status.MQTT.Dropped != 2 {
		t.Errorf("status JSON: loop=%+v mqtt=%+v", sj.Status.Loop, sj.Status.MQTT)
	}
	h.stop(t, syscall.SIGTERM)
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)
	h := startHarness(t, logic.DefaultTable(4), pub, 0, clock)

	for i := 0; i < 5; i++ {
		h.tick <- time.Time{}
	}
	h.stop(t, syscall.SIGTERM)

	if n := len(systemEvents(pub, "HEARTBEAT")); n != 0 {
		t.Errorf("expected no heartbeats when disabled, got %d", n)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "associated")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute)
	h := startHarness(t, logic.DefaultTable(4), pub, 15*time.Minute, clock)

	for i := 0; i < 3; i++ {
		h.tick <- time.Time{}
	}
	h.stop(t, syscall.SIGTERM)

	hbs := systemEvents(pub, "HEARTBEAT")
	if len(hbs) != 1 {
		t.Fatalf("expected 1 HEARTBEAT event, got %d", len(hbs))
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(hbs[0].RawPayload, &sj); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	n := sj.Status.Network
	if n == nil {
		t.Fatal("HEARTBEAT payload missing network info")
	}
	if n.IP != "192.168.1.42" || n.SSID != "HomeNet" || n.WifiStatus != "associated" {
		t.Errorf("network: got %+v", *n)
	}
}
