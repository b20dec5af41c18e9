// Command touch-led reads touch keys, lights the LED pattern mapped to them
// and reports each change to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/touch-led/internal/led"
	"github.com/sweeney/touch-led/internal/logic"
	"github.com/sweeney/touch-led/internal/loop"
	"github.com/sweeney/touch-led/internal/mqtt"
	"github.com/sweeney/touch-led/internal/status"
	"github.com/sweeney/touch-led/internal/touch"
	"github.com/sweeney/touch-led/internal/web"
)

// statusInterval is how often loop counters are copied to the tracker.
const statusInterval = time.Second

type config struct {
	tick       time.Duration
	touchKind  string
	chip       string
	touchPins  []int
	activeLow  bool
	debounce   time.Duration
	rescan     int
	i2cBus     string
	i2cAddr    uint16
	electrodes int
	irqPin     int
	mprPoll    int
	ledChip    string
	ledPins    []int
	ledLow     bool
	table      []logic.Pattern
	broker     string
	clientID   string
	heartbeat  time.Duration
	httpAddr   string
	printState bool
}

func main() {
	tick := flag.Duration("tick", time.Millisecond, "Decode loop interval (0 for free-running)")
	touchKind := flag.String("touch", "gpio", `Touch driver: "gpio" or "mpr121"`)
	chip := flag.String("chip", touch.DefaultChip, "GPIO chip for touch keys and the IRQ line")
	touchPins := flag.String("touch-pins", formatPins(touch.DefaultPins), "Comma-separated BCM pins of touch keys")
	activeLow := flag.Bool("touch-active-low", false, "Touch keys pull the line low when touched")
	debounce := flag.Duration("debounce", 0, "Kernel debounce for touch keys (0 to disable)")
	rescan := flag.Int("rescan", 1000, "Re-read all touch keys every N ticks (0 for edges only)")
	i2cBus := flag.String("i2c-bus", "", `I2C bus for mpr121 ("" for the first available)`)
	i2cAddr := flag.Uint("i2c-addr", touch.MPR121Address, "MPR121 I2C address")
	electrodes := flag.Int("electrodes", touch.MPR121Electrodes, "Number of MPR121 electrodes in use")
	irqPin := flag.Int("irq-pin", -1, "BCM pin of the MPR121 IRQ output (-1 to poll)")
	mprPoll := flag.Int("mpr121-poll", touch.DefaultMPR121Config().Poll, "Read MPR121 status every N ticks (0 for IRQ only)")
	ledChip := flag.String("led-chip", led.DefaultChip, "GPIO chip for LEDs")
	ledPins := flag.String("led-pins", formatPins(led.DefaultPins), "Comma-separated BCM pins of LEDs")
	ledLow := flag.Bool("led-active-low", false, "LEDs light when the line is low")
	table := flag.String("table", "", `Pattern per channel, e.g. "0x1,0x2,0x4,0x8" (empty maps channel i to LED i)`)
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	clientID := flag.String("client-id", "touch-led", "MQTT client ID")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")
	printState := flag.Bool("print-state", false, "Print current touch state and exit")

	flag.Parse()

	cfg, err := buildConfig(*tick, *touchKind, *chip, *touchPins, *activeLow, *debounce, *rescan,
		*i2cBus, *i2cAddr, *electrodes, *irqPin, *mprPoll,
		*ledChip, *ledPins, *ledLow, *table,
		*broker, *clientID, *heartbeat, *httpAddr, *printState)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func buildConfig(tick time.Duration, touchKind, chip, touchPins string, activeLow bool, debounce time.Duration, rescan int,
	i2cBus string, i2cAddr uint, electrodes, irqPin, mprPoll int,
	ledChip, ledPins string, ledLow bool, table string,
	broker, clientID string, heartbeat time.Duration, httpAddr string, printState bool) (config, error) {
	cfg := config{
		tick:       tick,
		touchKind:  touchKind,
		chip:       chip,
		activeLow:  activeLow,
		debounce:   debounce,
		rescan:     rescan,
		i2cBus:     i2cBus,
		electrodes: electrodes,
		irqPin:     irqPin,
		mprPoll:    mprPoll,
		ledChip:    ledChip,
		ledLow:     ledLow,
		broker:     broker,
		clientID:   clientID,
		heartbeat:  heartbeat,
		httpAddr:   httpAddr,
		printState: printState,
	}

	if i2cAddr > 0x7F {
		return cfg, fmt.Errorf("i2c address %#x out of range", i2cAddr)
	}
	cfg.i2cAddr = uint16(i2cAddr)

	var err error
	if cfg.touchPins, err = parsePins(touchPins); err != nil {
		return cfg, fmt.Errorf("touch pins: %w", err)
	}
	if cfg.ledPins, err = parsePins(ledPins); err != nil {
		return cfg, fmt.Errorf("led pins: %w", err)
	}

	channels, err := channelCount(cfg)
	if err != nil {
		return cfg, err
	}
	if table == "" {
		cfg.table = logic.DefaultTable(channels)
	} else if cfg.table, err = logic.ParseTable(table); err != nil {
		return cfg, fmt.Errorf("table: %w", err)
	}
	return cfg, nil
}

// channelCount is the number of touch channels the selected driver reports.
func channelCount(cfg config) (int, error) {
	switch cfg.touchKind {
	case "gpio":
		return len(cfg.touchPins), nil
	case "mpr121":
		if cfg.electrodes < 1 || cfg.electrodes > touch.MPR121Electrodes {
			return 0, fmt.Errorf("electrodes must be 1..%d, got %d", touch.MPR121Electrodes, cfg.electrodes)
		}
		return cfg.electrodes, nil
	default:
		return 0, fmt.Errorf("unknown touch driver %q", cfg.touchKind)
	}
}

// touchDevice is a touch driver that can also measure on demand.
type touchDevice interface {
	touch.Driver
	touch.Measurer
	touch.Stats
	Errors() uint64
}

// mpr121Device owns the bus and IRQ line behind an MPR121Driver.
type mpr121Device struct {
	*touch.MPR121Driver
	stopIRQ func() error
	bus     io.Closer
}

func (m *mpr121Device) Close() error {
	var errs []error
	if m.stopIRQ != nil {
		if err := m.stopIRQ(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.MPR121Driver.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func openTouch(cfg config) (touchDevice, error) {
	switch cfg.touchKind {
	case "gpio":
		d, err := touch.NewGPIODriver(touch.GPIOConfig{
			Chip:      cfg.chip,
			Offsets:   cfg.touchPins,
			ActiveLow: cfg.activeLow,
			Debounce:  cfg.debounce,
			Rescan:    cfg.rescan,
		})
		if err != nil {
			return nil, fmt.Errorf("init touch gpio: %w", err)
		}
		return d, nil

	case "mpr121":
		bus, err := touch.OpenI2C(cfg.i2cBus)
		if err != nil {
			return nil, err
		}
		mcfg := touch.DefaultMPR121Config()
		mcfg.Address = cfg.i2cAddr
		mcfg.Electrodes = uint8(cfg.electrodes)
		mcfg.Poll = cfg.mprPoll
		if cfg.irqPin < 0 && mcfg.Poll <= 0 {
			bus.Close()
			return nil, fmt.Errorf("mpr121 needs --irq-pin or --mpr121-poll > 0")
		}

		d := touch.NewMPR121Driver(bus, mcfg)
		if err := d.Configure(); err != nil {
			bus.Close()
			return nil, err
		}
		d.Start()
		dev := &mpr121Device{MPR121Driver: d, bus: bus}
		if cfg.irqPin >= 0 {
			stop, err := touch.WatchIRQ(cfg.chip, cfg.irqPin, d.Interrupt)
			if err != nil {
				dev.Close()
				return nil, err
			}
			dev.stopIRQ = stop
		}
		return dev, nil

	default:
		return nil, fmt.Errorf("unknown touch driver %q", cfg.touchKind)
	}
}

func run(cfg config) error {
	src, err := openTouch(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	decoder := logic.NewDecoder(cfg.table)

	// Print state mode
	if cfg.printState {
		state, err := src.Measure()
		if err != nil {
			return fmt.Errorf("read touch: %w", err)
		}
		p := decoder.Decode(state)
		fmt.Printf("touch: %s %v, pattern: %s %v\n",
			mqtt.Hex(uint16(state)), state.Channels(), mqtt.Hex(uint16(p)), p.LEDs())
		return nil
	}

	leds, err := led.NewGPIODriver(cfg.ledChip, cfg.ledPins, cfg.ledLow)
	if err != nil {
		return fmt.Errorf("init led gpio: %w", err)
	}
	defer leds.Close()
	if err := leds.Initialize(); err != nil {
		return err
	}
	if err := leds.Reset(); err != nil {
		return err
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.broker, cfg.clientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		TickUs:      cfg.tick.Microseconds(),
		HeartbeatMs: cfg.heartbeat.Milliseconds(),
		Broker:      cfg.broker,
		HTTPPort:    cfg.httpAddr,
		TouchDriver: cfg.touchKind,
		Channels:    decoder.Channels(),
		Table:       decoder.Table(),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetMQTTConnected(publisher.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.httpAddr != "" {
		srv := web.New(cfg.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.httpAddr)
	}

	lp := loop.New(src, leds, decoder, loop.WithInterval(cfg.tick))

	log.Printf("started: touch=%s channels=%d tick=%v broker=%s heartbeat=%v",
		cfg.touchKind, decoder.Channels(), cfg.tick, cfg.broker, cfg.heartbeat)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(lp, src, publisher, publisher, tracker, cfg.heartbeat, time.Now, ticker.C, sigCh)
}

// runLoop runs the decode loop in its own goroutine and reports its results.
// Only decodes that change the touch state are published. tick drives
// status refreshes and heartbeats.
func runLoop(lp *loop.Loop, src touch.Stats, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	counter := logic.NewCounter(now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- lp.Run(ctx)
	}()

	// Results is latest-wins, so counts come from the loop, not from here.
	var (
		last     logic.TouchState
		reported bool
	)
	report := func(res logic.Result) {
		if reported && res.State == last {
			return
		}
		reported = true
		last = res.State
		log.Printf("decode #%d: touch=%s %v pattern=%s",
			res.Seq, mqtt.Hex(uint16(res.State)), res.State.Channels(), mqtt.Hex(uint16(res.Pattern)))
		if err := publisher.Publish(res); err != nil {
			log.Printf("publish error: %v", err)
			// Don't crash on publish failure
		}
		if tracker != nil {
			tracker.Update(res, lp.Stats().Presses)
		}
	}

	refresh := func() {
		if tracker == nil {
			return
		}
		st := lp.Stats()
		ls := status.LoopStats{
			Iterations: st.Iterations,
			Decodes:    st.Decodes,
			Dropped:    st.Dropped,
			RenderErrs: st.RenderErrs,
		}
		if src != nil {
			ls.Overruns = src.Overruns()
		}
		if e, ok := src.(interface{ Errors() uint64 }); ok {
			ls.TouchErrs = e.Errors()
		}
		if q, ok := mqttStatus.(mqtt.QueueStats); ok {
			ls.MQTTBuffered = q.Buffered()
			ls.MQTTDropped = q.Dropped()
		}
		tracker.SetLoopStats(ls)
		tracker.SetPresses(st.Presses)
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			cancel()
			err := <-loopDone

			// Report the final decode, if the loop left one unread.
			select {
			case res := <-lp.Results():
				report(res)
			default:
			}

			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refresh()
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return err

		case res := <-lp.Results():
			report(res)

		case <-tick:
			t := now()
			refresh()

			st := lp.Stats()
			counter.Sync(st.Decodes, st.Presses)
			hbData := counter.CheckHeartbeat(t, heartbeat)
			if hbData == nil {
				continue
			}
			log.Printf("heartbeat: uptime=%v decodes=%d presses=%d",
				hbData.Uptime, hbData.Decodes, hbData.Presses.Total())

			hbEvent := mqtt.SystemEvent{
				Timestamp: hbData.Timestamp,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// parsePins parses a comma-separated list of line offsets.
func parsePins(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	pins := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", part, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("pin %d: negative offset", n)
		}
		if seen[n] {
			return nil, fmt.Errorf("pin %d listed twice", n)
		}
		seen[n] = true
		pins = append(pins, n)
	}
	if len(pins) == 0 {
		return nil, fmt.Errorf("no pins in %q", s)
	}
	if len(pins) > logic.MaxChannels {
		return nil, fmt.Errorf("%d pins, at most %d supported", len(pins), logic.MaxChannels)
	}
	return pins, nil
}

func formatPins(pins []int) string {
	s := make([]string, len(pins))
	for i, p := range pins {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ",")
}
