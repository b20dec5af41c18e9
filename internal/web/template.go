package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/touch-led/internal/logic"
	"github.com/sweeney/touch-led/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"hex": func(v uint16) string {
		return fmt.Sprintf("0x%04x", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Touch LED</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Touch LED<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Channels</h2>
<table id="channels">
<tr><th>Channel</th><th>Touch</th><th>LEDs</th><th>Presses</th></tr>
{{range .Rows}}<tr><td>{{.Index}}</td><td id="ch-{{.Index}}" class="{{if .Active}}on{{else}}off{{end}}">{{if .Active}}ON{{else}}OFF{{end}}</td><td>{{hex .Pattern}}</td><td id="pr-{{.Index}}">{{.Presses}}</td></tr>
{{end}}</table>

<h2>Display</h2>
<table>
<tr><th>State</th><td id="state">{{hex .StateBits}}</td></tr>
<tr><th>Pattern</th><td id="pattern">{{hex .PatternBits}}</td></tr>
<tr><th>Ready</th><td>{{if .Decoded}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Loop</h2>
<table>
<tr><th>Iterations</th><td id="iterations">{{.Loop.Iterations}}</td></tr>
<tr><th>Decodes</th><td id="decodes">{{.Loop.Decodes}}</td></tr>
<tr><th>Overruns</th><td>{{.Loop.Overruns}}</td></tr>
<tr><th>Touch errors</th><td>{{.Loop.TouchErrs}}</td></tr>
<tr><th>Render errors</th><td>{{.Loop.RenderErrs}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Queued</th><td>{{.Loop.MQTTBuffered}} ({{.Loop.MQTTDropped}} dropped)</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Touch driver</th><td>{{.Config.TouchDriver}}</td></tr>
<tr><th>Tick</th><td>{{if eq .Config.TickUs 0}}free-running{{else}}{{.Config.TickUs}}us{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function set(id, text, cls) {
    var el = document.getElementById(id);
    if (!el) return;
    el.textContent = text;
    if (cls !== undefined) el.className = cls;
  }
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        set("state", s.touch.state);
        set("pattern", s.led.pattern);
        set("iterations", s.loop.iterations);
        set("decodes", s.loop.decodes);
        for (var i = 0; i < s.config.channels; i++) {
          var on = s.touch.channels.indexOf(i) >= 0;
          set("ch-" + i, on ? "ON" : "OFF", on ? "on" : "off");
          set("pr-" + i, s.presses[i]);
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

type channelRow struct {
	Index   int
	Active  bool
	Pattern uint16
	Presses int
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	rows := make([]channelRow, 0, len(snap.Config.Table))
	for i, p := range snap.Config.Table {
		if i >= logic.MaxChannels {
			break
		}
		rows = append(rows, channelRow{
			Index:   i,
			Active:  snap.State.Active(i),
			Pattern: uint16(p),
			Presses: snap.Presses[i],
		})
	}

	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		Rows        []channelRow
		StateBits   uint16
		PatternBits uint16
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		Rows:        rows,
		StateBits:   uint16(snap.State),
		PatternBits: uint16(snap.Pattern),
	}
	indexTmpl.Execute(w, data)
}
