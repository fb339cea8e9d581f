package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/adsbridge/internal/bridge"
	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/protocol/feed"
	"github.com/danmuck/adsbridge/internal/testutil/testlog"
	"github.com/danmuck/adsbridge/internal/validator"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTOMLOverridesKeepDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "bridge.toml", `
backend = "replay"
heartbeat = "5s"

[replay]
path = "/tmp/capture.bin"
loop = true

[tuning]
gain_mode = "manual"
gain_db = 20

[validator]
ap_mode = "reject"

[restart]
cooldown = "500ms"

[forwarder]
cooloff = "90s"

[consumers]
terminal = false

[[consumers.relay]]
address = "10.0.0.2:30004"
format = "beast"
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := s.Bridge
	if b.Backend != bridge.BackendReplay || b.Replay.Path != "/tmp/capture.bin" || !b.Replay.Loop {
		t.Fatalf("unexpected backend/replay: %q %+v", b.Backend, b.Replay)
	}
	if b.HeartbeatInterval != 5*time.Second || b.Restart.Cooldown != 500*time.Millisecond {
		t.Fatalf("unexpected durations: heartbeat=%v cooldown=%v", b.HeartbeatInterval, b.Restart.Cooldown)
	}
	if b.Forwarder.Cooloff != 90*time.Second || b.Forwarder.Reconnect.MaxAttempts != 30 {
		t.Fatalf("unexpected forwarder: %+v", b.Forwarder)
	}
	if b.Tuning.GainMode != device.GainManual || b.Tuning.GainDB != 20 {
		t.Fatalf("unexpected tuning: %+v", b.Tuning)
	}
	if b.Tuning.FrequencyHz != 1086000000 || b.Restart.MaxConsecutive != 3 {
		t.Fatalf("absent keys must keep defaults: %+v %+v", b.Tuning, b.Restart)
	}
	if b.Validator.APMode != validator.APReject {
		t.Fatalf("ap mode=%q", b.Validator.APMode)
	}
	if b.Consumers.Terminal || !b.Consumers.WebSocket {
		t.Fatalf("unexpected consumers: %+v", b.Consumers)
	}
	if len(b.Consumers.Relays) != 1 || b.Consumers.Relays[0].Address != "10.0.0.2:30004" || b.Consumers.Relays[0].Format != feed.FormatBeast {
		t.Fatalf("relay list should be replaced: %+v", b.Consumers.Relays)
	}
}

func TestLoadYAML(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "bridge.yaml", `
backend: bladerf
device:
  bitstream: /opt/adsbxA9.rbf
  load_timeout: 8s
reader:
  max_discard: 64
consumers:
  relay: []
  mqtt:
    - broker: localhost:1883
      topic: adsb/{icao}
      qos: 1
log:
  level: debug
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := s.Bridge
	if b.Device.Bitstream != "/opt/adsbxA9.rbf" || b.Device.LoadTimeout != 8*time.Second {
		t.Fatalf("unexpected device: %+v", b.Device)
	}
	if b.Reader.MaxDiscard != 64 {
		t.Fatalf("max discard=%d", b.Reader.MaxDiscard)
	}
	if len(b.Consumers.Relays) != 0 {
		t.Fatalf("empty relay list should disable relays: %+v", b.Consumers.Relays)
	}
	if len(b.Consumers.MQTT) != 1 || b.Consumers.MQTT[0].QoS != 1 || b.Consumers.MQTT[0].Topic != "adsb/{icao}" {
		t.Fatalf("unexpected mqtt: %+v", b.Consumers.MQTT)
	}
	if s.Log.Level != "debug" {
		t.Fatalf("log level=%q", s.Log.Level)
	}
}

func TestLoadRejectsUnknownKeysAndBadValues(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name, file, body string
		want             error
	}{
		{"unknown toml key", "a.toml", "[tuning]\nfrequency = 1\n", ErrUnknownKeys},
		{"bad duration", "b.toml", "[restart]\ncooldown = \"soon\"\n", ErrInvalidValue},
		{"bad mask", "c.toml", "[reader]\nreserved_mask = 300\n", ErrInvalidValue},
		{"bad gain mode", "d.toml", "[tuning]\ngain_mode = \"loud\"\n", device.ErrInvalidParameter},
		{"unsupported ext", "e.json", "{}", ErrUnsupportedFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := Load(writeFile(t, "f.yaml", "tuning:\n  frequency: 1\n")); err == nil {
		t.Fatalf("expected unknown yaml field error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	testlog.Start(t)
	env := map[string]string{
		"BLADERF_ADSB_FREQUENCY":   "1090000000",
		"BLADERF_ADSB_GAIN_MODE":   "slow",
		"BLADERF_ADSB_BIAS_TEE":    "true",
		"BLADERF_ADSB_FPGA_PATH":   "/srv/adsbx115.rbf",
		"BLADERF_ADSB_REMOTE_IP":   "192.168.1.20",
		"BLADERF_ADSB_REMOTE_PORT": "",
		"BLADERF_ADSB_LOG_LEVEL":   "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	s := Default()
	if err := ApplyEnv(&s, lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	b := s.Bridge
	if b.Tuning.FrequencyHz != 1090000000 || b.Tuning.GainMode != device.GainSlow || !b.Tuning.BiasTee {
		t.Fatalf("unexpected tuning: %+v", b.Tuning)
	}
	if b.Device.Bitstream != "/srv/adsbx115.rbf" || s.Log.Level != "warn" {
		t.Fatalf("unexpected device/log: %+v %+v", b.Device, s.Log)
	}
	if got := b.Consumers.Relays[0].Address; got != "192.168.1.20:30001" {
		t.Fatalf("relay address=%q", got)
	}

	env = map[string]string{"BLADERF_ADSB_REMOTE": "false"}
	if err := ApplyEnv(&s, lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if len(s.Bridge.Consumers.Relays) != 0 {
		t.Fatalf("remote=false should drop relays: %+v", s.Bridge.Consumers.Relays)
	}

	env = map[string]string{"BLADERF_ADSB_GAIN": "loud"}
	if err := ApplyEnv(&s, lookup); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestRenderLoadsBackToSameSettings(t *testing.T) {
	testlog.Start(t)
	want := Default()
	want.Bridge.StatusAddr = "127.0.0.1:9090"
	want.Bridge.Restart.Cooldown = 1500 * time.Millisecond

	out, err := Render(want)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "[[consumers.relay]]") {
		t.Fatalf("rendered config lacks relay table:\n%s", out)
	}
	got, err := Load(writeFile(t, "effective.toml", string(out)))
	if err != nil {
		t.Fatalf("load rendered: %v\n%s", err, out)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, want)
	}

	yml, err := RenderYAML(want)
	if err != nil {
		t.Fatalf("render yaml: %v", err)
	}
	if _, err := Load(writeFile(t, "effective.yaml", string(yml))); err != nil {
		t.Fatalf("load rendered yaml: %v\n%s", err, yml)
	}
}

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"bridge", "replay"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", path)
		}
		s, err := Load(path)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if err := s.Bridge.WithDefaults().Validate(); err != nil {
			t.Fatalf("%s template invalid: %v", kind, err)
		}
	}
	if _, err := Template("gateway"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
