package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bridge", "bladerf":
		return bridgeTemplate, nil
	case "replay":
		return replayTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bridgeTemplate = `backend = "bladerf"
status_addr = "127.0.0.1:8080"
heartbeat = "30s"

[log]
level = "info"
format = "console"

[device]
# empty bitstream picks adsbx<size>.rbf from bitstream_dir
bitstream = ""
bitstream_dir = "/usr/share/Nuand/bladeRF"
load_timeout = "5s"
read_timeout = "500ms"

[tuning]
frequency_hz = 1086000000
sample_rate_hz = 16000000
bandwidth_hz = 14000000
gain_mode = "default"
gain_db = 35
bias_tee = false

[reader]
max_discard = 4096

[validator]
ap_mode = "known"
known_ttl = "60s"

[forwarder]
queue_size = 1024
backoff_initial = "250ms"
backoff_max = "30s"
max_attempts = 30
cooloff = "5m"

[restart]
max_consecutive = 3
cooldown = "2s"

[consumers]
terminal = true
websocket = true

[[consumers.relay]]
name = "readsb"
address = "127.0.0.1:30001"
format = "avr"
`

const replayTemplate = `backend = "replay"
status_addr = "127.0.0.1:8080"

[replay]
path = "capture.bin"
loop = false
chunks_per_second = 500

[consumers]
terminal = true

[[consumers.relay]]
name = "readsb"
address = "127.0.0.1:30001"
format = "avr"
`
