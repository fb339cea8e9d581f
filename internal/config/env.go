package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/adsbridge/internal/bridge"
	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/protocol/feed"
)

const EnvPrefix = "BLADERF_ADSB_"

// Lookup matches os.LookupEnv.
type Lookup func(key string) (string, bool)

// ApplyEnv overlays BLADERF_ADSB_* variables. Empty values are ignored.
func ApplyEnv(s *Settings, lookup Lookup) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	b := &s.Bridge

	if v, ok := get("FREQUENCY"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return envErr("FREQUENCY", v, err)
		}
		b.Tuning.FrequencyHz = n
	}
	if v, ok := get("SAMPLE_RATE"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return envErr("SAMPLE_RATE", v, err)
		}
		b.Tuning.SampleRateHz = uint32(n)
	}
	if v, ok := get("BANDWIDTH"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return envErr("BANDWIDTH", v, err)
		}
		b.Tuning.BandwidthHz = uint32(n)
	}
	if v, ok := get("GAIN_MODE"); ok {
		mode, err := device.ParseGainMode(v)
		if err != nil {
			return envErr("GAIN_MODE", v, err)
		}
		b.Tuning.GainMode = mode
	}
	if v, ok := get("GAIN"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envErr("GAIN", v, err)
		}
		b.Tuning.GainDB = n
	}
	if v, ok := get("BIAS_TEE"); ok {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return envErr("BIAS_TEE", v, err)
		}
		b.Tuning.BiasTee = on
	}
	if v, ok := get("FPGA_PATH"); ok {
		b.Device.Bitstream = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		s.Log.Level = v
	}

	ip, hasIP := get("REMOTE_IP")
	port, hasPort := get("REMOTE_PORT")
	if hasIP || hasPort {
		if hasPort {
			if _, err := strconv.ParseUint(port, 10, 16); err != nil {
				return envErr("REMOTE_PORT", port, err)
			}
		}
		setPrimaryRelay(&b.Consumers, ip, port)
	}
	if v, ok := get("REMOTE"); ok {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return envErr("REMOTE", v, err)
		}
		if !on {
			b.Consumers.Relays = nil
		}
	}
	return nil
}

// setPrimaryRelay rewrites host and/or port of the first relay, adding one
// when none is configured.
func setPrimaryRelay(c *bridge.ConsumersConfig, host, port string) {
	if len(c.Relays) == 0 {
		c.Relays = append(c.Relays, forward.RelayConfig{Name: "readsb", Address: bridge.DefaultRelayAddress, Format: feed.FormatAVR})
	}
	curHost, curPort, err := net.SplitHostPort(c.Relays[0].Address)
	if err != nil {
		curHost, curPort, _ = net.SplitHostPort(bridge.DefaultRelayAddress)
	}
	if host == "" {
		host = curHost
	}
	if port == "" {
		port = curPort
	}
	c.Relays[0].Address = net.JoinHostPort(host, port)
}

func envErr(name, value string, err error) error {
	return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidValue, EnvPrefix, name, value, err)
}
