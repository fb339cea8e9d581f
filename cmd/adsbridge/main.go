package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/adsbridge/internal/bridge"
	"github.com/danmuck/adsbridge/internal/config"
	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/logging"
	"github.com/danmuck/adsbridge/internal/protocol/feed"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type relayFlags []string

func (r *relayFlags) String() string { return strings.Join(*r, " ") }
func (r *relayFlags) Set(v string) error {
	*r = append(*r, v)
	return nil
}

type options struct {
	configPath  string
	backend     string
	identifier  string
	bitstream   string
	replay      string
	frequency   uint64
	sampleRate  uint
	bandwidth   uint
	gainMode    string
	gain        int
	biasTee     bool
	relays      relayFlags
	noTerminal  bool
	statusAddr  string
	logLevel    string
	printConfig bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("adsbridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	d := device.DefaultTuning()
	fs.StringVar(&o.configPath, "config", "", "config file (.toml, .yaml)")
	fs.StringVar(&o.backend, "backend", bridge.BackendBladeRF, "device backend: bladerf|replay")
	fs.StringVar(&o.identifier, "device", "", "libbladeRF device identifier")
	fs.StringVar(&o.bitstream, "bitstream", "", "FPGA bitstream path (default picks adsbx<size>.rbf)")
	fs.StringVar(&o.replay, "replay", "", "replay a recorded record stream instead of the device")
	fs.Uint64Var(&o.frequency, "frequency", d.FrequencyHz, "center frequency in Hz")
	fs.UintVar(&o.sampleRate, "sample-rate", uint(d.SampleRateHz), "sample rate in Hz")
	fs.UintVar(&o.bandwidth, "bandwidth", uint(d.BandwidthHz), "RX bandwidth in Hz")
	fs.StringVar(&o.gainMode, "gain-mode", string(d.GainMode), "gain mode: default|manual|fast|slow|hybrid")
	fs.IntVar(&o.gain, "gain", d.GainDB, "manual gain in dB")
	fs.BoolVar(&o.biasTee, "bias-tee", false, "enable the RX bias tee")
	fs.Var(&o.relays, "relay", "relay target host:port[,avr|avr-mlat|beast]; repeatable, replaces configured relays, \"none\" disables")
	fs.BoolVar(&o.noTerminal, "no-terminal", false, "do not print frames on stdout")
	fs.StringVar(&o.statusAddr, "status-addr", "", "status server listen address")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: off|error|warn|info|debug|trace")
	fs.BoolVar(&o.printConfig, "print-config", false, "print the effective config and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "adsbridge: unexpected arguments: %v\n", fs.Args())
		return exitUsage
	}

	settings, err := resolve(fs, o)
	if err != nil {
		fmt.Fprintf(stderr, "adsbridge: %v\n", err)
		return exitUsage
	}
	if o.printConfig {
		out, err := config.Render(settings)
		if err != nil {
			fmt.Fprintf(stderr, "adsbridge: %v\n", err)
			return exitFatal
		}
		_, _ = stdout.Write(out)
		return exitOK
	}

	logging.ConfigureRuntime(settings.Log)
	svc, err := bridge.NewFromConfig(settings.Bridge)
	if err != nil {
		fmt.Fprintf(stderr, "adsbridge: %v\n", err)
		return exitFatal
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(stderr, "adsbridge: %v\n", err)
		return exitFatal
	}
	return exitOK
}

// resolve layers defaults, the config file, BLADERF_ADSB_* env and the
// flags that were set explicitly.
func resolve(fs *flag.FlagSet, o options) (config.Settings, error) {
	settings := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Settings{}, err
		}
		settings = loaded
	}
	if err := config.ApplyEnv(&settings, nil); err != nil {
		return config.Settings{}, err
	}

	b := &settings.Bridge
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		if flagErr != nil {
			return
		}
		switch f.Name {
		case "backend":
			b.Backend = o.backend
		case "device":
			b.BladeRF.Identifier = o.identifier
		case "bitstream":
			b.Device.Bitstream = o.bitstream
		case "replay":
			b.Backend = bridge.BackendReplay
			b.Replay.Path = o.replay
		case "frequency":
			b.Tuning.FrequencyHz = o.frequency
		case "sample-rate":
			b.Tuning.SampleRateHz = uint32(o.sampleRate)
		case "bandwidth":
			b.Tuning.BandwidthHz = uint32(o.bandwidth)
		case "gain-mode":
			b.Tuning.GainMode, flagErr = device.ParseGainMode(o.gainMode)
		case "gain":
			b.Tuning.GainDB = o.gain
		case "bias-tee":
			b.Tuning.BiasTee = o.biasTee
		case "relay":
			b.Consumers.Relays, flagErr = parseRelays(o.relays)
		case "no-terminal":
			b.Consumers.Terminal = !o.noTerminal
		case "status-addr":
			b.StatusAddr = o.statusAddr
		case "log-level":
			settings.Log.Level = o.logLevel
		}
	})
	if flagErr != nil {
		return config.Settings{}, flagErr
	}
	if o.logLevel != "" {
		if _, ok := logging.ParseLevel(o.logLevel); !ok {
			return config.Settings{}, fmt.Errorf("invalid -log-level %q", o.logLevel)
		}
	}
	if err := b.WithDefaults().Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

func parseRelays(values []string) ([]forward.RelayConfig, error) {
	var out []forward.RelayConfig
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, "none") {
			continue
		}
		addr, rawFormat, _ := strings.Cut(v, ",")
		format, err := feed.ParseFormat(rawFormat)
		if err != nil {
			return nil, fmt.Errorf("-relay %q: %w", v, err)
		}
		if !strings.Contains(addr, ":") {
			return nil, fmt.Errorf("-relay %q: want host:port", v)
		}
		out = append(out, forward.RelayConfig{Address: addr, Format: format})
	}
	return out, nil
}
