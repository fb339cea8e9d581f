package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/device/bladerf"
	"github.com/danmuck/adsbridge/internal/device/replay"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/protocol/feed"
	"github.com/danmuck/adsbridge/internal/protocol/frame"
	"github.com/danmuck/adsbridge/internal/validator"
)

var (
	ErrRestartLimit   = errors.New("bridge: restart limit exceeded")
	ErrUnknownBackend = errors.New("bridge: unknown device backend")
	ErrInvalidConfig  = errors.New("bridge: invalid config")
)

const (
	BackendBladeRF = "bladerf"
	BackendReplay  = "replay"

	// DefaultRelayAddress is readsb's raw input port (--net-ri-port).
	DefaultRelayAddress = "127.0.0.1:30001"
)

// RestartPolicy bounds device session restarts.
type RestartPolicy struct {
	// MaxConsecutive failed sessions in a row stop the bridge. A session
	// that yields a frame resets the count.
	MaxConsecutive int
	Cooldown       time.Duration
}

type ConsumersConfig struct {
	Terminal        bool
	TerminalNoColor bool
	Relays          []forward.RelayConfig
	MQTT            []forward.MQTTConfig
	Kafka           []forward.KafkaConfig
	CapturePath     string
	WebSocket       bool
}

type Config struct {
	Backend   string
	BladeRF   bladerf.Config
	Replay    replay.Config
	Device    device.Config
	Tuning    device.Tuning
	Reader    frame.Limits
	Validator validator.Config
	Forwarder forward.Config
	Restart   RestartPolicy
	Consumers ConsumersConfig

	StatusAddr        string
	StatusToken       string
	StatusOrigins     []string
	HeartbeatInterval time.Duration
	// DiscardLogPerSecond caps discard log lines; discards are always counted.
	DiscardLogPerSecond float64
}

func DefaultConfig() Config {
	return Config{
		Backend:   BackendBladeRF,
		BladeRF:   bladerf.DefaultConfig(),
		Device:    device.DefaultConfig(),
		Tuning:    device.DefaultTuning(),
		Reader:    frame.DefaultLimits(),
		Validator: validator.DefaultConfig(),
		Forwarder: forward.DefaultConfig(),
		Restart: RestartPolicy{
			MaxConsecutive: 3,
			Cooldown:       2 * time.Second,
		},
		Consumers: ConsumersConfig{
			Terminal:  true,
			WebSocket: true,
			Relays: []forward.RelayConfig{
				{Name: "readsb", Address: DefaultRelayAddress, Format: feed.FormatAVR},
			},
		},
		HeartbeatInterval:   30 * time.Second,
		DiscardLogPerSecond: 1,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = d.Backend
	}
	c.Device = c.Device.WithDefaults()
	c.Validator = c.Validator.WithDefaults()
	c.Forwarder = c.Forwarder.WithDefaults()
	if c.Restart.MaxConsecutive <= 0 {
		c.Restart.MaxConsecutive = d.Restart.MaxConsecutive
	}
	if c.Restart.Cooldown < 0 {
		c.Restart.Cooldown = 0
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.DiscardLogPerSecond <= 0 {
		c.DiscardLogPerSecond = d.DiscardLogPerSecond
	}
	return c
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendBladeRF:
	case BackendReplay:
		if strings.TrimSpace(c.Replay.Path) == "" {
			return fmt.Errorf("%w: replay backend needs a recording path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if err := c.Tuning.Validate(c.Device.WithDefaults().Limits); err != nil {
		return err
	}
	if c.Reader.MaxDiscard < 0 {
		return fmt.Errorf("%w: max_discard must be >= 0", ErrInvalidConfig)
	}
	if err := c.Forwarder.Reconnect.Validate(); err != nil {
		return err
	}
	names := map[string]bool{}
	for _, r := range c.Consumers.Relays {
		if strings.TrimSpace(r.Address) == "" {
			return fmt.Errorf("%w: relay without address", ErrInvalidConfig)
		}
		name := r.Name
		if name == "" {
			name = "relay:" + r.Address
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate relay %q", ErrInvalidConfig, name)
		}
		names[name] = true
	}
	return nil
}
