// Package config loads the bridge configuration from TOML or YAML files and
// BLADERF_ADSB_* environment variables on top of the built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/adsbridge/internal/bridge"
	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/logging"
	"github.com/danmuck/adsbridge/internal/protocol/feed"
	"github.com/danmuck/adsbridge/internal/validator"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrUnknownKeys       = errors.New("config: unknown keys")
	ErrInvalidValue      = errors.New("config: invalid value")
)

// Settings is the resolved configuration: the bridge plus its logger.
type Settings struct {
	Bridge bridge.Config
	Log    logging.Options
}

func Default() Settings {
	return Settings{
		Bridge: bridge.DefaultConfig(),
		Log: logging.Options{
			Level:  "info",
			Format: "console",
		},
	}
}

// File mirrors the on-disk layout. Every field is optional; keys that are
// absent keep their default. Durations are strings ("250ms", "2s").
type File struct {
	Backend             *string   `toml:"backend,omitempty" yaml:"backend,omitempty"`
	StatusAddr          *string   `toml:"status_addr,omitempty" yaml:"status_addr,omitempty"`
	StatusToken         *string   `toml:"status_token,omitempty" yaml:"status_token,omitempty"`
	StatusOrigins       *[]string `toml:"status_origins,omitempty" yaml:"status_origins,omitempty"`
	Heartbeat           *string   `toml:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`
	DiscardLogPerSecond *float64  `toml:"discard_log_per_second,omitempty" yaml:"discard_log_per_second,omitempty"`

	Log       *LogSection       `toml:"log,omitempty" yaml:"log,omitempty"`
	Device    *DeviceSection    `toml:"device,omitempty" yaml:"device,omitempty"`
	Replay    *ReplaySection    `toml:"replay,omitempty" yaml:"replay,omitempty"`
	Tuning    *TuningSection    `toml:"tuning,omitempty" yaml:"tuning,omitempty"`
	Reader    *ReaderSection    `toml:"reader,omitempty" yaml:"reader,omitempty"`
	Validator *ValidatorSection `toml:"validator,omitempty" yaml:"validator,omitempty"`
	Forwarder *ForwarderSection `toml:"forwarder,omitempty" yaml:"forwarder,omitempty"`
	Restart   *RestartSection   `toml:"restart,omitempty" yaml:"restart,omitempty"`
	Consumers *ConsumersSection `toml:"consumers,omitempty" yaml:"consumers,omitempty"`
}

type LogSection struct {
	Level      *string `toml:"level,omitempty" yaml:"level,omitempty"`
	Format     *string `toml:"format,omitempty" yaml:"format,omitempty"`
	NoColor    *bool   `toml:"no_color,omitempty" yaml:"no_color,omitempty"`
	File       *string `toml:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  *int    `toml:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups *int    `toml:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays *int    `toml:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   *bool   `toml:"compress,omitempty" yaml:"compress,omitempty"`
}

type DeviceSection struct {
	Identifier      *string `toml:"identifier,omitempty" yaml:"identifier,omitempty"`
	Bitstream       *string `toml:"bitstream,omitempty" yaml:"bitstream,omitempty"`
	BitstreamSHA256 *string `toml:"bitstream_sha256,omitempty" yaml:"bitstream_sha256,omitempty"`
	BitstreamDir    *string `toml:"bitstream_dir,omitempty" yaml:"bitstream_dir,omitempty"`
	LoadTimeout     *string `toml:"load_timeout,omitempty" yaml:"load_timeout,omitempty"`
	ReadTimeout     *string `toml:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	ChunkSize       *int    `toml:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	Buffers         *int    `toml:"buffers,omitempty" yaml:"buffers,omitempty"`
	BufferSamples   *int    `toml:"buffer_samples,omitempty" yaml:"buffer_samples,omitempty"`
	Transfers       *int    `toml:"transfers,omitempty" yaml:"transfers,omitempty"`
	StreamTimeoutMS *int    `toml:"stream_timeout_ms,omitempty" yaml:"stream_timeout_ms,omitempty"`
}

type ReplaySection struct {
	Path            *string  `toml:"path,omitempty" yaml:"path,omitempty"`
	Loop            *bool    `toml:"loop,omitempty" yaml:"loop,omitempty"`
	ChunksPerSecond *float64 `toml:"chunks_per_second,omitempty" yaml:"chunks_per_second,omitempty"`
}

type TuningSection struct {
	FrequencyHz  *uint64 `toml:"frequency_hz,omitempty" yaml:"frequency_hz,omitempty"`
	SampleRateHz *uint32 `toml:"sample_rate_hz,omitempty" yaml:"sample_rate_hz,omitempty"`
	BandwidthHz  *uint32 `toml:"bandwidth_hz,omitempty" yaml:"bandwidth_hz,omitempty"`
	GainMode     *string `toml:"gain_mode,omitempty" yaml:"gain_mode,omitempty"`
	GainDB       *int    `toml:"gain_db,omitempty" yaml:"gain_db,omitempty"`
	BiasTee      *bool   `toml:"bias_tee,omitempty" yaml:"bias_tee,omitempty"`
}

type ReaderSection struct {
	MaxDiscard   *int `toml:"max_discard,omitempty" yaml:"max_discard,omitempty"`
	ReservedMask *int `toml:"reserved_mask,omitempty" yaml:"reserved_mask,omitempty"`
}

type ValidatorSection struct {
	APMode      *string `toml:"ap_mode,omitempty" yaml:"ap_mode,omitempty"`
	KnownTTL    *string `toml:"known_ttl,omitempty" yaml:"known_ttl,omitempty"`
	MaxAircraft *int    `toml:"max_aircraft,omitempty" yaml:"max_aircraft,omitempty"`
}

type ForwarderSection struct {
	QueueSize         *int     `toml:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	CloseGrace        *string  `toml:"close_grace,omitempty" yaml:"close_grace,omitempty"`
	ConnectTimeout    *string  `toml:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	WriteTimeout      *string  `toml:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	BackoffInitial    *string  `toml:"backoff_initial,omitempty" yaml:"backoff_initial,omitempty"`
	BackoffMax        *string  `toml:"backoff_max,omitempty" yaml:"backoff_max,omitempty"`
	BackoffMultiplier *float64 `toml:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
	BackoffJitter     *bool    `toml:"backoff_jitter,omitempty" yaml:"backoff_jitter,omitempty"`
	MaxAttempts       *int     `toml:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Cooloff           *string  `toml:"cooloff,omitempty" yaml:"cooloff,omitempty"`
}

type RestartSection struct {
	MaxConsecutive *int    `toml:"max_consecutive,omitempty" yaml:"max_consecutive,omitempty"`
	Cooldown       *string `toml:"cooldown,omitempty" yaml:"cooldown,omitempty"`
}

type ConsumersSection struct {
	Terminal        *bool   `toml:"terminal,omitempty" yaml:"terminal,omitempty"`
	TerminalNoColor *bool   `toml:"terminal_no_color,omitempty" yaml:"terminal_no_color,omitempty"`
	WebSocket       *bool   `toml:"websocket,omitempty" yaml:"websocket,omitempty"`
	CapturePath     *string `toml:"capture_path,omitempty" yaml:"capture_path,omitempty"`
	// Relays replaces the default relay list when present; an empty list
	// disables relaying.
	Relays *[]RelayEntry `toml:"relay,omitempty" yaml:"relay,omitempty"`
	MQTT   []MQTTEntry   `toml:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Kafka  []KafkaEntry  `toml:"kafka,omitempty" yaml:"kafka,omitempty"`
}

type RelayEntry struct {
	Name    string `toml:"name,omitempty" yaml:"name,omitempty"`
	Address string `toml:"address" yaml:"address"`
	Format  string `toml:"format,omitempty" yaml:"format,omitempty"`
}

type MQTTEntry struct {
	Name     string `toml:"name,omitempty" yaml:"name,omitempty"`
	Broker   string `toml:"broker" yaml:"broker"`
	ClientID string `toml:"client_id,omitempty" yaml:"client_id,omitempty"`
	Topic    string `toml:"topic,omitempty" yaml:"topic,omitempty"`
	QoS      int    `toml:"qos,omitempty" yaml:"qos,omitempty"`
	Username string `toml:"username,omitempty" yaml:"username,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty"`
}

type KafkaEntry struct {
	Name     string   `toml:"name,omitempty" yaml:"name,omitempty"`
	Brokers  []string `toml:"brokers" yaml:"brokers"`
	Topic    string   `toml:"topic,omitempty" yaml:"topic,omitempty"`
	ClientID string   `toml:"client_id,omitempty" yaml:"client_id,omitempty"`
}

// Load resolves defaults, then the file at path.
func Load(path string) (Settings, error) {
	s := Default()
	f, err := Decode(path)
	if err != nil {
		return Settings{}, err
	}
	if err := f.Apply(&s); err != nil {
		return Settings{}, fmt.Errorf("config %s: %w", path, err)
	}
	return s, nil
}

// Decode reads path as TOML or YAML by extension. Unknown keys are errors.
func Decode(path string) (File, error) {
	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		meta, err := toml.DecodeFile(path, &f)
		if err != nil {
			return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return File{}, fmt.Errorf("%w (%s): %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return File{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return f, nil
}

// Apply overlays the keys present in f onto s.
func (f File) Apply(s *Settings) error {
	b := &s.Bridge
	set(&b.Backend, trimmed(f.Backend))
	set(&b.StatusAddr, trimmed(f.StatusAddr))
	set(&b.StatusToken, trimmed(f.StatusToken))
	set(&b.StatusOrigins, f.StatusOrigins)
	set(&b.DiscardLogPerSecond, f.DiscardLogPerSecond)
	if err := setDuration(&b.HeartbeatInterval, f.Heartbeat, "heartbeat"); err != nil {
		return err
	}

	if l := f.Log; l != nil {
		set(&s.Log.Level, trimmed(l.Level))
		set(&s.Log.Format, trimmed(l.Format))
		set(&s.Log.NoColor, l.NoColor)
		set(&s.Log.File.Path, trimmed(l.File))
		set(&s.Log.File.MaxSizeMB, l.MaxSizeMB)
		set(&s.Log.File.MaxBackups, l.MaxBackups)
		set(&s.Log.File.MaxAgeDays, l.MaxAgeDays)
		set(&s.Log.File.Compress, l.Compress)
	}

	if d := f.Device; d != nil {
		set(&b.BladeRF.Identifier, trimmed(d.Identifier))
		set(&b.BladeRF.Buffers, d.Buffers)
		set(&b.BladeRF.BufferSamples, d.BufferSamples)
		set(&b.BladeRF.Transfers, d.Transfers)
		set(&b.BladeRF.StreamTimeoutMS, d.StreamTimeoutMS)
		set(&b.Device.Bitstream, trimmed(d.Bitstream))
		set(&b.Device.BitstreamSHA256, trimmed(d.BitstreamSHA256))
		set(&b.Device.BitstreamDir, trimmed(d.BitstreamDir))
		set(&b.Device.ChunkSize, d.ChunkSize)
		if err := setDuration(&b.Device.LoadTimeout, d.LoadTimeout, "device.load_timeout"); err != nil {
			return err
		}
		if err := setDuration(&b.Device.ReadTimeout, d.ReadTimeout, "device.read_timeout"); err != nil {
			return err
		}
	}

	if r := f.Replay; r != nil {
		set(&b.Replay.Path, trimmed(r.Path))
		set(&b.Replay.Loop, r.Loop)
		set(&b.Replay.ChunksPerSecond, r.ChunksPerSecond)
	}

	if t := f.Tuning; t != nil {
		set(&b.Tuning.FrequencyHz, t.FrequencyHz)
		set(&b.Tuning.SampleRateHz, t.SampleRateHz)
		set(&b.Tuning.BandwidthHz, t.BandwidthHz)
		set(&b.Tuning.GainDB, t.GainDB)
		set(&b.Tuning.BiasTee, t.BiasTee)
		if t.GainMode != nil {
			mode, err := device.ParseGainMode(*t.GainMode)
			if err != nil {
				return err
			}
			b.Tuning.GainMode = mode
		}
	}

	if r := f.Reader; r != nil {
		set(&b.Reader.MaxDiscard, r.MaxDiscard)
		if r.ReservedMask != nil {
			if *r.ReservedMask < 0 || *r.ReservedMask > 0xFF {
				return fmt.Errorf("%w: reader.reserved_mask %d out of byte range", ErrInvalidValue, *r.ReservedMask)
			}
			b.Reader.ReservedMask = byte(*r.ReservedMask)
		}
	}

	if v := f.Validator; v != nil {
		set(&b.Validator.MaxAircraft, v.MaxAircraft)
		if v.APMode != nil {
			mode, err := validator.ParseAPMode(*v.APMode)
			if err != nil {
				return err
			}
			b.Validator.APMode = mode
		}
		if err := setDuration(&b.Validator.KnownTTL, v.KnownTTL, "validator.known_ttl"); err != nil {
			return err
		}
	}

	if fw := f.Forwarder; fw != nil {
		rc := &b.Forwarder.Reconnect
		set(&b.Forwarder.QueueSize, fw.QueueSize)
		set(&rc.Backoff.Multiplier, fw.BackoffMultiplier)
		set(&rc.Backoff.Jitter, fw.BackoffJitter)
		set(&rc.MaxAttempts, fw.MaxAttempts)
		for _, d := range []struct {
			dst *time.Duration
			raw *string
			key string
		}{
			{&b.Forwarder.CloseGrace, fw.CloseGrace, "forwarder.close_grace"},
			{&b.Forwarder.Cooloff, fw.Cooloff, "forwarder.cooloff"},
			{&rc.ConnectTimeout, fw.ConnectTimeout, "forwarder.connect_timeout"},
			{&rc.WriteTimeout, fw.WriteTimeout, "forwarder.write_timeout"},
			{&rc.Backoff.InitialDelay, fw.BackoffInitial, "forwarder.backoff_initial"},
			{&rc.Backoff.MaxDelay, fw.BackoffMax, "forwarder.backoff_max"},
		} {
			if err := setDuration(d.dst, d.raw, d.key); err != nil {
				return err
			}
		}
	}

	if r := f.Restart; r != nil {
		set(&b.Restart.MaxConsecutive, r.MaxConsecutive)
		if err := setDuration(&b.Restart.Cooldown, r.Cooldown, "restart.cooldown"); err != nil {
			return err
		}
	}

	if c := f.Consumers; c != nil {
		if err := c.apply(&b.Consumers); err != nil {
			return err
		}
	}
	return nil
}

func (c ConsumersSection) apply(dst *bridge.ConsumersConfig) error {
	set(&dst.Terminal, c.Terminal)
	set(&dst.TerminalNoColor, c.TerminalNoColor)
	set(&dst.WebSocket, c.WebSocket)
	set(&dst.CapturePath, trimmed(c.CapturePath))

	if c.Relays != nil {
		relays := make([]forward.RelayConfig, 0, len(*c.Relays))
		for i, r := range *c.Relays {
			format, err := feed.ParseFormat(r.Format)
			if err != nil {
				return fmt.Errorf("consumers.relay[%d]: %w", i, err)
			}
			if strings.TrimSpace(r.Address) == "" {
				return fmt.Errorf("%w: consumers.relay[%d] missing address", ErrInvalidValue, i)
			}
			relays = append(relays, forward.RelayConfig{
				Name:    strings.TrimSpace(r.Name),
				Address: strings.TrimSpace(r.Address),
				Format:  format,
			})
		}
		dst.Relays = relays
	}
	for i, m := range c.MQTT {
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("%w: consumers.mqtt[%d] qos %d", ErrInvalidValue, i, m.QoS)
		}
		dst.MQTT = append(dst.MQTT, forward.MQTTConfig{
			Name:     m.Name,
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Topic:    m.Topic,
			QoS:      byte(m.QoS),
			Username: m.Username,
			Password: m.Password,
		})
	}
	for _, k := range c.Kafka {
		dst.Kafka = append(dst.Kafka, forward.KafkaConfig{
			Name:     k.Name,
			Brokers:  k.Brokers,
			Topic:    k.Topic,
			ClientID: k.ClientID,
		})
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}

func setDuration(dst *time.Duration, raw *string, key string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidValue, key, err)
	}
	*dst = d
	return nil
}
