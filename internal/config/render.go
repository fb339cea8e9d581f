package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FromSettings builds a fully populated File, so rendering it and loading
// the result reproduces s.
func FromSettings(s Settings) File {
	b := s.Bridge
	rc := b.Forwarder.Reconnect

	relays := make([]RelayEntry, 0, len(b.Consumers.Relays))
	for _, r := range b.Consumers.Relays {
		relays = append(relays, RelayEntry{Name: r.Name, Address: r.Address, Format: string(r.Format)})
	}
	var mqtt []MQTTEntry
	for _, m := range b.Consumers.MQTT {
		mqtt = append(mqtt, MQTTEntry{
			Name:     m.Name,
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Topic:    m.Topic,
			QoS:      int(m.QoS),
			Username: m.Username,
			Password: m.Password,
		})
	}
	var kafka []KafkaEntry
	for _, k := range b.Consumers.Kafka {
		kafka = append(kafka, KafkaEntry{Name: k.Name, Brokers: k.Brokers, Topic: k.Topic, ClientID: k.ClientID})
	}

	f := File{
		Backend:             ptr(b.Backend),
		StatusAddr:          ptr(b.StatusAddr),
		StatusToken:         ptr(b.StatusToken),
		Heartbeat:           ptr(b.HeartbeatInterval.String()),
		DiscardLogPerSecond: ptr(b.DiscardLogPerSecond),
		Log: &LogSection{
			Level:      ptr(s.Log.Level),
			Format:     ptr(s.Log.Format),
			NoColor:    ptr(s.Log.NoColor),
			File:       ptr(s.Log.File.Path),
			MaxSizeMB:  ptr(s.Log.File.MaxSizeMB),
			MaxBackups: ptr(s.Log.File.MaxBackups),
			MaxAgeDays: ptr(s.Log.File.MaxAgeDays),
			Compress:   ptr(s.Log.File.Compress),
		},
		Device: &DeviceSection{
			Identifier:      ptr(b.BladeRF.Identifier),
			Bitstream:       ptr(b.Device.Bitstream),
			BitstreamSHA256: ptr(b.Device.BitstreamSHA256),
			BitstreamDir:    ptr(b.Device.BitstreamDir),
			LoadTimeout:     ptr(b.Device.LoadTimeout.String()),
			ReadTimeout:     ptr(b.Device.ReadTimeout.String()),
			ChunkSize:       ptr(b.Device.ChunkSize),
			Buffers:         ptr(b.BladeRF.Buffers),
			BufferSamples:   ptr(b.BladeRF.BufferSamples),
			Transfers:       ptr(b.BladeRF.Transfers),
			StreamTimeoutMS: ptr(b.BladeRF.StreamTimeoutMS),
		},
		Replay: &ReplaySection{
			Path:            ptr(b.Replay.Path),
			Loop:            ptr(b.Replay.Loop),
			ChunksPerSecond: ptr(b.Replay.ChunksPerSecond),
		},
		Tuning: &TuningSection{
			FrequencyHz:  ptr(b.Tuning.FrequencyHz),
			SampleRateHz: ptr(b.Tuning.SampleRateHz),
			BandwidthHz:  ptr(b.Tuning.BandwidthHz),
			GainMode:     ptr(string(b.Tuning.GainMode)),
			GainDB:       ptr(b.Tuning.GainDB),
			BiasTee:      ptr(b.Tuning.BiasTee),
		},
		Reader: &ReaderSection{
			MaxDiscard:   ptr(b.Reader.MaxDiscard),
			ReservedMask: ptr(int(b.Reader.ReservedMask)),
		},
		Validator: &ValidatorSection{
			APMode:      ptr(string(b.Validator.APMode)),
			KnownTTL:    ptr(b.Validator.KnownTTL.String()),
			MaxAircraft: ptr(b.Validator.MaxAircraft),
		},
		Forwarder: &ForwarderSection{
			QueueSize:         ptr(b.Forwarder.QueueSize),
			CloseGrace:        ptr(b.Forwarder.CloseGrace.String()),
			ConnectTimeout:    ptr(rc.ConnectTimeout.String()),
			WriteTimeout:      ptr(rc.WriteTimeout.String()),
			BackoffInitial:    ptr(rc.Backoff.InitialDelay.String()),
			BackoffMax:        ptr(rc.Backoff.MaxDelay.String()),
			BackoffMultiplier: ptr(rc.Backoff.Multiplier),
			BackoffJitter:     ptr(rc.Backoff.Jitter),
			MaxAttempts:       ptr(rc.MaxAttempts),
			Cooloff:           ptr(b.Forwarder.Cooloff.String()),
		},
		Restart: &RestartSection{
			MaxConsecutive: ptr(b.Restart.MaxConsecutive),
			Cooldown:       ptr(b.Restart.Cooldown.String()),
		},
		Consumers: &ConsumersSection{
			Terminal:        ptr(b.Consumers.Terminal),
			TerminalNoColor: ptr(b.Consumers.TerminalNoColor),
			WebSocket:       ptr(b.Consumers.WebSocket),
			CapturePath:     ptr(b.Consumers.CapturePath),
			Relays:          &relays,
			MQTT:            mqtt,
			Kafka:           kafka,
		},
	}
	if len(b.StatusOrigins) > 0 {
		f.StatusOrigins = ptr(b.StatusOrigins)
	}
	return f
}

// Render prints the effective configuration as TOML.
func Render(s Settings) ([]byte, error) {
	out, err := toml.Marshal(FromSettings(s))
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

// RenderYAML is Render for yaml consumers.
func RenderYAML(s Settings) ([]byte, error) {
	out, err := yaml.Marshal(FromSettings(s))
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}
