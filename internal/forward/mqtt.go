package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/adsbridge/internal/protocol/modes"
	"github.com/danmuck/adsbridge/internal/validator"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrMQTTBrokerRequired = errors.New("forward: mqtt broker required")

type MQTTConfig struct {
	Name     string
	Broker   string
	ClientID string
	// Topic may contain {icao} and {df} placeholders.
	Topic          string
	QoS            byte
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTT publishes one JSON record per frame. Paho owns transport-level
// reconnects; Reconnect here only re-issues Connect on a dropped client.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	alive  atomic.Bool
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, ErrMQTTBrokerRequired
	}
	if cfg.Name == "" {
		cfg.Name = "mqtt:" + cfg.Broker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "adsbridge-" + uuid.NewString()[:8]
	}
	if cfg.Topic == "" {
		cfg.Topic = "adsb/frames"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	m := &MQTT{cfg: cfg}
	opts := mqtt.NewClientOptions()
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.alive.Store(true)
		log.Info().Msgf("forward.MQTT.connect connected consumer=%s broker=%s", cfg.Name, broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.alive.Store(false)
		log.Warn().Msgf("forward.MQTT.connect connection lost consumer=%s err=%v", cfg.Name, err)
	}
	m.client = mqtt.NewClient(opts)
	return m, nil
}

func (m *MQTT) Name() string { return m.cfg.Name }
func (m *MQTT) Alive() bool  { return m.alive.Load() && m.client.IsConnectionOpen() }

func (m *MQTT) Reconnect(ctx context.Context) error {
	if m.client.IsConnectionOpen() {
		m.alive.Store(true)
		return nil
	}
	if m.client.IsConnected() {
		return fmt.Errorf("mqtt: client reconnecting")
	}
	token := m.client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.alive.Store(true)
	return nil
}

func (m *MQTT) Render(_ context.Context, f *validator.ValidatedFrame) error {
	payload, err := json.Marshal(f.Record())
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic(f), m.cfg.QoS, false, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		m.alive.Store(false)
		return fmt.Errorf("%w: mqtt publish timeout", ErrConsumerDown)
	}
	if err := token.Error(); err != nil {
		m.alive.Store(false)
		return fmt.Errorf("%w: mqtt publish: %v", ErrConsumerDown, err)
	}
	return nil
}

func (m *MQTT) topic(f *validator.ValidatedFrame) string {
	if !strings.Contains(m.cfg.Topic, "{") {
		return m.cfg.Topic
	}
	return strings.NewReplacer(
		"{icao}", modes.AddressHex(f.ICAO()),
		"{df}", fmt.Sprintf("%d", f.DF()),
	).Replace(m.cfg.Topic)
}

func (m *MQTT) Close() error {
	m.alive.Store(false)
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
