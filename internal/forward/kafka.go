package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/adsbridge/internal/protocol/modes"
	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrKafkaBrokersRequired = errors.New("forward: kafka brokers required")

type KafkaConfig struct {
	Name           string
	Brokers        []string
	Topic          string
	ClientID       string
	ProduceTimeout time.Duration
}

// Kafka produces one record per frame keyed by ICAO address, so a
// partition sees every message of an aircraft in order.
type Kafka struct {
	cfg    KafkaConfig
	client *kgo.Client
	alive  atomic.Bool
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrKafkaBrokersRequired
	}
	if cfg.Topic == "" {
		cfg.Topic = "adsb.frames"
	}
	if cfg.Name == "" {
		cfg.Name = "kafka:" + cfg.Topic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "adsbridge"
	}
	if cfg.ProduceTimeout <= 0 {
		cfg.ProduceTimeout = 5 * time.Second
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(cfg.ProduceTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Kafka{cfg: cfg, client: client}, nil
}

func (k *Kafka) Name() string { return k.cfg.Name }
func (k *Kafka) Alive() bool  { return k.alive.Load() }

// Reconnect pings the cluster; kgo redials brokers on its own.
func (k *Kafka) Reconnect(ctx context.Context) error {
	if err := k.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	k.alive.Store(true)
	return nil
}

func (k *Kafka) Render(ctx context.Context, f *validator.ValidatedFrame) error {
	value, err := json.Marshal(f.Record())
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, k.cfg.ProduceTimeout)
	defer cancel()
	rec := &kgo.Record{
		Key:       []byte(modes.AddressHex(f.ICAO())),
		Value:     value,
		Timestamp: f.At(),
	}
	if err := k.client.ProduceSync(pctx, rec).FirstErr(); err != nil {
		k.alive.Store(false)
		return fmt.Errorf("%w: kafka produce: %v", ErrConsumerDown, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	k.alive.Store(false)
	k.client.Close()
	return nil
}
