package bridge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/device/bladerf"
	"github.com/danmuck/adsbridge/internal/device/replay"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// OpenTransport builds the device backend named by cfg.Backend.
func OpenTransport(cfg Config) (device.Transport, error) {
	switch cfg.Backend {
	case BackendBladeRF, "":
		return bladerf.New(cfg.BladeRF), nil
	case BackendReplay:
		return replay.New(cfg.Replay), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// BuildConsumers constructs the configured sinks. Network sinks are
// returned unconnected; connectConsumers makes the first attempt.
func BuildConsumers(cfg ConsumersConfig, reconnect forward.Config) ([]forward.Consumer, error) {
	var out []forward.Consumer
	if cfg.Terminal {
		out = append(out, forward.NewTerminal(os.Stdout, cfg.TerminalNoColor))
	}
	for _, rc := range cfg.Relays {
		if rc.Session == (session.Config{}) {
			rc.Session = reconnect.Reconnect
		}
		r, err := forward.NewRelay(rc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	for _, mc := range cfg.MQTT {
		m, err := forward.NewMQTT(mc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	for _, kc := range cfg.Kafka {
		k, err := forward.NewKafka(kc)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if cfg.CapturePath != "" {
		c, err := forward.NewCapture(cfg.CapturePath)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// connectConsumers gives each network sink one bounded first dial so the
// startup log shows which feeds are up. Failures are left to the
// forwarder's reconnect supervisor.
func connectConsumers(ctx context.Context, consumers []forward.Consumer, timeout time.Duration) {
	for _, c := range consumers {
		if c.Alive() {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Reconnect(dctx)
		cancel()
		if err != nil {
			log.Warn().Msgf("bridge.connectConsumers consumer=%q initial connect failed err=%v", c.Name(), err)
		}
	}
}
