package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/adsbridge/internal/protocol/feed"
	"github.com/danmuck/adsbridge/internal/protocol/session"
	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/rs/zerolog/log"
)

var ErrRelayAddressRequired = errors.New("forward: relay address required")

type RelayConfig struct {
	Name    string
	Address string
	Format  feed.Format
	Session session.Config
}

// Relay feeds a readsb/dump1090 raw input port over TCP.
type Relay struct {
	cfg RelayConfig

	// alive is read by the dispatcher without taking mu, so a write stuck
	// on its deadline never stalls dispatch.
	alive atomic.Bool

	mu   sync.Mutex
	conn net.Conn
	buf  []byte
}

func NewRelay(cfg RelayConfig) (*Relay, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrRelayAddressRequired
	}
	if cfg.Format == "" {
		cfg.Format = feed.FormatAVR
	}
	if _, err := feed.ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("relay:%s", cfg.Address)
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Relay{cfg: cfg}, nil
}

func (r *Relay) Name() string {
	return r.cfg.Name
}

func (r *Relay) Alive() bool {
	return r.alive.Load()
}

// Connect dials once. Used at startup; later dials go through Reconnect.
func (r *Relay) Connect(ctx context.Context) error {
	return r.Reconnect(ctx)
}

func (r *Relay) Reconnect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: r.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.Address)
	if err != nil {
		return err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}

	r.mu.Lock()
	old := r.conn
	r.conn = conn
	r.alive.Store(true)
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	log.Info().Msgf("forward.Relay.Connect connected consumer=%s addr=%s format=%s", r.cfg.Name, r.cfg.Address, r.cfg.Format)
	return nil
}

func (r *Relay) Render(_ context.Context, f *validator.ValidatedFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.alive.Load() || r.conn == nil {
		return ErrConsumerDown
	}

	var err error
	r.buf, err = feed.Append(r.buf[:0], r.cfg.Format, f.AppendBytes(nil), f.At(), 0)
	if err != nil {
		return err
	}
	if r.cfg.Session.WriteTimeout > 0 {
		_ = r.conn.SetWriteDeadline(time.Now().Add(r.cfg.Session.WriteTimeout))
	}
	if _, err := r.conn.Write(r.buf); err != nil {
		r.alive.Store(false)
		_ = r.conn.Close()
		r.conn = nil
		return fmt.Errorf("%w: %v", ErrConsumerDown, err)
	}
	return nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive.Store(false)
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
