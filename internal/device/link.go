package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Config holds link policy; the bitstream path may be empty when the
// transport can pick a default image or runs without one.
type Config struct {
	Bitstream       string
	BitstreamSHA256 string
	BitstreamDir    string
	LoadTimeout     time.Duration
	ReadTimeout     time.Duration
	ChunkSize       int
	Limits          Limits
}

func DefaultConfig() Config {
	return Config{
		BitstreamDir: DefaultBitstreamDir,
		LoadTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		ChunkSize:    ChunkSize,
		Limits:       DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BitstreamDir == "" {
		c.BitstreamDir = d.BitstreamDir
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

// Session is a snapshot of the current device session.
type Session struct {
	ID          uuid.UUID `json:"id"`
	OpenedAt    time.Time `json:"opened_at"`
	Image       string    `json:"image,omitempty"`
	ImageSHA256 string    `json:"image_sha256,omitempty"`
	ImageSize   int       `json:"image_size"`
	Loaded      bool      `json:"loaded"`
	Configured  bool      `json:"configured"`
	Streaming   bool      `json:"streaming"`
	Tuning      Tuning    `json:"tuning"`
	Info        Info      `json:"info"`
	Chunks      uint64    `json:"chunks"`
	Bytes       uint64    `json:"bytes"`
}

// Link serializes access to one Transport. ReadChunk is meant to be called
// from a single streaming goroutine; the other operations may be called
// from the supervisor between sessions.
type Link struct {
	transport Transport
	cfg       Config

	mu      sync.Mutex
	session *Session
	buf     []byte
}

func NewLink(t Transport, cfg Config) *Link {
	cfg = cfg.WithDefaults()
	return &Link{
		transport: t,
		cfg:       cfg,
		buf:       make([]byte, cfg.ChunkSize),
	}
}

// Load reads the bitstream and pushes it to the device. Every Load starts a
// new session with a fresh id.
func (l *Link) Load(ctx context.Context) error {
	img, err := l.resolveImage(ctx)
	if err != nil {
		return err
	}

	s := &Session{
		ID:          uuid.New(),
		OpenedAt:    time.Now().UTC(),
		Image:       img.Path,
		ImageSHA256: img.SHA256,
		ImageSize:   img.Size(),
	}
	l.mu.Lock()
	l.session = s
	l.mu.Unlock()

	log.Info().Msgf("device.Link.Load loading image session=%s image=%q size=%d sha256=%s",
		s.ID, img.Path, img.Size(), img.SHA256)

	err = l.withTimeout(ctx, l.cfg.LoadTimeout, "load", func(ctx context.Context) error {
		return l.transport.Load(ctx, img)
	})
	if err != nil {
		if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrLinkLost) && !errors.Is(err, ErrImageUnreadable) {
			err = fmt.Errorf("%w: %v", ErrConfigRejected, err)
		}
		return err
	}

	l.mu.Lock()
	s.Loaded = true
	l.mu.Unlock()
	return nil
}

func (l *Link) resolveImage(ctx context.Context) (BitstreamImage, error) {
	path := l.cfg.Bitstream
	if path == "" {
		if opt, ok := l.transport.(ImageOptional); ok && !opt.RequiresImage() {
			return BitstreamImage{}, nil
		}
		sizer, ok := l.transport.(FPGASizer)
		if !ok {
			return BitstreamImage{}, fmt.Errorf("%w: no bitstream configured", ErrImageUnreadable)
		}
		size, err := sizer.FPGASize(ctx)
		if err != nil {
			return BitstreamImage{}, fmt.Errorf("%w: fpga size: %v", ErrImageUnreadable, err)
		}
		path, err = DefaultBitstreamPath(l.cfg.BitstreamDir, size)
		if err != nil {
			return BitstreamImage{}, err
		}
		log.Info().Msgf("device.Link.resolveImage default bitstream fpga_size=%s image=%q", size, path)
	}
	return ReadImage(path, l.cfg.BitstreamSHA256)
}

// Configure applies tuning; only valid after a successful Load.
func (l *Link) Configure(ctx context.Context, t Tuning) error {
	l.mu.Lock()
	s := l.session
	l.mu.Unlock()
	if s == nil || !s.Loaded {
		return ErrNotLoaded
	}
	if err := t.Validate(l.cfg.Limits); err != nil {
		return err
	}
	err := l.withTimeout(ctx, l.cfg.LoadTimeout, "configure", func(ctx context.Context) error {
		return l.transport.Configure(ctx, t)
	})
	if err != nil {
		if !Transient(err) && !errors.Is(err, ErrInvalidParameter) {
			err = fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		return err
	}

	l.mu.Lock()
	s.Configured = true
	s.Tuning = t
	if d, ok := l.transport.(Describer); ok {
		s.Info = d.Info()
	}
	info := s.Info
	l.mu.Unlock()

	log.Info().Msgf(
		"device.Link.Configure configured session=%s backend=%s serial=%s frequency_mhz=%.3f sample_rate_mhz=%.3f bandwidth_mhz=%.3f gain_mode=%s gain_db=%d bias_tee=%t",
		s.ID,
		info.Backend,
		info.Serial,
		float64(t.FrequencyHz)/1e6,
		float64(t.SampleRateHz)/1e6,
		float64(t.BandwidthHz)/1e6,
		t.GainMode,
		t.GainDB,
		t.BiasTee,
	)
	return nil
}

// StartStream enables RX. Calling it on an active stream is a no-op.
func (l *Link) StartStream(ctx context.Context) error {
	l.mu.Lock()
	s := l.session
	l.mu.Unlock()
	if s == nil || !s.Configured {
		return ErrNotLoaded
	}
	if l.Streaming() {
		return nil
	}
	err := l.withTimeout(ctx, l.cfg.LoadTimeout, "start", func(ctx context.Context) error {
		return l.transport.StartStream(ctx)
	})
	if err != nil {
		if !Transient(err) {
			err = fmt.Errorf("%w: start stream: %v", ErrLinkLost, err)
		}
		return err
	}
	l.mu.Lock()
	s.Streaming = true
	l.mu.Unlock()
	return nil
}

// ReadChunk returns the next non-empty chunk. Transport read timeouts are
// retried while ctx is alive, so cancellation is observed within one
// ReadTimeout. The returned slice is reused by the next call.
func (l *Link) ReadChunk(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !l.Streaming() {
			return nil, ErrStreamInactive
		}

		rctx, cancel := context.WithTimeout(ctx, l.cfg.ReadTimeout)
		n, err := l.transport.ReadChunk(rctx, l.buf)
		cancel()

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			continue
		case errors.Is(err, ErrEndOfStream):
			l.markStopped()
			return nil, err
		case errors.Is(err, ErrLinkLost):
			l.markStopped()
			return nil, err
		default:
			l.markStopped()
			return nil, fmt.Errorf("%w: %v", ErrLinkLost, err)
		}
		if n <= 0 {
			continue
		}

		l.mu.Lock()
		if l.session != nil {
			l.session.Chunks++
			l.session.Bytes += uint64(n)
		}
		l.mu.Unlock()
		return l.buf[:n], nil
	}
}

// StopStream is best effort; failures are logged, never returned.
func (l *Link) StopStream() {
	l.mu.Lock()
	s := l.session
	active := s != nil && s.Streaming
	l.mu.Unlock()
	if !active {
		return
	}
	if err := l.transport.StopStream(); err != nil {
		log.Warn().Msgf("device.Link.StopStream failed session=%s err=%v", s.ID, err)
	}
	l.markStopped()
}

// Close stops the stream and releases the device handle.
func (l *Link) Close() error {
	l.StopStream()
	l.mu.Lock()
	l.session = nil
	l.mu.Unlock()
	return l.transport.Close()
}

func (l *Link) Streaming() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil && l.session.Streaming
}

// Session returns a copy of the current session, if any.
func (l *Link) Session() (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return Session{}, false
	}
	return *l.session, true
}

func (l *Link) markStopped() {
	l.mu.Lock()
	if l.session != nil {
		l.session.Streaming = false
	}
	l.mu.Unlock()
}

// withTimeout runs op under a deadline. op runs on its own goroutine because
// hardware calls may not honor ctx; a late completion is discarded.
func (l *Link) withTimeout(ctx context.Context, d time.Duration, what string, op func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(tctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, what, d)
		}
		return err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s after %s", ErrTimeout, what, d)
	}
}
