// Package replay streams a recorded FPGA record file as if it came from the
// device. Used for bench replays and end-to-end tests without hardware.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/danmuck/adsbridge/internal/device"
	"golang.org/x/time/rate"
)

type Config struct {
	Path string
	// Loop rewinds at end of file instead of reporting end of stream.
	Loop bool
	// ChunksPerSecond paces reads; 0 reads as fast as the consumer pulls.
	ChunksPerSecond float64
}

type Transport struct {
	cfg     Config
	limiter *rate.Limiter
	// readyAt is the pending pacing reservation; it survives read timeouts
	// so slow rates still make progress.
	readyAt time.Time

	mu        sync.Mutex
	file      *os.File
	streaming bool
	tuning    device.Tuning
}

func New(cfg Config) *Transport {
	t := &Transport{cfg: cfg}
	if cfg.ChunksPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.ChunksPerSecond), 1)
	}
	return t
}

func (t *Transport) RequiresImage() bool {
	return false
}

// Load opens the recording; the bitstream image, if any, is ignored.
func (t *Transport) Load(_ context.Context, _ device.BitstreamImage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
	f, err := os.Open(t.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: replay %v", device.ErrImageUnreadable, err)
	}
	t.file = f
	t.streaming = false
	return nil
}

func (t *Transport) Configure(_ context.Context, tuning device.Tuning) error {
	t.mu.Lock()
	t.tuning = tuning
	t.mu.Unlock()
	return nil
}

func (t *Transport) StartStream(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return device.ErrNotLoaded
	}
	t.streaming = true
	return nil
}

func (t *Transport) ReadChunk(ctx context.Context, buf []byte) (int, error) {
	if err := t.pace(ctx); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.streaming || t.file == nil {
		return 0, device.ErrStreamInactive
	}
	n, err := io.ReadFull(t.file, buf)
	switch {
	case err == nil:
		return n, nil
	case n > 0 && errors.Is(err, io.ErrUnexpectedEOF):
		return n, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if !t.cfg.Loop {
			return 0, device.ErrEndOfStream
		}
		if _, serr := t.file.Seek(0, io.SeekStart); serr != nil {
			return 0, fmt.Errorf("%w: replay rewind: %v", device.ErrLinkLost, serr)
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: replay read: %v", device.ErrLinkLost, err)
	}
}

func (t *Transport) pace(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if t.readyAt.IsZero() {
		t.readyAt = time.Now().Add(t.limiter.Reserve().Delay())
	}
	if d := time.Until(t.readyAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", device.ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}
	t.readyAt = time.Time{}
	return nil
}

func (t *Transport) StopStream() error {
	t.mu.Lock()
	t.streaming = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streaming = false
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

func (t *Transport) Info() device.Info {
	return device.Info{Backend: "replay", Product: t.cfg.Path}
}
