// Package devicetest provides a scripted device.Transport for tests.
package devicetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/adsbridge/internal/device"
)

type read struct {
	data []byte
	err  error
}

// Transport replays queued chunks and errors. Hooks, when set, replace the
// default behavior of the matching operation.
type Transport struct {
	LoadHook      func(ctx context.Context, img device.BitstreamImage) error
	ConfigureHook func(ctx context.Context, t device.Tuning) error
	StartHook     func(ctx context.Context) error
	NoImage       bool
	Size          device.FPGASize

	reads chan read

	mu         sync.Mutex
	loads      int
	configures int
	starts     int
	stops      int
	closes     int
	images     []device.BitstreamImage
}

func New() *Transport {
	return &Transport{reads: make(chan read, 1024)}
}

// Push queues one chunk for ReadChunk.
func (t *Transport) Push(data []byte) {
	t.reads <- read{data: append([]byte(nil), data...)}
}

// Fail queues an error for ReadChunk.
func (t *Transport) Fail(err error) {
	t.reads <- read{err: err}
}

func (t *Transport) Load(ctx context.Context, img device.BitstreamImage) error {
	t.mu.Lock()
	t.loads++
	t.images = append(t.images, img)
	hook := t.LoadHook
	t.mu.Unlock()
	if hook != nil {
		return hook(ctx, img)
	}
	return nil
}

func (t *Transport) Configure(ctx context.Context, tuning device.Tuning) error {
	t.mu.Lock()
	t.configures++
	hook := t.ConfigureHook
	t.mu.Unlock()
	if hook != nil {
		return hook(ctx, tuning)
	}
	return nil
}

func (t *Transport) StartStream(ctx context.Context) error {
	t.mu.Lock()
	t.starts++
	hook := t.StartHook
	t.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return nil
}

func (t *Transport) ReadChunk(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", device.ErrTimeout, ctx.Err())
	case r := <-t.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(buf, r.data), nil
	}
}

func (t *Transport) StopStream() error {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *Transport) RequiresImage() bool {
	return !t.NoImage
}

func (t *Transport) FPGASize(context.Context) (device.FPGASize, error) {
	if t.Size == device.FPGAUnknown {
		return "", fmt.Errorf("devicetest: no fpga size")
	}
	return t.Size, nil
}

func (t *Transport) Info() device.Info {
	return device.Info{Backend: "devicetest", Serial: "0000"}
}

// Counts is a snapshot of how often each operation ran.
type Counts struct {
	Loads, Configures, Starts, Stops, Closes int
}

func (t *Transport) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counts{
		Loads:      t.loads,
		Configures: t.configures,
		Starts:     t.starts,
		Stops:      t.stops,
		Closes:     t.closes,
	}
}

func (t *Transport) Images() []device.BitstreamImage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]device.BitstreamImage(nil), t.images...)
}
