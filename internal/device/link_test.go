package device_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/device/devicetest"
	"github.com/danmuck/adsbridge/internal/testutil/testlog"
)

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adsbx40.rbf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func newLink(t *testing.T, tr *devicetest.Transport, mutate func(*device.Config)) *device.Link {
	t.Helper()
	cfg := device.DefaultConfig()
	cfg.Bitstream = writeImage(t, []byte("fpga-image"))
	cfg.LoadTimeout = 50 * time.Millisecond
	cfg.ReadTimeout = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return device.NewLink(tr, cfg)
}

func bringUp(t *testing.T, l *device.Link) {
	t.Helper()
	ctx := context.Background()
	if err := l.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := l.Configure(ctx, device.DefaultTuning()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := l.StartStream(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestLinkLoadConfigureStream(t *testing.T) {
	testlog.Start(t)
	tr := devicetest.New()
	l := newLink(t, tr, nil)
	bringUp(t, l)

	if err := l.StartStream(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := tr.Counts().Starts; got != 1 {
		t.Fatalf("start must be idempotent, starts=%d", got)
	}
	imgs := tr.Images()
	if len(imgs) != 1 || string(imgs[0].Data) != "fpga-image" || imgs[0].SHA256 == "" {
		t.Fatalf("unexpected images: %+v", imgs)
	}

	tr.Push([]byte{1, 2, 3})
	chunk, err := l.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(chunk) != 3 {
		t.Fatalf("chunk len=%d", len(chunk))
	}
	s, ok := l.Session()
	if !ok || !s.Streaming || s.Chunks != 1 || s.Bytes != 3 || s.Info.Backend != "devicetest" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestLinkLoadMissingImageIsUnreadable(t *testing.T) {
	testlog.Start(t)
	l := newLink(t, devicetest.New(), func(c *device.Config) {
		c.Bitstream = filepath.Join(t.TempDir(), "missing.rbf")
	})
	err := l.Load(context.Background())
	if !errors.Is(err, device.ErrImageUnreadable) || !device.Fatal(err) {
		t.Fatalf("expected fatal ErrImageUnreadable, got %v", err)
	}
}

func TestLinkLoadChecksumMismatchIsUnreadable(t *testing.T) {
	testlog.Start(t)
	l := newLink(t, devicetest.New(), func(c *device.Config) {
		c.BitstreamSHA256 = "00"
	})
	if err := l.Load(context.Background()); !errors.Is(err, device.ErrImageUnreadable) {
		t.Fatalf("expected ErrImageUnreadable, got %v", err)
	}
}

func TestLinkLoadTimesOut(t *testing.T) {
	testlog.Start(t)
	tr := devicetest.New()
	tr.LoadHook = func(ctx context.Context, _ device.BitstreamImage) error {
		<-ctx.Done()
		return ctx.Err()
	}
	l := newLink(t, tr, nil)
	start := time.Now()
	err := l.Load(context.Background())
	if !errors.Is(err, device.ErrTimeout) || !device.Transient(err) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("load timeout not bounded: %v", elapsed)
	}
}

func TestLinkLoadRejectedByDevice(t *testing.T) {
	testlog.Start(t)
	tr := devicetest.New()
	tr.LoadHook = func(context.Context, device.BitstreamImage) error {
		return errors.New("fpga configuration failed")
	}
	l := newLink(t, tr, nil)
	if err := l.Load(context.Background()); !errors.Is(err, device.ErrConfigRejected) {
		t.Fatalf("expected ErrConfigRejected, got %v", err)
	}
}

func TestLinkConfigureRequiresLoad(t *testing.T) {
	testlog.Start(t)
	l := newLink(t, devicetest.New(), nil)
	if err := l.Configure(context.Background(), device.DefaultTuning()); !errors.Is(err, device.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestLinkConfigureRejectsOutOfRangeTuning(t *testing.T) {
	testlog.Start(t)
	tr := devicetest.New()
	l := newLink(t, tr, nil)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	tuning := device.DefaultTuning()
	tuning.FrequencyHz = 10
	if err := l.Configure(context.Background(), tuning); !errors.Is(err, device.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if tr.Counts().Configures != 0 {
		t.Fatalf("invalid tuning must not reach the transport")
	}
}

func TestLinkReadRequiresActiveStream(t *testing.T) {
	testlog.Start(t)
	l := newLink(t, devicetest.New(), nil)
	if _, err := l.ReadChunk(context.Background()); !errors.Is(err, device.ErrStreamInactive) {
		t.Fatalf("expected ErrStreamInactive, got %v", err)
	}
}

func TestLinkReadRetriesTimeoutsUntilCancel(t *testing.T) {
	testlog.Start(t)
	l := newLink(t, devicetest.New(), nil)
	bringUp(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := l.ReadChunk(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ctx deadline, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancel observed too late: %v", elapsed)
	}
}

func TestLinkReadClassifiesUnknownErrorsAsLinkLost(t *testing.T) {
	testlog.Start(t)
	tr := devicetest.New()
	l := newLink(t, tr, nil)
	bringUp(t, l)

	tr.Fail(errors.New("usb: no such device"))
	if _, err := l.ReadChunk(context.Background()); !errors.Is(err, device.ErrLinkLost) {
		t.Fatalf("expected ErrLinkLost, got %v", err)
	}
	if l.Streaming() {
		t.Fatalf("link must leave streaming state after link loss")
	}
	if _, err := l.ReadChunk(context.Background()); !errors.Is(err, device.ErrStreamInactive) {
		t.Fatalf("expected ErrStreamInactive, got %v", err)
	}
}

func TestLinkDefaultImageFromFPGASize(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "adsbxA4.rbf"), []byte("a4"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tr := devicetest.New()
	tr.Size = device.FPGAA4
	l := newLink(t, tr, func(c *device.Config) {
		c.Bitstream = ""
		c.BitstreamDir = dir
	})
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if imgs := tr.Images(); len(imgs) != 1 || string(imgs[0].Data) != "a4" {
		t.Fatalf("unexpected images: %+v", imgs)
	}
}

func TestLinkImagelessTransport(t *testing.T) {
	testlog.Start(t)
	tr := devicetest.New()
	tr.NoImage = true
	l := newLink(t, tr, func(c *device.Config) { c.Bitstream = "" })
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLinkStopStreamAndClose(t *testing.T) {
	testlog.Start(t)
	tr := devicetest.New()
	l := newLink(t, tr, nil)
	bringUp(t, l)
	l.StopStream()
	l.StopStream()
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	c := tr.Counts()
	if c.Stops != 1 || c.Closes != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}
	if _, ok := l.Session(); ok {
		t.Fatalf("session must be released on close")
	}
}
