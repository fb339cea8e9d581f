package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/testutil/testlog"
)

func writeRecording(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func start(t *testing.T, tr *Transport) {
	t.Helper()
	ctx := context.Background()
	if err := tr.Load(ctx, device.BitstreamImage{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tr.StartStream(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestReplayReadsThenEndsStream(t *testing.T) {
	testlog.Start(t)
	tr := New(Config{Path: writeRecording(t, []byte("abcdef"))})
	start(t, tr)
	buf := make([]byte, 4)

	n, err := tr.ReadChunk(context.Background(), buf)
	if err != nil || string(buf[:n]) != "abcd" {
		t.Fatalf("first read n=%d err=%v", n, err)
	}
	n, err = tr.ReadChunk(context.Background(), buf)
	if err != nil || string(buf[:n]) != "ef" {
		t.Fatalf("tail read n=%d err=%v", n, err)
	}
	if _, err := tr.ReadChunk(context.Background(), buf); !errors.Is(err, device.ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestReplayLoopRewinds(t *testing.T) {
	testlog.Start(t)
	tr := New(Config{Path: writeRecording(t, []byte("abcd")), Loop: true})
	start(t, tr)
	buf := make([]byte, 4)
	for i := 0; i < 3; i++ {
		n, err := tr.ReadChunk(context.Background(), buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if n == 0 {
			continue
		}
		if string(buf[:n]) != "abcd" {
			t.Fatalf("read %d got %q", i, buf[:n])
		}
	}
}

func TestReplayMissingFileIsUnreadable(t *testing.T) {
	testlog.Start(t)
	tr := New(Config{Path: filepath.Join(t.TempDir(), "missing.bin")})
	if err := tr.Load(context.Background(), device.BitstreamImage{}); !errors.Is(err, device.ErrImageUnreadable) {
		t.Fatalf("expected ErrImageUnreadable, got %v", err)
	}
}

func TestReplayPacingHonorsContext(t *testing.T) {
	testlog.Start(t)
	tr := New(Config{Path: writeRecording(t, []byte("abcdabcd")), ChunksPerSecond: 0.001})
	start(t, tr)
	buf := make([]byte, 4)
	if _, err := tr.ReadChunk(context.Background(), buf); err != nil {
		t.Fatalf("first read uses the burst: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.ReadChunk(ctx, buf); !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
