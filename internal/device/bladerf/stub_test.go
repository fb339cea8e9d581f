//go:build !bladerf

package bladerf

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/adsbridge/internal/device"
)

func TestStubReportsUnsupported(t *testing.T) {
	tr := New(Config{})
	err := tr.Load(context.Background(), device.BitstreamImage{})
	if !errors.Is(err, device.ErrUnsupported) || !device.Fatal(err) {
		t.Fatalf("expected fatal ErrUnsupported, got %v", err)
	}
	if tr.cfg.BufferSamples != 1024 || tr.cfg.Buffers != 2 {
		t.Fatalf("defaults not applied: %+v", tr.cfg)
	}
}
