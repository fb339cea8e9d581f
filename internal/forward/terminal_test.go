package forward

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/adsbridge/internal/testutil/testlog"
)

func TestTerminalLine(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	term := NewTerminalWriter("", &out)
	frames := testFrames(t, 2)
	for _, f := range frames {
		if err := term.Render(context.Background(), f); err != nil {
			t.Fatalf("terminal must never fail: %v", err)
		}
	}
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%q", lines)
	}
	if !strings.HasPrefix(lines[1], "#000001 ") || !strings.HasSuffix(lines[1], "DF17 4840D6 *8D4840D6202CC371C32CE0576098;") {
		t.Fatalf("unexpected line %q", lines[1])
	}
	if term.Name() != "terminal" || !term.Alive() {
		t.Fatalf("terminal identity: %s alive=%v", term.Name(), term.Alive())
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "frames.msgpack")
	c, err := NewCapture(path)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	frames := testFrames(t, 3)
	for _, f := range frames {
		if err := c.Render(context.Background(), f); err != nil {
			t.Fatalf("render: %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	recs, err := ReadCapture(path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if len(recs) != 3 || recs[2].Seq != 2 || recs[0].Hex != "8D4840D6202CC371C32CE0576098" || recs[0].ICAO != "4840D6" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}
