package forward

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/danmuck/adsbridge/internal/protocol/modes"
	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\x1b[0m"
	ansiDim   = "\x1b[2m"
	ansiCyan  = "\x1b[36m"
	ansiGreen = "\x1b[32m"
)

// Terminal prints one human-readable line per frame. It is always alive and
// never reports a failure.
type Terminal struct {
	name  string
	color bool

	mu  sync.Mutex
	out io.Writer
	buf []byte
}

// NewTerminal writes to f, with color when f is a terminal and noColor is
// not set.
func NewTerminal(f *os.File, noColor bool) *Terminal {
	color := !noColor && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	var out io.Writer = f
	if color {
		out = colorable.NewColorable(f)
	}
	return &Terminal{name: "terminal", color: color, out: out}
}

// NewTerminalWriter prints plain lines to w.
func NewTerminalWriter(name string, w io.Writer) *Terminal {
	if name == "" {
		name = "terminal"
	}
	return &Terminal{name: name, out: w}
}

func (t *Terminal) Name() string                    { return t.name }
func (t *Terminal) Alive() bool                     { return true }
func (t *Terminal) Reconnect(context.Context) error { return nil }
func (t *Terminal) Close() error                    { return nil }

func (t *Terminal) Render(_ context.Context, f *validator.ValidatedFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = t.appendLine(t.buf[:0], f)
	_, _ = t.out.Write(t.buf)
	return nil
}

func (t *Terminal) appendLine(dst []byte, f *validator.ValidatedFrame) []byte {
	ts := f.At().Local().Format(time.TimeOnly + ".000")
	if !t.color {
		return fmt.Appendf(dst, "#%06d %s DF%-2d %s *%s;\n",
			f.Seq(), ts, f.DF(), modes.AddressHex(f.ICAO()), f.Hex())
	}
	return fmt.Appendf(dst, "%s#%06d %s%s DF%-2d %s%s%s *%s;\n",
		ansiDim, f.Seq(), ts, ansiReset, f.DF(), ansiCyan, modes.AddressHex(f.ICAO()), ansiGreen, f.Hex()+ansiReset)
}
