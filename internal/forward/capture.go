package forward

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/vmihailenco/msgpack/v5"
)

// Capture appends msgpack-encoded records to a file for offline analysis.
type Capture struct {
	name string
	path string

	alive atomic.Bool

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	enc  *msgpack.Encoder
}

func NewCapture(path string) (*Capture, error) {
	c := &Capture{name: "capture:" + path, path: path}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Capture) open() error {
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("capture open: %w", err)
	}
	c.mu.Lock()
	c.file = f
	c.w = bufio.NewWriterSize(f, 64<<10)
	c.enc = msgpack.NewEncoder(c.w)
	c.enc.UseCompactInts(true)
	c.mu.Unlock()
	c.alive.Store(true)
	return nil
}

func (c *Capture) Name() string { return c.name }
func (c *Capture) Alive() bool  { return c.alive.Load() }

func (c *Capture) Reconnect(context.Context) error {
	_ = c.closeFile()
	return c.open()
}

func (c *Capture) Render(_ context.Context, f *validator.ValidatedFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		return ErrConsumerDown
	}
	if err := c.enc.Encode(f.Record()); err != nil {
		c.alive.Store(false)
		return err
	}
	if err := c.w.Flush(); err != nil {
		c.alive.Store(false)
		return err
	}
	return nil
}

func (c *Capture) closeFile() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	flushErr := c.w.Flush()
	err := c.file.Close()
	c.file, c.w, c.enc = nil, nil, nil
	if flushErr != nil {
		return flushErr
	}
	return err
}

func (c *Capture) Close() error {
	c.alive.Store(false)
	return c.closeFile()
}

// ReadCapture decodes every record of a capture file.
func ReadCapture(path string) ([]validator.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := msgpack.NewDecoder(bufio.NewReader(f))
	var out []validator.Record
	for {
		var rec validator.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}
