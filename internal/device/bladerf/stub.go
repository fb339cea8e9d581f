//go:build !bladerf

package bladerf

import (
	"context"
	"fmt"

	"github.com/danmuck/adsbridge/internal/device"
)

var errNotBuilt = fmt.Errorf("%w: built without libbladeRF (rebuild with -tags bladerf)", device.ErrUnsupported)

// Transport is the placeholder used when cgo support is not compiled in.
type Transport struct {
	cfg Config
}

func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults()}
}

func (t *Transport) Load(context.Context, device.BitstreamImage) error { return errNotBuilt }
func (t *Transport) Configure(context.Context, device.Tuning) error    { return errNotBuilt }
func (t *Transport) StartStream(context.Context) error                 { return errNotBuilt }
func (t *Transport) ReadChunk(context.Context, []byte) (int, error)    { return 0, errNotBuilt }
func (t *Transport) StopStream() error                                 { return nil }
func (t *Transport) Close() error                                      { return nil }
func (t *Transport) FPGASize(context.Context) (device.FPGASize, error) { return "", errNotBuilt }
func (t *Transport) Info() device.Info                                 { return device.Info{Backend: "bladerf"} }
