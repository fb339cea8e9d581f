package device

import "context"

// ChunkSize is one sync_rx transfer: 1024 SC16_Q11 samples.
const ChunkSize = 4096

// Transport is the hardware boundary. Implementations report failures by
// wrapping the sentinel errors of this package: ErrTimeout for a read that
// produced nothing before ctx expired, ErrLinkLost for a vanished device,
// ErrConfigRejected for an image the FPGA refused.
type Transport interface {
	Load(ctx context.Context, img BitstreamImage) error
	Configure(ctx context.Context, t Tuning) error
	StartStream(ctx context.Context) error
	ReadChunk(ctx context.Context, buf []byte) (int, error)
	StopStream() error
	Close() error
}

// FPGASizer is implemented by transports that can pick a default image.
type FPGASizer interface {
	FPGASize(ctx context.Context) (FPGASize, error)
}

// ImageOptional is implemented by transports that run without a bitstream
// (recorded streams).
type ImageOptional interface {
	RequiresImage() bool
}

// Describer exposes hardware identity once a session is configured.
type Describer interface {
	Info() Info
}

type Info struct {
	Backend      string `json:"backend"`
	Serial       string `json:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
	FPGAVersion  string `json:"fpga_version,omitempty"`
	FPGASize     string `json:"fpga_size,omitempty"`
	USBSpeed     string `json:"usb_speed,omitempty"`
}
