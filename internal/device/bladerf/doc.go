// Package bladerf drives a Nuand bladeRF through libbladeRF.
//
// The cgo binding is only compiled with the "bladerf" build tag; without it
// New returns a transport whose operations fail with device.ErrUnsupported.
package bladerf

// Config selects the device and stream geometry.
type Config struct {
	// Identifier is a libbladeRF device string ("" = first device,
	// "*:serial=..." to pin a board).
	Identifier string
	// Buffers, BufferSamples and Transfers map to bladerf_sync_config.
	Buffers       int
	BufferSamples int
	Transfers     int
	// StreamTimeoutMS bounds libusb transfers inside libbladeRF.
	StreamTimeoutMS int
}

func DefaultConfig() Config {
	return Config{
		Buffers:         2,
		BufferSamples:   1024,
		Transfers:       1,
		StreamTimeoutMS: 5000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Buffers <= 0 {
		c.Buffers = d.Buffers
	}
	if c.BufferSamples <= 0 {
		c.BufferSamples = d.BufferSamples
	}
	if c.Transfers <= 0 {
		c.Transfers = d.Transfers
	}
	if c.StreamTimeoutMS <= 0 {
		c.StreamTimeoutMS = d.StreamTimeoutMS
	}
	return c
}
