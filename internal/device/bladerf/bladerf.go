//go:build bladerf

package bladerf

/*
#cgo pkg-config: libbladeRF
#include <stdlib.h>
#include <libbladeRF.h>

static bladerf_channel rx_channel(void) { return BLADERF_CHANNEL_RX(0); }
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/danmuck/adsbridge/internal/device"
	"github.com/rs/zerolog/log"
)

// Transport owns one libbladeRF handle. libbladeRF is not safe for
// concurrent use of a handle, so every call holds mu.
type Transport struct {
	cfg Config

	mu   sync.Mutex
	dev  *C.struct_bladerf
	info device.Info
}

func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults()}
}

func (t *Transport) open() error {
	if t.dev != nil {
		return nil
	}
	var ident *C.char
	if t.cfg.Identifier != "" {
		ident = C.CString(t.cfg.Identifier)
		defer C.free(unsafe.Pointer(ident))
	}
	var dev *C.struct_bladerf
	if rc := C.bladerf_open(&dev, ident); rc != 0 {
		return fmt.Errorf("%w: bladerf_open: %s", device.ErrLinkLost, strerror(rc))
	}
	t.dev = dev
	return nil
}

func (t *Transport) closeLocked() {
	if t.dev == nil {
		return
	}
	C.bladerf_close(t.dev)
	t.dev = nil
}

func (t *Transport) FPGASize(context.Context) (device.FPGASize, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.open(); err != nil {
		return "", err
	}
	var size C.bladerf_fpga_size
	if rc := C.bladerf_get_fpga_size(t.dev, &size); rc != 0 {
		return "", fmt.Errorf("bladerf_get_fpga_size: %s", strerror(rc))
	}
	return fpgaSize(size), nil
}

// Load writes the verified blob to a private file, hands it to
// bladerf_load_fpga and reopens the device so the new image is picked up.
func (t *Transport) Load(_ context.Context, img device.BitstreamImage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.open(); err != nil {
		return err
	}

	f, err := os.CreateTemp("", "adsbridge-*.rbf")
	if err != nil {
		return fmt.Errorf("%w: stage image: %v", device.ErrImageUnreadable, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(img.Data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: stage image: %v", device.ErrImageUnreadable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: stage image: %v", device.ErrImageUnreadable, err)
	}

	path := C.CString(f.Name())
	defer C.free(unsafe.Pointer(path))
	if rc := C.bladerf_load_fpga(t.dev, path); rc != 0 {
		if rc == C.BLADERF_ERR_NODEV || rc == C.BLADERF_ERR_IO {
			return fmt.Errorf("%w: bladerf_load_fpga: %s", device.ErrLinkLost, strerror(rc))
		}
		return fmt.Errorf("%w: bladerf_load_fpga: %s", device.ErrConfigRejected, strerror(rc))
	}

	log.Debug().Msgf("bladerf.Transport.Load reopening device for new image")
	t.closeLocked()
	return t.open()
}

func (t *Transport) Configure(_ context.Context, tuning device.Tuning) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return device.ErrNotLoaded
	}
	ch := C.rx_channel()

	if rc := C.bladerf_set_bias_tee(t.dev, ch, C.bool(tuning.BiasTee)); rc != 0 && rc != C.BLADERF_ERR_UNSUPPORTED {
		return paramErr("bias tee", rc)
	}
	if rc := C.bladerf_set_frequency(t.dev, ch, C.bladerf_frequency(tuning.FrequencyHz)); rc != 0 {
		return paramErr("frequency", rc)
	}
	var actualRate C.bladerf_sample_rate
	if rc := C.bladerf_set_sample_rate(t.dev, ch, C.bladerf_sample_rate(tuning.SampleRateHz), &actualRate); rc != 0 {
		return paramErr("sample rate", rc)
	}
	var actualBW C.bladerf_bandwidth
	if rc := C.bladerf_set_bandwidth(t.dev, ch, C.bladerf_bandwidth(tuning.BandwidthHz), &actualBW); rc != 0 {
		return paramErr("bandwidth", rc)
	}
	if rc := C.bladerf_set_gain_mode(t.dev, ch, gainMode(tuning.GainMode)); rc != 0 {
		return paramErr("gain mode", rc)
	}
	if tuning.GainMode == device.GainManual {
		if rc := C.bladerf_set_gain(t.dev, ch, C.bladerf_gain(tuning.GainDB)); rc != 0 {
			return paramErr("gain", rc)
		}
	}
	if rc := C.bladerf_sync_config(t.dev, C.BLADERF_RX_X1, C.BLADERF_FORMAT_SC16_Q11,
		C.uint(t.cfg.Buffers), C.uint(t.cfg.BufferSamples), C.uint(t.cfg.Transfers), C.uint(t.cfg.StreamTimeoutMS)); rc != 0 {
		return paramErr("sync config", rc)
	}

	t.info = t.describe()
	log.Info().Msgf("bladerf.Transport.Configure rx configured sample_rate_mhz=%.3f bandwidth_mhz=%.3f serial=%s fpga_version=%s usb_speed=%s",
		float64(actualRate)/1e6, float64(actualBW)/1e6, t.info.Serial, t.info.FPGAVersion, t.info.USBSpeed)
	return nil
}

func (t *Transport) StartStream(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return device.ErrNotLoaded
	}
	if rc := C.bladerf_enable_module(t.dev, C.rx_channel(), C.bool(true)); rc != 0 {
		return fmt.Errorf("%w: enable RX: %s", device.ErrLinkLost, strerror(rc))
	}
	return nil
}

// ReadChunk reads len(buf)/4 SC16_Q11 samples. The libbladeRF timeout is
// taken from ctx so a cancelled stream returns within one read window.
func (t *Transport) ReadChunk(ctx context.Context, buf []byte) (int, error) {
	samples := len(buf) / 4
	if samples == 0 {
		return 0, fmt.Errorf("%w: chunk buffer too small", device.ErrInvalidParameter)
	}
	timeout := 500 * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), time.Millisecond)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return 0, device.ErrStreamInactive
	}
	rc := C.bladerf_sync_rx(t.dev, unsafe.Pointer(&buf[0]), C.uint(samples), nil, C.uint(timeout.Milliseconds()))
	switch rc {
	case 0:
		return samples * 4, nil
	case C.BLADERF_ERR_TIMEOUT:
		return 0, device.ErrTimeout
	default:
		return 0, fmt.Errorf("%w: bladerf_sync_rx: %s", device.ErrLinkLost, strerror(rc))
	}
}

func (t *Transport) StopStream() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return nil
	}
	if rc := C.bladerf_enable_module(t.dev, C.rx_channel(), C.bool(false)); rc != 0 {
		return fmt.Errorf("disable RX: %s", strerror(rc))
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *Transport) Info() device.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

func (t *Transport) describe() device.Info {
	info := device.Info{Backend: "bladerf"}
	var devinfo C.struct_bladerf_devinfo
	if C.bladerf_get_devinfo(t.dev, &devinfo) == 0 {
		info.Serial = C.GoString(&devinfo.serial[0])
		info.Manufacturer = C.GoString(&devinfo.manufacturer[0])
		info.Product = C.GoString(&devinfo.product[0])
	}
	var v C.struct_bladerf_version
	if C.bladerf_fw_version(t.dev, &v) == 0 {
		info.Firmware = fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
	}
	if C.bladerf_fpga_version(t.dev, &v) == 0 {
		info.FPGAVersion = fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
	}
	var size C.bladerf_fpga_size
	if C.bladerf_get_fpga_size(t.dev, &size) == 0 {
		info.FPGASize = string(fpgaSize(size))
	}
	switch C.bladerf_device_speed(t.dev) {
	case C.BLADERF_DEVICE_SPEED_HIGH:
		info.USBSpeed = "high"
	case C.BLADERF_DEVICE_SPEED_SUPER:
		info.USBSpeed = "super"
	default:
		info.USBSpeed = "unknown"
	}
	return info
}

func fpgaSize(size C.bladerf_fpga_size) device.FPGASize {
	switch size {
	case C.BLADERF_FPGA_40KLE:
		return device.FPGA40KLE
	case C.BLADERF_FPGA_115KLE:
		return device.FPGA115KLE
	case C.BLADERF_FPGA_A4:
		return device.FPGAA4
	case C.BLADERF_FPGA_A5:
		return device.FPGAA5
	case C.BLADERF_FPGA_A9:
		return device.FPGAA9
	default:
		return device.FPGAUnknown
	}
}

func gainMode(m device.GainMode) C.bladerf_gain_mode {
	switch m {
	case device.GainManual:
		return C.BLADERF_GAIN_MGC
	case device.GainFast:
		return C.BLADERF_GAIN_FASTATTACK_AGC
	case device.GainSlow:
		return C.BLADERF_GAIN_SLOWATTACK_AGC
	case device.GainHybrid:
		return C.BLADERF_GAIN_HYBRID_AGC
	default:
		return C.BLADERF_GAIN_DEFAULT
	}
}

func paramErr(what string, rc C.int) error {
	if rc == C.BLADERF_ERR_NODEV || rc == C.BLADERF_ERR_IO {
		return fmt.Errorf("%w: %s: %s", device.ErrLinkLost, what, strerror(rc))
	}
	return fmt.Errorf("%w: %s: %s", device.ErrInvalidParameter, what, strerror(rc))
}

func strerror(rc C.int) string {
	return C.GoString(C.bladerf_strerror(rc))
}
