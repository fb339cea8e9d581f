package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BitstreamImage is the opaque FPGA configuration blob. It is held only for
// the duration of one Load call.
type BitstreamImage struct {
	Path   string
	Data   []byte
	SHA256 string
}

func (img BitstreamImage) Size() int {
	return len(img.Data)
}

// ReadImage reads the blob at path and, when declared is non-empty, checks
// it against the declared SHA-256 hex digest.
func ReadImage(path, declared string) (BitstreamImage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return BitstreamImage{}, fmt.Errorf("%w: empty path", ErrImageUnreadable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return BitstreamImage{}, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}
	if len(data) == 0 {
		return BitstreamImage{}, fmt.Errorf("%w: %s is empty", ErrImageUnreadable, path)
	}
	sum := sha256.Sum256(data)
	img := BitstreamImage{
		Path:   path,
		Data:   data,
		SHA256: hex.EncodeToString(sum[:]),
	}
	if want := strings.ToLower(strings.TrimSpace(declared)); want != "" && want != img.SHA256 {
		return BitstreamImage{}, fmt.Errorf("%w: %s sha256=%s declared=%s", ErrImageUnreadable, path, img.SHA256, want)
	}
	return img, nil
}

// FPGASize identifies the FPGA part fitted to the board.
type FPGASize string

const (
	FPGAUnknown FPGASize = ""
	FPGA40KLE   FPGASize = "40KLE"
	FPGA115KLE  FPGASize = "115KLE"
	FPGAA4      FPGASize = "A4"
	FPGAA5      FPGASize = "A5"
	FPGAA9      FPGASize = "A9"
)

// DefaultBitstreamDir is where the Nuand packages install ADS-B images.
const DefaultBitstreamDir = "/usr/share/Nuand/bladeRF"

// DefaultBitstreamPath maps an FPGA size to the stock ADS-B image.
func DefaultBitstreamPath(dir string, size FPGASize) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultBitstreamDir
	}
	var name string
	switch size {
	case FPGA40KLE:
		name = "adsbx40.rbf"
	case FPGA115KLE:
		name = "adsbx115.rbf"
	case FPGAA4:
		name = "adsbxA4.rbf"
	case FPGAA5:
		name = "adsbxA5.rbf"
	case FPGAA9:
		name = "adsbxA9.rbf"
	default:
		return "", fmt.Errorf("%w: unable to determine FPGA size %q", ErrImageUnreadable, size)
	}
	return filepath.Join(dir, name), nil
}
