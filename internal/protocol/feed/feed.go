// Package feed encodes validated frames for the raw-input ports of
// dump1090/readsb style display daemons.
package feed

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format selects the line/record convention expected by the peer.
type Format string

const (
	// FormatAVR is "*<hex>;\n", readsb --net-ri-port (30001).
	FormatAVR Format = "avr"
	// FormatAVRMLAT is "@<12 hex timestamp><hex>;\n".
	FormatAVRMLAT Format = "avr-mlat"
	// FormatBeast is the 0x1a escaped binary feed, readsb --net-bi-port (30004).
	FormatBeast Format = "beast"
)

const (
	beastEscape    byte = 0x1a
	beastTypeShort byte = '2'
	beastTypeLong  byte = '3'

	// mlatTicksPerSecond is the 12 MHz clock used by Beast/AVR-MLAT timestamps.
	mlatTicksPerSecond = 12_000_000
)

var ErrInvalidFormat = errors.New("feed: invalid format")

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FormatAVR:
		return FormatAVR, nil
	case FormatAVRMLAT, FormatBeast:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
}

// Append encodes one message in format f onto dst.
func Append(dst []byte, f Format, msg []byte, at time.Time, signal byte) ([]byte, error) {
	switch f {
	case FormatAVR, "":
		return AppendAVR(dst, msg), nil
	case FormatAVRMLAT:
		return AppendAVRMLAT(dst, msg, at), nil
	case FormatBeast:
		return AppendBeast(dst, msg, at, signal)
	default:
		return dst, fmt.Errorf("%w: %q", ErrInvalidFormat, f)
	}
}

func AppendAVR(dst []byte, msg []byte) []byte {
	dst = append(dst, '*')
	dst = appendUpperHex(dst, msg)
	return append(dst, ';', '\n')
}

func AppendAVRMLAT(dst []byte, msg []byte, at time.Time) []byte {
	ts := MLATTimestamp(at)
	var raw [6]byte
	putUint48(raw[:], ts)
	dst = append(dst, '@')
	dst = appendUpperHex(dst, raw[:])
	dst = appendUpperHex(dst, msg)
	return append(dst, ';', '\n')
}

func AppendBeast(dst []byte, msg []byte, at time.Time, signal byte) ([]byte, error) {
	var kind byte
	switch len(msg) {
	case 7:
		kind = beastTypeShort
	case 14:
		kind = beastTypeLong
	default:
		return dst, fmt.Errorf("feed: beast frame length %d", len(msg))
	}
	dst = append(dst, beastEscape, kind)

	var ts [6]byte
	putUint48(ts[:], MLATTimestamp(at))
	dst = appendEscaped(dst, ts[:])
	dst = appendEscaped(dst, []byte{signal})
	dst = appendEscaped(dst, msg)
	return dst, nil
}

// MLATTimestamp converts wall time into the 48-bit 12 MHz counter.
func MLATTimestamp(at time.Time) uint64 {
	ns := uint64(at.UnixNano())
	sec := ns / uint64(time.Second)
	frac := ns % uint64(time.Second)
	ticks := sec*mlatTicksPerSecond + frac*mlatTicksPerSecond/uint64(time.Second)
	return ticks & 0xFFFFFFFFFFFF
}

func putUint48(b []byte, v uint64) {
	for i := 5; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func appendEscaped(dst []byte, src []byte) []byte {
	for _, b := range src {
		if b == beastEscape {
			dst = append(dst, beastEscape)
		}
		dst = append(dst, b)
	}
	return dst
}

func appendUpperHex(dst []byte, src []byte) []byte {
	start := len(dst)
	dst = hex.AppendEncode(dst, src)
	for i := start; i < len(dst); i++ {
		if c := dst[i]; c >= 'a' && c <= 'f' {
			dst[i] = c - 'a' + 'A'
		}
	}
	return dst
}
