package modes

import (
	"encoding/hex"
	"strings"
)

const (
	ShortLen = 7
	LongLen  = 14
)

// Class is the Mode S length class carried by the first payload bit.
type Class uint8

const (
	ClassShort Class = iota + 1
	ClassLong
)

func (c Class) Len() int {
	switch c {
	case ClassShort:
		return ShortLen
	case ClassLong:
		return LongLen
	default:
		return 0
	}
}

func (c Class) String() string {
	switch c {
	case ClassShort:
		return "short"
	case ClassLong:
		return "long"
	default:
		return "unknown"
	}
}

// ClassOf classifies a frame from its first byte: DF >= 16 means 112 bits.
func ClassOf(first byte) Class {
	if first&0x80 != 0 {
		return ClassLong
	}
	return ClassShort
}

// DownlinkFormat extracts the DF field. Formats 24..31 collapse to 24 (Comm-D).
func DownlinkFormat(first byte) uint8 {
	df := first >> 3
	if df >= 24 {
		return 24
	}
	return df
}

// Address returns the AA field (bytes 1..3) of an all-call or extended squitter.
func Address(msg []byte) uint32 {
	if len(msg) < 4 {
		return 0
	}
	return uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3])
}

// Hex renders msg as upper-case hex, the way readsb prints raw frames.
func Hex(msg []byte) string {
	return strings.ToUpper(hex.EncodeToString(msg))
}

// AddressHex renders a 24-bit ICAO address.
func AddressHex(addr uint32) string {
	const digits = "0123456789ABCDEF"
	var out [6]byte
	for i := 5; i >= 0; i-- {
		out[i] = digits[addr&0xF]
		addr >>= 4
	}
	return string(out[:])
}
