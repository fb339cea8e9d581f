package modes

import (
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return b
}

func TestResidualOfKnownExtendedSquitters(t *testing.T) {
	for _, raw := range []string{
		"8D4840D6202CC371C32CE0576098",
		"8D406B902015A678D4D220AA4BDA",
	} {
		msg := mustHex(t, raw)
		if got := Residual(msg); got != 0 {
			t.Fatalf("%s residual=%06X want 0", raw, got)
		}
		if DownlinkFormat(msg[0]) != 17 {
			t.Fatalf("%s df=%d", raw, DownlinkFormat(msg[0]))
		}
		if ClassOf(msg[0]) != ClassLong {
			t.Fatalf("%s expected long class", raw)
		}
	}
}

func TestResidualDetectsSingleBitFlip(t *testing.T) {
	msg := mustHex(t, "8D4840D6202CC371C32CE0576098")
	msg[5] ^= 0x10
	if Residual(msg) == 0 {
		t.Fatalf("expected non-zero residual after bit flip")
	}
}

func TestSetParityWithAddressOverlay(t *testing.T) {
	msg := []byte{0x28, 0x00, 0x1B, 0x98, 0x00, 0x00, 0x00}
	SetParity(msg, 0xABCDEF)
	if got := Residual(msg); got != 0xABCDEF {
		t.Fatalf("residual=%06X want ABCDEF", got)
	}
	if ClassOf(msg[0]) != ClassShort || DownlinkFormat(msg[0]) != 5 {
		t.Fatalf("unexpected class/df: %v/%d", ClassOf(msg[0]), DownlinkFormat(msg[0]))
	}
}

func TestDownlinkFormatCollapsesCommD(t *testing.T) {
	if got := DownlinkFormat(0xF8); got != 24 {
		t.Fatalf("df=%d want 24", got)
	}
	if got := DownlinkFormat(0x5D); got != 11 {
		t.Fatalf("df=%d want 11", got)
	}
}

func TestHexHelpers(t *testing.T) {
	if got := Hex([]byte{0x8d, 0x48}); got != "8D48" {
		t.Fatalf("hex=%q", got)
	}
	if got := AddressHex(0x4840D6); got != "4840D6" {
		t.Fatalf("address=%q", got)
	}
	if got := Address(mustHex(t, "8D4840D6202CC371C32CE0576098")); got != 0x4840D6 {
		t.Fatalf("address=%06X", got)
	}
}
