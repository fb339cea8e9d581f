package modes

// Polynomial is the Mode S generator (0x1FFF409) without its implicit top bit.
const Polynomial uint32 = 0xFFF409

const parityLen = 3

var crcTable = buildTable()

func buildTable() [256]uint32 {
	var table [256]uint32
	for i := range table {
		c := uint32(i) << 16
		for range 8 {
			if c&0x800000 != 0 {
				c = (c << 1) ^ Polynomial
			} else {
				c <<= 1
			}
		}
		table[i] = c & 0xFFFFFF
	}
	return table
}

// Checksum computes the 24-bit CRC over data.
func Checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = ((crc << 8) ^ crcTable[byte(crc>>16)^b]) & 0xFFFFFF
	}
	return crc
}

// Parity returns the trailing 24-bit parity field of msg.
func Parity(msg []byte) uint32 {
	n := len(msg)
	if n < parityLen {
		return 0
	}
	return uint32(msg[n-3])<<16 | uint32(msg[n-2])<<8 | uint32(msg[n-1])
}

// Residual is checksum(data) XOR parity. Zero for PI frames, the ICAO
// address for address/parity frames, the interrogator id for DF11.
func Residual(msg []byte) uint32 {
	if len(msg) <= parityLen {
		return 0
	}
	return Checksum(msg[:len(msg)-parityLen]) ^ Parity(msg)
}

// SetParity overwrites the parity field so that Residual(msg) == overlay.
// overlay is 0 for PI frames or the address for AP frames.
func SetParity(msg []byte, overlay uint32) {
	n := len(msg)
	if n <= parityLen {
		return
	}
	p := Checksum(msg[:n-parityLen]) ^ (overlay & 0xFFFFFF)
	msg[n-3] = byte(p >> 16)
	msg[n-2] = byte(p >> 8)
	msg[n-1] = byte(p)
}
