// Package modes holds the Mode S frame primitives the bridge needs:
// length classes, downlink format extraction and the CRC-24 parity code.
//
// Nothing here decodes message content; the FPGA bitstream owns the
// physical layer and the bridge only checks framing and integrity.
package modes
