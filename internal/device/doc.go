// Package device owns the SDR link: bitstream loading, RX tuning and the
// chunked sample stream the ADS-B bitstream repurposes as message records.
//
// Concrete transports live in subpackages (bladerf, replay). Link wraps a
// Transport with timeouts, session bookkeeping and error classification so
// callers only ever see the sentinel errors declared here.
package device
