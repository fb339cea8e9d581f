package device

import (
	"fmt"
	"strings"
)

type GainMode string

const (
	GainDefault GainMode = "default"
	GainManual  GainMode = "manual"
	GainFast    GainMode = "fast"
	GainSlow    GainMode = "slow"
	GainHybrid  GainMode = "hybrid"
)

func ParseGainMode(raw string) (GainMode, error) {
	switch m := GainMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return GainDefault, nil
	case GainDefault, GainManual, GainFast, GainSlow, GainHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("%w: gain mode %q", ErrInvalidParameter, raw)
	}
}

// Tuning is the RX front-end configuration.
type Tuning struct {
	FrequencyHz  uint64   `json:"frequency_hz"`
	SampleRateHz uint32   `json:"sample_rate_hz"`
	BandwidthHz  uint32   `json:"bandwidth_hz"`
	GainMode     GainMode `json:"gain_mode"`
	// GainDB only applies in manual mode.
	GainDB  int  `json:"gain_db"`
	BiasTee bool `json:"bias_tee"`
}

// DefaultTuning matches the stock ADS-B bitstream setup. The bitstream
// expects 16 Msps; 1086 MHz keeps the DC spike off the 1090 MHz carrier.
func DefaultTuning() Tuning {
	return Tuning{
		FrequencyHz:  1_086_000_000,
		SampleRateHz: 16_000_000,
		BandwidthHz:  14_000_000,
		GainMode:     GainDefault,
		GainDB:       35,
	}
}

// Limits bounds accepted tuning values.
type Limits struct {
	MinFrequencyHz  uint64
	MaxFrequencyHz  uint64
	MinSampleRateHz uint32
	MaxSampleRateHz uint32
	MinBandwidthHz  uint32
	MaxBandwidthHz  uint32
	MinGainDB       int
	MaxGainDB       int
}

// DefaultLimits covers the bladeRF x40/x115 and 2.0 micro families.
func DefaultLimits() Limits {
	return Limits{
		MinFrequencyHz:  47_000_000,
		MaxFrequencyHz:  6_000_000_000,
		MinSampleRateHz: 520_834,
		MaxSampleRateHz: 61_440_000,
		MinBandwidthHz:  200_000,
		MaxBandwidthHz:  56_000_000,
		MinGainDB:       -15,
		MaxGainDB:       60,
	}
}

// WithDefaults fills each range whose bounds are both zero. A range with
// only one bound set keeps it, so a zero minimum survives.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MinFrequencyHz == 0 && l.MaxFrequencyHz == 0 {
		l.MinFrequencyHz, l.MaxFrequencyHz = d.MinFrequencyHz, d.MaxFrequencyHz
	}
	if l.MinSampleRateHz == 0 && l.MaxSampleRateHz == 0 {
		l.MinSampleRateHz, l.MaxSampleRateHz = d.MinSampleRateHz, d.MaxSampleRateHz
	}
	if l.MinBandwidthHz == 0 && l.MaxBandwidthHz == 0 {
		l.MinBandwidthHz, l.MaxBandwidthHz = d.MinBandwidthHz, d.MaxBandwidthHz
	}
	if l.MinGainDB == 0 && l.MaxGainDB == 0 {
		l.MinGainDB, l.MaxGainDB = d.MinGainDB, d.MaxGainDB
	}
	return l
}

func (t Tuning) Validate(l Limits) error {
	if t.FrequencyHz < l.MinFrequencyHz || t.FrequencyHz > l.MaxFrequencyHz {
		return fmt.Errorf("%w: frequency %d Hz outside [%d, %d]", ErrInvalidParameter, t.FrequencyHz, l.MinFrequencyHz, l.MaxFrequencyHz)
	}
	if t.SampleRateHz < l.MinSampleRateHz || t.SampleRateHz > l.MaxSampleRateHz {
		return fmt.Errorf("%w: sample rate %d Hz outside [%d, %d]", ErrInvalidParameter, t.SampleRateHz, l.MinSampleRateHz, l.MaxSampleRateHz)
	}
	if t.BandwidthHz < l.MinBandwidthHz || t.BandwidthHz > l.MaxBandwidthHz {
		return fmt.Errorf("%w: bandwidth %d Hz outside [%d, %d]", ErrInvalidParameter, t.BandwidthHz, l.MinBandwidthHz, l.MaxBandwidthHz)
	}
	if _, err := ParseGainMode(string(t.GainMode)); err != nil {
		return err
	}
	if t.GainMode == GainManual && (t.GainDB < l.MinGainDB || t.GainDB > l.MaxGainDB) {
		return fmt.Errorf("%w: gain %d dB outside [%d, %d]", ErrInvalidParameter, t.GainDB, l.MinGainDB, l.MaxGainDB)
	}
	return nil
}
