// Package validator turns candidate frames into sequenced ValidatedFrames
// or discards them with a reason.
package validator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/adsbridge/internal/protocol/frame"
	"github.com/danmuck/adsbridge/internal/protocol/modes"
)

// DiscardReason explains why a frame was dropped. Discards are never errors.
type DiscardReason string

const (
	Accepted               DiscardReason = ""
	ReasonLengthMismatch   DiscardReason = "length_mismatch"
	ReasonIntegrityFailure DiscardReason = "integrity_failure"
	ReasonUnknownFormat    DiscardReason = "unknown_format"
	ReasonUnknownAddress   DiscardReason = "unknown_address"
)

// Reasons lists every discard reason, in reporting order.
var Reasons = []DiscardReason{
	ReasonLengthMismatch,
	ReasonIntegrityFailure,
	ReasonUnknownFormat,
	ReasonUnknownAddress,
}

// APMode controls address/parity formats, whose parity field is XORed with
// the transponder address and so cannot be checked on its own.
type APMode string

const (
	APKnown  APMode = "known"
	APAccept APMode = "accept"
	APReject APMode = "reject"
)

var ErrInvalidAPMode = errors.New("validator: invalid ap mode")

func ParseAPMode(raw string) (APMode, error) {
	switch m := APMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return APKnown, nil
	case APKnown, APAccept, APReject:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAPMode, raw)
	}
}

type Config struct {
	APMode      APMode
	KnownTTL    time.Duration
	MaxAircraft int
}

func DefaultConfig() Config {
	return Config{
		APMode:      APKnown,
		KnownTTL:    60 * time.Second,
		MaxAircraft: 4096,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.APMode == "" {
		c.APMode = d.APMode
	}
	if c.KnownTTL <= 0 {
		c.KnownTTL = d.KnownTTL
	}
	if c.MaxAircraft <= 0 {
		c.MaxAircraft = d.MaxAircraft
	}
	return c
}

// Stats is a snapshot of validation outcomes.
type Stats struct {
	Accepted  uint64                   `json:"accepted"`
	Discarded map[DiscardReason]uint64 `json:"discarded"`
	NextSeq   uint64                   `json:"next_seq"`
	Aircraft  int                      `json:"aircraft"`
}

// Validator owns the process-wide sequence counter. It outlives device
// sessions, so numbering continues across restarts.
type Validator struct {
	cfg   Config
	nowFn func() time.Time

	mu        sync.Mutex
	seq       uint64
	accepted  uint64
	discarded map[DiscardReason]uint64
	aircraft  *aircraftTable
}

func New(cfg Config) *Validator {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock is New with an injected clock for arrival stamps and TTLs.
func NewWithClock(cfg Config, nowFn func() time.Time) *Validator {
	cfg = cfg.WithDefaults()
	return &Validator{
		cfg:       cfg,
		nowFn:     nowFn,
		discarded: make(map[DiscardReason]uint64, len(Reasons)),
		aircraft:  newAircraftTable(cfg.KnownTTL, cfg.MaxAircraft, nowFn),
	}
}

// Validate checks msg and, when it passes, stamps the next sequence number
// and the arrival time. A non-empty reason means the frame was dropped.
func (v *Validator) Validate(msg frame.Message) (*ValidatedFrame, DiscardReason) {
	v.mu.Lock()
	defer v.mu.Unlock()

	icao, reason := v.check(msg)
	if reason != Accepted {
		v.discarded[reason]++
		return nil, reason
	}

	f := &ValidatedFrame{
		seq:     v.seq,
		at:      v.nowFn().UTC(),
		class:   msg.Class,
		df:      modes.DownlinkFormat(msg.Payload[0]),
		icao:    icao,
		aux:     msg.Aux,
		payload: append([]byte(nil), msg.Payload...),
	}
	v.seq++
	v.accepted++
	return f, Accepted
}

func (v *Validator) check(msg frame.Message) (uint32, DiscardReason) {
	p := msg.Payload
	if len(p) == 0 || len(p) != msg.Class.Len() || modes.ClassOf(p[0]) != msg.Class {
		return 0, ReasonLengthMismatch
	}

	residual := modes.Residual(p)
	switch df := modes.DownlinkFormat(p[0]); df {
	case 17, 18:
		if residual != 0 {
			return 0, ReasonIntegrityFailure
		}
		addr := modes.Address(p)
		// DF18 carries a non-ICAO address unless CF == 0.
		if df == 17 || p[0]&0x07 == 0 {
			v.aircraft.touch(addr)
		}
		return addr, Accepted
	case 19:
		if residual != 0 {
			return 0, ReasonIntegrityFailure
		}
		return modes.Address(p), Accepted
	case 11:
		// Parity may be overlaid with a 7-bit interrogator identifier.
		if residual&^0x7F != 0 {
			return 0, ReasonIntegrityFailure
		}
		addr := modes.Address(p)
		// only a reply to a spontaneous acquisition squitter (IID 0) teaches
		if residual == 0 {
			v.aircraft.touch(addr)
		}
		return addr, Accepted
	case 0, 4, 5, 16, 20, 21, 24:
		switch v.cfg.APMode {
		case APAccept:
			return residual, Accepted
		case APReject:
			return 0, ReasonUnknownAddress
		default:
			if !v.aircraft.known(residual) {
				return 0, ReasonUnknownAddress
			}
			return residual, Accepted
		}
	default:
		return 0, ReasonUnknownFormat
	}
}

func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := Stats{
		Accepted:  v.accepted,
		Discarded: make(map[DiscardReason]uint64, len(v.discarded)),
		NextSeq:   v.seq,
		Aircraft:  v.aircraft.len(),
	}
	for _, r := range Reasons {
		out.Discarded[r] = v.discarded[r]
	}
	return out
}
