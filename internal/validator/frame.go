package validator

import (
	"time"

	"github.com/danmuck/adsbridge/internal/protocol/modes"
)

// ValidatedFrame is a Mode S message that passed integrity checks. It is
// shared read-only by every consumer; all accessors return copies.
type ValidatedFrame struct {
	seq     uint64
	at      time.Time
	class   modes.Class
	df      uint8
	icao    uint32
	aux     byte
	payload []byte
}

func (f *ValidatedFrame) Seq() uint64        { return f.seq }
func (f *ValidatedFrame) At() time.Time      { return f.at }
func (f *ValidatedFrame) Class() modes.Class { return f.class }
func (f *ValidatedFrame) DF() uint8          { return f.df }
func (f *ValidatedFrame) ICAO() uint32       { return f.icao }
func (f *ValidatedFrame) Aux() byte          { return f.aux }
func (f *ValidatedFrame) Len() int           { return len(f.payload) }

// Bytes returns a copy of the raw message.
func (f *ValidatedFrame) Bytes() []byte {
	return append([]byte(nil), f.payload...)
}

// AppendBytes appends the raw message to dst without an extra allocation.
func (f *ValidatedFrame) AppendBytes(dst []byte) []byte {
	return append(dst, f.payload...)
}

// Hex is the upper-case hexadecimal payload.
func (f *ValidatedFrame) Hex() string {
	return modes.Hex(f.payload)
}

// Record is the serialized view of a frame used by JSON and msgpack sinks.
type Record struct {
	Seq   uint64    `json:"seq" msgpack:"seq"`
	At    time.Time `json:"at" msgpack:"at"`
	DF    uint8     `json:"df" msgpack:"df"`
	ICAO  string    `json:"icao" msgpack:"icao"`
	Class string    `json:"class" msgpack:"class"`
	Aux   byte      `json:"aux" msgpack:"aux"`
	Hex   string    `json:"hex" msgpack:"hex"`
}

func (f *ValidatedFrame) Record() Record {
	return Record{
		Seq:   f.seq,
		At:    f.at,
		DF:    f.df,
		ICAO:  modes.AddressHex(f.icao),
		Class: f.class.String(),
		Aux:   f.aux,
		Hex:   f.Hex(),
	}
}
