package frame

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/adsbridge/internal/protocol/modes"
)

const (
	// RecordSize is the fixed stride of one FPGA output record.
	RecordSize    = 16
	PayloadOffset = 2
	PayloadSlot   = RecordSize - PayloadOffset

	MarkerMessage       byte = 0x01
	DefaultReservedMask byte = 0xFE
	DefaultMaxDiscard        = 4096
)

var (
	ErrDesynchronized = errors.New("frame: stream desynchronized")
	ErrNoSource       = errors.New("frame: no chunk source")
	ErrPayloadTooLong = errors.New("frame: payload exceeds record slot")
)

// Message is one candidate Mode S frame cut out of the record stream.
// It has not been integrity checked.
type Message struct {
	Class   modes.Class
	Marker  byte
	Aux     byte
	Payload []byte
}

// Limits constrains resynchronization.
type Limits struct {
	// MaxDiscard is the number of consecutive noise bytes tolerated before
	// the stream is declared desynchronized.
	MaxDiscard int
	// ReservedMask selects marker bits that must be zero on a real record.
	ReservedMask byte
}

func DefaultLimits() Limits {
	return Limits{
		MaxDiscard:   DefaultMaxDiscard,
		ReservedMask: DefaultReservedMask,
	}
}

// ChunkSource yields raw device chunks. The returned slice is only valid
// until the next call.
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}

// Stats counts what the reader has consumed so far.
type Stats struct {
	Chunks         uint64 `json:"chunks"`
	Records        uint64 `json:"records"`
	IdleRecords    uint64 `json:"idle_records"`
	Frames         uint64 `json:"frames"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
}

// Reader reassembles Messages from a chunked byte stream. Not safe for
// concurrent use; one streaming loop owns it.
type Reader struct {
	src       ChunkSource
	limits    Limits
	buf       []byte
	off       int
	discarded int
	stats     Stats
}

func NewReader(src ChunkSource, limits Limits) *Reader {
	if limits.MaxDiscard < 0 {
		limits.MaxDiscard = 0
	}
	return &Reader{
		src:    src,
		limits: limits,
		buf:    make([]byte, 0, 2*4096),
	}
}

// Next returns the next message record in arrival order. Idle records are
// skipped; noise bytes are discarded one at a time up to Limits.MaxDiscard.
func (r *Reader) Next(ctx context.Context) (Message, error) {
	if r.src == nil {
		return Message{}, ErrNoSource
	}
	for {
		if r.buffered() < 1 {
			if err := r.fill(ctx); err != nil {
				return Message{}, err
			}
			continue
		}

		marker := r.buf[r.off]
		if marker&r.limits.ReservedMask != 0 {
			if r.discarded >= r.limits.MaxDiscard {
				return Message{}, fmt.Errorf("%w: discarded=%d marker=0x%02x", ErrDesynchronized, r.discarded, marker)
			}
			r.off++
			r.discarded++
			r.stats.DiscardedBytes++
			continue
		}

		if r.buffered() < RecordSize {
			if err := r.fill(ctx); err != nil {
				return Message{}, err
			}
			continue
		}

		rec := r.buf[r.off : r.off+RecordSize]
		r.off += RecordSize
		r.discarded = 0
		r.stats.Records++

		if marker&MarkerMessage == 0 {
			r.stats.IdleRecords++
			continue
		}

		class := modes.ClassOf(rec[PayloadOffset])
		payload := make([]byte, class.Len())
		copy(payload, rec[PayloadOffset:])
		r.stats.Frames++
		return Message{
			Class:   class,
			Marker:  marker,
			Aux:     rec[1],
			Payload: payload,
		}, nil
	}
}

func (r *Reader) Stats() Stats {
	return r.stats
}

// Buffered reports bytes received but not yet consumed.
func (r *Reader) Buffered() int {
	return r.buffered()
}

func (r *Reader) buffered() int {
	return len(r.buf) - r.off
}

func (r *Reader) fill(ctx context.Context) error {
	chunk, err := r.src.ReadChunk(ctx)
	if err != nil {
		return err
	}
	r.stats.Chunks++
	if r.off > 0 && r.off >= len(r.buf)/2 {
		n := copy(r.buf, r.buf[r.off:])
		r.buf = r.buf[:n]
		r.off = 0
	}
	r.buf = append(r.buf, chunk...)
	return nil
}

// AppendRecord encodes payload as one message record. Used by the frame
// generator and tests; the device produces these in hardware.
func AppendRecord(dst []byte, payload []byte, aux byte) ([]byte, error) {
	if len(payload) > PayloadSlot {
		return dst, ErrPayloadTooLong
	}
	var rec [RecordSize]byte
	rec[0] = MarkerMessage
	rec[1] = aux
	copy(rec[PayloadOffset:], payload)
	return append(dst, rec[:]...), nil
}

// AppendIdle encodes one empty record.
func AppendIdle(dst []byte) []byte {
	var rec [RecordSize]byte
	return append(dst, rec[:]...)
}
