// Command framegen writes a synthetic FPGA record stream for the replay
// backend: extended squitters, all-call replies, surveillance replies from
// known aircraft, idle records and optional noise.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"

	"github.com/danmuck/adsbridge/internal/protocol/frame"
	"github.com/danmuck/adsbridge/internal/protocol/modes"
)

type genConfig struct {
	Frames   int
	Aircraft int
	// IdleEvery inserts one idle record after every n frames; 0 disables.
	IdleEvery int
	// NoiseEvery inserts a short noise burst after every n frames; 0 disables.
	NoiseEvery int
	NoiseBytes int
	// CorruptEvery flips a payload bit in every n-th frame; 0 disables.
	CorruptEvery int
	Seed         uint64
}

type genStats struct {
	Frames, Corrupted, Idle, NoiseBytes int
}

func main() {
	cfg := genConfig{}
	out := flag.String("out", "capture.bin", "output path")
	flag.IntVar(&cfg.Frames, "frames", 1000, "number of message records")
	flag.IntVar(&cfg.Aircraft, "aircraft", 12, "distinct ICAO addresses")
	flag.IntVar(&cfg.IdleEvery, "idle-every", 4, "idle record after every n frames (0 = none)")
	flag.IntVar(&cfg.NoiseEvery, "noise-every", 0, "noise burst after every n frames (0 = none)")
	flag.IntVar(&cfg.NoiseBytes, "noise-bytes", 5, "bytes per noise burst")
	flag.IntVar(&cfg.CorruptEvery, "corrupt-every", 0, "corrupt every n-th frame (0 = none)")
	flag.Uint64Var(&cfg.Seed, "seed", 1, "random seed")
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal(err)
	}
	w := bufio.NewWriter(f)
	stats, err := generate(w, cfg)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s frames=%d corrupted=%d idle=%d noise_bytes=%d",
		*out, stats.Frames, stats.Corrupted, stats.Idle, stats.NoiseBytes)
}

func generate(w io.Writer, cfg genConfig) (genStats, error) {
	var stats genStats
	if cfg.Aircraft <= 0 {
		cfg.Aircraft = 1
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	fleet := make([]uint32, cfg.Aircraft)
	for i := range fleet {
		fleet[i] = rng.Uint32N(0xFFFFFF) + 1
	}

	buf := make([]byte, 0, frame.RecordSize*4)
	for i := 1; i <= cfg.Frames; i++ {
		// the first pass over the fleet is all squitters so later
		// surveillance replies have known addresses
		var msg []byte
		icao := fleet[rng.IntN(len(fleet))]
		switch {
		case i <= len(fleet) || i%3 == 0:
			icao = fleet[(i-1)%len(fleet)]
			msg = extendedSquitter(rng, icao)
		case i%3 == 1:
			msg = allCall(icao)
		default:
			msg = surveillance(rng, icao)
		}
		if cfg.CorruptEvery > 0 && i%cfg.CorruptEvery == 0 {
			// a single flipped ME bit always breaks the CRC
			msg = extendedSquitter(rng, icao)
			msg[4+rng.IntN(7)] ^= 1 << rng.IntN(8)
			stats.Corrupted++
		}

		var err error
		buf, err = frame.AppendRecord(buf[:0], msg, byte(rng.IntN(256)))
		if err != nil {
			return stats, err
		}
		stats.Frames++
		if cfg.IdleEvery > 0 && i%cfg.IdleEvery == 0 {
			buf = frame.AppendIdle(buf)
			stats.Idle++
		}
		if cfg.NoiseEvery > 0 && i%cfg.NoiseEvery == 0 {
			for range cfg.NoiseBytes {
				buf = append(buf, byte(rng.IntN(256))|0x02)
				stats.NoiseBytes++
			}
		}
		if _, err := w.Write(buf); err != nil {
			return stats, fmt.Errorf("write record %d: %w", i, err)
		}
	}
	return stats, nil
}

// extendedSquitter builds a DF17 frame with random ME bits and PI = 0.
func extendedSquitter(rng *rand.Rand, icao uint32) []byte {
	msg := make([]byte, modes.LongLen)
	msg[0] = 17<<3 | 5
	putAddress(msg, icao)
	for i := 4; i < 11; i++ {
		msg[i] = byte(rng.IntN(256))
	}
	modes.SetParity(msg, 0)
	return msg
}

// allCall builds a DF11 reply with interrogator id 0.
func allCall(icao uint32) []byte {
	msg := make([]byte, modes.ShortLen)
	msg[0] = 11<<3 | 5
	putAddress(msg, icao)
	modes.SetParity(msg, 0)
	return msg
}

// surveillance builds a DF4 altitude reply whose parity overlays icao.
func surveillance(rng *rand.Rand, icao uint32) []byte {
	msg := make([]byte, modes.ShortLen)
	msg[0] = 4 << 3
	msg[1] = byte(rng.IntN(256))
	msg[2] = byte(rng.IntN(256))
	msg[3] = byte(rng.IntN(256))
	modes.SetParity(msg, icao)
	return msg
}

func putAddress(msg []byte, icao uint32) {
	msg[1] = byte(icao >> 16)
	msg[2] = byte(icao >> 8)
	msg[3] = byte(icao)
}
