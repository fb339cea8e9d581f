package validator

import "time"

// aircraftTable remembers ICAO addresses seen on frames whose parity
// carries no address (DF11/17/18). Entries expire after ttl; expiry is
// lazy on lookup plus a sweep when the table reaches its cap.
type aircraftTable struct {
	ttl   time.Duration
	max   int
	seen  map[uint32]time.Time
	nowFn func() time.Time
}

func newAircraftTable(ttl time.Duration, max int, nowFn func() time.Time) *aircraftTable {
	return &aircraftTable{
		ttl:   ttl,
		max:   max,
		seen:  make(map[uint32]time.Time, 256),
		nowFn: nowFn,
	}
}

func (a *aircraftTable) touch(addr uint32) {
	now := a.nowFn()
	if _, ok := a.seen[addr]; !ok && a.max > 0 && len(a.seen) >= a.max {
		a.sweep(now)
		if len(a.seen) >= a.max {
			a.evictOldest()
		}
	}
	a.seen[addr] = now
}

func (a *aircraftTable) known(addr uint32) bool {
	at, ok := a.seen[addr]
	if !ok {
		return false
	}
	if a.nowFn().Sub(at) > a.ttl {
		delete(a.seen, addr)
		return false
	}
	return true
}

func (a *aircraftTable) sweep(now time.Time) {
	for addr, at := range a.seen {
		if now.Sub(at) > a.ttl {
			delete(a.seen, addr)
		}
	}
}

func (a *aircraftTable) evictOldest() {
	var (
		oldest   uint32
		oldestAt time.Time
		found    bool
	)
	for addr, at := range a.seen {
		if !found || at.Before(oldestAt) {
			oldest, oldestAt, found = addr, at, true
		}
	}
	if found {
		delete(a.seen, oldest)
	}
}

func (a *aircraftTable) len() int {
	return len(a.seen)
}
