package bridge

import (
	"time"

	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/protocol/frame"
	"github.com/danmuck/adsbridge/internal/validator"
)

// Status is the snapshot served on /status.
type Status struct {
	State               State           `json:"state"`
	Uptime              string          `json:"uptime"`
	Session             *device.Session `json:"session,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	Restarts            uint64          `json:"restarts"`
	LastError           string          `json:"last_error,omitempty"`
	Reader              frame.Stats     `json:"reader"`
	Validator           validator.Stats `json:"validator"`
	Forwarder           forward.Stats   `json:"forwarder"`
	History             []Transition    `json:"history,omitempty"`
}

func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		State:               s.state,
		ConsecutiveFailures: s.failures,
		Restarts:            s.restarts,
		LastError:           s.lastErr,
		Reader:              addStats(s.readerTotals, s.readerCur),
	}
	if n := len(s.history); n > 0 {
		st.History = append([]Transition(nil), s.history[max(0, n-16):]...)
	}
	s.mu.RUnlock()

	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt).Truncate(time.Second).String()
	}
	if sess, ok := s.link.Session(); ok {
		st.Session = &sess
	}
	st.Validator = s.validator.Stats()
	st.Forwarder = s.forwarder.Stats()
	return st
}

// StatusSnapshot adapts Status for the status server.
func (s *Service) StatusSnapshot() any {
	return s.Status()
}
