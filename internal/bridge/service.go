package bridge

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/adsbridge/internal/device"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/observability"
	"github.com/danmuck/adsbridge/internal/protocol/frame"
	"github.com/danmuck/adsbridge/internal/server"
	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Service runs the device -> reader -> validator -> forwarder pipeline and
// owns every restart and shutdown decision.
type Service struct {
	cfg        Config
	link       *device.Link
	validator  *validator.Validator
	forwarder  *forward.Forwarder
	pending    []forward.Consumer
	discardLog *rate.Limiter
	startedAt  time.Time

	mu           sync.RWMutex
	state        State
	history      []Transition
	failures     int
	restarts     uint64
	lastErr      string
	readerTotals frame.Stats
	readerCur    frame.Stats
}

// New wires a service around an already opened transport.
func New(cfg Config, transport device.Transport, consumers ...forward.Consumer) *Service {
	cfg = cfg.WithDefaults()
	return &Service{
		cfg:        cfg,
		link:       device.NewLink(transport, cfg.Device),
		validator:  validator.New(cfg.Validator),
		forwarder:  forward.New(cfg.Forwarder),
		pending:    consumers,
		discardLog: rate.NewLimiter(rate.Limit(cfg.DiscardLogPerSecond), 5),
		state:      StateStarting,
		startedAt:  time.Now(),
	}
}

// NewFromConfig opens the configured backend and builds the consumers.
func NewFromConfig(cfg Config) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := OpenTransport(cfg)
	if err != nil {
		return nil, err
	}
	consumers, err := BuildConsumers(cfg.Consumers, cfg.Forwarder)
	if err != nil {
		return nil, err
	}
	return New(cfg, transport, consumers...), nil
}

// Run blocks until SIGINT/SIGTERM or a fatal failure.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext drives the state machine until ctx is done, the stream ends,
// or a fatal error stops it. The returned error is nil for a clean stop.
func (s *Service) RunContext(ctx context.Context) error {
	observability.SetState(string(StateStarting), allStates)

	connectConsumers(ctx, s.pending, s.cfg.Forwarder.Reconnect.ConnectTimeout)
	for _, c := range s.pending {
		if err := s.forwarder.Add(c); err != nil {
			return err
		}
	}
	s.pending = nil

	srvCtx, stopSrv := context.WithCancel(context.Background())
	defer stopSrv()
	if s.cfg.StatusAddr != "" {
		srv := server.New(server.Config{
			Addr:         s.cfg.StatusAddr,
			AllowOrigins: s.cfg.StatusOrigins,
			WebSocket:    s.cfg.Consumers.WebSocket,
			Token:        s.cfg.StatusToken,
		}, s, s)
		go func() {
			if err := srv.Run(srvCtx); err != nil {
				log.Error().Msgf("bridge.Service.run status server failed addr=%s err=%v", s.cfg.StatusAddr, err)
			}
		}()
	}

	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go s.heartbeat(hbCtx)

	var (
		cause    error
		fatalErr error
	)
	state := StateStarting
	for {
		switch state {
		case StateStarting:
			err := s.start(ctx)
			switch {
			case ctx.Err() != nil:
				state = s.transition(StateShuttingDown, "signal")
			case err == nil:
				state = s.transition(StateStreaming, "")
			case device.Transient(err):
				cause = err
				state = s.transition(StateRestarting, err.Error())
			default:
				fatalErr = fmt.Errorf("bridge: start: %w", err)
				state = s.transition(StateShuttingDown, fatalErr.Error())
			}

		case StateStreaming:
			err := s.stream(ctx)
			switch {
			case ctx.Err() != nil:
				state = s.transition(StateShuttingDown, "signal")
			case errors.Is(err, device.ErrEndOfStream):
				log.Info().Msgf("bridge.Service.run device stream ended")
				state = s.transition(StateShuttingDown, "end of stream")
			case errors.Is(err, frame.ErrDesynchronized), errors.Is(err, device.ErrLinkLost):
				cause = err
				state = s.transition(StateRestarting, err.Error())
			default:
				fatalErr = fmt.Errorf("bridge: stream: %w", err)
				state = s.transition(StateShuttingDown, fatalErr.Error())
			}

		case StateRestarting:
			if err := s.restart(ctx, cause); err != nil {
				if ctx.Err() != nil {
					state = s.transition(StateShuttingDown, "signal")
					continue
				}
				fatalErr = err
				state = s.transition(StateShuttingDown, err.Error())
				continue
			}
			state = s.transition(StateStarting, "")

		case StateShuttingDown:
			s.shutdown()
			stopSrv()
			s.setLastErr(fatalErr)
			s.transition(StateStopped, "")
			if fatalErr != nil {
				log.Error().Msgf("bridge.Service.run stopped err=%v", fatalErr)
			} else {
				log.Info().Msgf("bridge.Service.run stopped")
			}
			return fatalErr
		}
	}
}

func (s *Service) start(ctx context.Context) error {
	if err := s.link.Load(ctx); err != nil {
		return err
	}
	if err := s.link.Configure(ctx, s.cfg.Tuning); err != nil {
		return err
	}
	if err := s.link.StartStream(ctx); err != nil {
		return err
	}
	if sess, ok := s.link.Session(); ok {
		log.Info().Msgf("bridge.Service.start streaming session=%s backend=%s image=%q",
			sess.ID, sess.Info.Backend, sess.Image)
	}
	return nil
}

// stream is the single sequential read -> validate -> dispatch loop. A
// fresh reader per session drops any partial record from the old stream.
func (s *Service) stream(ctx context.Context) error {
	reader := frame.NewReader(s.link, s.cfg.Reader)
	first := true
	defer func() {
		s.mu.Lock()
		s.readerTotals = addStats(s.readerTotals, reader.Stats())
		s.readerCur = frame.Stats{}
		s.mu.Unlock()
	}()

	for {
		msg, err := reader.Next(ctx)
		s.mu.Lock()
		s.readerCur = reader.Stats()
		s.mu.Unlock()
		if err != nil {
			return err
		}
		observability.RecordFrameRead()
		if first {
			first = false
			s.mu.Lock()
			s.failures = 0
			s.mu.Unlock()
		}

		vf, reason := s.validator.Validate(msg)
		observability.RecordValidation(string(reason))
		if reason != validator.Accepted {
			if s.discardLog.Allow() {
				log.Debug().Msgf("bridge.Service.stream discarded reason=%s payload=%X", reason, msg.Payload)
			}
			continue
		}
		s.forwarder.Dispatch(vf)
	}
}

// restart counts the failure, releases the stream and waits out the
// cooldown. Reaching MaxConsecutive failures is fatal.
func (s *Service) restart(ctx context.Context, cause error) error {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	if cause != nil {
		s.lastErr = cause.Error()
	}
	s.mu.Unlock()

	s.link.StopStream()
	if errors.Is(cause, device.ErrLinkLost) {
		// the handle may be stale; the next Load reopens it
		if err := s.link.Close(); err != nil {
			log.Warn().Msgf("bridge.Service.restart device close err=%v", err)
		}
	}
	if failures >= s.cfg.Restart.MaxConsecutive {
		return fmt.Errorf("%w: %d consecutive failures, last: %v", ErrRestartLimit, failures, cause)
	}

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	observability.RecordRestart(restartCause(cause))
	log.Warn().Msgf("bridge.Service.restart attempt=%d/%d cooldown=%s cause=%v",
		failures, s.cfg.Restart.MaxConsecutive-1, s.cfg.Restart.Cooldown, cause)

	if s.cfg.Restart.Cooldown <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.cfg.Restart.Cooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) shutdown() {
	s.link.StopStream()
	if err := s.link.Close(); err != nil {
		log.Warn().Msgf("bridge.Service.shutdown device close err=%v", err)
	}
	if err := s.forwarder.Close(); err != nil {
		log.Warn().Msgf("bridge.Service.shutdown consumer close err=%v", err)
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.Status()
			log.Info().Msgf(
				"bridge.Service.heartbeat state=%s frames=%d accepted=%d discarded_bytes=%d consumers=%d restarts=%d",
				st.State,
				st.Reader.Frames,
				st.Validator.Accepted,
				st.Reader.DiscardedBytes,
				len(st.Forwarder.Consumers),
				st.Restarts,
			)
		}
	}
}

func (s *Service) transition(to State, cause string) State {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.history = append(s.history, Transition{From: from, To: to, At: time.Now().UTC(), Cause: cause})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	observability.SetState(string(to), allStates)
	log.Debug().Msgf("bridge.Service.transition from=%s to=%s cause=%q", from, to, cause)
	return to
}

func (s *Service) setLastErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// AddConsumer registers a sink while the service runs.
func (s *Service) AddConsumer(c forward.Consumer) error {
	return s.forwarder.Add(c)
}

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether frames are flowing.
func (s *Service) Ready() bool {
	return s.State() == StateStreaming
}

func (s *Service) History() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Transition(nil), s.history...)
}

func (s *Service) Forwarder() *forward.Forwarder {
	return s.forwarder
}

func restartCause(err error) string {
	switch {
	case errors.Is(err, frame.ErrDesynchronized):
		return "desynchronized"
	case errors.Is(err, device.ErrLinkLost):
		return "link_lost"
	case errors.Is(err, device.ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}

func addStats(a, b frame.Stats) frame.Stats {
	return frame.Stats{
		Chunks:         a.Chunks + b.Chunks,
		Records:        a.Records + b.Records,
		IdleRecords:    a.IdleRecords + b.IdleRecords,
		Frames:         a.Frames + b.Frames,
		DiscardedBytes: a.DiscardedBytes + b.DiscardedBytes,
	}
}
