package forward

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/adsbridge/internal/observability"
	"github.com/danmuck/adsbridge/internal/protocol/session"
	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// QueueSize bounds each lane; a full lane drops frames for that
	// consumer only.
	QueueSize  int
	Reconnect  session.Config
	CloseGrace time.Duration
	// Cooloff separates reconnect cycles once a cycle's MaxAttempts are
	// spent; the consumer keeps its lane meanwhile.
	Cooloff time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  1024,
		Reconnect:  session.DefaultConfig(),
		CloseGrace: 2 * time.Second,
		Cooloff:    5 * time.Minute,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	c.Reconnect = c.Reconnect.WithDefaults()
	if c.CloseGrace <= 0 {
		c.CloseGrace = d.CloseGrace
	}
	if c.Cooloff <= 0 {
		c.Cooloff = d.Cooloff
	}
	return c
}

// ConsumerStats is a point-in-time view of one lane.
type ConsumerStats struct {
	Name         string `json:"name"`
	Alive        bool   `json:"alive"`
	Reconnecting bool   `json:"reconnecting"`
	Queued       int    `json:"queued"`
	Delivered    uint64 `json:"delivered"`
	Dropped      uint64 `json:"dropped"`
	Skipped      uint64 `json:"skipped"`
	Failures     uint64 `json:"failures"`
	Reconnects   uint64 `json:"reconnects"`
	Exhausted    uint64 `json:"exhausted"`
}

type Stats struct {
	Dispatched uint64          `json:"dispatched"`
	Removed    uint64          `json:"removed"`
	Consumers  []ConsumerStats `json:"consumers"`
}

type lane struct {
	consumer Consumer
	queue    chan *validator.ValidatedFrame
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	reconnecting atomic.Bool
	delivered    atomic.Uint64
	dropped      atomic.Uint64
	skipped      atomic.Uint64
	failures     atomic.Uint64
	reconnects   atomic.Uint64
	exhausted    atomic.Uint64
}

// Forwarder owns the consumer set. Dispatch never blocks.
type Forwarder struct {
	cfg Config

	superCtx    context.Context
	superCancel context.CancelFunc
	taskMu      sync.Mutex
	tasksClosed bool
	tasks       sync.WaitGroup

	mu         sync.RWMutex
	lanes      map[string]*lane
	closed     bool
	dispatched atomic.Uint64
	removed    atomic.Uint64
}

func New(cfg Config) *Forwarder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Forwarder{
		cfg:         cfg.WithDefaults(),
		superCtx:    ctx,
		superCancel: cancel,
		lanes:       make(map[string]*lane),
	}
}

// Add registers c and starts its lane. A consumer that is not alive yet
// gets a reconnect task right away.
func (f *Forwarder) Add(c Consumer) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrForwarderClosed
	}
	name := c.Name()
	if _, ok := f.lanes[name]; ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateConsumer, name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &lane{
		consumer: c,
		queue:    make(chan *validator.ValidatedFrame, f.cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	f.lanes[name] = l
	f.mu.Unlock()

	go f.runLane(l)
	alive := c.Alive()
	observability.SetConsumerAlive(name, alive)
	log.Info().Msgf("forward.Forwarder.Add consumer=%s alive=%t", name, alive)
	if !alive {
		f.scheduleReconnect(l)
	}
	return nil
}

// Dispatch hands frame to every live consumer's lane.
func (f *Forwarder) Dispatch(frame *validator.ValidatedFrame) {
	f.dispatched.Add(1)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for name, l := range f.lanes {
		if !l.consumer.Alive() {
			l.skipped.Add(1)
			observability.RecordConsumerEvent(name, observability.EventSkipped)
			f.scheduleReconnect(l)
			continue
		}
		select {
		case l.queue <- frame:
		default:
			l.dropped.Add(1)
			observability.RecordConsumerEvent(name, observability.EventDropped)
		}
	}
}

func (f *Forwarder) runLane(l *lane) {
	defer close(l.done)
	name := l.consumer.Name()
	for {
		select {
		case <-l.ctx.Done():
			return
		case frame, ok := <-l.queue:
			if !ok {
				return
			}
			if !l.consumer.Alive() {
				l.skipped.Add(1)
				observability.RecordConsumerEvent(name, observability.EventSkipped)
				continue
			}
			if err := l.consumer.Render(l.ctx, frame); err != nil {
				if l.ctx.Err() != nil {
					return
				}
				l.failures.Add(1)
				observability.RecordConsumerEvent(name, observability.EventFailed)
				observability.SetConsumerAlive(name, false)
				log.Warn().Msgf("forward.Forwarder.runLane write failed consumer=%s seq=%d err=%v", name, frame.Seq(), err)
				f.scheduleReconnect(l)
				continue
			}
			l.delivered.Add(1)
			observability.RecordConsumerEvent(name, observability.EventDelivered)
		}
	}
}

// scheduleReconnect starts at most one reconnect task per lane. Only a
// consumer that cannot reconnect at all is removed.
func (f *Forwarder) scheduleReconnect(l *lane) {
	if f.superCtx.Err() != nil || l.ctx.Err() != nil {
		return
	}
	f.taskMu.Lock()
	defer f.taskMu.Unlock()
	if f.tasksClosed || !l.reconnecting.CompareAndSwap(false, true) {
		return
	}
	f.tasks.Add(1)
	go func() {
		defer f.tasks.Done()
		defer l.reconnecting.Store(false)
		if err := f.reconnect(l); err != nil {
			if f.superCtx.Err() != nil || l.ctx.Err() != nil {
				return
			}
			log.Error().Msgf("forward.Forwarder.reconnect removing consumer=%s err=%v", l.consumer.Name(), err)
			f.remove(l, err)
		}
	}()
}

// reconnect runs budgeted reconnect cycles separated by Cooloff until the
// consumer is back, cannot reconnect, or its lane goes away.
func (f *Forwarder) reconnect(l *lane) error {
	ctx, cancel := context.WithCancel(f.superCtx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	name := l.consumer.Name()
	for {
		err := f.reconnectCycle(ctx, l)
		if !errors.Is(err, ErrReconnectExhausted) {
			return err
		}
		l.exhausted.Add(1)
		observability.RecordConsumerEvent(name, observability.EventExhausted)
		log.Warn().Msgf("forward.Forwarder.reconnect cooling off consumer=%s cooloff=%s err=%v", name, f.cfg.Cooloff, err)
		timer := time.NewTimer(f.cfg.Cooloff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *Forwarder) reconnectCycle(ctx context.Context, l *lane) error {
	name := l.consumer.Name()
	cfg := f.cfg.Reconnect
	for attempt := 1; ; attempt++ {
		if cfg.Exhausted(attempt) {
			return fmt.Errorf("%w: %s after %d attempts", ErrReconnectExhausted, name, cfg.MaxAttempts)
		}
		if err := session.Wait(ctx, cfg.Backoff, attempt, nil); err != nil {
			return err
		}
		err := l.consumer.Reconnect(ctx)
		if err == nil {
			l.reconnects.Add(1)
			observability.RecordConsumerEvent(name, observability.EventReconnect)
			observability.SetConsumerAlive(name, true)
			log.Info().Msgf("forward.Forwarder.reconnect reconnected consumer=%s attempt=%d", name, attempt)
			return nil
		}
		if errors.Is(err, ErrNotReconnectable) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Msgf("forward.Forwarder.reconnect attempt failed consumer=%s attempt=%d err=%v", name, attempt, err)
	}
}

// Remove drops the named consumer and closes it.
func (f *Forwarder) Remove(name string) error {
	f.mu.RLock()
	l, ok := f.lanes[name]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConsumerNotFound, name)
	}
	f.remove(l, nil)
	return nil
}

func (f *Forwarder) remove(l *lane, cause error) {
	name := l.consumer.Name()
	f.mu.Lock()
	if cur, ok := f.lanes[name]; !ok || cur != l {
		f.mu.Unlock()
		return
	}
	delete(f.lanes, name)
	f.mu.Unlock()

	l.cancel()
	if err := l.consumer.Close(); err != nil {
		log.Debug().Msgf("forward.Forwarder.remove close consumer=%s err=%v", name, err)
	}
	waitLanes([]*lane{l}, f.cfg.CloseGrace)
	f.removed.Add(1)
	observability.RecordConsumerEvent(name, observability.EventRemoved)
	observability.ForgetConsumer(name)
	if cause == nil {
		log.Info().Msgf("forward.Forwarder.remove consumer=%s", name)
	}
}

// Close stops reconnect tasks, lets lanes drain queued frames for up to
// CloseGrace, then closes every consumer.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	lanes := make([]*lane, 0, len(f.lanes))
	for _, l := range f.lanes {
		close(l.queue)
		lanes = append(lanes, l)
	}
	f.lanes = map[string]*lane{}
	f.mu.Unlock()

	f.superCancel()
	f.taskMu.Lock()
	f.tasksClosed = true
	f.taskMu.Unlock()

	if !waitLanes(lanes, f.cfg.CloseGrace) {
		log.Warn().Msgf("forward.Forwarder.Close grace expired, dropping queued frames grace=%s", f.cfg.CloseGrace)
	}
	for _, l := range lanes {
		l.cancel()
	}
	f.tasks.Wait()

	var errs []error
	for _, l := range lanes {
		if err := l.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.consumer.Name(), err))
		}
		observability.ForgetConsumer(l.consumer.Name())
	}
	// lanes stuck in a write return once their sink is closed
	waitLanes(lanes, f.cfg.CloseGrace)
	return errors.Join(errs...)
}

// waitLanes waits for lane goroutines to exit, up to grace in total.
func waitLanes(lanes []*lane, grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for _, l := range lanes {
		select {
		case <-l.done:
		case <-timer.C:
			return false
		}
	}
	return true
}

func (f *Forwarder) Stats() Stats {
	f.mu.RLock()
	out := Stats{
		Dispatched: f.dispatched.Load(),
		Removed:    f.removed.Load(),
		Consumers:  make([]ConsumerStats, 0, len(f.lanes)),
	}
	for name, l := range f.lanes {
		out.Consumers = append(out.Consumers, ConsumerStats{
			Name:         name,
			Alive:        l.consumer.Alive(),
			Reconnecting: l.reconnecting.Load(),
			Queued:       len(l.queue),
			Delivered:    l.delivered.Load(),
			Dropped:      l.dropped.Load(),
			Skipped:      l.skipped.Load(),
			Failures:     l.failures.Load(),
			Reconnects:   l.reconnects.Load(),
			Exhausted:    l.exhausted.Load(),
		})
	}
	f.mu.RUnlock()
	sort.Slice(out.Consumers, func(i, j int) bool { return out.Consumers[i].Name < out.Consumers[j].Name })
	return out
}

// Len reports the number of registered consumers.
func (f *Forwarder) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.lanes)
}
