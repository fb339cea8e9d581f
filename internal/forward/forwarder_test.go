package forward

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/adsbridge/internal/protocol/frame"
	"github.com/danmuck/adsbridge/internal/protocol/modes"
	"github.com/danmuck/adsbridge/internal/protocol/session"
	"github.com/danmuck/adsbridge/internal/testutil/testlog"
	"github.com/danmuck/adsbridge/internal/validator"
)

func testFrames(t *testing.T, n int) []*validator.ValidatedFrame {
	t.Helper()
	raw, err := hex.DecodeString("8D4840D6202CC371C32CE0576098")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v := validator.New(validator.DefaultConfig())
	out := make([]*validator.ValidatedFrame, 0, n)
	for i := 0; i < n; i++ {
		f, reason := v.Validate(frame.Message{Class: modes.ClassLong, Payload: raw})
		if reason != validator.Accepted {
			t.Fatalf("validate: %s", reason)
		}
		out = append(out, f)
	}
	return out
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.QueueSize = 128
	cfg.CloseGrace = 200 * time.Millisecond
	cfg.Reconnect = session.Config{
		ConnectTimeout: 200 * time.Millisecond,
		WriteTimeout:   200 * time.Millisecond,
		Backoff: session.BackoffConfig{
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     20 * time.Millisecond,
		},
		MaxAttempts: 3,
	}
	cfg.Cooloff = 30 * time.Millisecond
	return cfg
}

type recorder struct {
	name string
	got  chan *validator.ValidatedFrame
}

func newRecorder(name string, n int) *recorder {
	return &recorder{name: name, got: make(chan *validator.ValidatedFrame, n)}
}

func (r *recorder) Name() string                    { return r.name }
func (r *recorder) Alive() bool                     { return true }
func (r *recorder) Reconnect(context.Context) error { return nil }
func (r *recorder) Close() error                    { return nil }
func (r *recorder) Render(_ context.Context, f *validator.ValidatedFrame) error {
	r.got <- f
	return nil
}

// blocker never finishes a write until its lane is cancelled.
type blocker struct {
	entered atomic.Int32
}

func (b *blocker) Name() string                    { return "blocker" }
func (b *blocker) Alive() bool                     { return true }
func (b *blocker) Reconnect(context.Context) error { return nil }
func (b *blocker) Close() error                    { return nil }
func (b *blocker) Render(ctx context.Context, _ *validator.ValidatedFrame) error {
	b.entered.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

// failer fails every write and every reconnect until healed. A permanent
// failer refuses reconnects outright.
type failer struct {
	permanent  bool
	alive      atomic.Bool
	healed     atomic.Bool
	reconnects atomic.Int32
	rendered   atomic.Int32
	closed     atomic.Bool
}

func newFailer() *failer {
	f := &failer{}
	f.alive.Store(true)
	return f
}

func (f *failer) Name() string { return "failer" }
func (f *failer) Alive() bool  { return f.alive.Load() }
func (f *failer) Reconnect(context.Context) error {
	f.reconnects.Add(1)
	if f.permanent {
		return ErrNotReconnectable
	}
	if f.healed.Load() {
		f.alive.Store(true)
		return nil
	}
	return errors.New("connection refused")
}
func (f *failer) Close() error {
	f.closed.Store(true)
	return nil
}
func (f *failer) Render(context.Context, *validator.ValidatedFrame) error {
	if f.healed.Load() {
		f.rendered.Add(1)
		return nil
	}
	f.alive.Store(false)
	return errors.New("broken pipe")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatchIsolatesBlockingAndFailingConsumers(t *testing.T) {
	testlog.Start(t)
	frames := testFrames(t, 100)

	baseline := measureTerminal(t, frames, nil)
	withBad := measureTerminal(t, frames, func(f *Forwarder) {
		if err := f.Add(&blocker{}); err != nil {
			t.Fatalf("add blocker: %v", err)
		}
		if err := f.Add(newFailer()); err != nil {
			t.Fatalf("add failer: %v", err)
		}
	})

	// timing is dominated by scheduling noise; a blocked sink would add
	// the whole close grace or more
	if withBad > baseline+150*time.Millisecond {
		t.Fatalf("terminal delivery slowed by bad consumers: baseline=%v with=%v", baseline, withBad)
	}
}

func measureTerminal(t *testing.T, frames []*validator.ValidatedFrame, extra func(*Forwarder)) time.Duration {
	t.Helper()
	f := New(fastConfig())
	defer f.Close()
	term := newRecorder("terminal", len(frames))
	if err := f.Add(term); err != nil {
		t.Fatalf("add terminal: %v", err)
	}
	if extra != nil {
		extra(f)
	}

	start := time.Now()
	for _, fr := range frames {
		f.Dispatch(fr)
	}
	for i, want := range frames {
		select {
		case got := <-term.got:
			if got.Seq() != want.Seq() {
				t.Fatalf("frame %d out of order: got seq %d want %d", i, got.Seq(), want.Seq())
			}
		case <-time.After(time.Second):
			t.Fatalf("terminal missed frame %d", i)
		}
	}
	return time.Since(start)
}

func TestLaneDropsWhenFullWithoutBlockingDispatch(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	cfg.QueueSize = 1
	f := New(cfg)
	defer f.Close()
	b := &blocker{}
	if err := f.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}

	frames := testFrames(t, 10)
	f.Dispatch(frames[0])
	waitFor(t, time.Second, func() bool { return b.entered.Load() == 1 }, "blocker to take a frame")

	done := make(chan struct{})
	go func() {
		for _, fr := range frames[1:] {
			f.Dispatch(fr)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("dispatch blocked on a full lane")
	}

	st := f.Stats()
	if len(st.Consumers) != 1 || st.Consumers[0].Dropped != 8 || st.Consumers[0].Queued != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestUnreconnectableConsumerIsRemoved(t *testing.T) {
	testlog.Start(t)
	f := New(fastConfig())
	defer f.Close()
	bad := newFailer()
	bad.permanent = true
	if err := f.Add(bad); err != nil {
		t.Fatalf("add: %v", err)
	}
	term := newRecorder("terminal", 8)
	if err := f.Add(term); err != nil {
		t.Fatalf("add terminal: %v", err)
	}

	f.Dispatch(testFrames(t, 1)[0])
	waitFor(t, 2*time.Second, func() bool { return f.Len() == 1 }, "failing consumer removal")
	if got := bad.reconnects.Load(); got != 1 {
		t.Fatalf("reconnect attempts=%d want 1", got)
	}
	if !bad.closed.Load() {
		t.Fatalf("removed consumer was not closed")
	}
	if st := f.Stats(); st.Removed != 1 || st.Consumers[0].Name != "terminal" {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestExhaustedConsumerKeepsLaneAndRecoversAfterCooloff(t *testing.T) {
	testlog.Start(t)
	f := New(fastConfig())
	defer f.Close()
	bad := newFailer()
	if err := f.Add(bad); err != nil {
		t.Fatalf("add: %v", err)
	}

	frames := testFrames(t, 2)
	f.Dispatch(frames[0])
	waitFor(t, 2*time.Second, func() bool {
		st := f.Stats()
		return len(st.Consumers) == 1 && st.Consumers[0].Exhausted >= 2
	}, "two spent reconnect cycles")
	if f.Len() != 1 {
		t.Fatalf("exhausted consumer was removed")
	}
	if bad.closed.Load() {
		t.Fatalf("exhausted consumer was closed")
	}
	if got := bad.reconnects.Load(); got < 6 {
		t.Fatalf("reconnect attempts=%d want at least two cycles of 3", got)
	}

	bad.healed.Store(true)
	waitFor(t, 2*time.Second, bad.Alive, "reconnect after cooloff")
	f.Dispatch(frames[1])
	waitFor(t, time.Second, func() bool { return bad.rendered.Load() == 1 }, "render after recovery")
	if st := f.Stats(); st.Removed != 0 || st.Consumers[0].Reconnects != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

type flaky struct {
	mu       sync.Mutex
	alive    bool
	failNext int
	rendered int
}

func (c *flaky) Name() string { return "flaky" }
func (c *flaky) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}
func (c *flaky) Close() error { return nil }
func (c *flaky) Reconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return errors.New("not yet")
	}
	c.alive = true
	return nil
}
func (c *flaky) Render(context.Context, *validator.ValidatedFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rendered++
	return nil
}

func TestDeadConsumerReconnectsAndResumes(t *testing.T) {
	testlog.Start(t)
	f := New(fastConfig())
	defer f.Close()
	c := &flaky{failNext: 2}
	if err := f.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 2*time.Second, c.Alive, "reconnect")

	f.Dispatch(testFrames(t, 1)[0])
	waitFor(t, time.Second, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.rendered == 1
	}, "render after reconnect")
	if st := f.Stats(); st.Consumers[0].Reconnects != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestAddRejectsDuplicatesAndClosedForwarder(t *testing.T) {
	testlog.Start(t)
	f := New(fastConfig())
	if err := f.Add(newRecorder("a", 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := f.Add(newRecorder("a", 1)); !errors.Is(err, ErrDuplicateConsumer) {
		t.Fatalf("expected ErrDuplicateConsumer, got %v", err)
	}
	if err := f.Remove("missing"); !errors.Is(err, ErrConsumerNotFound) {
		t.Fatalf("expected ErrConsumerNotFound, got %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Add(newRecorder("b", 1)); !errors.Is(err, ErrForwarderClosed) {
		t.Fatalf("expected ErrForwarderClosed, got %v", err)
	}
}

func TestCloseDrainsQueuedFrames(t *testing.T) {
	testlog.Start(t)
	f := New(fastConfig())
	rec := newRecorder("rec", 16)
	if err := f.Add(rec); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, fr := range testFrames(t, 16) {
		f.Dispatch(fr)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(rec.got); got != 16 {
		t.Fatalf("drained=%d want 16", got)
	}
}
