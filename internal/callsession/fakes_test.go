package callsession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voiceai-agency/internal/calls"
	"voiceai-agency/internal/voiceagent"
)

const (
	testKey       = "pk_test"
	testAssistant = "asst-1"
)

type fakeClient struct {
	mu       sync.Mutex
	handlers map[voiceagent.EventKind]voiceagent.Handler
	onCalls  int
	starts   []string
	stops    int
	startErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[voiceagent.EventKind]voiceagent.Handler)}
}

func (f *fakeClient) Start(_ context.Context, assistantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, assistantID)
	return nil
}

func (f *fakeClient) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeClient) On(kind voiceagent.EventKind, h voiceagent.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCalls++
	f.handlers[kind] = h
}

func (f *fakeClient) emit(ev voiceagent.Event) {
	f.mu.Lock()
	h := f.handlers[ev.Kind]
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (f *fakeClient) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeClient) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeClient) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type tickers struct {
	mu  sync.Mutex
	all []*fakeTicker
}

func (ts *tickers) newTicker(time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time)}
	ts.mu.Lock()
	ts.all = append(ts.all, t)
	ts.mu.Unlock()
	return t
}

func (ts *tickers) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.all)
}

func (ts *tickers) last() *fakeTicker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.all) == 0 {
		return nil
	}
	return ts.all[len(ts.all)-1]
}

type fakeLimiter struct {
	mu       sync.Mutex
	deny     bool
	err      error
	acquired int
	released int
}

func (l *fakeLimiter) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.deny {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLimiter) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func (l *fakeLimiter) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []calls.Call
}

func (r *fakeRecorder) Record(_ context.Context, c calls.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return nil
}

func (r *fakeRecorder) all() []calls.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, len(r.calls))
	copy(out, r.calls)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	w        *Widget
	client   *fakeClient
	tickers  *tickers
	limiter  *fakeLimiter
	recorder *fakeRecorder
	clock    *fakeClock
}

func testDeps(h *harness) Deps {
	return Deps{
		NewClient: func(key string) (voiceagent.Client, error) {
			if key != testKey {
				return nil, voiceagent.ErrInvalidKey
			}
			return h.client, nil
		},
		Limiter:   h.limiter,
		Recorder:  h.recorder,
		NewTicker: h.tickers.newTicker,
		Clock:     h.clock.Now,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		client:   newFakeClient(),
		tickers:  &tickers{},
		limiter:  &fakeLimiter{},
		recorder: &fakeRecorder{},
		clock:    &fakeClock{now: time.Unix(1700000000, 0).UTC()},
	}
	w, err := New("widget-1", Config{PublicKey: testKey, AssistantID: testAssistant}, testDeps(h))
	if err != nil {
		t.Fatalf("new widget: %v", err)
	}
	h.w = w
	t.Cleanup(w.Close)
	return h
}

var (
	micGranted = MicrophoneFunc(func(context.Context) error { return nil })
	micDenied  = MicrophoneFunc(func(context.Context) error {
		return fmt.Errorf("NotAllowedError: %w", ErrPermissionDenied)
	})
)

// activate drives the widget from Idle to Active.
func (h *harness) activate(t *testing.T) {
	t.Helper()
	if err := h.w.Start(context.Background(), micGranted); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.client.emit(voiceagent.Event{Kind: voiceagent.EventCallStart})
	if got := h.w.Snapshot().Status; got != StatusActive {
		t.Fatalf("expected active, got %s", got)
	}
}

// tick delivers n ticks to the current ticker and waits until they are applied.
func (h *harness) tick(t *testing.T, n int) {
	t.Helper()
	tk := h.tickers.last()
	if tk == nil {
		t.Fatalf("no ticker running")
	}
	want := h.w.Snapshot().ElapsedSeconds + n
	for i := 0; i < n; i++ {
		select {
		case tk.ch <- h.clock.Now():
		case <-time.After(time.Second):
			t.Fatalf("ticker not consumed")
		}
	}
	deadline := time.Now().Add(time.Second)
	for h.w.Snapshot().ElapsedSeconds != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected elapsed %d, got %d", want, h.w.Snapshot().ElapsedSeconds)
		}
		time.Sleep(time.Millisecond)
	}
}

// dialClient models a real transport: Start blocks until release is closed, and
// Stop only ends a session that has already been established.
type dialClient struct {
	*fakeClient

	dialing chan struct{}
	release chan struct{}
	// onEstablished runs after the session is up but before Start returns,
	// like a read loop delivering an early event.
	onEstablished func()

	mu           sync.Mutex
	live         bool
	sessionStops int
	idleStops    int
}

func newDialClient() *dialClient {
	return &dialClient{
		fakeClient: newFakeClient(),
		dialing:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (d *dialClient) Start(ctx context.Context, assistantID string) error {
	close(d.dialing)
	<-d.release
	if err := d.fakeClient.Start(ctx, assistantID); err != nil {
		return err
	}
	d.mu.Lock()
	d.live = true
	d.mu.Unlock()
	if d.onEstablished != nil {
		d.onEstablished()
	}
	return nil
}

func (d *dialClient) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live {
		d.live = false
		d.sessionStops++
		return
	}
	d.idleStops++
}

func (d *dialClient) state() (live bool, sessionStops int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live, d.sessionStops
}

func newDialHarness(t *testing.T, dc *dialClient) *harness {
	t.Helper()
	h := &harness{
		client:   dc.fakeClient,
		tickers:  &tickers{},
		limiter:  &fakeLimiter{},
		recorder: &fakeRecorder{},
		clock:    &fakeClock{now: time.Unix(1700000000, 0).UTC()},
	}
	deps := testDeps(h)
	deps.NewClient = func(string) (voiceagent.Client, error) { return dc, nil }
	w, err := New("widget-dial", Config{PublicKey: testKey, AssistantID: testAssistant}, deps)
	if err != nil {
		t.Fatalf("new widget: %v", err)
	}
	h.w = w
	t.Cleanup(w.Close)
	return h
}

func waitDialing(t *testing.T, dc *dialClient) {
	t.Helper()
	select {
	case <-dc.dialing:
	case <-time.After(time.Second):
		t.Fatalf("client start never began")
	}
}
