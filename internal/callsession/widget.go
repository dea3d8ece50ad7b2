package callsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voiceai-agency/internal/calls"
	"voiceai-agency/internal/quota"
	"voiceai-agency/internal/voiceagent"

	"github.com/samber/lo"
)

const (
	tickInterval  = time.Second
	effectTimeout = 5 * time.Second
	watchBuffer   = 16
)

var errSlotRefused = errors.New("concurrent session limit reached")

// Microphone asks the visitor's device for audio capture permission.
// Implementations return an error wrapping ErrPermissionDenied when access is refused;
// any other error is treated as a generic start failure.
type Microphone interface {
	RequestPermission(ctx context.Context) error
}

type MicrophoneFunc func(ctx context.Context) error

func (f MicrophoneFunc) RequestPermission(ctx context.Context) error { return f(ctx) }

// Recorder receives one outcome per finished session. Failures are logged only.
type Recorder interface {
	Record(ctx context.Context, c calls.Call) error
}

// Config holds the deployment secrets the widget needs before it can be used.
type Config struct {
	PublicKey   string
	AssistantID string
}

func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.PublicKey) == "" {
		missing = append(missing, "public key")
	}
	if strings.TrimSpace(c.AssistantID) == "" {
		missing = append(missing, "assistant id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrConfiguration, strings.Join(missing, " and "))
	}
	return nil
}

// Deps are the collaborators shared by all widgets of a process.
type Deps struct {
	NewClient voiceagent.Factory

	// Optional.
	Limiter   quota.Limiter
	Recorder  Recorder
	Logger    *slog.Logger
	NewTicker TickerFunc
	Clock     func() time.Time
}

func (d Deps) withDefaults() Deps {
	out := d
	if out.Limiter == nil {
		out.Limiter = quota.Unlimited{}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.NewTicker == nil {
		out.NewTicker = newStdTicker
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

// Widget drives one visitor's voice call control.
//
// All transitions run under mu, which gives the same ordering a single UI event
// loop would. Calls into collaborators (client stop, limiter, recorder) happen
// after mu is released, so a client may dispatch events synchronously from Stop.
type Widget struct {
	id   string
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu sync.Mutex

	// client is created once and reused for every session of this widget.
	client voiceagent.Client

	status       Status
	requestedAt  time.Time
	startedAt    time.Time
	elapsed      int
	lastError    string
	connected    bool
	endRequested bool
	holdsSlot    bool
	// sessionOpen is set once client.Start has been issued for the current attempt.
	sessionOpen bool
	// dialing is set while client.Start runs. A stop requested meanwhile would
	// reach no connection, so it is held in stopAfterDial and issued by Start.
	dialing       bool
	stopAfterDial bool

	// attempt invalidates in-flight Start calls after a transition or Close.
	attempt uint64

	tickGen  uint64
	tickDone chan struct{}

	closed       bool
	lastActivity time.Time

	watchers  map[int]chan View
	nextWatch int
}

// effects are collaborator calls collected under mu and run after it is released.
type effects struct {
	stop    voiceagent.Client
	release bool
	record  *calls.Call
}

// New returns an Idle widget. The voice client is created right away; if that
// fails, the next Start retries and reports a start failure.
func New(id string, cfg Config, deps Deps) (*Widget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.NewClient == nil {
		return nil, fmt.Errorf("%w: voice client factory required", ErrConfiguration)
	}
	deps = deps.withDefaults()

	w := &Widget{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With("widget_id", id),
		status:   StatusIdle,
		watchers: make(map[int]chan View),
	}
	w.lastActivity = w.now()

	w.mu.Lock()
	if _, err := w.clientLocked(); err != nil {
		w.log.Warn("voice client init failed", "err", err)
	}
	w.mu.Unlock()
	return w, nil
}

func (w *Widget) ID() string { return w.id }

// Start begins a new session. It is a no-op while a session is requesting or active.
// The returned error wraps ErrPermissionDenied or ErrSessionStart; in both cases the
// widget is already Failed with the matching visitor message.
func (w *Widget) Start(ctx context.Context, mic Microphone) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.status != StatusIdle && w.status != StatusFailed {
		w.mu.Unlock()
		return nil
	}
	w.attempt++
	attempt := w.attempt
	w.status = StatusRequesting
	w.lastError = ""
	w.connected = false
	w.endRequested = false
	w.requestedAt = w.now()
	w.lastActivity = w.requestedAt
	w.notifyLocked()
	w.mu.Unlock()

	if mic == nil {
		return w.failStart(attempt, ErrSessionStart, errors.New("no microphone available"))
	}
	if err := mic.RequestPermission(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return w.failStart(attempt, ErrPermissionDenied, err)
		}
		return w.failStart(attempt, ErrSessionStart, err)
	}

	ok, err := w.deps.Limiter.Acquire(ctx)
	if err != nil {
		return w.failStart(attempt, ErrSessionStart, err)
	}
	if !ok {
		return w.failStart(attempt, ErrSessionStart, errSlotRefused)
	}

	w.mu.Lock()
	if w.attempt != attempt || w.status != StatusRequesting {
		closed := w.closed
		w.mu.Unlock()
		w.releaseSlot()
		if closed {
			return ErrClosed
		}
		return nil
	}
	w.holdsSlot = true
	client, err := w.clientLocked()
	if err == nil {
		w.sessionOpen = true
		w.dialing = true
	}
	w.mu.Unlock()
	if err != nil {
		return w.failStart(attempt, ErrSessionStart, err)
	}

	startErr := client.Start(ctx, w.cfg.AssistantID)

	w.mu.Lock()
	w.dialing = false
	stop := w.stopAfterDial
	w.stopAfterDial = false
	closed := w.closed
	w.mu.Unlock()

	if startErr != nil {
		return w.failStart(attempt, ErrSessionStart, startErr)
	}
	if stop {
		// The widget was torn down while connecting; end the session it just opened.
		client.Stop()
		w.log.Info("session stopped after teardown during connect")
	}
	if closed {
		return ErrClosed
	}
	return nil
}

// End terminates an active session. Outside Active it is a no-op, except while
// Requesting, where the end is held until the session connects.
func (w *Widget) End() {
	w.mu.Lock()
	switch w.status {
	case StatusActive:
		w.lastActivity = w.now()
		fx := w.endLocked()
		w.mu.Unlock()
		w.apply(fx)
	case StatusRequesting:
		w.endRequested = true
		w.mu.Unlock()
	default:
		w.mu.Unlock()
	}
}

// HandleEvent applies an event from the voice client. Events that do not fit
// the current state are ignored.
func (w *Widget) HandleEvent(ev voiceagent.Event) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	var fx effects
	switch ev.Kind {
	case voiceagent.EventCallStart:
		// A call-start without a pending Start, or a duplicate while Active, is ignored.
		if w.status != StatusRequesting {
			w.mu.Unlock()
			return
		}
		w.attempt++
		w.status = StatusActive
		w.startedAt = w.now()
		w.elapsed = 0
		w.connected = true
		w.startTickLocked()
		w.log.Info("call started")
		if w.endRequested {
			fx = w.endLocked()
		} else {
			w.notifyLocked()
		}

	case voiceagent.EventCallEnd:
		switch w.status {
		case StatusActive:
			fx = w.endLocked()
		case StatusRequesting:
			fx = w.abandonLocked()
		default:
			w.mu.Unlock()
			return
		}

	case voiceagent.EventError:
		if w.status != StatusActive && w.status != StatusRequesting {
			w.mu.Unlock()
			return
		}
		msg := strings.TrimSpace(ev.Message)
		if msg == "" {
			msg = MessageStartFailed
		}
		w.log.Error("call error", "err", msg)
		fx = w.failLocked(msg)

	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.apply(fx)
}

// Close tears the widget down from any state: the voice client is asked to
// stop, the tick is cancelled and any held slot is released.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.attempt++

	fx := effects{release: w.holdsSlot}
	w.stopClientLocked(&fx)
	switch w.status {
	case StatusActive:
		fx.record = w.outcomeLocked(calls.CallStatusCompleted, "")
	case StatusRequesting:
		fx.record = w.outcomeLocked(calls.CallStatusFailed, "")
	}
	w.stopTickLocked()
	w.holdsSlot = false
	w.resetLocked(StatusIdle, "")

	for id, ch := range w.watchers {
		delete(w.watchers, id)
		close(ch)
	}
	w.mu.Unlock()

	w.apply(fx)
	w.log.Debug("widget closed")
}

func (w *Widget) Snapshot() CallSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Widget) View() View { return viewOf(w.Snapshot()) }

// Watch streams views after every state change, starting with the current one.
// Slow readers only ever miss intermediate views, never the latest.
func (w *Widget) Watch() (<-chan View, func()) {
	ch := make(chan View, watchBuffer)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	id := w.nextWatch
	w.nextWatch++
	w.watchers[id] = ch
	ch <- viewOf(w.snapshotLocked())

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if c, ok := w.watchers[id]; ok {
			delete(w.watchers, id)
			close(c)
		}
	}
}

// LastActivity is the last visitor interaction.
func (w *Widget) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Widget) touch() {
	w.mu.Lock()
	w.lastActivity = w.now()
	w.mu.Unlock()
}

func (w *Widget) now() time.Time { return w.deps.Clock() }

// clientLocked returns the widget's client, creating it and registering one
// handler per event kind on first use.
func (w *Widget) clientLocked() (voiceagent.Client, error) {
	if w.client != nil {
		return w.client, nil
	}
	c, err := w.deps.NewClient(w.cfg.PublicKey)
	if err != nil {
		return nil, err
	}
	c.On(voiceagent.EventCallStart, w.HandleEvent)
	c.On(voiceagent.EventCallEnd, w.HandleEvent)
	c.On(voiceagent.EventError, w.HandleEvent)
	w.client = c
	return c, nil
}

func (w *Widget) failStart(attempt uint64, kind error, cause error) error {
	msg := MessageStartFailed
	if errors.Is(kind, ErrPermissionDenied) {
		msg = MessagePermissionDenied
	}

	w.mu.Lock()
	if w.attempt != attempt || w.status != StatusRequesting {
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	}
	fx := w.failLocked(msg)
	w.mu.Unlock()
	w.apply(fx)

	w.log.Warn("call start failed", "err", cause)
	if errors.Is(cause, kind) {
		return cause
	}
	return fmt.Errorf("%w: %v", kind, cause)
}

// endLocked moves Active to Idle.
func (w *Widget) endLocked() effects {
	fx := effects{release: w.holdsSlot}
	w.stopClientLocked(&fx)
	fx.record = w.outcomeLocked(calls.CallStatusCompleted, "")
	w.stopTickLocked()
	w.holdsSlot = false
	w.attempt++
	w.resetLocked(StatusIdle, "")
	w.log.Info("call ended", "duration_seconds", fx.record.DurationSeconds)
	return fx
}

// abandonLocked moves Requesting to Idle when the agent hangs up before connecting.
func (w *Widget) abandonLocked() effects {
	fx := effects{release: w.holdsSlot}
	fx.record = w.outcomeLocked(calls.CallStatusFailed, "")
	w.holdsSlot = false
	w.attempt++
	w.resetLocked(StatusIdle, "")
	return fx
}

// failLocked moves Requesting or Active to Failed with msg. The client is
// only stopped if a session was actually opened.
func (w *Widget) failLocked(msg string) effects {
	fx := effects{release: w.holdsSlot}
	if w.sessionOpen {
		w.stopClientLocked(&fx)
	}
	fx.record = w.outcomeLocked(calls.CallStatusFailed, msg)
	w.stopTickLocked()
	w.holdsSlot = false
	w.attempt++
	w.resetLocked(StatusFailed, msg)
	return fx
}

// stopClientLocked schedules a client stop, or defers it to Start while a
// dial is still in flight.
func (w *Widget) stopClientLocked(fx *effects) {
	if w.dialing {
		w.stopAfterDial = true
		return
	}
	fx.stop = w.client
}

func (w *Widget) resetLocked(status Status, lastError string) {
	w.status = status
	w.lastError = lastError
	w.elapsed = 0
	w.startedAt = time.Time{}
	w.connected = false
	w.endRequested = false
	w.sessionOpen = false
	w.notifyLocked()
}

func (w *Widget) outcomeLocked(status calls.CallStatus, errMsg string) *calls.Call {
	started := w.requestedAt
	if w.connected {
		started = w.startedAt
	}
	return &calls.Call{
		WidgetID:        w.id,
		AssistantID:     w.cfg.AssistantID,
		Status:          status,
		DurationSeconds: w.elapsed,
		Error:           errMsg,
		StartedAt:       started.UTC(),
		EndedAt:         lo.ToPtr(w.now().UTC()),
	}
}

// startTickLocked replaces any running tick with a new one bound to a fresh generation.
func (w *Widget) startTickLocked() {
	w.stopTickLocked()
	gen := w.tickGen
	done := make(chan struct{})
	w.tickDone = done
	t := w.deps.NewTicker(tickInterval)

	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C():
				w.tick(gen)
			}
		}
	}()
}

// stopTickLocked cancels the tick. Bumping the generation makes any tick that
// is already waiting on mu a no-op, so cancellation takes effect immediately.
func (w *Widget) stopTickLocked() {
	if w.tickDone != nil {
		close(w.tickDone)
		w.tickDone = nil
	}
	w.tickGen++
}

func (w *Widget) tick(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.tickGen || w.status != StatusActive {
		return
	}
	w.elapsed++
	w.notifyLocked()
}

func (w *Widget) snapshotLocked() CallSession {
	s := CallSession{
		Status:    w.status,
		LastError: w.lastError,
	}
	if w.status == StatusActive {
		s.ElapsedSeconds = w.elapsed
		s.StartedAt = lo.ToPtr(w.startedAt)
	}
	return s
}

func (w *Widget) notifyLocked() {
	if len(w.watchers) == 0 {
		return
	}
	v := viewOf(w.snapshotLocked())
	for _, ch := range w.watchers {
		select {
		case ch <- v:
		default:
			// Drop the oldest view so the latest always gets through.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (w *Widget) apply(fx effects) {
	if fx.stop != nil {
		fx.stop.Stop()
	}
	if fx.release {
		w.releaseSlot()
	}
	if fx.record != nil && w.deps.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
		defer cancel()
		if err := w.deps.Recorder.Record(ctx, *fx.record); err != nil {
			w.log.Error("call record failed", "err", err)
		}
	}
}

func (w *Widget) releaseSlot() {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()
	if err := w.deps.Limiter.Release(ctx); err != nil {
		w.log.Error("session slot release failed", "err", err)
	}
}
