package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voicebridge/internal/transcript"
)

// channelCounter tracks how many transport channels are open at once. The
// coordinator must never let the count exceed one.
type channelCounter struct {
	mu   sync.Mutex
	open int
	peak int
}

func (c *channelCounter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open++
	if c.open > c.peak {
		c.peak = c.open
	}
}

func (c *channelCounter) dec() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open--
}

func (c *channelCounter) snapshot() (open, peak int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open, c.peak
}

type fakeTransport struct {
	counter   *channelCounter
	autoStart bool
	events    chan Event

	mu        sync.Mutex
	connected bool
}

func newFakeTransport(counter *channelCounter, autoStart bool) *fakeTransport {
	return &fakeTransport{counter: counter, autoStart: autoStart, events: make(chan Event, 16)}
}

func (f *fakeTransport) Connect(ctx context.Context, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.counter.dec()
	}
	f.counter.inc()
	f.connected = true
	if f.autoStart {
		f.events <- Event{Kind: EventStarted}
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, payload []byte) error { return nil }

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		f.counter.dec()
	}
	return nil
}

func (f *fakeTransport) emit(ev Event) { f.events <- ev }

type fakeCredentials struct {
	err error
}

func (f fakeCredentials) CreateSession(ctx context.Context, agentID string, metadata map[string]string) (Credential, error) {
	if f.err != nil {
		return Credential{}, f.err
	}
	return Credential{SessionID: "sess-1", AccessToken: "tok-1"}, nil
}

type fakeCapture struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (f *fakeCapture) Acquire(ctx context.Context) (CaptureHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	return &fakeCaptureHandle{owner: f}, nil
}

func (f *fakeCapture) counts() (acquired, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired, f.released
}

type fakeCaptureHandle struct{ owner *fakeCapture }

func (h *fakeCaptureHandle) Level() float64 { return 0.5 }

func (h *fakeCaptureHandle) Release() {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	h.owner.released++
}

type fakeLimiter struct {
	mu       sync.Mutex
	deny     bool
	acquired int
	released int
}

func (f *fakeLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny {
		return false, nil
	}
	f.acquired++
	return true, nil
}

func (f *fakeLimiter) Release(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

type fakeSink struct {
	mu    sync.Mutex
	saves map[string][]transcript.Entry
}

func (f *fakeSink) SaveTranscript(ctx context.Context, sessionID string, entries []transcript.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saves == nil {
		f.saves = make(map[string][]transcript.Entry)
	}
	f.saves[sessionID] = entries
	return nil
}

func (f *fakeSink) saved(sessionID string) []transcript.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[sessionID]
}

type harness struct {
	coord     *Coordinator
	transport *fakeTransport
	capture   *fakeCapture
	limiter   *fakeLimiter
	sink      *fakeSink
	counter   *channelCounter
}

func newHarness(autoStart bool) *harness {
	h := &harness{
		capture: &fakeCapture{},
		limiter: &fakeLimiter{},
		sink:    &fakeSink{},
		counter: &channelCounter{},
	}
	h.coord = NewCoordinator(Deps{
		Credentials: fakeCredentials{},
		NewTransport: func() Transport {
			h.transport = newFakeTransport(h.counter, autoStart)
			return h.transport
		},
		Capture:        h.capture,
		Limiter:        h.limiter,
		Sink:           h.sink,
		RequestTimeout: 200 * time.Millisecond,
	})
	return h
}

func validConfig() Config {
	return Config{AgentID: "agent-1", VoiceID: "voice-1", Language: "en-US"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return c.State() == want })
}

func TestStartRejectsIncompleteConfig(t *testing.T) {
	h := newHarness(true)

	_, err := h.coord.Start(context.Background(), "u1", Config{VoiceID: "v", Language: "en"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "agent_id" {
		t.Fatalf("expected agent_id ConfigurationError, got %v", err)
	}
	if h.coord.State() != StateIdle {
		t.Fatalf("state must remain idle, got %s", h.coord.State())
	}
}

func TestStartWhileActiveRejected(t *testing.T) {
	h := newHarness(true)

	if _, err := h.coord.Start(context.Background(), "u1", validConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.coord, StateActive)

	if _, err := h.coord.Start(context.Background(), "u1", validConfig()); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(true)

	id, err := h.coord.Start(context.Background(), "u1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "sess-1" {
		t.Fatalf("unexpected session id %q", id)
	}
	waitState(t, h.coord, StateActive)

	h.transport.emit(Event{Kind: EventFrame, Frame: TranscriptFrame{Role: "agent", Content: "Hello"}})
	waitFor(t, "agent turn", func() bool {
		turn, ok := h.coord.CurrentTurn()
		return ok && turn.Speaker == transcript.SpeakerAgent && turn.Content == "Hello"
	})
	if len(h.coord.Transcript()) != 0 {
		t.Fatalf("log must be empty before speaker switch")
	}

	h.transport.emit(Event{Kind: EventFrame, Frame: TranscriptFrame{Role: "user", Content: "Hi there"}})
	waitFor(t, "committed agent entry", func() bool {
		log := h.coord.Transcript()
		return len(log) == 1 && log[0].Speaker == transcript.SpeakerAgent && log[0].Content == "Hello"
	})
	turn, ok := h.coord.CurrentTurn()
	if !ok || turn.Speaker != transcript.SpeakerCounterparty || turn.Content != "Hi there" {
		t.Fatalf("unexpected current turn: %+v", turn)
	}

	h.transport.emit(Event{Kind: EventEnded})
	waitState(t, h.coord, StateEnded)

	log := h.coord.Transcript()
	if len(log) != 2 || log[1].Speaker != transcript.SpeakerCounterparty || log[1].Content != "Hi there" {
		t.Fatalf("unexpected final log: %+v", log)
	}

	saved := h.sink.saved("sess-1")
	if len(saved) != 2 {
		t.Fatalf("expected transcript handed to sink, got %+v", saved)
	}

	acquired, released := h.capture.counts()
	if acquired != 1 || released != 1 {
		t.Fatalf("capture acquire/release mismatch: %d/%d", acquired, released)
	}
	if h.limiter.acquired != 1 || h.limiter.released != 1 {
		t.Fatalf("limiter acquire/release mismatch: %d/%d", h.limiter.acquired, h.limiter.released)
	}
}

func TestRequestingTimeoutMovesToError(t *testing.T) {
	h := newHarness(false) // transport never emits started

	if _, err := h.coord.Start(context.Background(), "u1", validConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.coord, StateError)

	var connErr *ConnectionError
	if !errors.As(h.coord.Err(), &connErr) {
		t.Fatalf("expected ConnectionError, got %v", h.coord.Err())
	}

	_, released := h.capture.counts()
	if released != 1 {
		t.Fatalf("capture must be released on timeout")
	}
	if open, _ := h.counter.snapshot(); open != 0 {
		t.Fatalf("transport left open after timeout")
	}
}

func TestCredentialFailureReleasesResources(t *testing.T) {
	h := newHarness(true)
	h.coord.deps.Credentials = fakeCredentials{err: &ConnectionError{Status: 401, Message: "bad key"}}

	_, err := h.coord.Start(context.Background(), "u1", validConfig())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Status != 401 {
		t.Fatalf("expected 401 ConnectionError, got %v", err)
	}
	waitState(t, h.coord, StateError)

	acquired, released := h.capture.counts()
	if acquired != 1 || released != 1 {
		t.Fatalf("capture not released on credential failure: %d/%d", acquired, released)
	}
	if h.limiter.released != 1 {
		t.Fatalf("limiter slot not released on credential failure")
	}
}

func TestFatalTransportErrorPreservesPartialTranscript(t *testing.T) {
	h := newHarness(true)

	if _, err := h.coord.Start(context.Background(), "u1", validConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.coord, StateActive)

	h.transport.emit(Event{Kind: EventFrame, Frame: TranscriptFrame{Role: "user", Content: "partial thought"}})
	waitFor(t, "current turn", func() bool { _, ok := h.coord.CurrentTurn(); return ok })

	h.transport.emit(Event{Kind: EventError, Err: errors.New("unexpected close")})
	waitState(t, h.coord, StateError)

	if !errors.Is(h.coord.Err(), ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", h.coord.Err())
	}
	log := h.coord.Transcript()
	if len(log) != 1 || log[0].Content != "partial thought" {
		t.Fatalf("partial transcript not flushed: %+v", log)
	}
	if len(h.sink.saved("sess-1")) != 1 {
		t.Fatalf("best-effort save missing on error path")
	}
}

func TestStopFlushesAndEnds(t *testing.T) {
	h := newHarness(true)

	if _, err := h.coord.Start(context.Background(), "u1", validConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.coord, StateActive)

	h.transport.emit(Event{Kind: EventFrame, Frame: TranscriptFrame{Role: "user", Content: "bye"}})
	waitFor(t, "current turn", func() bool { _, ok := h.coord.CurrentTurn(); return ok })

	if err := h.coord.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.coord.State() != StateEnded {
		t.Fatalf("expected ended, got %s", h.coord.State())
	}
	log := h.coord.Transcript()
	if len(log) != 1 || log[0].Content != "bye" {
		t.Fatalf("pending turn not flushed on stop: %+v", log)
	}

	// Stop is idempotent.
	if err := h.coord.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestNeverMoreThanOneOpenChannel(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.coord.Start(ctx, "u1", validConfig()); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		waitState(t, h.coord, StateActive)
		if err := h.coord.Stop(ctx); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
		waitState(t, h.coord, StateEnded)
	}

	open, peak := h.counter.snapshot()
	if open != 0 {
		t.Fatalf("channels leaked: %d open", open)
	}
	if peak > 1 {
		t.Fatalf("observed %d concurrent channels; max allowed is 1", peak)
	}
}

func TestFreshReconcilerPerSession(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()

	if _, err := h.coord.Start(ctx, "u1", validConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.coord, StateActive)
	h.transport.emit(Event{Kind: EventFrame, Frame: TranscriptFrame{Role: "user", Content: "first session"}})
	waitFor(t, "turn", func() bool { _, ok := h.coord.CurrentTurn(); return ok })
	if err := h.coord.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := h.coord.Start(ctx, "u1", validConfig()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitState(t, h.coord, StateActive)

	// No cross-session transcript bleed.
	if log := h.coord.Transcript(); len(log) != 0 {
		t.Fatalf("new session inherited old transcript: %+v", log)
	}
	if _, ok := h.coord.CurrentTurn(); ok {
		t.Fatalf("new session inherited old turn")
	}
}
