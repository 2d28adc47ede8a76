package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicebridge/internal/transcript"
)

// State is the lifecycle phase of one call session attempt.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateError      State = "error"
)

// Config is the agent configuration a session is started with. Immutable for
// the session's lifetime.
type Config struct {
	AgentID  string
	VoiceID  string
	Language string
	Metadata map[string]string
}

// CaptureHandle is an acquired local audio device. Level reports the most
// recent amplitude sample; Release must be called on every exit path.
type CaptureHandle interface {
	Level() float64
	Release()
}

// CaptureDevice acquires the local microphone for one call attempt.
type CaptureDevice interface {
	Acquire(ctx context.Context) (CaptureHandle, error)
}

// Limiter caps live sessions per user across processes.
type Limiter interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// TranscriptSink receives the committed transcript log as one opaque write
// when a session reaches a terminal state.
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, sessionID string, entries []transcript.Entry) error
}

// Deps are the coordinator's injected collaborators. NewTransport must
// return a fresh transport per call; transports are never reused across
// sessions.
type Deps struct {
	Credentials  CredentialProvider
	NewTransport func() Transport
	Capture      CaptureDevice
	Limiter      Limiter
	Sink         TranscriptSink
	Log          *slog.Logger

	// RequestTimeout bounds the Requesting state: a session that has not
	// reached Active within it transitions to Error.
	RequestTimeout time.Duration
}

// Coordinator owns the call-session state machine. It is the only component
// that mutates session state; everything else observes snapshots.
//
// Transitions:
//
//	Idle/Ended/Error -> Requesting  (Start; config must be complete)
//	Requesting       -> Active     (transport started event)
//	Requesting       -> Error      (credential/connect failure, timeout)
//	Active           -> Ended      (Stop or transport ended event)
//	Active           -> Error      (fatal transport error)
//
// Starting while Requesting or Active is rejected; a new session only begins
// after the previous transport's disconnect has completed, so two transports
// never feed one reconciler.
type Coordinator struct {
	deps Deps

	mu      sync.Mutex
	state   State
	lastErr error
	sess    *liveSession
}

type liveSession struct {
	id        string
	userID    string
	cfg       Config
	transport Transport
	rec       *transcript.Reconciler
	capture   CaptureHandle
	limited   bool

	teardown sync.Once
	done     chan struct{}
}

func NewCoordinator(deps Deps) *Coordinator {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 20 * time.Second
	}
	return &Coordinator{deps: deps, state: StateIdle}
}

// Start begins a new call session attempt and returns its platform-assigned
// id. Credential acquisition and the channel connect are the only awaiting
// steps; on return the session is Requesting (or already Active if the
// started event beat us).
func (c *Coordinator) Start(ctx context.Context, userID string, cfg Config) (string, error) {
	switch {
	case cfg.AgentID == "":
		return "", &ConfigurationError{Field: "agent_id"}
	case cfg.VoiceID == "":
		return "", &ConfigurationError{Field: "voice_id"}
	case cfg.Language == "":
		return "", &ConfigurationError{Field: "language"}
	}

	sess := &liveSession{
		userID: userID,
		cfg:    cfg,
		rec:    transcript.NewReconciler(c.deps.Log),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.state == StateRequesting || c.state == StateActive {
		c.mu.Unlock()
		return "", ErrSessionBusy
	}
	c.state = StateRequesting
	c.lastErr = nil
	c.sess = sess
	c.mu.Unlock()

	if c.deps.Limiter != nil {
		ok, err := c.deps.Limiter.Acquire(ctx, userID)
		if err != nil {
			return "", c.failStart(sess, fmt.Errorf("session: limiter: %w", err))
		}
		if !ok {
			return "", c.failStart(sess, ErrSessionBusy)
		}
		sess.limited = true
	}

	if c.deps.Capture != nil {
		handle, err := c.deps.Capture.Acquire(ctx)
		if err != nil {
			return "", c.failStart(sess, fmt.Errorf("session: audio capture: %w", err))
		}
		sess.capture = handle
	}

	cred, err := c.deps.Credentials.CreateSession(ctx, cfg.AgentID, cfg.Metadata)
	if err != nil {
		return "", c.failStart(sess, err)
	}
	sess.id = cred.SessionID

	transport := c.deps.NewTransport()
	sess.transport = transport
	if err := transport.Connect(ctx, cred.AccessToken); err != nil {
		return "", c.failStart(sess, err)
	}

	// Announce the agent configuration on the fresh channel. Not fatal on
	// failure: the platform falls back to the agent's stored defaults.
	if err := c.announce(ctx, sess); err != nil {
		c.deps.Log.Warn("session config announce failed", "session_id", sess.id, "err", err)
	}

	go c.run(sess)

	return sess.id, nil
}

func (c *Coordinator) announce(ctx context.Context, sess *liveSession) error {
	payload, err := json.Marshal(map[string]any{
		"type":     "session_config",
		"voice_id": sess.cfg.VoiceID,
		"language": sess.cfg.Language,
		"metadata": sess.cfg.Metadata,
	})
	if err != nil {
		return err
	}
	return sess.transport.Send(ctx, payload)
}

// Stop ends the active session: disconnect, flush, persist, Ended. A no-op
// when nothing is requesting or active.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	running := c.state == StateRequesting || c.state == StateActive
	c.mu.Unlock()

	if sess == nil || !running {
		return nil
	}
	c.finish(sess, StateEnded, nil)
	return nil
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the session to StateError, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID returns the current (or most recent) session's id.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Transcript returns the committed log of the current or most recent
// session. Partial transcripts collected before an error are preserved.
func (c *Coordinator) Transcript() []transcript.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.rec.Entries()
}

// CurrentTurn returns the in-progress utterance, if any.
func (c *Coordinator) CurrentTurn() (transcript.Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return transcript.Turn{}, false
	}
	return c.sess.rec.Current()
}

// CaptureLevel returns the latest microphone amplitude sample, 0 when no
// capture is held.
func (c *Coordinator) CaptureLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.capture == nil {
		return 0
	}
	return c.sess.capture.Level()
}

func (c *Coordinator) run(sess *liveSession) {
	timer := time.NewTimer(c.deps.RequestTimeout)
	defer timer.Stop()

	for {
		select {
		case <-sess.done:
			return

		case ev, ok := <-sess.transport.Events():
			if !ok {
				c.finish(sess, StateEnded, nil)
				return
			}
			switch ev.Kind {
			case EventStarted:
				c.mu.Lock()
				if c.sess == sess && c.state == StateRequesting {
					c.state = StateActive
				}
				c.mu.Unlock()
			case EventFrame:
				c.fold(sess, ev.Frame)
			case EventEnded:
				c.finish(sess, StateEnded, nil)
				return
			case EventError:
				c.finish(sess, StateError, fmt.Errorf("%w: %v", ErrConnectionLost, ev.Err))
				return
			}

		case <-timer.C:
			c.mu.Lock()
			stillRequesting := c.sess == sess && c.state == StateRequesting
			c.mu.Unlock()
			if stillRequesting {
				c.finish(sess, StateError, &ConnectionError{
					Message: fmt.Sprintf("no session start within %s", c.deps.RequestTimeout),
				})
				return
			}
		}
	}
}

// fold applies one frame to the session's reconciler. Synchronous: no
// suspension points between taking the lock and finishing the update, so
// two frames can never interleave into a corrupt intermediate state.
func (c *Coordinator) fold(sess *liveSession, frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	switch f := frame.(type) {
	case TranscriptFrame:
		sess.rec.ApplyFragment(transcript.Fragment{
			Speaker: SpeakerForRole(f.Role),
			Text:    f.Content,
		})
	case ResponseFrame:
		sess.rec.ApplyResponse(f.Content)
	case ErrorFrame:
		// In-band platform error; logged and skipped. Fatal errors arrive
		// as EventError and are decided by the run loop.
		c.deps.Log.Warn("platform reported in-band error", "session_id", sess.id, "message", f.Message)
	}
}

// failStart releases whatever the aborted start had acquired and records the
// error. The transport, if it ever connected, is torn down before the state
// becomes terminal so a retry cannot race it.
func (c *Coordinator) failStart(sess *liveSession, err error) error {
	c.finish(sess, StateError, err)
	return err
}

// finish runs exactly once per session: flush the reconciler, hand the
// transcript to the sink, tear the transport down, release the microphone
// and the per-user slot, then record the terminal state.
func (c *Coordinator) finish(sess *liveSession, final State, cause error) {
	sess.teardown.Do(func() {
		close(sess.done)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		c.mu.Lock()
		sess.rec.Flush()
		entries := sess.rec.Entries()
		c.mu.Unlock()

		if c.deps.Sink != nil && sess.id != "" && len(entries) > 0 {
			if err := c.deps.Sink.SaveTranscript(ctx, sess.id, entries); err != nil {
				c.deps.Log.Error("transcript save failed", "session_id", sess.id, "err", err)
			}
		}

		if sess.transport != nil {
			if err := sess.transport.Disconnect(ctx); err != nil {
				c.deps.Log.Warn("transport disconnect failed", "session_id", sess.id, "err", err)
			}
		}

		if sess.capture != nil {
			sess.capture.Release()
		}
		if sess.limited && c.deps.Limiter != nil {
			if err := c.deps.Limiter.Release(ctx, sess.userID); err != nil {
				c.deps.Log.Warn("session limiter release failed", "user_id", sess.userID, "err", err)
			}
		}

		c.mu.Lock()
		if c.sess == sess {
			c.state = final
			c.lastErr = cause
		}
		c.mu.Unlock()

		if cause != nil {
			c.deps.Log.Error("session ended with error", "session_id", sess.id, "err", cause)
		} else {
			c.deps.Log.Info("session ended", "session_id", sess.id, "entries", len(entries))
		}
	})
}
