package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TransportConfig controls websocket channel behavior.
// Defaults are applied per field; zero values are safe.
type TransportConfig struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	EventBuffer  int
}

func (c TransportConfig) withDefaults() TransportConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 20 * time.Second
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 64
	}
	return out
}

// WebsocketTransport is the production Transport over a gorilla websocket.
//
// A single read pump goroutine decodes inbound messages and forwards them on
// the events channel, which preserves wire arrival order. Writes (outbound
// frames and pings) are serialized with a write mutex; gorilla connections
// support at most one concurrent writer.
type WebsocketTransport struct {
	cfg TransportConfig
	log *slog.Logger

	events chan Event

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
}

func NewWebsocketTransport(cfg TransportConfig, log *slog.Logger) *WebsocketTransport {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &WebsocketTransport{
		cfg:    cfg,
		log:    log,
		events: make(chan Event, cfg.EventBuffer),
	}
}

func (t *WebsocketTransport) Events() <-chan Event { return t.events }

// Connect dials the channel, authenticating with the short-lived credential.
// An already-open channel is torn down first so two sockets never feed the
// same events stream.
func (t *WebsocketTransport) Connect(ctx context.Context, credential string) error {
	if err := t.Disconnect(ctx); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, t.cfg.URL, header)
	if err != nil {
		ce := &ConnectionError{Message: err.Error()}
		if resp != nil {
			ce.Status = resp.StatusCode
		}
		return ce
	}

	t.mu.Lock()
	t.conn = conn
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	t.events <- Event{Kind: EventStarted}

	go t.readPump(conn, done)
	go t.pingLoop(conn, done)

	return nil
}

func (t *WebsocketTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Message: "not connected"}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Disconnect closes the channel if one is open. Safe to call repeatedly and
// when never connected.
func (t *WebsocketTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	t.writeMu.Unlock()
	_ = conn.Close()

	// Wait for the read pump to drain so a subsequent Connect cannot race
	// the old socket's events.
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *WebsocketTransport) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.isCurrent(conn) {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.events <- Event{Kind: EventEnded}
				} else {
					t.events <- Event{Kind: EventError, Err: err}
				}
			}
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			// One malformed frame does not abort the session.
			t.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		t.events <- Event{Kind: EventFrame, Frame: frame}
	}
}

func (t *WebsocketTransport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, deadline)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// isCurrent reports whether conn is still the transport's live channel. A
// socket closed by Disconnect must not emit ended/error events for the
// session that replaced it.
func (t *WebsocketTransport) isCurrent(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn == conn
}
