package session

import (
	"context"
	"errors"
	"fmt"
)

// EventKind discriminates transport lifecycle and data events.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventFrame   EventKind = "frame"
	EventEnded   EventKind = "ended"
	EventError   EventKind = "error"
)

// Event is one transport occurrence. Frame is set for EventFrame, Err for
// EventError.
type Event struct {
	Kind  EventKind
	Frame Frame
	Err   error
}

// Transport owns exactly one bidirectional channel per active call attempt.
//
// Contract:
// - Connect while already connected tears the previous channel down first;
//   naive reuse would deliver duplicate events.
// - Disconnect is idempotent and a no-op when never connected.
// - Events are delivered in wire arrival order, never reordered.
// - Transport errors are surfaced as EventError; the transport does not
//   decide whether they are fatal. That belongs to the coordinator.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	Send(ctx context.Context, payload []byte) error
	Events() <-chan Event
	Disconnect(ctx context.Context) error
}

// ConnectionError reports a failed credential acquisition or channel
// connect. Status carries the remote HTTP status when one exists.
type ConnectionError struct {
	Status  int
	Message string
}

func (e *ConnectionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("session: connection failed (status %d): %s", e.Status, e.Message)
	}
	return "session: connection failed: " + e.Message
}

// ConfigurationError reports a missing session parameter before start.
// Caller-correctable; never retried automatically.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return "session: missing configuration: " + e.Field
}

var (
	// ErrSessionBusy rejects a start while a session is requesting or
	// active. Sessions are never silently layered.
	ErrSessionBusy = errors.New("session: a session is already requesting or active")

	// ErrConnectionLost marks a channel dropped mid-session.
	ErrConnectionLost = errors.New("session: connection lost")
)
