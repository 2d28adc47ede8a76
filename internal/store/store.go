// Package store persists call session artifacts: transcript logs handed
// over at session end, call records, and the append-only call event log fed
// by the vendor webhook.
//
// NOTE: This store assumes the following tables exist:
// - call_transcripts (session_id, entry_id UNIQUE, speaker, content, committed_at, position)
// - calls            (call_id PRIMARY KEY)
// - call_events      (event_id PRIMARY KEY, immutable append-only)
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voicebridge/internal/transcript"
	"voicebridge/internal/webhook"
	"voicebridge/pkg/utils"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db    *sql.DB
	clock func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// SaveTranscript writes a session's committed log in one transaction. The
// write is idempotent per entry: a session flushed twice (error path plus
// explicit stop) does not duplicate rows.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, entries []transcript.Entry) error {
	if sessionID == "" {
		return errors.New("store: session id is required")
	}
	if len(entries) == 0 {
		return nil
	}

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_transcripts (session_id, entry_id, speaker, content, committed_at, position)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (entry_id) DO NOTHING
`
		for i, e := range entries {
			if _, err := tx.ExecContext(ctx, q, sessionID, e.ID, string(e.Speaker), e.Content, e.CommittedAt, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadTranscript returns a session's persisted log in commit order.
func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	const q = `
SELECT entry_id, speaker, content, committed_at
FROM call_transcripts
WHERE session_id = $1
ORDER BY position
`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transcript.Entry
	for rows.Next() {
		var e transcript.Entry
		var speaker string
		if err := rows.Scan(&e.ID, &speaker, &e.Content, &e.CommittedAt); err != nil {
			return nil, err
		}
		e.Speaker = transcript.Speaker(speaker)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordCallEvent appends one webhook delivery and updates the call row it
// refers to. Event inserts are keyed on a locally generated id, but the
// call upsert is keyed on the vendor call id, so at-least-once delivery
// converges rather than duplicating call rows.
func (s *Store) RecordCallEvent(ctx context.Context, ev webhook.InboundEvent) error {
	now := s.clock().UTC()
	eventID := uuid.NewString()

	payload, err := json.Marshal(ev.Call)
	if err != nil {
		return err
	}

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const insertEvent = `
INSERT INTO call_events (event_id, call_id, event_type, payload, received_at)
VALUES ($1, $2, $3, $4, $5)
`
		if _, err := tx.ExecContext(ctx, insertEvent, eventID, ev.Call.CallID, ev.Event, payload, now); err != nil {
			return err
		}

		const upsertCall = `
INSERT INTO calls (call_id, agent_id, from_number, to_number, status, duration_seconds, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (call_id) DO UPDATE SET
  status = EXCLUDED.status,
  duration_seconds = EXCLUDED.duration_seconds,
  updated_at = EXCLUDED.updated_at
`
		_, err := tx.ExecContext(ctx, upsertCall,
			ev.Call.CallID, ev.Call.AgentID, ev.Call.From, ev.Call.To,
			ev.Call.Status, ev.Call.DurationSeconds, now)
		return err
	})
}
