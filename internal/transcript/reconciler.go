package transcript

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies which side of the call produced a piece of speech.
type Speaker string

const (
	SpeakerAgent        Speaker = "agent"
	SpeakerCounterparty Speaker = "counterparty"
)

// Fragment is one partial speech-to-text update for an ongoing turn.
// The upstream platform sends cumulative text, not deltas: a later fragment
// for the same turn replaces the earlier one wholesale.
type Fragment struct {
	Speaker Speaker
	Text    string
	IsFinal bool
}

// Entry is one committed line of the conversation log.
//
// Invariants:
// - IDs are locally generated; the platform does not supply them.
// - CommittedAt is the time of turn finalization, not of fragment arrival.
// - Entries are never mutated after commit; the log only grows.
type Entry struct {
	ID          string    `json:"id"`
	Speaker     Speaker   `json:"speaker"`
	Content     string    `json:"content"`
	CommittedAt time.Time `json:"committed_at"`
}

// Turn is the in-progress utterance for one speaker. At most one exists at a
// time; a fragment from the other speaker finalizes it.
type Turn struct {
	Speaker Speaker
	Content string
}

// Reconciler folds an unordered, overlapping fragment stream into an
// append-only entry log plus a single live turn.
//
// All methods are synchronous folds with no suspension points; the caller
// (the session run loop) must apply events in wire arrival order.
type Reconciler struct {
	entries []Entry
	turn    *Turn

	clock func() time.Time
	log   *slog.Logger
}

func NewReconciler(log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		clock: time.Now,
		log:   log,
	}
}

// ApplyFragment folds one fragment into the reconciler state.
//
// Rules (in order):
// - Empty or whitespace-only text is ignored outright: no commit, no turn
//   change. Rapid speaker switches with no content never emit empty entries.
// - Same speaker as the live turn: the fragment text replaces the turn
//   content, except that content length never regresses within a turn. A
//   shorter fragment for the same turn is a late out-of-order delivery and
//   is dropped in favor of the longer text already held.
// - Different speaker: the live turn is committed first, then a new turn
//   starts with this fragment.
func (r *Reconciler) ApplyFragment(f Fragment) {
	if strings.TrimSpace(f.Text) == "" {
		return
	}

	if r.turn != nil && r.turn.Speaker != f.Speaker {
		r.commitTurn()
	}

	if r.turn == nil {
		// Content regression across a commit boundary: a fragment that is a
		// prefix of the turn just committed for the same speaker is a stale
		// redelivery, not a new turn. Upstream violated its cumulative
		// contract; keep the larger committed text and drop the fragment.
		if n := len(r.entries); n > 0 {
			last := r.entries[n-1]
			if last.Speaker == f.Speaker && len(f.Text) <= len(last.Content) && strings.HasPrefix(last.Content, f.Text) {
				r.log.Warn("transcript content regressed across commit boundary",
					"speaker", f.Speaker, "committed_len", len(last.Content), "fragment_len", len(f.Text))
				return
			}
		}
		r.turn = &Turn{Speaker: f.Speaker, Content: f.Text}
		return
	}

	// Cumulative overwrite; keep the longer content on out-of-order delivery.
	if len(f.Text) >= len(r.turn.Content) {
		r.turn.Content = f.Text
	}
}

// ApplyResponse handles an agent final-response event, which arrives on a
// separate channel from live transcription. Any pending turn is committed
// first, then the response is appended as an agent entry.
func (r *Reconciler) ApplyResponse(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	r.commitTurn()
	r.append(SpeakerAgent, content)
}

// Flush handles session end: a non-empty pending turn is committed as the
// final entry. Safe to call multiple times.
func (r *Reconciler) Flush() {
	r.commitTurn()
}

// Entries returns a copy of the committed log.
func (r *Reconciler) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Current returns the live turn, if any.
func (r *Reconciler) Current() (Turn, bool) {
	if r.turn == nil {
		return Turn{}, false
	}
	return *r.turn, true
}

func (r *Reconciler) commitTurn() {
	if r.turn == nil {
		return
	}
	t := *r.turn
	r.turn = nil
	if strings.TrimSpace(t.Content) == "" {
		return
	}
	r.append(t.Speaker, t.Content)
}

func (r *Reconciler) append(speaker Speaker, content string) {
	r.entries = append(r.entries, Entry{
		ID:          uuid.NewString(),
		Speaker:     speaker,
		Content:     content,
		CommittedAt: r.clock().UTC(),
	})
}
