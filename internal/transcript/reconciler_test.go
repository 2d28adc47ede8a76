package transcript

import (
	"testing"
	"time"
)

func newTestReconciler() *Reconciler {
	r := NewReconciler(nil)
	base := time.Unix(1700000000, 0).UTC()
	n := 0
	r.clock = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return r
}

func TestSpeakerSwitchCommitsPreviousTurn(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hi"})
	if got := r.Entries(); len(got) != 0 {
		t.Fatalf("expected empty log, got %d entries", len(got))
	}
	turn, ok := r.Current()
	if !ok || turn.Speaker != SpeakerAgent || turn.Content != "Hi" {
		t.Fatalf("unexpected turn: %+v ok=%v", turn, ok)
	}

	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: "Hello there"})
	got := r.Entries()
	if len(got) != 1 {
		t.Fatalf("expected 1 committed entry, got %d", len(got))
	}
	if got[0].Speaker != SpeakerAgent || got[0].Content != "Hi" {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
	if got[0].ID == "" || got[0].CommittedAt.IsZero() {
		t.Fatalf("entry missing id or commit time: %+v", got[0])
	}
	turn, ok = r.Current()
	if !ok || turn.Speaker != SpeakerCounterparty || turn.Content != "Hello there" {
		t.Fatalf("unexpected turn after switch: %+v", turn)
	}
}

func TestCumulativeOverwriteWithinTurn(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hel"})
	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hello wor"})
	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hello world"})

	turn, _ := r.Current()
	if turn.Content != "Hello world" {
		t.Fatalf("expected cumulative overwrite, got %q", turn.Content)
	}
	if len(r.Entries()) != 0 {
		t.Fatalf("no commit expected within a turn")
	}
}

func TestLengthNeverRegressesWithinTurn(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hello wor"})
	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hello"})

	turn, _ := r.Current()
	if turn.Content != "Hello wor" {
		t.Fatalf("expected longer content kept, got %q", turn.Content)
	}
}

func TestAppendOnlyLog(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "one"})
	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: "two"})
	first := r.Entries()

	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "three"})
	r.ApplyResponse("four")
	r.Flush()

	second := r.Entries()
	if len(second) < len(first) {
		t.Fatalf("log shrank: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if second[i].ID != first[i].ID || second[i].Content != first[i].Content {
			t.Fatalf("committed entry mutated at %d: %+v vs %+v", i, first[i], second[i])
		}
	}

	// Mutating the returned slice must not touch the log.
	second[0].Content = "mutated"
	if r.Entries()[0].Content == "mutated" {
		t.Fatalf("Entries must return a copy")
	}
}

func TestIdempotentFinalFragment(t *testing.T) {
	r := newTestReconciler()

	final := Fragment{Speaker: SpeakerAgent, Text: "Hi", IsFinal: true}
	r.ApplyFragment(final)
	r.ApplyFragment(final)
	if len(r.Entries()) != 0 {
		t.Fatalf("repeat of an uncommitted fragment must not commit")
	}

	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: "Yo"})
	if len(r.Entries()) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(r.Entries()))
	}

	// Stale redelivery of the already-committed final fragment: log length
	// unaffected and no new turn is opened for it.
	r.Flush()
	before := len(r.Entries())
	r.ApplyFragment(final)
	if len(r.Entries()) != before {
		t.Fatalf("stale final redelivery changed the log: %d -> %d", before, len(r.Entries()))
	}
	if _, ok := r.Current(); ok {
		t.Fatalf("stale final redelivery must not open a turn")
	}
}

func TestResponseCommitsPendingTurnFirst(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: "question"})
	r.ApplyResponse("answer")

	got := r.Entries()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Speaker != SpeakerCounterparty || got[0].Content != "question" {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].Speaker != SpeakerAgent || got[1].Content != "answer" {
		t.Fatalf("unexpected response entry: %+v", got[1])
	}
	if _, ok := r.Current(); ok {
		t.Fatalf("turn must be cleared after response")
	}
}

func TestFlushCommitsPendingTurn(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: "bye"})
	r.Flush()

	got := r.Entries()
	if len(got) != 1 || got[0].Speaker != SpeakerCounterparty || got[0].Content != "bye" {
		t.Fatalf("unexpected log after flush: %+v", got)
	}
	if _, ok := r.Current(); ok {
		t.Fatalf("turn must be empty after flush")
	}

	// Flush is idempotent.
	r.Flush()
	if len(r.Entries()) != 1 {
		t.Fatalf("second flush changed the log")
	}
}

func TestEmptyAndWhitespaceFragmentsIgnored(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hi"})
	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: ""})
	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: "   "})

	// Neither empty fragment commits the agent turn or opens a new one.
	if len(r.Entries()) != 0 {
		t.Fatalf("empty fragments must not commit, got %d entries", len(r.Entries()))
	}
	turn, ok := r.Current()
	if !ok || turn.Speaker != SpeakerAgent || turn.Content != "Hi" {
		t.Fatalf("turn disturbed by empty fragments: %+v", turn)
	}

	// Two rapid speaker switches with no content: no empty entries emitted.
	r2 := newTestReconciler()
	r2.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: " "})
	r2.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: ""})
	r2.Flush()
	if len(r2.Entries()) != 0 {
		t.Fatalf("whitespace-only turns must never commit: %+v", r2.Entries())
	}

	r.ApplyResponse("  ")
	if len(r.Entries()) != 0 {
		t.Fatalf("blank response must be ignored")
	}
}

func TestConversationEndToEnd(t *testing.T) {
	r := newTestReconciler()

	r.ApplyFragment(Fragment{Speaker: SpeakerAgent, Text: "Hello"})
	r.ApplyFragment(Fragment{Speaker: SpeakerCounterparty, Text: "Hi there"})
	r.Flush()

	got := r.Entries()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Speaker != SpeakerAgent || got[0].Content != "Hello" {
		t.Fatalf("unexpected entry 0: %+v", got[0])
	}
	if got[1].Speaker != SpeakerCounterparty || got[1].Content != "Hi there" {
		t.Fatalf("unexpected entry 1: %+v", got[1])
	}
	if !got[1].CommittedAt.After(got[0].CommittedAt) {
		t.Fatalf("commit times not ordered: %v %v", got[0].CommittedAt, got[1].CommittedAt)
	}
}
