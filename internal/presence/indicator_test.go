package presence

import (
	"testing"

	"voicebridge/internal/transcript"
)

func TestProjectSpeaker(t *testing.T) {
	sig := Project(&transcript.Turn{Speaker: transcript.SpeakerAgent, Content: "hi"}, 0.4)
	if sig.Speaking != transcript.SpeakerAgent || sig.Level != 0.4 {
		t.Fatalf("unexpected signal: %+v", sig)
	}

	sig = Project(nil, 0.2)
	if sig.Speaking != "" {
		t.Fatalf("expected no speaker, got %q", sig.Speaking)
	}
}

func TestProjectClampsLevel(t *testing.T) {
	if got := Project(nil, -0.5).Level; got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
	if got := Project(nil, 3.2).Level; got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := Project(nil, 0.7).Level; got != 0.7 {
		t.Fatalf("in-range level changed: %v", got)
	}
}
