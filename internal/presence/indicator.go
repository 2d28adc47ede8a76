// Package presence projects reconciler output into a lightweight
// "who is speaking now" signal for presentation layers.
package presence

import "voicebridge/internal/transcript"

// Signal is the presentation-facing speaking indicator. Level is always
// within [0,1].
type Signal struct {
	Speaking transcript.Speaker `json:"speaking,omitempty"`
	Level    float64            `json:"level"`
}

// Project derives the signal from the live turn (nil when nobody is mid-
// utterance) and the latest microphone amplitude sample. Pure: no state is
// kept between calls, and out-of-range amplitudes are clamped rather than
// rejected.
func Project(turn *transcript.Turn, level float64) Signal {
	s := Signal{Level: clamp(level)}
	if turn != nil {
		s.Speaking = turn.Speaker
	}
	return s
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
