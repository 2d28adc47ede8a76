package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"voicebridge/internal/transcript"
)

// Frame is the decoded shape of one inbound channel message. The wire format
// is a loose JSON object; decoding maps it onto this tagged union so the
// session run loop can branch exhaustively.
type Frame interface {
	isFrame()
}

// TranscriptFrame carries the most recent utterance from the platform's
// cumulative transcript update.
type TranscriptFrame struct {
	Role    string
	Content string
}

// ResponseFrame carries an agent final-response event, distinct from live
// transcription.
type ResponseFrame struct {
	Content string
}

// ErrorFrame carries an in-band error message from the platform.
type ErrorFrame struct {
	Message string
}

func (TranscriptFrame) isFrame() {}
func (ResponseFrame) isFrame()   {}
func (ErrorFrame) isFrame()      {}

var ErrUnknownFrame = errors.New("session: unknown frame shape")

type wireTranscriptItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireFrame struct {
	Transcript []wireTranscriptItem `json:"transcript"`
	Response   json.RawMessage      `json:"response"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeFrame parses one inbound wire message.
//
// The platform sends the whole transcript array on every update; only the
// last element is authoritative for the current turn. Taking it is a named,
// deliberate step here — a protocol quirk, not an array-index accident.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("session: frame decode: %w", err)
	}

	switch {
	case len(w.Transcript) > 0:
		return takeLatestUtterance(w.Transcript), nil
	case len(w.Response) > 0:
		content, err := decodeResponseContent(w.Response)
		if err != nil {
			return nil, err
		}
		return ResponseFrame{Content: content}, nil
	case w.Error != nil:
		return ErrorFrame{Message: w.Error.Message}, nil
	default:
		return nil, ErrUnknownFrame
	}
}

// takeLatestUtterance selects the last element of a cumulative transcript
// array, which is the only entry that may have changed since the previous
// update.
func takeLatestUtterance(items []wireTranscriptItem) TranscriptFrame {
	last := items[len(items)-1]
	return TranscriptFrame{Role: last.Role, Content: last.Content}
}

// decodeResponseContent accepts both wire forms of the response event:
// a bare string, or an object carrying "content" or "text".
func decodeResponseContent(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Content string `json:"content"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("session: response decode: %w", err)
	}
	if obj.Content != "" {
		return obj.Content, nil
	}
	return obj.Text, nil
}

// SpeakerForRole maps the platform's role tag onto a transcript speaker.
// The platform tags agent speech "agent"; anything else is the human side.
func SpeakerForRole(role string) transcript.Speaker {
	if role == "agent" {
		return transcript.SpeakerAgent
	}
	return transcript.SpeakerCounterparty
}
