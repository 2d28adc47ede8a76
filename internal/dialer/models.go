package dialer

import "time"

// Status is the local lifecycle of an operator-initiated call.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusStarted Status = "started"
	StatusEnded   Status = "ended"
)

// Record tracks one outbound phone-network call. DurationSeconds is ticked
// locally while the call is started; the remote platform's own view is
// available via PollStatus.
type Record struct {
	CallID          string    `json:"call_id"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Status          Status    `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// StatusSnapshot is the remote platform's view of a call, used by list and
// detail views via polling.
type StatusSnapshot struct {
	CallID          string `json:"call_id"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
	Direction       string `json:"direction,omitempty"`
}

// Number is one entry of the telephony numbers registry.
type Number struct {
	Number string `json:"number"`
	Label  string `json:"label,omitempty"`
}

// Summary aggregates outbound call records for the overview view.
type Summary struct {
	TotalCalls           int `json:"total_calls"`
	ActiveCalls          int `json:"active_calls"`
	EndedCalls           int `json:"ended_calls"`
	TotalDurationSeconds int `json:"total_duration_seconds"`
	AverageDuration      int `json:"average_duration_seconds"`
}

// Summarize folds records into totals.
func Summarize(records []Record) Summary {
	var out Summary
	for _, r := range records {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		switch r.Status {
		case StatusStarted:
			out.ActiveCalls++
		case StatusEnded:
			out.EndedCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDuration = out.TotalDurationSeconds / out.TotalCalls
	}
	return out
}
