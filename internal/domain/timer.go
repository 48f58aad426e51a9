package domain

import "time"

// TimerStatus is the state of the per-question countdown.
type TimerStatus string

const (
	TimerStopped TimerStatus = "stopped"
	TimerRunning TimerStatus = "running"
	TimerPaused  TimerStatus = "paused"
)

// UnknownQuestionUID is the sentinel used when a timer payload arrives without
// a question reference and must still be broadcast well-formed.
const UnknownQuestionUID = "unknown"

// TimerState is the canonical timer representation for the current question.
// EndDateMs is the absolute epoch-ms instant a running timer reaches zero;
// RemainingMs is meaningful only while paused, where it holds the frozen value
// captured at the pause instant.
type TimerState struct {
	Status      TimerStatus `json:"status"`
	QuestionUID string      `json:"questionUid"`
	EndDateMs   int64       `json:"endDateTimestamp"`
	RemainingMs int64       `json:"remainingMs,omitempty"`
}

// RemainingAt computes the remaining whole milliseconds at the given instant.
// Never negative. Callers must not read it for a stopped timer.
func (t TimerState) RemainingAt(now time.Time) int64 {
	switch t.Status {
	case TimerPaused:
		if t.RemainingMs < 0 {
			return 0
		}
		return t.RemainingMs
	case TimerRunning:
		remaining := t.EndDateMs - now.UnixMilli()
		if remaining < 0 {
			return 0
		}
		return remaining
	default:
		return 0
	}
}

// ValidStatus reports whether s is one of the three canonical timer states.
func ValidStatus(s TimerStatus) bool {
	return s == TimerStopped || s == TimerRunning || s == TimerPaused
}
