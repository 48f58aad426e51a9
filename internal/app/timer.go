package app

import (
	"time"

	"quizflow-service/internal/domain"
)

// TimerService computes, records and restores per-question countdown state.
// All values are whole milliseconds; a timer is reconstructible from its
// persisted fields after a process restart.
type TimerService struct {
	clock Clock
}

func NewTimerService(clock Clock) *TimerService {
	return &TimerService{clock: clock}
}

// Start returns a running timer ending duration from now.
func (s *TimerService) Start(questionUID string, duration time.Duration) domain.TimerState {
	return domain.TimerState{
		Status:      domain.TimerRunning,
		QuestionUID: questionUID,
		EndDateMs:   s.clock.Now().Add(duration).UnixMilli(),
	}
}

// Pause freezes the remaining time at the pause instant. The frozen value is
// stored, not recomputed later, since now keeps advancing.
func (s *TimerService) Pause(t domain.TimerState) domain.TimerState {
	if t.Status != domain.TimerRunning {
		return t
	}
	t.RemainingMs = t.RemainingAt(s.clock.Now())
	t.Status = domain.TimerPaused
	return t
}

// Resume restarts a paused timer with exactly the frozen remaining time.
func (s *TimerService) Resume(t domain.TimerState) domain.TimerState {
	if t.Status != domain.TimerPaused {
		return t
	}
	t.EndDateMs = s.clock.Now().UnixMilli() + t.RemainingMs
	t.RemainingMs = 0
	t.Status = domain.TimerRunning
	return t
}

// Stop ends the timer. Remaining time of a stopped timer is undefined.
func (s *TimerService) Stop(t domain.TimerState) domain.TimerState {
	t.Status = domain.TimerStopped
	t.RemainingMs = 0
	return t
}

// Canonicalize coerces a partially-formed or externally-supplied timer into a
// broadcastable shape: invalid status defaults to running, an empty question
// UID gets the sentinel, and negative remaining time clamps to zero. Timer
// payloads cross process boundaries and must never go out malformed.
func (s *TimerService) Canonicalize(raw domain.TimerState) domain.TimerState {
	if !domain.ValidStatus(raw.Status) {
		raw.Status = domain.TimerRunning
	}
	if raw.QuestionUID == "" {
		raw.QuestionUID = domain.UnknownQuestionUID
	}
	if raw.RemainingMs < 0 {
		raw.RemainingMs = 0
	}
	return raw
}
