package domain

import "fmt"

// Logical event channel names. Clients switch on these.
const (
	EventQuestionStart     = "question_start"
	EventTimerUpdate       = "timer_update"
	EventTimerStatus       = "timer_status" // second logical channel, same canonical payload
	EventAnswersReveal     = "answers_reveal"
	EventFeedback          = "feedback"
	EventSessionEnded      = "session_ended"
	EventCountdownTick     = "countdown_tick"
	EventCountdownComplete = "countdown_complete"
	EventRedirect          = "redirect"
	EventAnswerReceived    = "answer_received"
	EventParticipants      = "participants_update"
	EventLeaderboard       = "leaderboard"
	EventDashboardState    = "dashboard_state"
	EventError             = "error"
)

// Room naming. Every room is namespaced by access code.
func LiveRoom(accessCode string) string       { return "live_" + accessCode }
func ProjectionRoom(accessCode string) string { return "projection_" + accessCode }
func LobbyRoom(accessCode string) string      { return "lobby_" + accessCode }
func DashboardRoom(accessCode string) string  { return "dashboard_" + accessCode }

// SocketRoom is the per-connection delivery room used for directed sends.
func SocketRoom(socketID string) string { return "socket_" + socketID }

// QuestionStartPayload announces a question to players and displays.
type QuestionStartPayload struct {
	Question            FilteredQuestion `json:"question"`
	QuestionIndex       int              `json:"questionIndex"`
	TotalQuestions      int              `json:"totalQuestions"`
	FeedbackWaitSeconds int              `json:"feedbackWaitSeconds"`
	Timer               TimerState       `json:"timer"`
	// PreviousAnswer carries the participant's prior submission on the
	// per-user delivery only, so a reconnecting client can prefill.
	PreviousAnswer *Answer `json:"previousAnswer,omitempty"`
}

// TimerUpdatePayload is the canonical timer broadcast.
type TimerUpdatePayload struct {
	Timer          TimerState `json:"timer"`
	QuestionUID    string     `json:"questionUid"`
	QuestionIndex  int        `json:"questionIndex"`
	TotalQuestions int        `json:"totalQuestions"`
	AnswersLocked  bool       `json:"answersLocked"`
}

// DashboardTimerPayload mirrors the timer into the teacher control surface.
// It crosses a process boundary and is validated before every send; a payload
// that fails validation is dropped, never patched.
type DashboardTimerPayload struct {
	Status         TimerStatus `json:"status"`
	QuestionUID    string      `json:"questionUid"`
	RemainingMs    int64       `json:"remainingMs"`
	QuestionIndex  int         `json:"questionIndex"`
	TotalQuestions int         `json:"totalQuestions"`
	AnswersLocked  bool        `json:"answersLocked"`
}

// Validate enforces the dashboard wire schema.
func (p DashboardTimerPayload) Validate() error {
	if !ValidStatus(p.Status) {
		return fmt.Errorf("%w: bad timer status %q", ErrValidation, p.Status)
	}
	if p.QuestionUID == "" {
		return fmt.Errorf("%w: empty question uid", ErrValidation)
	}
	if p.RemainingMs < 0 {
		return fmt.Errorf("%w: negative remaining %d", ErrValidation, p.RemainingMs)
	}
	if p.TotalQuestions <= 0 || p.QuestionIndex < 0 || p.QuestionIndex >= p.TotalQuestions {
		return fmt.Errorf("%w: index %d out of range of %d", ErrValidation, p.QuestionIndex, p.TotalQuestions)
	}
	return nil
}

// AnswersRevealPayload carries full correctness data. This is the only event
// where correct answers leave the server.
type AnswersRevealPayload struct {
	QuestionUID      string   `json:"questionUid"`
	CorrectOptionIDs []string `json:"correctOptionIds,omitempty"`
	NumericAnswer    *float64 `json:"numericAnswer,omitempty"`
}

// FeedbackPayload carries the explanation beat after reveal.
type FeedbackPayload struct {
	QuestionUID         string `json:"questionUid"`
	FeedbackWaitSeconds int    `json:"feedbackWaitSeconds"`
	Explanation         string `json:"explanation"`
}

// SessionEndedPayload closes out a session for all surfaces.
type SessionEndedPayload struct {
	AccessCode     string `json:"accessCode"`
	TotalQuestions int    `json:"totalQuestions"`
}

// CountdownTickPayload animates the tournament entry countdown.
type CountdownTickPayload struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// RedirectPayload moves lobby members into the live view (quiz mode entry).
type RedirectPayload struct {
	AccessCode string `json:"accessCode"`
}

// AnswerReceivedPayload acknowledges a submission without leaking correctness.
type AnswerReceivedPayload struct {
	QuestionUID string `json:"questionUid"`
	TimeSpentMs int64  `json:"timeSpentMs"`
}

// ParticipantsUpdatePayload reflects join/leave churn to the live room.
type ParticipantsUpdatePayload struct {
	Participants []Participant `json:"participants"`
}

// LeaderboardPayload is the ordered scoreboard broadcast.
type LeaderboardPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// DashboardStatePayload is the control-surface mirror of session state.
type DashboardStatePayload struct {
	AccessCode           string        `json:"accessCode"`
	Status               SessionStatus `json:"status"`
	Mode                 PlayMode      `json:"mode"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	TotalQuestions       int           `json:"totalQuestions"`
	AnswersLocked        bool          `json:"answersLocked"`
	Timer                TimerState    `json:"timer"`
	ParticipantCount     int           `json:"participantCount"`
}

// ErrorPayload names a rejected command to the issuing connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
