package domain

import "time"

// SessionStatus is the lifecycle state of a live game session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusArchived  SessionStatus = "archived"
)

// PlayMode selects how a session progresses between questions.
type PlayMode string

const (
	// ModeQuiz is teacher-paced: the owner drives every transition.
	ModeQuiz PlayMode = "quiz"
	// ModeTournament starts with a lobby countdown and then advances automatically.
	ModeTournament PlayMode = "tournament"
)

// GameSettings are the per-session knobs fixed at activation.
type GameSettings struct {
	TimeMultiplier  float64 `json:"timeMultiplier"`
	ShowLeaderboard bool    `json:"showLeaderboard"`
}

// GameSession is the authoritative live state for one access code. It lives in
// the shared expiring store, never only in process memory.
type GameSession struct {
	SessionID            string        `json:"sessionId"`
	AccessCode           string        `json:"accessCode"`
	Status               SessionStatus `json:"status"`
	Mode                 PlayMode      `json:"mode"`
	InitiatorUserID      string        `json:"initiatorUserId"`
	QuestionUIDs         []string      `json:"questionUids"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	AnswersLocked        bool          `json:"answersLocked"`
	Settings             GameSettings  `json:"settings"`
	Timer                TimerState    `json:"timer"`
}

// CurrentQuestionUID returns the UID the session is positioned on, or "" before
// the first question.
func (s *GameSession) CurrentQuestionUID() string {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionUIDs) {
		return ""
	}
	return s.QuestionUIDs[s.CurrentQuestionIndex]
}

// Participant is one joined user within a session.
type Participant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	JoinedAt time.Time `json:"joinedAt"`
	Online   bool      `json:"online"`
	Score    int       `json:"score"`
}

// AnswerSubmission is what a client sends for one question. The populated
// fields depend on the question type.
type AnswerSubmission struct {
	QuestionUID     string   `json:"questionUid"`
	SelectedOptions []string `json:"selectedOptions,omitempty"`
	NumericValue    *float64 `json:"numericValue,omitempty"`
}

// Answer is the stored record for one participant and question. The latest
// submission for a question replaces the previous one; Score is the per-question
// ledger entry that makes re-scoring a replacement rather than an addition.
type Answer struct {
	QuestionUID     string    `json:"questionUid"`
	SelectedOptions []string  `json:"selectedOptions,omitempty"`
	NumericValue    *float64  `json:"numericValue,omitempty"`
	TimeSpentMs     int64     `json:"timeSpentMs"`
	SubmittedAt     time.Time `json:"submittedAt"`
	IsCorrect       bool      `json:"isCorrect"`
	Score           int       `json:"score"`
}

// LeaderboardEntry is a score-ordered view row. Ties follow store member
// ordering and are not guaranteed stable across recomputation.
type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Score    int    `json:"score"`
}

// QuestionType discriminates the correctness rule for a question.
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionNumeric        QuestionType = "numeric"
)

// AnswerOption is one selectable choice.
type AnswerOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is read-only content from the durable store. CorrectOptionIDs,
// NumericAnswer and Explanation must never reach clients before reveal.
type Question struct {
	UID                 string         `json:"uid"`
	Text                string         `json:"text"`
	Type                QuestionType   `json:"type"`
	Options             []AnswerOption `json:"options"`
	CorrectOptionIDs    []string       `json:"correctOptionIds,omitempty"`
	NumericAnswer       *float64       `json:"numericAnswer,omitempty"`
	Explanation         string         `json:"explanation,omitempty"`
	TimeLimitSeconds    int            `json:"timeLimitSeconds"`
	FeedbackWaitSeconds int            `json:"feedbackWaitSeconds"`
}

// FilteredQuestion is the client-safe projection of a Question.
type FilteredQuestion struct {
	UID              string         `json:"uid"`
	Text             string         `json:"text"`
	Type             QuestionType   `json:"type"`
	Options          []AnswerOption `json:"options"`
	TimeLimitSeconds int            `json:"timeLimitSeconds"`
}

// Filtered strips correctness data and the explanation for pre-reveal delivery.
func (q Question) Filtered() FilteredQuestion {
	return FilteredQuestion{
		UID:              q.UID,
		Text:             q.Text,
		Type:             q.Type,
		Options:          q.Options,
		TimeLimitSeconds: q.TimeLimitSeconds,
	}
}

// GameInstance is the durable relational record backing a session.
type GameInstance struct {
	ID              string
	AccessCode      string
	Status          SessionStatus
	Mode            PlayMode
	TemplateID      string
	Settings        GameSettings
	InitiatorUserID string
	EndedAt         *time.Time
	DifferedFrom    *time.Time
	DifferedTo      *time.Time
}
