package app

import (
	"context"
	"encoding/json"
	"time"

	"quizflow-service/internal/domain"
)

// SessionRepository owns the read/modify/write cycle for live session state in
// the shared expiring store. Load returns (nil, nil) when the session is absent
// or expired: absence means "not live", not a fault.
type SessionRepository interface {
	Initialize(ctx context.Context, accessCode string) (*domain.GameSession, error)
	Load(ctx context.Context, accessCode string) (*domain.GameSession, error)
	Save(ctx context.Context, accessCode string, session *domain.GameSession) error

	UpsertParticipant(ctx context.Context, accessCode string, p domain.Participant) error
	Participant(ctx context.Context, accessCode, userID string) (*domain.Participant, error)
	Participants(ctx context.Context, accessCode string) ([]domain.Participant, error)
	SetParticipantOnline(ctx context.Context, accessCode, userID string, online bool) error

	SaveAnswer(ctx context.Context, accessCode, userID string, answer domain.Answer) error
	Answer(ctx context.Context, accessCode, questionUID, userID string) (*domain.Answer, error)

	// AddScore applies a score delta to both the participant record and the
	// leaderboard ordering as one logical step, returning the new total.
	AddScore(ctx context.Context, accessCode, userID string, delta int) (int, error)
	Leaderboard(ctx context.Context, accessCode string, limit int) ([]domain.LeaderboardEntry, error)

	// MarkQuestionStart records the per-user elapsed-time baseline once per
	// question (first write wins, 5 minute expiry) and returns the effective
	// baseline, so reconnection keeps the original one.
	MarkQuestionStart(ctx context.Context, accessCode, questionUID, userID string, at time.Time) (time.Time, error)

	// Socket identity mapping, consumed by the connection lifecycle. BindSocket
	// returns the socket it superseded, if any.
	BindSocket(ctx context.Context, accessCode, userID, socketID string) (string, error)
	SocketForUser(ctx context.Context, accessCode, userID string) (string, error)
	// UnbindSocket clears the mapping only if socketID is still current and
	// reports whether it was.
	UnbindSocket(ctx context.Context, accessCode, userID, socketID string) (bool, error)
}

// QuestionRepository serves the ordered question content for a session,
// typically through a cache in front of the durable store.
type QuestionRepository interface {
	Questions(ctx context.Context, accessCode string) ([]domain.Question, error)
}

// GameStore is the durable relational collaborator.
type GameStore interface {
	InstanceByAccessCode(ctx context.Context, accessCode string) (*domain.GameInstance, error)
	QuestionsForTemplate(ctx context.Context, templateID string) ([]domain.Question, error)
	UpsertParticipant(ctx context.Context, instanceID, userID, username string) error
	// SaveLeaderboard persists the final scoreboard onto the instance record.
	SaveLeaderboard(ctx context.Context, instanceID string, entries []domain.LeaderboardEntry) error
	// MarkCompleted stamps completion and the differed replay window.
	MarkCompleted(ctx context.Context, instanceID string, endedAt, differedFrom, differedTo time.Time) error
}

// Envelope is the wire frame carried by the fan-out layer.
type Envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcaster fans events out to rooms and individual users across all server
// processes, not just the local one.
type Broadcaster interface {
	Broadcast(ctx context.Context, rooms []string, event string, payload any) error
	SendToUser(ctx context.Context, accessCode, userID string, event string, payload any) error
}

// RoomSubscriber is the receive side of the fan-out layer, used by transports
// to feed local connections.
type RoomSubscriber interface {
	Subscribe(ctx context.Context, rooms ...string) (<-chan Envelope, func(), error)
}

// FlowHooks lets callers observe orchestration milestones without coupling the
// flow to quiz/tournament-specific behavior. All fields are optional.
type FlowHooks struct {
	OnQuestionStart func(accessCode string, index int, questionUID string)
	OnReveal        func(accessCode string, questionUID string)
	OnFeedback      func(accessCode string, questionUID string)
	OnDone          func(accessCode string, err error)
}
