package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"github.com/google/uuid"
)

// SessionRepository is an in-memory implementation of app.SessionRepository
// for tests and redis-less runs. It mirrors the Redis key layout with maps and
// honors the question-start expiry so baseline semantics match.
type SessionRepository struct {
	store app.GameStore
	clock func() time.Time

	mu             sync.RWMutex
	sessions       map[string]*domain.GameSession
	participants   map[string]map[string]domain.Participant // accessCode -> userID
	answers        map[string]map[string]domain.Answer      // accessCode:questionUID -> userID
	scores         map[string]map[string]int                // accessCode -> userID
	questionStarts map[string]startRecord                   // accessCode:questionUID:userID
	userToSocket   map[string]map[string]string
}

type startRecord struct {
	at        time.Time
	expiresAt time.Time
}

func NewSessionRepository(store app.GameStore) *SessionRepository {
	return &SessionRepository{
		store:          store,
		clock:          time.Now,
		sessions:       make(map[string]*domain.GameSession),
		participants:   make(map[string]map[string]domain.Participant),
		answers:        make(map[string]map[string]domain.Answer),
		scores:         make(map[string]map[string]int),
		questionStarts: make(map[string]startRecord),
		userToSocket:   make(map[string]map[string]string),
	}
}

// NewSessionRepositoryWithClock is test-only for deterministic expiry.
func NewSessionRepositoryWithClock(store app.GameStore, clock func() time.Time) *SessionRepository {
	r := NewSessionRepository(store)
	r.clock = clock
	return r
}

func (r *SessionRepository) Initialize(ctx context.Context, accessCode string) (*domain.GameSession, error) {
	instance, err := r.store.InstanceByAccessCode(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	questions, err := r.store.QuestionsForTemplate(ctx, instance.TemplateID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: template %s has no questions", domain.ErrGameNotFound, instance.TemplateID)
	}
	uids := make([]string, len(questions))
	for i, q := range questions {
		uids[i] = q.UID
	}
	session := &domain.GameSession{
		SessionID:            instance.ID,
		AccessCode:           accessCode,
		Status:               domain.StatusPending,
		Mode:                 instance.Mode,
		InitiatorUserID:      instance.InitiatorUserID,
		QuestionUIDs:         uids,
		CurrentQuestionIndex: -1,
		Settings:             instance.Settings,
		Timer:                domain.TimerState{Status: domain.TimerStopped, QuestionUID: domain.UnknownQuestionUID},
	}
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if err := r.Save(ctx, accessCode, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SessionRepository) Load(_ context.Context, accessCode string) (*domain.GameSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[accessCode]
	if !ok {
		return nil, nil
	}
	clone := *session
	clone.QuestionUIDs = append([]string(nil), session.QuestionUIDs...)
	return &clone, nil
}

func (r *SessionRepository) Save(_ context.Context, accessCode string, session *domain.GameSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	clone.QuestionUIDs = append([]string(nil), session.QuestionUIDs...)
	r.sessions[accessCode] = &clone
	return nil
}

func (r *SessionRepository) UpsertParticipant(_ context.Context, accessCode string, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.participants[accessCode] == nil {
		r.participants[accessCode] = make(map[string]domain.Participant)
	}
	r.participants[accessCode][p.UserID] = p
	return nil
}

func (r *SessionRepository) Participant(_ context.Context, accessCode, userID string) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[accessCode][userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *SessionRepository) Participants(_ context.Context, accessCode string) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	participants := make([]domain.Participant, 0, len(r.participants[accessCode]))
	for _, p := range r.participants[accessCode] {
		participants = append(participants, p)
	}
	return participants, nil
}

func (r *SessionRepository) SetParticipantOnline(_ context.Context, accessCode, userID string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[accessCode][userID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.Online = online
	r.participants[accessCode][userID] = p
	return nil
}

func (r *SessionRepository) SaveAnswer(_ context.Context, accessCode, userID string, answer domain.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := accessCode + ":" + answer.QuestionUID
	if r.answers[key] == nil {
		r.answers[key] = make(map[string]domain.Answer)
	}
	r.answers[key][userID] = answer
	return nil
}

func (r *SessionRepository) Answer(_ context.Context, accessCode, questionUID, userID string) (*domain.Answer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	answer, ok := r.answers[accessCode+":"+questionUID][userID]
	if !ok {
		return nil, nil
	}
	return &answer, nil
}

func (r *SessionRepository) AddScore(_ context.Context, accessCode, userID string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[accessCode][userID]
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}
	if r.scores[accessCode] == nil {
		r.scores[accessCode] = make(map[string]int)
	}
	r.scores[accessCode][userID] += delta
	p.Score += delta
	r.participants[accessCode][userID] = p
	return r.scores[accessCode][userID], nil
}

func (r *SessionRepository) Leaderboard(_ context.Context, accessCode string, limit int) ([]domain.LeaderboardEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]domain.LeaderboardEntry, 0, len(r.scores[accessCode]))
	for userID, score := range r.scores[accessCode] {
		entry := domain.LeaderboardEntry{UserID: userID, Score: score}
		if p, ok := r.participants[accessCode][userID]; ok {
			entry.Username = p.Username
			entry.Avatar = p.Avatar
		}
		entries = append(entries, entry)
	}
	// score descending, ties by map order (documented as non-strict)
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Score > entries[j-1].Score; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *SessionRepository) MarkQuestionStart(_ context.Context, accessCode, questionUID, userID string, at time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := accessCode + ":" + questionUID + ":" + userID
	now := r.clock()
	if record, ok := r.questionStarts[key]; ok && record.expiresAt.After(now) {
		return record.at, nil
	}
	r.questionStarts[key] = startRecord{at: at, expiresAt: now.Add(300 * time.Second)}
	return at, nil
}

func (r *SessionRepository) BindSocket(_ context.Context, accessCode, userID, socketID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userToSocket[accessCode] == nil {
		r.userToSocket[accessCode] = make(map[string]string)
	}
	previous := r.userToSocket[accessCode][userID]
	r.userToSocket[accessCode][userID] = socketID
	return previous, nil
}

func (r *SessionRepository) SocketForUser(_ context.Context, accessCode, userID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userToSocket[accessCode][userID], nil
}

func (r *SessionRepository) UnbindSocket(_ context.Context, accessCode, userID, socketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userToSocket[accessCode][userID] != socketID {
		return false, nil
	}
	delete(r.userToSocket[accessCode], userID)
	return true, nil
}
