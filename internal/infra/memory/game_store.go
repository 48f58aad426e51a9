package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quizflow-service/internal/domain"
)

// GameStore is a static durable-store stand-in backed by maps, useful for
// tests and demo runs without Postgres.
type GameStore struct {
	mu        sync.RWMutex
	instances map[string]domain.GameInstance   // accessCode -> instance
	questions map[string][]domain.Question     // templateID -> ordered questions
	boards    map[string][]domain.LeaderboardEntry
	joined    map[string]map[string]string // instanceID -> userID -> username
}

func NewGameStore(instances map[string]domain.GameInstance, questions map[string][]domain.Question) *GameStore {
	return &GameStore{
		instances: instances,
		questions: questions,
		boards:    make(map[string][]domain.LeaderboardEntry),
		joined:    make(map[string]map[string]string),
	}
}

func (s *GameStore) InstanceByAccessCode(_ context.Context, accessCode string) (*domain.GameInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[accessCode]
	if !ok {
		return nil, fmt.Errorf("%w: access code %s", domain.ErrGameNotFound, accessCode)
	}
	clone := instance
	return &clone, nil
}

func (s *GameStore) QuestionsForTemplate(_ context.Context, templateID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions, ok := s.questions[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: template %s", domain.ErrGameNotFound, templateID)
	}
	return append([]domain.Question(nil), questions...), nil
}

func (s *GameStore) UpsertParticipant(_ context.Context, instanceID, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined[instanceID] == nil {
		s.joined[instanceID] = make(map[string]string)
	}
	s.joined[instanceID][userID] = username
	return nil
}

func (s *GameStore) SaveLeaderboard(_ context.Context, instanceID string, entries []domain.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[instanceID] = append([]domain.LeaderboardEntry(nil), entries...)
	return nil
}

func (s *GameStore) MarkCompleted(_ context.Context, instanceID string, endedAt, differedFrom, differedTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, instance := range s.instances {
		if instance.ID != instanceID {
			continue
		}
		instance.Status = domain.StatusCompleted
		instance.EndedAt = &endedAt
		instance.DifferedFrom = &differedFrom
		instance.DifferedTo = &differedTo
		s.instances[code] = instance
		return nil
	}
	return fmt.Errorf("%w: instance %s", domain.ErrGameNotFound, instanceID)
}

// Leaderboard returns the persisted final board, for assertions in tests.
func (s *GameStore) Leaderboard(instanceID string) []domain.LeaderboardEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LeaderboardEntry(nil), s.boards[instanceID]...)
}

// Instance returns the current durable record, for assertions in tests.
func (s *GameStore) Instance(accessCode string) (domain.GameInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[accessCode]
	return instance, ok
}
