package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"quizflow-service/internal/domain"
)

const (
	defaultQuestionSeconds = 30
	defaultFeedbackSeconds = 5
	countdownTicks         = 5
	countdownTickInterval  = time.Second
	revealBeatQuiz         = time.Second
	revealBeatTournament   = 1500 * time.Millisecond
	differedWindow         = 7 * 24 * time.Hour
)

// GameService drives live sessions: orchestration flow, answer intake,
// participant lifecycle and the teacher control surface.
type GameService struct {
	sessions  SessionRepository
	questions QuestionRepository
	store     GameStore
	fanout    Broadcaster
	registry  *FlowRegistry
	timers    *TimerService
	clock     Clock
}

func NewGameService(
	sessions SessionRepository,
	questions QuestionRepository,
	store GameStore,
	fanout Broadcaster,
	registry *FlowRegistry,
	clock Clock,
) *GameService {
	return &GameService{
		sessions:  sessions,
		questions: questions,
		store:     store,
		fanout:    fanout,
		registry:  registry,
		timers:    NewTimerService(clock),
		clock:     clock,
	}
}

// Timers exposes the timer service for callers that canonicalize payloads.
func (s *GameService) Timers() *TimerService { return s.timers }

// Join upserts a participant, binds their socket (superseding any previous
// connection for the same user) and catches them up if a question is live.
func (s *GameService) Join(ctx context.Context, accessCode, userID, username, avatar, socketID string) (*domain.GameSession, error) {
	session, err := s.sessions.Load(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}

	if _, err := s.sessions.BindSocket(ctx, accessCode, userID, socketID); err != nil {
		return nil, fmt.Errorf("bind socket: %w", err)
	}

	now := s.clock.Now()
	participant := domain.Participant{
		UserID:   userID,
		Username: username,
		Avatar:   avatar,
		JoinedAt: now,
		Online:   true,
	}
	if existing, err := s.sessions.Participant(ctx, accessCode, userID); err == nil && existing != nil {
		participant.JoinedAt = existing.JoinedAt
		participant.Score = existing.Score
	}
	if err := s.sessions.UpsertParticipant(ctx, accessCode, participant); err != nil {
		return nil, fmt.Errorf("upsert participant: %w", err)
	}
	if err := s.store.UpsertParticipant(ctx, session.SessionID, userID, username); err != nil {
		log.Printf("durable participant upsert failed: accessCode=%s user=%s: %v", accessCode, userID, err)
	}

	s.broadcastParticipants(ctx, accessCode)

	// Late join or reconnection mid-question: resend the filtered question and
	// canonical timer so the client can catch up. The elapsed-time baseline is
	// untouched (first write wins).
	if session.Status == domain.StatusActive && session.CurrentQuestionIndex >= 0 {
		if question, total, err := s.questionAt(ctx, accessCode, session.CurrentQuestionIndex); err == nil {
			payload := domain.QuestionStartPayload{
				Question:            question.Filtered(),
				QuestionIndex:       session.CurrentQuestionIndex,
				TotalQuestions:      total,
				FeedbackWaitSeconds: feedbackWait(question),
				Timer:               s.timers.Canonicalize(session.Timer),
			}
			if prev, err := s.sessions.Answer(ctx, accessCode, question.UID, userID); err == nil && prev != nil {
				payload.PreviousAnswer = prev
			}
			if err := s.fanout.SendToUser(ctx, accessCode, userID, domain.EventQuestionStart, payload); err != nil {
				log.Printf("catch-up send failed: accessCode=%s user=%s: %v", accessCode, userID, err)
			}
		}
	}

	return session, nil
}

// Disconnect marks the participant offline unless a newer connection for the
// same user already superseded this socket.
func (s *GameService) Disconnect(ctx context.Context, accessCode, userID, socketID string) {
	wasCurrent, err := s.sessions.UnbindSocket(ctx, accessCode, userID, socketID)
	if err != nil {
		log.Printf("unbind socket failed: accessCode=%s user=%s: %v", accessCode, userID, err)
		return
	}
	if !wasCurrent {
		return
	}
	if err := s.sessions.SetParticipantOnline(ctx, accessCode, userID, false); err != nil {
		log.Printf("mark offline failed: accessCode=%s user=%s: %v", accessCode, userID, err)
		return
	}
	s.broadcastParticipants(ctx, accessCode)
}

func (s *GameService) broadcastParticipants(ctx context.Context, accessCode string) {
	participants, err := s.sessions.Participants(ctx, accessCode)
	if err != nil {
		log.Printf("list participants failed: accessCode=%s: %v", accessCode, err)
		return
	}
	payload := domain.ParticipantsUpdatePayload{Participants: participants}
	if err := s.fanout.Broadcast(ctx, []string{domain.LiveRoom(accessCode)}, domain.EventParticipants, payload); err != nil {
		log.Printf("participants broadcast failed: accessCode=%s: %v", accessCode, err)
	}
}

// questionAt resolves the question content at an index plus the total count.
func (s *GameService) questionAt(ctx context.Context, accessCode string, index int) (domain.Question, int, error) {
	questions, err := s.questions.Questions(ctx, accessCode)
	if err != nil {
		return domain.Question{}, 0, err
	}
	if index < 0 || index >= len(questions) {
		return domain.Question{}, len(questions), domain.ErrQuestionNotFound
	}
	return questions[index], len(questions), nil
}

// effectiveDuration applies the session time multiplier to the question limit.
func effectiveDuration(question domain.Question, settings domain.GameSettings) time.Duration {
	seconds := question.TimeLimitSeconds
	if seconds <= 0 {
		seconds = defaultQuestionSeconds
	}
	d := time.Duration(seconds) * time.Second
	if settings.TimeMultiplier > 0 {
		d = time.Duration(float64(d) * settings.TimeMultiplier)
	}
	return d
}

func feedbackWait(question domain.Question) int {
	if question.FeedbackWaitSeconds > 0 {
		return question.FeedbackWaitSeconds
	}
	return defaultFeedbackSeconds
}

// broadcastTimer sends the canonical timer to the live room (on both logical
// channels), the projection room, and the dashboard. A dashboard payload that
// fails validation is skipped entirely.
func (s *GameService) broadcastTimer(ctx context.Context, session *domain.GameSession, totalQuestions int) {
	timer := s.timers.Canonicalize(session.Timer)
	accessCode := session.AccessCode
	payload := domain.TimerUpdatePayload{
		Timer:          timer,
		QuestionUID:    timer.QuestionUID,
		QuestionIndex:  session.CurrentQuestionIndex,
		TotalQuestions: totalQuestions,
		AnswersLocked:  session.AnswersLocked,
	}
	rooms := []string{domain.LiveRoom(accessCode), domain.ProjectionRoom(accessCode)}
	if err := s.fanout.Broadcast(ctx, rooms, domain.EventTimerUpdate, payload); err != nil {
		log.Printf("timer broadcast failed: accessCode=%s: %v", accessCode, err)
	}
	if err := s.fanout.Broadcast(ctx, []string{domain.LiveRoom(accessCode)}, domain.EventTimerStatus, payload); err != nil {
		log.Printf("timer status broadcast failed: accessCode=%s: %v", accessCode, err)
	}

	dashboard := domain.DashboardTimerPayload{
		Status:         timer.Status,
		QuestionUID:    timer.QuestionUID,
		RemainingMs:    timer.RemainingAt(s.clock.Now()),
		QuestionIndex:  session.CurrentQuestionIndex,
		TotalQuestions: totalQuestions,
		AnswersLocked:  session.AnswersLocked,
	}
	if err := dashboard.Validate(); err != nil {
		log.Printf("dashboard timer payload invalid, send skipped: accessCode=%s: %v", accessCode, err)
		return
	}
	if err := s.fanout.Broadcast(ctx, []string{domain.DashboardRoom(accessCode)}, domain.EventTimerUpdate, dashboard); err != nil {
		log.Printf("dashboard timer broadcast failed: accessCode=%s: %v", accessCode, err)
	}
}
