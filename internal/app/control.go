package app

import (
	"context"
	"log"

	"quizflow-service/internal/domain"
)

// StartSession activates a pending session and launches its flow. Quiz mode
// redirects lobby members immediately; tournament mode runs a visible
// countdown, tick by tick, to both the lobby and live rooms first; lobby
// clients animate from those ticks, so every one must be sent. The flow guard
// is acquired here, before any entry broadcast, so a second start issued
// during the countdown is already a silent no-op; ownership passes to the
// flow goroutine, which releases it.
func (s *GameService) StartSession(ctx context.Context, accessCode, requesterID string, hooks FlowHooks) error {
	session, err := s.loadOrInitialize(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := authorize(session, requesterID); err != nil {
		return err
	}
	if !s.registry.Acquire(accessCode) {
		log.Printf("start ignored, flow already running: accessCode=%s", accessCode)
		return nil
	}
	handedOff := false
	defer func() {
		if !handedOff {
			s.registry.Release(accessCode)
		}
	}()

	entryRooms := []string{domain.LobbyRoom(accessCode), domain.LiveRoom(accessCode)}
	switch session.Mode {
	case domain.ModeTournament:
		for tick := countdownTicks; tick >= 1; tick-- {
			payload := domain.CountdownTickPayload{RemainingSeconds: tick}
			if err := s.fanout.Broadcast(ctx, entryRooms, domain.EventCountdownTick, payload); err != nil {
				log.Printf("countdown tick broadcast failed: accessCode=%s: %v", accessCode, err)
			}
			if err := s.clock.Sleep(ctx, countdownTickInterval); err != nil {
				return err
			}
		}
		if err := s.fanout.Broadcast(ctx, entryRooms, domain.EventCountdownComplete, struct{}{}); err != nil {
			log.Printf("countdown complete broadcast failed: accessCode=%s: %v", accessCode, err)
		}
	default:
		payload := domain.RedirectPayload{AccessCode: accessCode}
		if err := s.fanout.Broadcast(ctx, entryRooms, domain.EventRedirect, payload); err != nil {
			log.Printf("redirect broadcast failed: accessCode=%s: %v", accessCode, err)
		}
	}

	session.Status = domain.StatusActive
	if err := s.sessions.Save(ctx, accessCode, session); err != nil {
		return err
	}
	s.mirrorDashboard(ctx, session)

	handedOff = true
	go func() {
		// The flow outlives the start command's request context.
		_ = s.runOwnedFlow(context.Background(), accessCode, hooks)
	}()
	return nil
}

// SetQuestion jumps a teacher-paced session to a specific question and
// restarts the timer for it.
func (s *GameService) SetQuestion(ctx context.Context, accessCode, requesterID, questionUID string) error {
	session, err := s.mustLoad(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := authorize(session, requesterID); err != nil {
		return err
	}

	index := -1
	for i, uid := range session.QuestionUIDs {
		if uid == questionUID {
			index = i
			break
		}
	}
	if index < 0 {
		return domain.ErrQuestionNotFound
	}
	question, total, err := s.questionAt(ctx, accessCode, index)
	if err != nil {
		return err
	}

	session.CurrentQuestionIndex = index
	session.AnswersLocked = false
	session.Timer = s.timers.Start(question.UID, effectiveDuration(question, session.Settings))
	if err := s.sessions.Save(ctx, accessCode, session); err != nil {
		return err
	}

	payload := domain.QuestionStartPayload{
		Question:            question.Filtered(),
		QuestionIndex:       index,
		TotalQuestions:      total,
		FeedbackWaitSeconds: feedbackWait(question),
		Timer:               s.timers.Canonicalize(session.Timer),
	}
	// Same delivery as the flow loop: the jump restarts the window, so every
	// online participant needs a fresh elapsed-time baseline.
	s.deliverQuestion(ctx, accessCode, question, payload)
	rooms := []string{domain.LiveRoom(accessCode), domain.ProjectionRoom(accessCode)}
	if err := s.fanout.Broadcast(ctx, rooms, domain.EventQuestionStart, payload); err != nil {
		log.Printf("question broadcast failed: accessCode=%s: %v", accessCode, err)
	}
	s.broadcastTimer(ctx, session, total)
	s.mirrorDashboard(ctx, session)
	return nil
}

// SetAnswersLocked force-locks or unlocks submissions, independent of the
// timer status.
func (s *GameService) SetAnswersLocked(ctx context.Context, accessCode, requesterID string, locked bool) error {
	session, err := s.mustLoad(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := authorize(session, requesterID); err != nil {
		return err
	}
	session.AnswersLocked = locked
	if err := s.sessions.Save(ctx, accessCode, session); err != nil {
		return err
	}
	s.broadcastTimer(ctx, session, len(session.QuestionUIDs))
	s.mirrorDashboard(ctx, session)
	return nil
}

// PauseTimer freezes the countdown at its current remaining time.
func (s *GameService) PauseTimer(ctx context.Context, accessCode, requesterID string) error {
	return s.mutateTimer(ctx, accessCode, requesterID, s.timers.Pause)
}

// ResumeTimer restarts a paused countdown without losing or gaining time.
func (s *GameService) ResumeTimer(ctx context.Context, accessCode, requesterID string) error {
	return s.mutateTimer(ctx, accessCode, requesterID, s.timers.Resume)
}

func (s *GameService) mutateTimer(ctx context.Context, accessCode, requesterID string, op func(domain.TimerState) domain.TimerState) error {
	session, err := s.mustLoad(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := authorize(session, requesterID); err != nil {
		return err
	}
	session.Timer = op(session.Timer)
	if err := s.sessions.Save(ctx, accessCode, session); err != nil {
		return err
	}
	s.broadcastTimer(ctx, session, len(session.QuestionUIDs))
	s.mirrorDashboard(ctx, session)
	return nil
}

// EndSession finalizes immediately on teacher command.
func (s *GameService) EndSession(ctx context.Context, accessCode, requesterID string) error {
	session, err := s.mustLoad(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := authorize(session, requesterID); err != nil {
		return err
	}
	session.Timer = s.timers.Stop(session.Timer)
	session.AnswersLocked = true
	session.Status = domain.StatusCompleted
	if err := s.sessions.Save(ctx, accessCode, session); err != nil {
		return err
	}
	s.finalize(ctx, session, len(session.QuestionUIDs))
	return nil
}

// DashboardState builds the control-surface mirror of current session state.
func (s *GameService) DashboardState(ctx context.Context, accessCode string) (domain.DashboardStatePayload, error) {
	session, err := s.mustLoad(ctx, accessCode)
	if err != nil {
		return domain.DashboardStatePayload{}, err
	}
	participants, err := s.sessions.Participants(ctx, accessCode)
	if err != nil {
		log.Printf("list participants failed: accessCode=%s: %v", accessCode, err)
	}
	return domain.DashboardStatePayload{
		AccessCode:           session.AccessCode,
		Status:               session.Status,
		Mode:                 session.Mode,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		TotalQuestions:       len(session.QuestionUIDs),
		AnswersLocked:        session.AnswersLocked,
		Timer:                s.timers.Canonicalize(session.Timer),
		ParticipantCount:     len(participants),
	}, nil
}

func (s *GameService) mirrorDashboard(ctx context.Context, session *domain.GameSession) {
	state, err := s.DashboardState(ctx, session.AccessCode)
	if err != nil {
		log.Printf("dashboard mirror failed: accessCode=%s: %v", session.AccessCode, err)
		return
	}
	room := domain.DashboardRoom(session.AccessCode)
	if err := s.fanout.Broadcast(ctx, []string{room}, domain.EventDashboardState, state); err != nil {
		log.Printf("dashboard broadcast failed: accessCode=%s: %v", session.AccessCode, err)
	}
}

func (s *GameService) mustLoad(ctx context.Context, accessCode string) (*domain.GameSession, error) {
	session, err := s.sessions.Load(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *GameService) loadOrInitialize(ctx context.Context, accessCode string) (*domain.GameSession, error) {
	session, err := s.sessions.Load(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}
	return s.sessions.Initialize(ctx, accessCode)
}

// authorize accepts a command only from the recorded session initiator.
func authorize(session *domain.GameSession, requesterID string) error {
	if session.InitiatorUserID != requesterID {
		return domain.ErrUnauthorized
	}
	return nil
}
