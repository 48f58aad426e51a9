package app

import (
	"context"
	"errors"
	"log"
	"time"

	"quizflow-service/internal/domain"
)

// RunFlow drives one session through its whole question sequence and then
// finalizes it. At most one flow runs per access code: a duplicate start is a
// logged no-op, silent to the caller. Any error inside the question loop
// abandons the flow (no retry, no partial finalization); the guard is released
// on every exit path so the code can be restarted later.
func (s *GameService) RunFlow(ctx context.Context, accessCode string, hooks FlowHooks) error {
	if !s.registry.Acquire(accessCode) {
		log.Printf("flow already running, skipping duplicate start: accessCode=%s", accessCode)
		return nil
	}
	return s.runOwnedFlow(ctx, accessCode, hooks)
}

// runOwnedFlow assumes the caller already holds the flow guard for accessCode
// and releases it on every exit path.
func (s *GameService) runOwnedFlow(ctx context.Context, accessCode string, hooks FlowHooks) error {
	var flowErr error
	defer func() {
		s.registry.Release(accessCode)
		if hooks.OnDone != nil {
			hooks.OnDone(accessCode, flowErr)
		}
	}()

	questions, err := s.questions.Questions(ctx, accessCode)
	if err != nil {
		flowErr = err
		log.Printf("flow aborted, question load failed: accessCode=%s: %v", accessCode, err)
		return flowErr
	}
	session, err := s.sessions.Load(ctx, accessCode)
	if err != nil || session == nil {
		if err == nil {
			err = domain.ErrSessionNotFound
		}
		flowErr = err
		log.Printf("flow aborted, session load failed: accessCode=%s: %v", accessCode, err)
		return flowErr
	}

	total := len(questions)
	for i := 0; i < total; i++ {
		if err := s.runQuestion(ctx, session, questions[i], i, total, hooks); err != nil {
			flowErr = err
			log.Printf("flow aborted: accessCode=%s questionIndex=%d questionUid=%s: %v",
				accessCode, i, questions[i].UID, err)
			return flowErr
		}
	}

	s.finalize(ctx, session, total)
	return nil
}

// runQuestion executes one iteration of the per-question loop. Persistence
// happens before any broadcast, so a crash in between leaves durable state
// consistent with "not yet announced".
func (s *GameService) runQuestion(ctx context.Context, session *domain.GameSession, question domain.Question, index, total int, hooks FlowHooks) error {
	accessCode := session.AccessCode
	duration := effectiveDuration(question, session.Settings)

	session.CurrentQuestionIndex = index
	session.AnswersLocked = false
	session.Timer = s.timers.Start(question.UID, duration)
	if err := s.save(ctx, session); err != nil {
		return err
	}

	if hooks.OnQuestionStart != nil {
		hooks.OnQuestionStart(accessCode, index, question.UID)
	}

	payload := domain.QuestionStartPayload{
		Question:            question.Filtered(),
		QuestionIndex:       index,
		TotalQuestions:      total,
		FeedbackWaitSeconds: feedbackWait(question),
		Timer:               s.timers.Canonicalize(session.Timer),
	}

	s.deliverQuestion(ctx, accessCode, question, payload)

	rooms := []string{domain.LiveRoom(accessCode), domain.ProjectionRoom(accessCode)}
	if err := s.fanout.Broadcast(ctx, rooms, domain.EventQuestionStart, payload); err != nil {
		log.Printf("question broadcast failed: accessCode=%s: %v", accessCode, err)
	}

	s.broadcastTimer(ctx, session, total)

	if err := s.clock.Sleep(ctx, duration); err != nil {
		return err
	}

	// Answer window over: lock, stop the timer, persist, then reveal.
	session.AnswersLocked = true
	session.Timer = s.timers.Stop(session.Timer)
	if err := s.save(ctx, session); err != nil {
		return err
	}

	reveal := domain.AnswersRevealPayload{
		QuestionUID:      question.UID,
		CorrectOptionIDs: question.CorrectOptionIDs,
		NumericAnswer:    question.NumericAnswer,
	}
	if err := s.fanout.Broadcast(ctx, []string{domain.LiveRoom(accessCode)}, domain.EventAnswersReveal, reveal); err != nil {
		log.Printf("reveal broadcast failed: accessCode=%s: %v", accessCode, err)
	}
	if hooks.OnReveal != nil {
		hooks.OnReveal(accessCode, question.UID)
	}

	if session.Settings.ShowLeaderboard {
		if entries, err := s.sessions.Leaderboard(ctx, accessCode, 0); err == nil {
			_ = s.fanout.Broadcast(ctx, rooms, domain.EventLeaderboard, domain.LeaderboardPayload{Entries: entries})
		}
	}

	beat := revealBeatQuiz
	if session.Mode == domain.ModeTournament {
		beat = revealBeatTournament
	}
	if err := s.clock.Sleep(ctx, beat); err != nil {
		return err
	}

	// Content-light questions skip the feedback beat so progression never stalls.
	if question.Explanation != "" {
		wait := feedbackWait(question)
		feedback := domain.FeedbackPayload{
			QuestionUID:         question.UID,
			FeedbackWaitSeconds: wait,
			Explanation:         question.Explanation,
		}
		if err := s.fanout.Broadcast(ctx, []string{domain.LiveRoom(accessCode)}, domain.EventFeedback, feedback); err != nil {
			log.Printf("feedback broadcast failed: accessCode=%s: %v", accessCode, err)
		}
		if hooks.OnFeedback != nil {
			hooks.OnFeedback(accessCode, question.UID)
		}
		if err := s.clock.Sleep(ctx, time.Duration(wait)*time.Second); err != nil {
			return err
		}
	}

	return nil
}

// deliverQuestion resolves each online participant, sends them a personalized
// question payload (prior answer prefilled) and records their elapsed-time
// scoring baseline. The first baseline write wins, so a reconnecting
// participant keeps the original.
func (s *GameService) deliverQuestion(ctx context.Context, accessCode string, question domain.Question, payload domain.QuestionStartPayload) {
	now := s.clock.Now()
	participants, err := s.sessions.Participants(ctx, accessCode)
	if err != nil {
		log.Printf("participant list failed: accessCode=%s: %v", accessCode, err)
		return
	}
	for _, participant := range participants {
		if !participant.Online {
			continue
		}
		personal := payload
		if prev, err := s.sessions.Answer(ctx, accessCode, question.UID, participant.UserID); err == nil && prev != nil {
			personal.PreviousAnswer = prev
		}
		if err := s.fanout.SendToUser(ctx, accessCode, participant.UserID, domain.EventQuestionStart, personal); err != nil {
			log.Printf("per-user question send failed: accessCode=%s user=%s: %v", accessCode, participant.UserID, err)
		}
		if _, err := s.sessions.MarkQuestionStart(ctx, accessCode, question.UID, participant.UserID, now); err != nil {
			log.Printf("question start baseline failed: accessCode=%s user=%s: %v", accessCode, participant.UserID, err)
		}
	}
}

// save persists the session blob, degrading to a logged skip when the shared
// store is unavailable so a transient outage does not crash the flow.
func (s *GameService) save(ctx context.Context, session *domain.GameSession) error {
	err := s.sessions.Save(ctx, session.AccessCode, session)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		log.Printf("session save skipped, store unavailable: accessCode=%s", session.AccessCode)
		return nil
	}
	return err
}

// finalize runs the end-of-session sub-steps, each recovered individually so
// one failure does not prevent the others from attempting to run. The durable
// store is authoritative at session end.
func (s *GameService) finalize(ctx context.Context, session *domain.GameSession, totalQuestions int) {
	accessCode := session.AccessCode

	if entries, err := s.sessions.Leaderboard(ctx, accessCode, 0); err != nil {
		log.Printf("final leaderboard read failed: accessCode=%s: %v", accessCode, err)
	} else if err := s.store.SaveLeaderboard(ctx, session.SessionID, entries); err != nil {
		log.Printf("final leaderboard persist failed: accessCode=%s: %v", accessCode, err)
	}

	endedAt := s.clock.Now()
	if err := s.store.MarkCompleted(ctx, session.SessionID, endedAt, endedAt, endedAt.Add(differedWindow)); err != nil {
		log.Printf("durable completion failed: accessCode=%s: %v", accessCode, err)
	}

	// Re-check the expiring state and force agreement with the durable record.
	if live, err := s.sessions.Load(ctx, accessCode); err != nil {
		log.Printf("final session re-check failed: accessCode=%s: %v", accessCode, err)
	} else if live != nil && live.Status != domain.StatusCompleted {
		live.Status = domain.StatusCompleted
		live.Timer = s.timers.Stop(live.Timer)
		if err := s.sessions.Save(ctx, accessCode, live); err != nil {
			log.Printf("final session save failed: accessCode=%s: %v", accessCode, err)
		}
	}

	ended := domain.SessionEndedPayload{AccessCode: accessCode, TotalQuestions: totalQuestions}
	rooms := []string{domain.LiveRoom(accessCode), domain.ProjectionRoom(accessCode)}
	if err := s.fanout.Broadcast(ctx, rooms, domain.EventSessionEnded, ended); err != nil {
		log.Printf("session ended broadcast failed: accessCode=%s: %v", accessCode, err)
	}

	s.mirrorDashboard(ctx, session)
}
