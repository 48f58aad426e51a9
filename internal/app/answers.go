package app

import (
	"context"
	"fmt"

	"quizflow-service/internal/domain"
)

// SubmitAnswer records (or overwrites) a participant's answer for the current
// question and folds the score into the participant record and leaderboard.
// Resubmission before lock replaces the prior contribution: the per-question
// ledger entry stored on the Answer makes the delta exact.
func (s *GameService) SubmitAnswer(ctx context.Context, accessCode, userID string, submission domain.AnswerSubmission) (domain.AnswerReceivedPayload, error) {
	var ack domain.AnswerReceivedPayload

	session, err := s.sessions.Load(ctx, accessCode)
	if err != nil {
		return ack, err
	}
	if session == nil {
		return ack, domain.ErrSessionNotFound
	}
	if session.Status != domain.StatusActive {
		return ack, domain.ErrAnswerWindowClosed
	}
	if session.AnswersLocked {
		return ack, domain.ErrAnswersLocked
	}
	if submission.QuestionUID != session.CurrentQuestionUID() {
		if !containsUID(session.QuestionUIDs, submission.QuestionUID) {
			return ack, domain.ErrQuestionNotFound
		}
		return ack, domain.ErrAnswerWindowClosed
	}

	participant, err := s.sessions.Participant(ctx, accessCode, userID)
	if err != nil {
		return ack, err
	}
	if participant == nil {
		return ack, domain.ErrParticipantNotFound
	}

	question, _, err := s.questionAt(ctx, accessCode, session.CurrentQuestionIndex)
	if err != nil {
		return ack, err
	}

	now := s.clock.Now()
	// First write wins: a reconnecting participant keeps the original baseline.
	baseline, err := s.sessions.MarkQuestionStart(ctx, accessCode, question.UID, userID, now)
	if err != nil {
		return ack, fmt.Errorf("question start baseline: %w", err)
	}
	elapsedMs := now.Sub(baseline).Milliseconds()
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	durationMs := effectiveDuration(question, session.Settings).Milliseconds()
	if elapsedMs > durationMs {
		return ack, domain.ErrAnswerWindowClosed
	}

	result := Score(question, submission, elapsedMs, durationMs)

	previousPoints := 0
	if prev, err := s.sessions.Answer(ctx, accessCode, question.UID, userID); err == nil && prev != nil {
		previousPoints = prev.Score
	}

	answer := domain.Answer{
		QuestionUID:     question.UID,
		SelectedOptions: submission.SelectedOptions,
		NumericValue:    submission.NumericValue,
		TimeSpentMs:     elapsedMs,
		SubmittedAt:     now,
		IsCorrect:       result.IsCorrect,
		Score:           result.Points,
	}
	if err := s.sessions.SaveAnswer(ctx, accessCode, userID, answer); err != nil {
		return ack, fmt.Errorf("save answer: %w", err)
	}
	if delta := result.Points - previousPoints; delta != 0 {
		if _, err := s.sessions.AddScore(ctx, accessCode, userID, delta); err != nil {
			return ack, fmt.Errorf("apply score: %w", err)
		}
	}

	ack = domain.AnswerReceivedPayload{QuestionUID: question.UID, TimeSpentMs: elapsedMs}
	return ack, nil
}

func containsUID(uids []string, uid string) bool {
	for _, candidate := range uids {
		if candidate == uid {
			return true
		}
	}
	return false
}
