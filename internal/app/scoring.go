package app

import (
	"math"

	"quizflow-service/internal/domain"
)

// MaxPoints is the full score for an instantaneous correct answer.
const MaxPoints = 1000

// relativeTolerance bounds the accepted error for numeric answers.
const relativeTolerance = 1e-6

// ScoreResult is one scoring outcome for a single submission.
type ScoreResult struct {
	IsCorrect bool
	Points    int
}

// Score evaluates a submission against the question's correctness definition
// and applies linear time decay: full marks at zero elapsed, zero at the time
// limit, clamped to [0, MaxPoints]. Incorrect answers score zero.
func Score(question domain.Question, submission domain.AnswerSubmission, elapsedMs, durationMs int64) ScoreResult {
	if !isCorrect(question, submission) {
		return ScoreResult{}
	}
	if durationMs <= 0 {
		return ScoreResult{IsCorrect: true, Points: MaxPoints}
	}
	factor := 1 - float64(elapsedMs)/float64(durationMs)
	if factor < 0 {
		factor = 0
	}
	points := int(math.Round(MaxPoints * factor))
	if points > MaxPoints {
		points = MaxPoints
	}
	return ScoreResult{IsCorrect: true, Points: points}
}

func isCorrect(question domain.Question, submission domain.AnswerSubmission) bool {
	switch question.Type {
	case domain.QuestionSingleChoice:
		return len(submission.SelectedOptions) == 1 &&
			len(question.CorrectOptionIDs) == 1 &&
			submission.SelectedOptions[0] == question.CorrectOptionIDs[0]
	case domain.QuestionMultipleChoice:
		return sameSet(submission.SelectedOptions, question.CorrectOptionIDs)
	case domain.QuestionNumeric:
		if submission.NumericValue == nil || question.NumericAnswer == nil {
			return false
		}
		return numericMatch(*submission.NumericValue, *question.NumericAnswer)
	default:
		return false
	}
}

// sameSet is exact set equality, ignoring order and duplicates.
func sameSet(a, b []string) bool {
	if len(b) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(b))
	for _, id := range b {
		want[id] = struct{}{}
	}
	got := make(map[string]struct{}, len(a))
	for _, id := range a {
		if _, ok := want[id]; !ok {
			return false
		}
		got[id] = struct{}{}
	}
	return len(got) == len(want)
}

func numericMatch(got, want float64) bool {
	diff := math.Abs(got - want)
	scale := math.Max(math.Abs(got), math.Abs(want))
	if scale == 0 {
		return diff == 0
	}
	return diff <= relativeTolerance*scale
}
