package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quizflow-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// GameStore reads game instances, templates and question content from
// Postgres and writes the terminal session record at finalization.
type GameStore struct {
	pool *pgxpool.Pool
}

func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

func (s *GameStore) InstanceByAccessCode(ctx context.Context, accessCode string) (*domain.GameInstance, error) {
	var (
		instance    domain.GameInstance
		rawSettings []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, access_code, status, play_mode, game_template_id, settings,
		       initiator_user_id, ended_at, differed_available_from, differed_available_to
		FROM game_instances WHERE access_code=$1`, accessCode).
		Scan(&instance.ID, &instance.AccessCode, &instance.Status, &instance.Mode,
			&instance.TemplateID, &rawSettings, &instance.InitiatorUserID,
			&instance.EndedAt, &instance.DifferedFrom, &instance.DifferedTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: access code %s", domain.ErrGameNotFound, accessCode)
	}
	if err != nil {
		return nil, fmt.Errorf("load game instance: %w", err)
	}
	if len(rawSettings) > 0 {
		if err := json.Unmarshal(rawSettings, &instance.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return &instance, nil
}

func (s *GameStore) QuestionsForTemplate(ctx context.Context, templateID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.uid, q.text, q.question_type, q.answer_options, q.correct_answers,
		       q.numeric_answer, q.explanation, q.time_limit_seconds, q.feedback_wait_seconds
		FROM questions q
		JOIN template_questions tq ON tq.question_uid = q.uid
		WHERE tq.game_template_id = $1
		ORDER BY tq.sequence`, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q          domain.Question
			rawOptions []byte
			rawCorrect []byte
		)
		if err := rows.Scan(&q.UID, &q.Text, &q.Type, &rawOptions, &rawCorrect,
			&q.NumericAnswer, &q.Explanation, &q.TimeLimitSeconds, &q.FeedbackWaitSeconds); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if len(rawOptions) > 0 {
			if err := json.Unmarshal(rawOptions, &q.Options); err != nil {
				return nil, fmt.Errorf("unmarshal options for %s: %w", q.UID, err)
			}
		}
		if len(rawCorrect) > 0 {
			if err := json.Unmarshal(rawCorrect, &q.CorrectOptionIDs); err != nil {
				return nil, fmt.Errorf("unmarshal correct answers for %s: %w", q.UID, err)
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *GameStore) UpsertParticipant(ctx context.Context, instanceID, userID, username string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_participants (game_instance_id, user_id, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (game_instance_id, user_id) DO UPDATE SET username = EXCLUDED.username`,
		instanceID, userID, username)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *GameStore) SaveLeaderboard(ctx context.Context, instanceID string, entries []domain.LeaderboardEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE game_instances SET leaderboard = $2::jsonb WHERE id = $1`, instanceID, raw)
	if err != nil {
		return fmt.Errorf("save leaderboard: %w", err)
	}
	return nil
}

func (s *GameStore) MarkCompleted(ctx context.Context, instanceID string, endedAt, differedFrom, differedTo time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE game_instances
		SET status = 'completed', ended_at = $2,
		    differed_available_from = $3, differed_available_to = $4
		WHERE id = $1`, instanceID, endedAt, differedFrom, differedTo)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}
