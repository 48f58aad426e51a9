package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionRepository caches the ordered question set for a session in Redis
// (JSON blob per access code) and falls back to the durable store on a miss.
// Concurrent cold loads for the same code collapse to one store hit.
type QuestionRepository struct {
	client *redis.Client
	store  app.GameStore
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuestionRepository(client *redis.Client, store app.GameStore, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		store:  store,
		ttl:    ttl,
	}
}

func (r *QuestionRepository) Questions(ctx context.Context, accessCode string) ([]domain.Question, error) {
	key := questionsKey(accessCode)

	if questions, ok := r.fromCache(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := r.sf.Do(accessCode, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := r.fromCache(ctx, key); ok {
			return questions, nil
		}

		instance, err := r.store.InstanceByAccessCode(ctx, accessCode)
		if err != nil {
			return nil, err
		}
		questions, err := r.store.QuestionsForTemplate(ctx, instance.TemplateID)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("marshal questions: %w", err)
		}
		_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) fromCache(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil || raw == "" {
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, false
	}
	return questions, len(questions) > 0
}

func questionsKey(code string) string { return "game:questions:" + code }

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations; the shared top-level source is
	// safe for the concurrent cold loads of different access codes
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
