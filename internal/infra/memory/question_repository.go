package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionRepository caches question sets with TTL to avoid repeated durable
// store hits.
type QuestionRepository struct {
	store app.GameStore
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(store app.GameStore, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		store: store,
		ttl:   ttl,
		clock: time.Now,
		cache: make(map[string]cachedQuestions),
	}
}

func (r *QuestionRepository) Questions(ctx context.Context, accessCode string) ([]domain.Question, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[accessCode]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(accessCode, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[accessCode]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		instance, err := r.store.InstanceByAccessCode(ctx, accessCode)
		if err != nil {
			return nil, err
		}
		questions, err := r.store.QuestionsForTemplate(ctx, instance.TemplateID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[accessCode] = cachedQuestions{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations; the shared top-level source
	// is safe for the concurrent cold loads of different access codes
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
