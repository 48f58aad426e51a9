package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"quizflow-service/internal/infra/memory"
)

const (
	testAccessCode = "ROOM42"
	testTeacherID  = "teacher-1"
)

// fakeClock advances through sleeps instantly so flows run to completion
// without waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type broadcastRecord struct {
	Rooms   []string
	Event   string
	Payload any
}

type directRecord struct {
	UserID  string
	Event   string
	Payload any
}

// recordingFanout captures every broadcast and directed send for assertions.
type recordingFanout struct {
	mu         sync.Mutex
	broadcasts []broadcastRecord
	directs    []directRecord
}

func (f *recordingFanout) Broadcast(_ context.Context, rooms []string, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcastRecord{
		Rooms:   append([]string(nil), rooms...),
		Event:   event,
		Payload: payload,
	})
	return nil
}

func (f *recordingFanout) SendToUser(_ context.Context, _, userID string, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directs = append(f.directs, directRecord{UserID: userID, Event: event, Payload: payload})
	return nil
}

func (f *recordingFanout) byEvent(event string) []broadcastRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastRecord
	for _, record := range f.broadcasts {
		if record.Event == event {
			out = append(out, record)
		}
	}
	return out
}

func (f *recordingFanout) directsFor(userID, event string) []directRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []directRecord
	for _, record := range f.directs {
		if record.UserID == userID && record.Event == event {
			out = append(out, record)
		}
	}
	return out
}

type testEnv struct {
	service  *app.GameService
	sessions *memory.SessionRepository
	store    *memory.GameStore
	fanout   *recordingFanout
	clock    *fakeClock
	registry *app.FlowRegistry
}

func newTestEnv(t *testing.T, mode domain.PlayMode, settings domain.GameSettings) *testEnv {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewGameStore(
		map[string]domain.GameInstance{
			testAccessCode: {
				ID:              "instance-1",
				AccessCode:      testAccessCode,
				Status:          domain.StatusPending,
				Mode:            mode,
				TemplateID:      "tmpl-1",
				InitiatorUserID: testTeacherID,
				Settings:        settings,
			},
		},
		map[string][]domain.Question{"tmpl-1": testQuestions()},
	)
	sessions := memory.NewSessionRepositoryWithClock(store, clock.Now)
	questions := memory.NewQuestionRepository(store, 5*time.Minute)
	fanout := &recordingFanout{}
	registry := app.NewFlowRegistry()
	service := app.NewGameService(sessions, questions, store, fanout, registry, clock)
	return &testEnv{service: service, sessions: sessions, store: store, fanout: fanout, clock: clock, registry: registry}
}

func testQuestions() []domain.Question {
	pi := 3.14159
	return []domain.Question{
		{
			UID:  "q1",
			Text: "Select the right option",
			Type: domain.QuestionSingleChoice,
			Options: []domain.AnswerOption{
				{ID: "o1", Text: "Wrong"},
				{ID: "o2", Text: "Right"},
			},
			CorrectOptionIDs: []string{"o2"},
			TimeLimitSeconds: 30,
		},
		{
			UID:                 "q2",
			Text:                "Roughly, what is pi?",
			Type:                domain.QuestionNumeric,
			NumericAnswer:       &pi,
			Explanation:         "Any value within tolerance counts.",
			TimeLimitSeconds:    20,
			FeedbackWaitSeconds: 2,
		},
	}
}

// activateSession initializes the live session and flips it to active without
// running a flow, for control-surface and answer tests.
func activateSession(t *testing.T, env *testEnv) *domain.GameSession {
	t.Helper()
	ctx := context.Background()
	session, err := env.sessions.Initialize(ctx, testAccessCode)
	if err != nil {
		t.Fatalf("initialize session: %v", err)
	}
	session.Status = domain.StatusActive
	if err := env.sessions.Save(ctx, testAccessCode, session); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return session
}

func joinPlayer(t *testing.T, env *testEnv, userID, socketID string) {
	t.Helper()
	if _, err := env.service.Join(context.Background(), testAccessCode, userID, "User "+userID, "fox", socketID); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
}
