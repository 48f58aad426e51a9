package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"quizflow-service/internal/infra/memory"
)

func waitForFlow(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("flow finished with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("flow did not finish")
	}
}

func TestStartSessionQuizRedirectsAndRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})

	done := make(chan error, 1)
	hooks := app.FlowHooks{OnDone: func(_ string, err error) { done <- err }}
	if err := env.service.StartSession(ctx, testAccessCode, testTeacherID, hooks); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, done)

	redirects := env.fanout.byEvent(domain.EventRedirect)
	if len(redirects) != 1 {
		t.Fatalf("expected 1 redirect, got %d", len(redirects))
	}
	rooms := redirects[0].Rooms
	if len(rooms) != 2 || rooms[0] != domain.LobbyRoom(testAccessCode) || rooms[1] != domain.LiveRoom(testAccessCode) {
		t.Fatalf("redirect rooms wrong: %v", rooms)
	}
	if ticks := env.fanout.byEvent(domain.EventCountdownTick); len(ticks) != 0 {
		t.Fatalf("quiz mode should not count down, got %d ticks", len(ticks))
	}

	session, err := env.sessions.Load(ctx, testAccessCode)
	if err != nil || session == nil {
		t.Fatalf("reload: %v", err)
	}
	if session.Status != domain.StatusCompleted {
		t.Fatalf("expected completed after flow, got %s", session.Status)
	}
}

func TestStartSessionTournamentCountdown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeTournament, domain.GameSettings{})

	done := make(chan error, 1)
	hooks := app.FlowHooks{OnDone: func(_ string, err error) { done <- err }}
	if err := env.service.StartSession(ctx, testAccessCode, testTeacherID, hooks); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, done)

	ticks := env.fanout.byEvent(domain.EventCountdownTick)
	if len(ticks) != 5 {
		t.Fatalf("expected 5 countdown ticks, got %d", len(ticks))
	}
	for i, tick := range ticks {
		payload := tick.Payload.(domain.CountdownTickPayload)
		if payload.RemainingSeconds != 5-i {
			t.Fatalf("tick %d: expected %d remaining, got %d", i, 5-i, payload.RemainingSeconds)
		}
	}
	if completes := env.fanout.byEvent(domain.EventCountdownComplete); len(completes) != 1 {
		t.Fatalf("expected countdown completion, got %d", len(completes))
	}
}

func TestStartSessionRejectsNonInitiator(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})

	if err := env.service.StartSession(ctx, testAccessCode, "intruder", app.FlowHooks{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := env.service.StartSession(ctx, "NOPE", testTeacherID, app.FlowHooks{}); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected game not found, got %v", err)
	}
}

func TestStartSessionIgnoredWhileFlowRunning(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})
	activateSession(t, env)

	env.registry.Acquire(testAccessCode)
	defer env.registry.Release(testAccessCode)

	if err := env.service.StartSession(ctx, testAccessCode, testTeacherID, app.FlowHooks{}); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	if len(env.fanout.byEvent(domain.EventRedirect)) != 0 {
		t.Fatalf("ignored start still redirected")
	}
}

// gatedClock blocks every sleep until the gate opens, parking a flow at its
// first suspension point.
type gatedClock struct {
	*fakeClock
	gate chan struct{}
}

func (c *gatedClock) Sleep(ctx context.Context, d time.Duration) error {
	<-c.gate
	return c.fakeClock.Sleep(ctx, d)
}

func TestStartSessionDuplicateDuringCountdown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeTournament, domain.GameSettings{})
	clock := &gatedClock{fakeClock: env.clock, gate: make(chan struct{})}
	service := app.NewGameService(env.sessions, memory.NewQuestionRepository(env.store, 5*time.Minute),
		env.store, env.fanout, env.registry, clock)

	done := make(chan error, 1)
	hooks := app.FlowHooks{OnDone: func(_ string, err error) { done <- err }}
	first := make(chan error, 1)
	go func() { first <- service.StartSession(ctx, testAccessCode, testTeacherID, hooks) }()

	// Wait for the opening tick; the countdown is now parked in its sleep.
	deadline := time.Now().Add(5 * time.Second)
	for len(env.fanout.byEvent(domain.EventCountdownTick)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("opening countdown tick never broadcast")
		}
		time.Sleep(time.Millisecond)
	}

	// A second start mid-countdown is a silent no-op and adds no ticks.
	if err := service.StartSession(ctx, testAccessCode, testTeacherID, app.FlowHooks{}); err != nil {
		t.Fatalf("duplicate start: %v", err)
	}
	if got := len(env.fanout.byEvent(domain.EventCountdownTick)); got != 1 {
		t.Fatalf("duplicate start leaked countdown ticks: %d", got)
	}

	close(clock.gate)
	if err := <-first; err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, done)

	ticks := env.fanout.byEvent(domain.EventCountdownTick)
	if len(ticks) != 5 {
		t.Fatalf("expected exactly 5 countdown ticks, got %d", len(ticks))
	}
	openers := 0
	for _, tick := range ticks {
		if tick.Payload.(domain.CountdownTickPayload).RemainingSeconds == 5 {
			openers++
		}
	}
	if openers != 1 {
		t.Fatalf("countdown ran %d times", openers)
	}
	if got := len(env.fanout.byEvent(domain.EventCountdownComplete)); got != 1 {
		t.Fatalf("expected one countdown completion, got %d", got)
	}
}

func TestPauseResumeKeepsRemainingTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})
	activateSession(t, env)
	if err := env.service.SetQuestion(ctx, testAccessCode, testTeacherID, "q1"); err != nil {
		t.Fatalf("set question: %v", err)
	}

	env.clock.Advance(10 * time.Second)
	if err := env.service.PauseTimer(ctx, testAccessCode, testTeacherID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	session, _ := env.sessions.Load(ctx, testAccessCode)
	if session.Timer.Status != domain.TimerPaused || session.Timer.RemainingMs != 20000 {
		t.Fatalf("pause state wrong: %+v", session.Timer)
	}

	env.clock.Advance(2 * time.Minute)
	if err := env.service.ResumeTimer(ctx, testAccessCode, testTeacherID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	session, _ = env.sessions.Load(ctx, testAccessCode)
	if session.Timer.Status != domain.TimerRunning {
		t.Fatalf("expected running after resume, got %s", session.Timer.Status)
	}
	if got := session.Timer.RemainingAt(env.clock.Now()); got != 20000 {
		t.Fatalf("resume lost time: remaining %dms", got)
	}

	if err := env.service.PauseTimer(ctx, testAccessCode, "intruder"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized pause, got %v", err)
	}
}

func TestSetQuestionJumpsAndRestartsTimer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})
	activateSession(t, env)

	if err := env.service.SetQuestion(ctx, testAccessCode, testTeacherID, "q2"); err != nil {
		t.Fatalf("set question: %v", err)
	}
	session, _ := env.sessions.Load(ctx, testAccessCode)
	if session.CurrentQuestionIndex != 1 || session.AnswersLocked {
		t.Fatalf("jump state wrong: %+v", session)
	}
	if session.Timer.Status != domain.TimerRunning || session.Timer.QuestionUID != "q2" {
		t.Fatalf("timer not restarted for q2: %+v", session.Timer)
	}
	if got := session.Timer.RemainingAt(env.clock.Now()); got != 20000 {
		t.Fatalf("expected fresh 20s window, got %dms", got)
	}

	if err := env.service.SetQuestion(ctx, testAccessCode, testTeacherID, "q99"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestSetQuestionRecordsElapsedBaselines(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})
	activateSession(t, env)
	joinPlayer(t, env, "u1", "s1")

	if err := env.service.SetQuestion(ctx, testAccessCode, testTeacherID, "q1"); err != nil {
		t.Fatalf("set question: %v", err)
	}
	if got := env.fanout.directsFor("u1", domain.EventQuestionStart); len(got) != 1 {
		t.Fatalf("expected personalized question send, got %d", len(got))
	}

	// A submission 25s into the 30s window scores against the jump, not
	// against the submission instant.
	env.clock.Advance(25 * time.Second)
	ack, err := env.service.SubmitAnswer(ctx, testAccessCode, "u1", domain.AnswerSubmission{
		QuestionUID:     "q1",
		SelectedOptions: []string{"o2"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.TimeSpentMs != 25000 {
		t.Fatalf("expected 25000ms elapsed, got %d", ack.TimeSpentMs)
	}
	answer, err := env.sessions.Answer(ctx, testAccessCode, "q1", "u1")
	if err != nil || answer == nil {
		t.Fatalf("stored answer: %+v (%v)", answer, err)
	}
	if !answer.IsCorrect || answer.Score != 167 {
		t.Fatalf("expected decayed score 167, got %+v", answer)
	}
}

func TestEndSessionFinalizesImmediately(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})
	activateSession(t, env)
	joinPlayer(t, env, "u1", "s1")

	if err := env.service.EndSession(ctx, testAccessCode, testTeacherID); err != nil {
		t.Fatalf("end: %v", err)
	}

	session, _ := env.sessions.Load(ctx, testAccessCode)
	if session.Status != domain.StatusCompleted || !session.AnswersLocked || session.Timer.Status != domain.TimerStopped {
		t.Fatalf("end state wrong: %+v", session)
	}
	instance, _ := env.store.Instance(testAccessCode)
	if instance.Status != domain.StatusCompleted {
		t.Fatalf("durable record not completed: %+v", instance)
	}
	if len(env.fanout.byEvent(domain.EventSessionEnded)) != 1 {
		t.Fatalf("session end not broadcast")
	}
}

func TestDashboardStateMirrorsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, domain.ModeQuiz, domain.GameSettings{})

	if _, err := env.service.DashboardState(ctx, testAccessCode); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}

	activateSession(t, env)
	joinPlayer(t, env, "u1", "s1")
	if err := env.service.SetQuestion(ctx, testAccessCode, testTeacherID, "q1"); err != nil {
		t.Fatalf("set question: %v", err)
	}

	state, err := env.service.DashboardState(ctx, testAccessCode)
	if err != nil {
		t.Fatalf("dashboard state: %v", err)
	}
	if state.AccessCode != testAccessCode || state.Status != domain.StatusActive ||
		state.CurrentQuestionIndex != 0 || state.TotalQuestions != 2 || state.ParticipantCount != 1 {
		t.Fatalf("dashboard state wrong: %+v", state)
	}
	if state.Timer.Status != domain.TimerRunning || state.Timer.QuestionUID != "q1" {
		t.Fatalf("dashboard timer wrong: %+v", state.Timer)
	}
}
