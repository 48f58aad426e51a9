package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"quizflow-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

// instantClock advances through sleeps immediately so flows complete without
// real waiting.
type instantClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

type wsTestEnv struct {
	server   *httptest.Server
	service  *app.GameService
	sessions *memory.SessionRepository
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	t.Helper()
	clock := &instantClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := memory.NewGameStore(
		map[string]domain.GameInstance{
			"ROOM42": {
				ID:              "instance-1",
				AccessCode:      "ROOM42",
				Mode:            domain.ModeQuiz,
				TemplateID:      "tmpl-1",
				InitiatorUserID: "teacher-1",
			},
		},
		map[string][]domain.Question{
			"tmpl-1": {
				{
					UID:  "q1",
					Text: "What is 2 + 2?",
					Type: domain.QuestionSingleChoice,
					Options: []domain.AnswerOption{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
					},
					CorrectOptionIDs: []string{"o2"},
					TimeLimitSeconds: 30,
				},
			},
		},
	)
	sessions := memory.NewSessionRepositoryWithClock(store, clock.Now)
	questions := memory.NewQuestionRepository(store, time.Minute)
	bus := memory.NewBroadcaster(sessions)
	service := app.NewGameService(sessions, questions, store, bus, app.NewFlowRegistry(), clock)

	handler := NewWSHandler(service, bus)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &wsTestEnv{server: server, service: service, sessions: sessions}
}

func (e *wsTestEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + e.server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains messages until the wanted event type shows up.
func readUntil(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %s: %v", event, err)
		}
		if msg.Type == event {
			return msg.Payload
		}
	}
	t.Fatalf("never received %s", event)
	return nil
}

func TestWSRejectsMissingParams(t *testing.T) {
	env := newWSTestEnv(t)

	resp, err := http.Get(env.server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without accessCode, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.server.URL + "/ws?accessCode=ROOM42&role=player")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for player without userId, got %d", resp.StatusCode)
	}
}

func TestWSPlayerJoinAndAnswer(t *testing.T) {
	ctx := context.Background()
	env := newWSTestEnv(t)

	session, err := env.sessions.Initialize(ctx, "ROOM42")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	session.Status = domain.StatusActive
	if err := env.sessions.Save(ctx, "ROOM42", session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := env.service.SetQuestion(ctx, "ROOM42", "teacher-1", "q1"); err != nil {
		t.Fatalf("set question: %v", err)
	}

	conn := env.dial(t, "accessCode=ROOM42&userId=u1&name=Alice&avatar=fox&role=player")

	payload := readUntil(t, conn, domain.EventParticipants)
	participants, _ := payload["participants"].([]any)
	if len(participants) != 1 {
		t.Fatalf("expected 1 participant after join, got %v", payload)
	}

	if err := conn.WriteJSON(map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionUid":     "q1",
			"selectedOptions": []string{"o2"},
		},
	}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	ack := readUntil(t, conn, domain.EventAnswerReceived)
	if ack["questionUid"] != "q1" {
		t.Fatalf("unexpected ack: %v", ack)
	}

	if err := conn.WriteJSON(map[string]any{"type": "bogus"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	errPayload := readUntil(t, conn, domain.EventError)
	if errPayload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error payload: %v", errPayload)
	}
}

func TestWSTeacherDrivesSession(t *testing.T) {
	ctx := context.Background()
	env := newWSTestEnv(t)

	if _, err := env.sessions.Initialize(ctx, "ROOM42"); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	conn := env.dial(t, "accessCode=ROOM42&userId=teacher-1&role=teacher")

	state := readUntil(t, conn, domain.EventDashboardState)
	if state["accessCode"] != "ROOM42" || state["status"] != string(domain.StatusPending) {
		t.Fatalf("unexpected initial dashboard state: %v", state)
	}

	if err := conn.WriteJSON(map[string]any{"type": "start_session"}); err != nil {
		t.Fatalf("write start: %v", err)
	}

	// The flow runs to completion on the instant clock; eventually the
	// dashboard mirror reports the completed session.
	deadline := time.Now().Add(5 * time.Second)
	for {
		state = readUntil(t, conn, domain.EventDashboardState)
		if state["status"] == string(domain.StatusCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never completed, last state %v", state)
		}
	}
}

func TestWSTeacherCommandUnauthorized(t *testing.T) {
	ctx := context.Background()
	env := newWSTestEnv(t)

	if _, err := env.sessions.Initialize(ctx, "ROOM42"); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	conn := env.dial(t, "accessCode=ROOM42&userId=intruder&role=teacher")
	readUntil(t, conn, domain.EventDashboardState)

	if err := conn.WriteJSON(map[string]any{"type": "end_session"}); err != nil {
		t.Fatalf("write end: %v", err)
	}
	errPayload := readUntil(t, conn, domain.EventError)
	if errPayload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", errPayload)
	}
}
