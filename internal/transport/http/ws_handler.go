package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection roles. Players submit answers, the teacher drives the session,
// projection and lobby connections only receive.
const (
	RolePlayer     = "player"
	RoleTeacher    = "teacher"
	RoleProjection = "projection"
	RoleLobby      = "lobby"
)

type WSHandler struct {
	service    *app.GameService
	subscriber app.RoomSubscriber
	upgrader   websocket.Upgrader
}

func NewWSHandler(service *app.GameService, subscriber app.RoomSubscriber) *WSHandler {
	return &WSHandler{
		service:    service,
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type setQuestionPayload struct {
	QuestionUID string `json:"questionUid"`
}

// ServeWS upgrades the request and wires the connection into the session
// fan-out according to its role.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	accessCode := r.URL.Query().Get("accessCode")
	userID := r.URL.Query().Get("userId")
	username := r.URL.Query().Get("name")
	avatar := r.URL.Query().Get("avatar")
	role := r.URL.Query().Get("role")
	if role == "" {
		role = RolePlayer
	}
	if accessCode == "" {
		http.Error(w, "missing accessCode", http.StatusBadRequest)
		return
	}
	if (role == RolePlayer || role == RoleTeacher) && userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	socketID := uuid.NewString()
	ctx := r.Context()

	var rooms []string
	switch role {
	case RoleTeacher:
		rooms = []string{domain.DashboardRoom(accessCode), domain.SocketRoom(socketID)}
	case RoleProjection:
		rooms = []string{domain.ProjectionRoom(accessCode)}
	case RoleLobby:
		rooms = []string{domain.LobbyRoom(accessCode)}
	default:
		rooms = []string{domain.LiveRoom(accessCode), domain.SocketRoom(socketID)}
	}

	updates, cancel, err := h.subscriber.Subscribe(ctx, rooms...)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: domain.EventError, Payload: errorPayload(err)})
		return
	}
	defer cancel()

	if role == RolePlayer {
		if _, err := h.service.Join(ctx, accessCode, userID, username, avatar, socketID); err != nil {
			_ = conn.WriteJSON(outboundMessage{Type: domain.EventError, Payload: errorPayload(err)})
			return
		}
		// The request context is canceled once the handler returns, so
		// cleanup runs on its own context.
		defer h.service.Disconnect(context.Background(), accessCode, userID, socketID)
	}

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case envelope, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: envelope.Event, Payload: envelope.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if role == RoleTeacher {
		if state, err := h.service.DashboardState(ctx, accessCode); err == nil {
			send <- outboundMessage{Type: domain.EventDashboardState, Payload: state}
		} else if !errors.Is(err, domain.ErrSessionNotFound) {
			send <- outboundMessage{Type: domain.EventError, Payload: errorPayload(err)}
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch role {
		case RolePlayer:
			h.handlePlayerMessage(ctx, send, accessCode, userID, inbound)
		case RoleTeacher:
			h.handleTeacherMessage(ctx, send, accessCode, userID, inbound)
		default:
			// projection and lobby connections are receive-only
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handlePlayerMessage(ctx context.Context, send chan<- outboundMessage, accessCode, userID string, inbound inboundMessage) {
	switch inbound.Type {
	case "answer":
		var submission domain.AnswerSubmission
		if err := json.Unmarshal(inbound.Payload, &submission); err != nil {
			send <- outboundMessage{Type: domain.EventError, Payload: domain.ErrorPayload{
				Code: "VALIDATION_ERROR", Message: "invalid answer payload",
			}}
			return
		}
		ack, err := h.service.SubmitAnswer(ctx, accessCode, userID, submission)
		if err != nil {
			send <- outboundMessage{Type: domain.EventError, Payload: errorPayload(err)}
			return
		}
		send <- outboundMessage{Type: domain.EventAnswerReceived, Payload: ack}
	default:
		send <- outboundMessage{Type: domain.EventError, Payload: domain.ErrorPayload{
			Code: "VALIDATION_ERROR", Message: "unsupported message type",
		}}
	}
}

func (h *WSHandler) handleTeacherMessage(ctx context.Context, send chan<- outboundMessage, accessCode, userID string, inbound inboundMessage) {
	var err error
	switch inbound.Type {
	case "start_session":
		err = h.service.StartSession(ctx, accessCode, userID, app.FlowHooks{})
	case "set_question":
		var payload setQuestionPayload
		if jsonErr := json.Unmarshal(inbound.Payload, &payload); jsonErr != nil || payload.QuestionUID == "" {
			send <- outboundMessage{Type: domain.EventError, Payload: domain.ErrorPayload{
				Code: "VALIDATION_ERROR", Message: "invalid set_question payload",
			}}
			return
		}
		err = h.service.SetQuestion(ctx, accessCode, userID, payload.QuestionUID)
	case "lock":
		err = h.service.SetAnswersLocked(ctx, accessCode, userID, true)
	case "unlock":
		err = h.service.SetAnswersLocked(ctx, accessCode, userID, false)
	case "pause":
		err = h.service.PauseTimer(ctx, accessCode, userID)
	case "resume":
		err = h.service.ResumeTimer(ctx, accessCode, userID)
	case "end_session":
		err = h.service.EndSession(ctx, accessCode, userID)
	default:
		send <- outboundMessage{Type: domain.EventError, Payload: domain.ErrorPayload{
			Code: "VALIDATION_ERROR", Message: "unsupported message type",
		}}
		return
	}
	if err != nil {
		send <- outboundMessage{Type: domain.EventError, Payload: errorPayload(err)}
		return
	}
	if state, stateErr := h.service.DashboardState(ctx, accessCode); stateErr == nil {
		send <- outboundMessage{Type: domain.EventDashboardState, Payload: state}
	}
}

// errorPayload maps domain errors onto wire error codes.
func errorPayload(err error) domain.ErrorPayload {
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrGameNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		code = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrAnswersLocked):
		code = "ANSWERS_LOCKED"
	case errors.Is(err, domain.ErrAnswerWindowClosed):
		code = "ANSWER_WINDOW_CLOSED"
	case errors.Is(err, domain.ErrValidation):
		code = "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = "STORE_UNAVAILABLE"
	}
	return domain.ErrorPayload{Code: code, Message: err.Error()}
}
