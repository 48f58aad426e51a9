package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const questionStartTTL = 300 * time.Second

// SessionRepository keeps all live session state in Redis so any server
// process can pick it up. Keys are namespaced per access code:
//
//	game:{code}                              serialized GameSession, TTL refreshed on write
//	game:participants:{code}                 hash userId -> Participant
//	game:answers:{code}:{questionUid}        hash userId -> Answer
//	game:leaderboard:{code}                  zset member=userId score=points
//	game:question_start:{code}:{uid}:{user}  epoch-ms string, 300s TTL
//	game:socket:u2s:{code} / s2u:{code}      socket identity hashes
type SessionRepository struct {
	client *redis.Client
	store  app.GameStore
	ttl    time.Duration
}

func NewSessionRepository(client *redis.Client, store app.GameStore, ttl time.Duration) *SessionRepository {
	return &SessionRepository{client: client, store: store, ttl: ttl}
}

// Initialize loads the durable instance and its question set and writes a
// fresh pending session. Fails with ErrGameNotFound when the template is
// missing or has no questions.
func (r *SessionRepository) Initialize(ctx context.Context, accessCode string) (*domain.GameSession, error) {
	instance, err := r.store.InstanceByAccessCode(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	questions, err := r.store.QuestionsForTemplate(ctx, instance.TemplateID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: template %s has no questions", domain.ErrGameNotFound, instance.TemplateID)
	}

	uids := make([]string, len(questions))
	for i, q := range questions {
		uids[i] = q.UID
	}
	session := &domain.GameSession{
		SessionID:            instance.ID,
		AccessCode:           accessCode,
		Status:               domain.StatusPending,
		Mode:                 instance.Mode,
		InitiatorUserID:      instance.InitiatorUserID,
		QuestionUIDs:         uids,
		CurrentQuestionIndex: -1,
		Settings:             instance.Settings,
		Timer:                domain.TimerState{Status: domain.TimerStopped, QuestionUID: domain.UnknownQuestionUID},
	}
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if err := r.Save(ctx, accessCode, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Load returns (nil, nil) when the session is absent or expired.
func (r *SessionRepository) Load(ctx context.Context, accessCode string) (*domain.GameSession, error) {
	raw, err := r.client.Get(ctx, sessionKey(accessCode)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load session", err)
	}
	var session domain.GameSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Save overwrites the session blob and refreshes the TTL on every write, for
// the blob and the derived collections alike.
func (r *SessionRepository) Save(ctx context.Context, accessCode string, session *domain.GameSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, sessionKey(accessCode), raw, r.ttl)
	pipe.Expire(ctx, participantsKey(accessCode), r.ttl)
	pipe.Expire(ctx, leaderboardKey(accessCode), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("save session", err)
	}
	return nil
}

func (r *SessionRepository) UpsertParticipant(ctx context.Context, accessCode string, p domain.Participant) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, participantsKey(accessCode), p.UserID, raw)
	pipe.Expire(ctx, participantsKey(accessCode), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("upsert participant", err)
	}
	return nil
}

func (r *SessionRepository) Participant(ctx context.Context, accessCode, userID string) (*domain.Participant, error) {
	raw, err := r.client.HGet(ctx, participantsKey(accessCode), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get participant", err)
	}
	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal participant: %w", err)
	}
	return &p, nil
}

func (r *SessionRepository) Participants(ctx context.Context, accessCode string) ([]domain.Participant, error) {
	all, err := r.client.HGetAll(ctx, participantsKey(accessCode)).Result()
	if err != nil {
		return nil, wrap("list participants", err)
	}
	participants := make([]domain.Participant, 0, len(all))
	for _, raw := range all {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		participants = append(participants, p)
	}
	return participants, nil
}

func (r *SessionRepository) SetParticipantOnline(ctx context.Context, accessCode, userID string, online bool) error {
	p, err := r.Participant(ctx, accessCode, userID)
	if err != nil {
		return err
	}
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	p.Online = online
	return r.UpsertParticipant(ctx, accessCode, *p)
}

func (r *SessionRepository) SaveAnswer(ctx context.Context, accessCode, userID string, answer domain.Answer) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	key := answersKey(accessCode, answer.QuestionUID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, userID, raw)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("save answer", err)
	}
	return nil
}

func (r *SessionRepository) Answer(ctx context.Context, accessCode, questionUID, userID string) (*domain.Answer, error) {
	raw, err := r.client.HGet(ctx, answersKey(accessCode, questionUID), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get answer", err)
	}
	var answer domain.Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, fmt.Errorf("unmarshal answer: %w", err)
	}
	return &answer, nil
}

// AddScore moves the leaderboard ordering and the participant record together;
// the two views may diverge only within this one step.
func (r *SessionRepository) AddScore(ctx context.Context, accessCode, userID string, delta int) (int, error) {
	total, err := r.client.ZIncrBy(ctx, leaderboardKey(accessCode), float64(delta), userID).Result()
	if err != nil {
		return 0, wrap("leaderboard incr", err)
	}
	p, err := r.Participant(ctx, accessCode, userID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, domain.ErrParticipantNotFound
	}
	p.Score += delta
	if err := r.UpsertParticipant(ctx, accessCode, *p); err != nil {
		return 0, err
	}
	return int(total), nil
}

// Leaderboard returns entries by score descending. Ties follow store member
// ordering. limit <= 0 means the whole board.
func (r *SessionRepository) Leaderboard(ctx context.Context, accessCode string, limit int) ([]domain.LeaderboardEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := r.client.ZRevRangeWithScores(ctx, leaderboardKey(accessCode), 0, stop).Result()
	if err != nil {
		return nil, wrap("leaderboard range", err)
	}
	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, member := range members {
		userID, _ := member.Member.(string)
		entry := domain.LeaderboardEntry{UserID: userID, Score: int(member.Score)}
		if p, err := r.Participant(ctx, accessCode, userID); err == nil && p != nil {
			entry.Username = p.Username
			entry.Avatar = p.Avatar
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MarkQuestionStart records the elapsed-time baseline with SetNX so only the
// first write per user and question sticks; the stored value is returned so
// reconnection scoring keeps the original baseline.
func (r *SessionRepository) MarkQuestionStart(ctx context.Context, accessCode, questionUID, userID string, at time.Time) (time.Time, error) {
	key := questionStartKey(accessCode, questionUID, userID)
	if err := r.client.SetNX(ctx, key, strconv.FormatInt(at.UnixMilli(), 10), questionStartTTL).Err(); err != nil {
		return time.Time{}, wrap("mark question start", err)
	}
	raw, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return at, nil
	}
	if err != nil {
		return time.Time{}, wrap("read question start", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return at, nil
	}
	return time.UnixMilli(ms), nil
}

// BindSocket points the user at a new socket, superseding any previous one,
// and returns the socket that was replaced.
func (r *SessionRepository) BindSocket(ctx context.Context, accessCode, userID, socketID string) (string, error) {
	previous, err := r.client.HGet(ctx, userToSocketKey(accessCode), userID).Result()
	if err != nil && err != redis.Nil {
		return "", wrap("read socket binding", err)
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, userToSocketKey(accessCode), userID, socketID)
	pipe.HSet(ctx, socketToUserKey(accessCode), socketID, userID)
	if previous != "" && previous != socketID {
		pipe.HDel(ctx, socketToUserKey(accessCode), previous)
	}
	pipe.Expire(ctx, userToSocketKey(accessCode), r.ttl)
	pipe.Expire(ctx, socketToUserKey(accessCode), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", wrap("bind socket", err)
	}
	return previous, nil
}

func (r *SessionRepository) SocketForUser(ctx context.Context, accessCode, userID string) (string, error) {
	socketID, err := r.client.HGet(ctx, userToSocketKey(accessCode), userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", wrap("resolve socket", err)
	}
	return socketID, nil
}

// UnbindSocket removes the mapping only if socketID is still the current one,
// so a stale disconnect never clobbers a fresh reconnection.
func (r *SessionRepository) UnbindSocket(ctx context.Context, accessCode, userID, socketID string) (bool, error) {
	current, err := r.client.HGet(ctx, userToSocketKey(accessCode), userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, wrap("read socket binding", err)
	}
	if current != socketID {
		return false, nil
	}
	pipe := r.client.Pipeline()
	pipe.HDel(ctx, userToSocketKey(accessCode), userID)
	pipe.HDel(ctx, socketToUserKey(accessCode), socketID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, wrap("unbind socket", err)
	}
	return true, nil
}

func sessionKey(code string) string      { return "game:" + code }
func participantsKey(code string) string { return "game:participants:" + code }
func leaderboardKey(code string) string  { return "game:leaderboard:" + code }
func answersKey(code, uid string) string { return "game:answers:" + code + ":" + uid }
func questionStartKey(code, uid, user string) string {
	return "game:question_start:" + code + ":" + uid + ":" + user
}
func userToSocketKey(code string) string { return "game:socket:u2s:" + code }
func socketToUserKey(code string) string { return "game:socket:s2u:" + code }

// wrap maps a closed client onto the store-unavailable sentinel so callers can
// degrade instead of crashing.
func wrap(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w", op, domain.ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
