package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
)

// Broadcaster is an in-process fan-out for tests and single-node runs. It
// implements both app.Broadcaster and app.RoomSubscriber against a local
// subscriber registry.
type Broadcaster struct {
	resolver interface {
		SocketForUser(ctx context.Context, accessCode, userID string) (string, error)
	}

	mu   sync.RWMutex
	subs map[string]map[chan app.Envelope]struct{} // room -> subscriber channels
}

func NewBroadcaster(resolver interface {
	SocketForUser(ctx context.Context, accessCode, userID string) (string, error)
}) *Broadcaster {
	return &Broadcaster{resolver: resolver, subs: make(map[string]map[chan app.Envelope]struct{})}
}

func (b *Broadcaster) Broadcast(_ context.Context, rooms []string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	for _, room := range rooms {
		b.deliver(app.Envelope{Room: room, Event: event, Payload: raw})
	}
	return nil
}

func (b *Broadcaster) SendToUser(ctx context.Context, accessCode, userID string, event string, payload any) error {
	socketID, err := b.resolver.SocketForUser(ctx, accessCode, userID)
	if err != nil {
		return err
	}
	if socketID == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	b.deliver(app.Envelope{Room: domain.SocketRoom(socketID), Event: event, Payload: raw})
	return nil
}

func (b *Broadcaster) Subscribe(_ context.Context, rooms ...string) (<-chan app.Envelope, func(), error) {
	ch := make(chan app.Envelope, 32)
	b.mu.Lock()
	for _, room := range rooms {
		if b.subs[room] == nil {
			b.subs[room] = make(map[chan app.Envelope]struct{})
		}
		b.subs[room][ch] = struct{}{}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			for _, room := range rooms {
				delete(b.subs[room], ch)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (b *Broadcaster) deliver(envelope app.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[envelope.Room] {
		select {
		case ch <- envelope:
		default:
			// slow subscriber: drop rather than block the orchestrator
		}
	}
}
