package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SocketResolver maps a logical user to their current live socket, zero or one.
type SocketResolver interface {
	SocketForUser(ctx context.Context, accessCode, userID string) (string, error)
}

// Broadcaster fans events out over Redis pub/sub so a room broadcast reaches
// connections held by other server processes, not just the local one. Each
// room maps to one channel; a directed send resolves the user's current socket
// and publishes on that socket's channel.
type Broadcaster struct {
	client   *redis.Client
	resolver SocketResolver
}

func NewBroadcaster(client *redis.Client, resolver SocketResolver) *Broadcaster {
	return &Broadcaster{client: client, resolver: resolver}
}

func (b *Broadcaster) Broadcast(ctx context.Context, rooms []string, event string, payload any) error {
	frame, err := encodeEnvelope("", event, payload)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		envelope := frame
		envelope.Room = room
		raw, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		if err := b.client.Publish(ctx, channelFor(room), raw).Err(); err != nil {
			return wrap("publish "+room, err)
		}
	}
	return nil
}

func (b *Broadcaster) SendToUser(ctx context.Context, accessCode, userID string, event string, payload any) error {
	socketID, err := b.resolver.SocketForUser(ctx, accessCode, userID)
	if err != nil {
		return err
	}
	if socketID == "" {
		// No live connection; a directed send to an offline user is dropped.
		return nil
	}
	room := domain.SocketRoom(socketID)
	envelope, err := encodeEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(room), raw).Err(); err != nil {
		return wrap("publish user "+userID, err)
	}
	return nil
}

// Subscribe bridges the pub/sub channels for the given rooms into a single
// envelope stream. The cancel function must be called to release the
// subscription.
func (b *Broadcaster) Subscribe(ctx context.Context, rooms ...string) (<-chan app.Envelope, func(), error) {
	channels := make([]string, len(rooms))
	for i, room := range rooms {
		channels[i] = channelFor(room)
	}
	sub := b.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, wrap("subscribe", err)
	}

	out := make(chan app.Envelope, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var envelope app.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Printf("dropping malformed envelope on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- envelope:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func channelFor(room string) string { return "fanout:" + room }

func encodeEnvelope(room, event string, payload any) (app.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return app.Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return app.Envelope{Room: room, Event: event, Payload: raw}, nil
}
