package bridge

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tasksync/backend/internal/event"
)

// RedisBridge distributes envelopes over Redis pub/sub, one channel per
// user. Pub/sub gives at-most-once semantics, which is enough here: if a
// user has no sessions on a peer instance there is nothing to miss.
//
// Every publish is stamped with this instance's id and the subscriber drops
// own-origin envelopes. The pattern subscription matches the instance's own
// publishes too, and the local sessions were already served before the
// publish.
type RedisBridge struct {
	rdb *redis.Client
	id  string
}

func NewRedisBridge(addr string) *RedisBridge {
	return &RedisBridge{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		id:  uuid.NewString(),
	}
}

// Ping verifies the Redis connection. Called once at startup so a
// misconfigured address fails fast instead of silently dropping every
// publish.
func (b *RedisBridge) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBridge) Publish(ctx context.Context, userID string, env event.Envelope) error {
	env.Origin = b.id
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(userID), payload).Err()
}

// Subscribe pattern-subscribes to all user channels and decodes incoming
// payloads. go-redis reconnects the subscription on connection loss, so the
// returned channel keeps producing across Redis restarts. Undecodable
// payloads are logged and skipped.
func (b *RedisBridge) Subscribe(ctx context.Context, pattern string) (<-chan event.Envelope, error) {
	pubsub := b.rdb.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan event.Envelope, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				env, err := event.DecodeEnvelope([]byte(msg.Payload))
				if err != nil {
					log.Printf("bridge: dropping bad payload on %s: %v", msg.Channel, err)
					continue
				}
				if env.Origin == b.id {
					continue
				}
				out <- env
			}
		}
	}()
	return out, nil
}

func (b *RedisBridge) Close() error {
	return b.rdb.Close()
}
