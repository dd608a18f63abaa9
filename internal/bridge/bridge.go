package bridge

import (
	"context"

	"github.com/tasksync/backend/internal/event"
)

// ChannelPattern matches every user's distribution channel. Channels are
// namespaced per user so a subscriber could filter cheaply; this service
// subscribes to all of them and filters against its own registry instead.
const ChannelPattern = "sync:user:*"

// Channel returns the distribution channel name for a user.
func Channel(userID string) string {
	return "sync:user:" + userID
}

// Bridge relays update events between server instances. Publish is
// fire-and-forget: a lost envelope only costs one cross-instance fan-out,
// which the client recovers from on reconnect. Subscribe yields an infinite
// sequence of envelopes published by peer instances; the channel closes only
// when the context is cancelled or the bridge shuts down.
//
// A nil Bridge (single-instance deployment) disables cross-instance
// distribution entirely.
type Bridge interface {
	Publish(ctx context.Context, userID string, env event.Envelope) error
	Subscribe(ctx context.Context, pattern string) (<-chan event.Envelope, error)
	Close() error
}
