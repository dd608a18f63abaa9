package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tasksync/backend/internal/bridge"
	"github.com/tasksync/backend/internal/config"
	"github.com/tasksync/backend/internal/event"
	"github.com/tasksync/backend/internal/registry"
)

var ErrServerFull = errors.New("connection limit reached")

// publishTimeout bounds a single bridge publish so a stalled broker cannot
// back up the local delivery path.
const publishTimeout = 2 * time.Second

// Broadcaster owns the live client connections and delivers update events to
// them. For each event it resolves the owning user's local sessions through
// the registry, drops the originating device, and fans out to the rest; when
// a bridge is configured it also republishes so peer instances can repeat
// the same fan-out against their own sessions.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client

	reg    *registry.Registry
	bridge bridge.Bridge // nil disables cross-instance distribution
	cfg    *config.Config

	delivered        atomic.Int64
	droppedSends     atomic.Int64
	bridgePublishes  atomic.Int64
	bridgeDeliveries atomic.Int64
}

func NewBroadcaster(cfg *config.Config, reg *registry.Registry, br bridge.Bridge) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*client),
		reg:     reg,
		bridge:  br,
		cfg:     cfg,
	}
}

// AddClient registers a freshly upgraded connection: assigns a session ID,
// records it in the registry, and returns the client ready for its pumps to
// start. Returns ErrServerFull when the connection limit is hit.
func (b *Broadcaster) AddClient(conn *websocket.Conn, userID, deviceID string) (*client, error) {
	c := &client{
		id:         uuid.NewString(),
		userID:     userID,
		deviceID:   deviceID,
		conn:       conn,
		b:          b,
		send:       make(chan []byte, b.cfg.Gateway.SendBuffer),
		writeWait:  b.cfg.Gateway.WriteWait,
		pongWait:   b.cfg.Gateway.PongWait,
		pingPeriod: b.cfg.PingPeriod(),
	}

	b.mu.Lock()
	if max := b.cfg.Gateway.MaxConnections; max > 0 && len(b.clients) >= max {
		b.mu.Unlock()
		return nil, ErrServerFull
	}
	b.clients[c.id] = c
	b.mu.Unlock()

	b.reg.Add(c.id, userID, deviceID)
	return c, nil
}

// RemoveClient tears a client down: registry entry gone, send channel
// closed, connection map cleaned up. Safe to call from multiple paths; only
// the first call does anything.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	cur, ok := b.clients[c.id]
	if !ok || cur != c {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c.id)
	b.mu.Unlock()

	b.reg.Remove(c.id)
	close(c.send)
}

// Deliver fans an update event out to all of the user's local sessions,
// excluding any session on the originating device, and republishes on the
// bridge for peer instances. This is the entry point for events arriving
// from the stream consumer.
func (b *Broadcaster) Deliver(userID string, u event.Update, excludeDeviceID string) {
	b.deliverLocal(userID, u, excludeDeviceID)

	if b.bridge == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.bridge.Publish(ctx, userID, event.NewEnvelope(userID, u, excludeDeviceID)); err != nil {
		// Losing one cross-instance fan-out beats blocking local delivery.
		log.Printf("broadcast: bridge publish failed for user %s: %v", userID, err)
		return
	}
	b.bridgePublishes.Add(1)
}

// deliverLocal sends to local sessions only. Bridge-received envelopes come
// through here directly so they are never republished, which would loop
// forever between instances.
func (b *Broadcaster) deliverLocal(userID string, u event.Update, excludeDeviceID string) int {
	ids := b.reg.SessionsFor(userID)
	if len(ids) == 0 {
		log.Printf("broadcast: no local sessions for user %s", userID)
		return 0
	}

	targets := ids[:0]
	for _, id := range ids {
		if excludeDeviceID != "" {
			// Exclusion is per device: every session of the originating
			// device is skipped, including a second tab. Sessions that
			// never supplied a device ID are always delivered to.
			if sess, ok := b.reg.Get(id); ok && sess.DeviceID == excludeDeviceID {
				continue
			}
		}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return 0
	}

	frame, err := json.Marshal(Message{
		Type:    MsgTaskUpdate,
		Payload: TaskUpdatePayload{Type: u.Type, Data: u},
	})
	if err != nil {
		log.Printf("broadcast: marshal error: %v", err)
		return 0
	}

	sent := 0
	for _, id := range targets {
		b.mu.RLock()
		c, ok := b.clients[id]
		b.mu.RUnlock()
		if !ok {
			// Disconnected between snapshot and send; that one delivery is
			// simply lost, the client resyncs on reconnect.
			continue
		}
		if !c.enqueue(frame) {
			b.droppedSends.Add(1)
			log.Printf("broadcast: session %s too slow, disconnecting", id)
			b.RemoveClient(c)
			continue
		}
		sent++
	}
	b.delivered.Add(int64(sent))
	log.Printf("broadcast: %s to %d/%d sessions for user %s", u.Type, sent, len(ids), userID)
	return sent
}

// RunBridge consumes envelopes from peer instances and delivers them to
// local sessions only. Blocks until ctx is cancelled or the subscription
// ends. No-op when the bridge is disabled.
func (b *Broadcaster) RunBridge(ctx context.Context) error {
	if b.bridge == nil {
		return nil
	}

	sub, err := b.bridge.Subscribe(ctx, bridge.ChannelPattern)
	if err != nil {
		return err
	}
	log.Printf("broadcast: bridge subscriber started (%s)", bridge.ChannelPattern)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub:
			if !ok {
				return nil
			}
			b.bridgeDeliveries.Add(1)
			b.deliverLocal(env.UserID, env.Update, env.ExcludeDeviceID)
		}
	}
}

// Shutdown closes every live connection through the normal teardown path,
// draining the registry.
func (b *Broadcaster) Shutdown() {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) stats() (delivered, dropped, publishes, deliveries int64) {
	return b.delivered.Load(), b.droppedSends.Load(),
		b.bridgePublishes.Load(), b.bridgeDeliveries.Load()
}
