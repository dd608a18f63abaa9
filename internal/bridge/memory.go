package bridge

import (
	"context"
	"log"
	"sync"

	"github.com/tasksync/backend/internal/event"
)

// MemoryBridge is an in-process Bridge used by tests and single-binary
// development setups. Multiple Broadcasters attached to the same
// MemoryBridge behave like instances sharing a pub/sub medium: every
// subscriber receives every published envelope except its own (matching
// pub/sub, where a publisher does not hear itself on the channel it holds no
// subscription for — here each subscriber handle is its own "instance").
type MemoryBridge struct {
	mu   sync.Mutex
	subs []chan event.Envelope
}

func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{}
}

// Instance returns a Bridge handle representing one server instance.
// Envelopes published through a handle are delivered to every other
// handle's subscribers, never back to the publisher's own.
func (m *MemoryBridge) Instance() Bridge {
	return &memoryInstance{parent: m}
}

func (m *MemoryBridge) publish(env event.Envelope, skip chan event.Envelope) {
	m.mu.Lock()
	subs := append([]chan event.Envelope(nil), m.subs...)
	m.mu.Unlock()

	for _, sub := range subs {
		if sub == skip {
			continue
		}
		select {
		case sub <- env:
		default:
			// Slow subscriber; dropping is the same trade pub/sub makes.
			log.Printf("bridge: dropping envelope for slow subscriber")
		}
	}
}

func (m *MemoryBridge) subscribe(ctx context.Context) chan event.Envelope {
	ch := make(chan event.Envelope, 64)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}()
	return ch
}

type memoryInstance struct {
	parent *MemoryBridge
	mu     sync.Mutex
	sub    chan event.Envelope
}

func (i *memoryInstance) Publish(_ context.Context, _ string, env event.Envelope) error {
	i.mu.Lock()
	skip := i.sub
	i.mu.Unlock()
	i.parent.publish(env, skip)
	return nil
}

func (i *memoryInstance) Subscribe(ctx context.Context, _ string) (<-chan event.Envelope, error) {
	ch := i.parent.subscribe(ctx)
	i.mu.Lock()
	i.sub = ch
	i.mu.Unlock()
	return ch, nil
}

func (i *memoryInstance) Close() error {
	return nil
}
