// Package broadcaster fans transfer progress and cycle reports out to any
// number of subscribers, such as the interactive display and the status
// writer. Publishing never blocks: a subscriber that falls behind loses
// events.
package broadcaster

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/antjowie/syncsftp/pkg/mirror"
	"github.com/antjowie/syncsftp/pkg/mirror/transfer"
)

// DefaultBuffer is the per-subscriber queue length when none is given.
const DefaultBuffer = 100

// Kind is the type of an Event.
type Kind int

const (
	KindProgress Kind = iota
	KindCycle
)

// Event is one published item. Exactly one of Progress or Cycle is set,
// according to Kind.
type Event struct {
	Kind     Kind
	Progress transfer.Progress
	Cycle    *mirror.CycleReport
}

// Subscriber receives events on Events until unsubscribed.
type Subscriber struct {
	ID     string
	Events chan Event
	kinds  map[Kind]bool
}

func (s *Subscriber) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Broadcaster manages subscribers and distributes events. It satisfies
// transfer.Sink and mirror.Observer.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	buffer      int
	closed      bool
	dropped     atomic.Int64
}

// New creates a Broadcaster whose subscribers queue up to buffer events.
func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		buffer:      buffer,
	}
}

// Subscribe registers a subscriber for the given kinds, or all kinds if
// none are given. It returns nil after Close.
func (b *Broadcaster) Subscribe(kinds ...Kind) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Events: make(chan Event, b.buffer),
		kinds:  make(map[Kind]bool, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Report publishes transfer progress.
func (b *Broadcaster) Report(p transfer.Progress) {
	b.publish(Event{Kind: KindProgress, Progress: p})
}

// CycleFinished publishes a cycle report.
func (b *Broadcaster) CycleFinished(r mirror.CycleReport) {
	b.publish(Event{Kind: KindCycle, Cycle: &r})
}

func (b *Broadcaster) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.Events <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// queue was full.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
