package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle event types published by sitewatch components.
const (
	JobEnqueued  = "queue.job.enqueued"
	JobCompleted = "queue.job.completed"
	JobFailed    = "queue.job.failed"
	JobAbandoned = "queue.job.abandoned"

	NotifySent       = "notifier.sent"
	NotifyFailed     = "notifier.failed"
	NotifySuppressed = "notifier.suppressed"

	TriggerFired   = "scheduler.trigger.fired"
	CheckCompleted = "checks.completed"

	ConfigReloaded = "config.reload"
)

// Event is a small in-memory signal used to decouple components.
//
// Publish never blocks; slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Removing under the write lock means no Publish holds ch anymore.
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
