package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind tags every event published on the bus. Using a closed set of
// constants (instead of free-form strings) keeps the event taxonomy
// checkable at compile time.
type Kind string

const (
	// Task lifecycle.
	KindTaskFired          Kind = "task.fired"
	KindExecutionCompleted Kind = "execution.completed"
	KindExecutionFailed    Kind = "execution.failed"
	KindExecutionTimedOut  Kind = "execution.timed_out"
	KindRetryScheduled     Kind = "retry.scheduled"

	// Channel intents, consumed by platform-specific renderers.
	KindShowPopup              Kind = "alert.show_popup"
	KindPlaySound              Kind = "alert.play_sound"
	KindShowSystemNotification Kind = "alert.show_system_notification"
	KindFlashDesktop           Kind = "alert.flash_desktop"

	// Dispatch outcomes.
	KindDispatchSuppressed Kind = "dispatch.suppressed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Kind Kind
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a subscriber for the given kinds. An empty kinds
	// list subscribes to everything.
	Subscribe(buffer int, kinds ...Kind) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{} // nil means all kinds
}

func (s *subscriber) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Kind) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(sub.ch)
		})
	}
	return sub.ch, unsub
}
