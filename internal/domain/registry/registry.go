package registry

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/sitsense/posture-agent/internal/domain/event"
)

// Callback is a subscriber invoked synchronously on the notifying thread.
// Contract: finish in under 5ms and never block; anything slower belongs
// behind the queue, not in a subscriber.
type Callback func(ev event.Event)

// Subscription is the handle returned by Register. Go functions are not
// comparable, so removal goes by handle rather than by callback identity.
// A consequence worth stating: registering the same function twice yields
// two handles and two invocations per notify. Deduplication is the
// caller's responsibility.
type Subscription struct {
	id   uuid.UUID
	kind event.Kind
}

type entry struct {
	id uuid.UUID
	fn Callback
}

// Registry maps an event kind to an ordered subscriber list. Registration
// order is invocation order (FIFO). Mutated rarely, read on every notify,
// so Notify snapshots the list under a short RLock and invokes outside it —
// holding a lock across arbitrary-duration callbacks is the classic
// observer deadlock.
type Registry struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[event.Kind][]entry
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		subs:   make(map[event.Kind][]entry),
	}
}

// Register appends fn to the kind's subscriber list and returns its handle.
func (r *Registry) Register(kind event.Kind, fn Callback) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := entry{id: uuid.New(), fn: fn}
	r.subs[kind] = append(r.subs[kind], e)
	return Subscription{id: e.id, kind: kind}
}

// Unregister removes a single handle. Best-effort with respect to in-flight
// notifies: a Notify that already snapshotted the list may still invoke the
// callback once more. Documented, not fixed.
func (r *Registry) Unregister(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[sub.kind]
	for i, e := range list {
		if e.id == sub.id {
			r.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterAll clears every list. Shutdown path.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[event.Kind][]entry)
}

// Notify invokes every subscriber of ev.Kind strictly in registration
// order. Each invocation is individually recovered: one panicking
// subscriber never stops later subscribers and never reaches the producer.
func (r *Registry) Notify(ev event.Event) {
	r.mu.RLock()
	list := r.subs[ev.Kind]
	snapshot := make([]entry, len(list))
	copy(snapshot, list)
	r.mu.RUnlock()

	for _, e := range snapshot {
		r.invoke(e, ev)
	}
}

func (r *Registry) invoke(e entry, ev event.Event) {
	// [PANIC_RECOVERY] The producer hot path must survive any subscriber.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("SUBSCRIBER_PANIC_RECOVERED",
				"err", rec,
				"stack", string(debug.Stack()),
				"kind", ev.Kind.String(),
				"event_id", ev.ID,
				"subscription_id", e.id,
			)
		}
	}()
	e.fn(ev)
}

// Len reports the subscriber count for a kind. Diagnostics only.
func (r *Registry) Len(kind event.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[kind])
}
