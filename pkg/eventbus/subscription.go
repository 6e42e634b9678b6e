package eventbus

import (
	"sync/atomic"
)

// Handle is the opaque token returned by Subscribe. It is required by
// both Receive and Unsubscribe.
type Handle uint64

// Subscription owns a bounded inbox, a name for diagnostics, an
// event-ID filter set, and delivery counters. The default inbox
// capacity is 32.
type Subscription struct {
	handle Handle
	name   string
	filter map[ID]bool

	inbox  chan Event
	closed atomic.Bool

	received  atomic.Uint64
	dropped   atomic.Uint64
	highWater atomic.Uint64
}

// DefaultQueueCapacity is used when Subscribe is called with
// capacity <= 0.
const DefaultQueueCapacity = 32

func newSubscription(handle Handle, name string, filter []ID, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	var set map[ID]bool
	if len(filter) > 0 {
		set = make(map[ID]bool, len(filter))
		for _, id := range filter {
			set[id] = true
		}
	}
	return &Subscription{
		handle: handle,
		name:   name,
		filter: set,
		inbox:  make(chan Event, capacity),
	}
}

// matches reports whether this subscription wants events of id. A nil
// filter set means "all events".
func (s *Subscription) matches(id ID) bool {
	if s.filter == nil {
		return true
	}
	return s.filter[id]
}

// Name returns the diagnostic name passed to Subscribe.
func (s *Subscription) Name() string { return s.name }

// Stats returns the delivery counters: received, dropped, high-water.
func (s *Subscription) Stats() (received, dropped, highWater uint64) {
	return s.received.Load(), s.dropped.Load(), s.highWater.Load()
}

func (s *Subscription) recordDepth() {
	depth := uint64(len(s.inbox))
	for {
		hw := s.highWater.Load()
		if depth <= hw || s.highWater.CompareAndSwap(hw, depth) {
			return
		}
	}
}
