package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	gateway "github.com/victronbms/gateway"
)

var errClosed = gateway.ErrClosed

// Metrics is the bus statistics surface.
type Metrics struct {
	SubscribersCount  int
	PublishedTotal    uint64
	DispatchedTotal   uint64
	DroppedTotal      uint64
	QueueCapacityTotal int
	QueueDepthCurrent  int
	PoolHits           uint64
	PoolMisses         uint64
}

// Bus is the multi-producer, multi-consumer, in-process event
// dispatcher. Publishers call Publish from any goroutine; dispatch to
// each matching subscriber's bounded inbox happens inline at publish
// time, mirroring bus_manager.go's mutex-guarded listener registry
// generalized from CAN-ID keys to event-ID keys.
type Bus struct {
	log *logrus.Entry

	mu          sync.RWMutex
	subs        map[Handle]*Subscription
	nextHandle  Handle

	pool *pool

	published  atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
}

// New creates an empty Bus.
func New(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		log:  log.WithField("component", "eventbus"),
		subs: make(map[Handle]*Subscription),
		pool: newPool(),
	}
}

// Subscribe registers a new subscriber. filter == nil matches every
// event ID. capacity <= 0 uses DefaultQueueCapacity.
func (b *Bus) Subscribe(name string, filter []ID, capacity int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextHandle++
	handle := b.nextHandle
	sub := newSubscription(handle, name, filter, capacity)
	b.subs[handle] = sub
	b.log.WithFields(logrus.Fields{"name": name, "handle": handle}).Debug("subscriber registered")
	return sub
}

// Unsubscribe removes the subscription, even if the subscriber is
// currently blocked in Receive — the blocked call observes the
// inbox close and returns ErrClosed.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.handle]; !ok {
		return
	}
	delete(b.subs, sub.handle)
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.inbox)
	}
	b.log.WithField("handle", sub.handle).Debug("subscriber removed")
}

// Publish delivers event to every subscription whose filter matches
// id. It never blocks: a full inbox drops the event for that
// subscriber only, incrementing its drop counter and the bus-wide
// dropped counter. The payload is copied into a bus-owned buffer (a
// pool slot when it fits), so the caller may reuse its slice once
// Publish returns.
func (b *Bus) Publish(id ID, payload []byte) {
	b.published.Add(1)

	b.mu.RLock()
	matching := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(id) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	if len(matching) == 0 {
		return
	}

	owned := b.ownPayload(payload)
	refs := newRefCounter(len(matching))
	now := time.Now()

	for _, sub := range matching {
		evt := Event{ID: id, Payload: owned, Published: now, refs: refs}
		select {
		case sub.inbox <- evt:
			sub.received.Add(1)
			sub.recordDepth()
			b.dispatched.Add(1)
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			evt.release(b.pool)
		}
	}
}

// ownPayload copies the caller's payload into a pool-owned (or
// heap-owned, if oversized) buffer the bus controls the lifetime of.
func (b *Bus) ownPayload(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	buf := b.pool.get(len(payload))
	copy(buf, payload)
	return buf
}

// Receive waits up to timeout for the next event on sub. It returns
// (event, true, nil) on delivery, (Event{}, false, nil) on timeout,
// or (Event{}, false, ErrClosed) once Unsubscribe has been called.
// Callers must call Release on the returned event once done reading
// its payload so pooled buffers can be reused.
func (b *Bus) Receive(sub *Subscription, timeout time.Duration) (Event, bool, error) {
	if timeout <= 0 {
		select {
		case evt, ok := <-sub.inbox:
			if !ok {
				return Event{}, false, errClosed
			}
			return evt, true, nil
		default:
			return Event{}, false, nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case evt, ok := <-sub.inbox:
		if !ok {
			return Event{}, false, errClosed
		}
		return evt, true, nil
	case <-timer.C:
		return Event{}, false, nil
	}
}

// Release returns an event's payload buffer to the pool once all
// matching subscribers have consumed or dropped it.
func (b *Bus) Release(evt Event) {
	evt.release(b.pool)
}

// Metrics returns a snapshot of the bus-wide statistics surface.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	capTotal, depthTotal := 0, 0
	for _, sub := range b.subs {
		capTotal += cap(sub.inbox)
		depthTotal += len(sub.inbox)
	}
	hits, misses := b.pool.stats()
	return Metrics{
		SubscribersCount:   len(b.subs),
		PublishedTotal:     b.published.Load(),
		DispatchedTotal:    b.dispatched.Load(),
		DroppedTotal:       b.dropped.Load(),
		QueueCapacityTotal: capTotal,
		QueueDepthCurrent:  depthTotal,
		PoolHits:           hits,
		PoolMisses:         misses,
	}
}
