// Package eventbus implements the in-process publish/subscribe fabric
// (Core C.1): typed events, bounded per-subscriber queues, a pooled
// payload allocator, and a fan-out dispatcher. It is the leaf every
// other subsystem publishes to or subscribes through.
package eventbus

import (
	"sync/atomic"
	"time"
)

// ID identifies an event kind. The zero value is never published.
type ID uint16

const (
	_ ID = iota

	BmsRegisterUpdated
	BmsLiveData
	BmsOnline
	BmsOffline
	SerialCommError

	CvlStateChanged
	CvlLimitsUpdated

	CanPeerConnected
	CanPeerDisconnected
	CanBusError
	CanFrameTransmitted
	CanHandshake

	EnergyPersisted

	StorageHistoryReady
	StorageHistoryUnavailable
	OtaUploadReady
)

var names = map[ID]string{
	BmsRegisterUpdated:        "BmsRegisterUpdated",
	BmsLiveData:               "BmsLiveData",
	BmsOnline:                 "BmsOnline",
	BmsOffline:                "BmsOffline",
	SerialCommError:           "SerialCommError",
	CvlStateChanged:           "CvlStateChanged",
	CvlLimitsUpdated:          "CvlLimitsUpdated",
	CanPeerConnected:          "CanPeerConnected",
	CanPeerDisconnected:       "CanPeerDisconnected",
	CanBusError:               "CanBusError",
	CanFrameTransmitted:       "CanFrameTransmitted",
	CanHandshake:              "CanHandshake",
	EnergyPersisted:           "EnergyPersisted",
	StorageHistoryReady:       "StorageHistoryReady",
	StorageHistoryUnavailable: "StorageHistoryUnavailable",
	OtaUploadReady:            "OtaUploadReady",
}

// String implements fmt.Stringer, used by logrus fields.
func (id ID) String() string {
	if name, ok := names[id]; ok {
		return name
	}
	return "Unknown"
}

// Event is the tagged sum delivered to subscribers. Payload is the
// bus-owned copy made at Publish time; the bus returns it to the
// pool (or drops the heap allocation) once every matching subscriber
// has consumed or dropped it.
type Event struct {
	ID        ID
	Payload   []byte
	Published time.Time

	refs *refCounter
}

// release decrements the shared reference count and returns the
// payload to the pool once the last subscriber has consumed it.
func (e Event) release(pool *pool) {
	if e.refs == nil {
		return
	}
	if e.refs.dec() {
		pool.put(e.Payload)
	}
}

// refCounter is shared by every copy of an Event handed to matching
// subscribers at publish time. Subscribers run on independent
// goroutines, so the count is decremented atomically.
type refCounter struct {
	n atomic.Int32
}

func newRefCounter(n int) *refCounter {
	rc := &refCounter{}
	rc.n.Store(int32(n))
	return rc
}

// dec returns true when the last reference has been released.
func (r *refCounter) dec() bool {
	if r == nil {
		return false
	}
	return r.n.Add(-1) <= 0
}
