// Package energy implements the thread-safe Wh-in / Wh-out
// integrator (Core C.2): a single mutex protects two
// non-negative f64 counters and the timestamp of the previous
// integration tick, with write-coalesced, hysteresis-gated
// persistence.
package energy

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/victronbms/gateway/pkg/eventbus"
)

// Counters is an immutable snapshot of the two Wh totals.
type Counters struct {
	ChargedWh    float64
	DischargedWh float64
}

// maxSampleGap rejects samples implying a clock skew or missed-tick
// gap larger than 60 seconds.
const maxSampleGap = 60 * time.Second

// persistInterval and persistThresholdWh gate the background
// persistence hook: it writes only if 60s have passed AND either
// counter moved by at least 10 Wh since the last write.
const (
	persistInterval    = 60 * time.Second
	persistThresholdWh = 10.0
)

// Accumulator owns the two counters. The zero value is not usable;
// use New.
type Accumulator struct {
	mu sync.Mutex

	charged    float64
	discharged float64
	lastTick   time.Time
	haveTick   bool

	lastPersisted Counters
	lastPersistAt time.Time

	log   *logrus.Entry
	bus   *eventbus.Bus
	store Store
}

// Store is the non-volatile persistence seam; pkg/config provides an
// ini.v1-backed implementation.
type Store interface {
	LoadEnergyCounters() (Counters, error)
	SaveEnergyCounters(Counters) error
}

// New loads the initial counters from store (sanitizing NaN/Inf/
// negative values to zero), falling back to zero if
// the store is empty or errors.
func New(store Store, bus *eventbus.Bus, log *logrus.Entry) *Accumulator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &Accumulator{
		log:   log.WithField("component", "energy"),
		bus:   bus,
		store: store,
	}
	if store != nil {
		if c, err := store.LoadEnergyCounters(); err == nil {
			a.charged = sanitize(c.ChargedWh)
			a.discharged = sanitize(c.DischargedWh)
		} else {
			a.log.WithError(err).Warn("no persisted energy counters, starting from zero")
		}
	}
	a.lastPersisted = Counters{ChargedWh: a.charged, DischargedWh: a.discharged}
	a.lastPersistAt = time.Now()
	return a
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Sample integrates one (pack_v, pack_a, now) observation. Samples
// whose implied Δt is non-positive or exceeds maxSampleGap are
// rejected and logged rather than integrated.
func (a *Accumulator) Sample(packV, packA float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.haveTick {
		a.lastTick = now
		a.haveTick = true
		return
	}
	dt := now.Sub(a.lastTick)
	a.lastTick = now
	if dt <= 0 || dt > maxSampleGap {
		a.log.WithField("delta", dt).Warn("rejecting energy sample: non-positive or excessive delta")
		return
	}

	dtHours := dt.Hours()
	e := packV * packA * dtHours
	if e > 0 {
		a.charged += e
	} else {
		a.discharged += -e
	}
	a.charged = sanitize(a.charged)
	a.discharged = sanitize(a.discharged)
}

// Counters returns a snapshot of the two totals.
func (a *Accumulator) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Counters{ChargedWh: a.charged, DischargedWh: a.discharged}
}

// Set overwrites both counters atomically, used by the set_energy_counters
// command surface. Both values are sanitized.
func (a *Accumulator) Set(charged, discharged float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.charged = sanitize(charged)
	a.discharged = sanitize(discharged)
}

// MaybePersist writes the counters if persistInterval has elapsed
// since the last write and either counter has moved by at least
// persistThresholdWh. It is safe to call from a ticking goroutine
// every poll tick; it no-ops cheaply otherwise.
func (a *Accumulator) MaybePersist(now time.Time) {
	a.mu.Lock()
	if a.store == nil || now.Sub(a.lastPersistAt) < persistInterval {
		a.mu.Unlock()
		return
	}
	moved := math.Abs(a.charged-a.lastPersisted.ChargedWh) >= persistThresholdWh ||
		math.Abs(a.discharged-a.lastPersisted.DischargedWh) >= persistThresholdWh
	if !moved {
		a.lastPersistAt = now
		a.mu.Unlock()
		return
	}
	snapshot := Counters{ChargedWh: a.charged, DischargedWh: a.discharged}
	a.mu.Unlock()

	if err := a.store.SaveEnergyCounters(snapshot); err != nil {
		a.log.WithError(err).Warn("energy persistence failed")
		return
	}

	a.mu.Lock()
	a.lastPersisted = snapshot
	a.lastPersistAt = now
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(eventbus.EnergyPersisted, nil)
	}
}

// Run drives MaybePersist on a steady tick until stop is closed. It is
// the background persistence worker.
func (a *Accumulator) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			a.MaybePersist(now)
		}
	}
}
