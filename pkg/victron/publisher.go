package victron

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/victronbms/gateway/pkg/can"
	"github.com/victronbms/gateway/pkg/cvl"
	"github.com/victronbms/gateway/pkg/energy"
	"github.com/victronbms/gateway/pkg/eventbus"
	"github.com/victronbms/gateway/pkg/tinybms"
)

// BreakerState is the publisher's per-bus circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ChannelMetrics accumulates per-frame-ID counters.
type ChannelMetrics struct {
	Transmitted  uint64
	SkippedCached uint64
	RateLimited  uint64
	Failed       uint64
}

// Metrics is a snapshot of the publisher's breaker, limiter, and
// per-channel state.
type Metrics struct {
	Breaker        BreakerState
	PeerConnected  bool
	Channels       map[uint32]ChannelMetrics
	RateLimitDrops uint64
}

// LiveDataSource supplies the current battery snapshot. *tinybms.Client
// does not implement this directly; pkg/gateway wires a small adapter
// reading the shared register cache via tinybms.Derive.
type LiveDataSource func() tinybms.LiveData

// EnergySource supplies the latest energy counters.
type EnergySource func() energy.Counters

// EnergySampler integrates one Wh sample. The publisher calls it once
// per tick, at the same cadence it recomputes CVL, so the energy
// accumulator never needs its own ticker.
type EnergySampler func(packV, packA float64, now time.Time)

type channel struct {
	id        uint32
	period    time.Duration
	cacheable bool
	encode    func(p *Publisher) [8]byte
}

// Publisher is the tick-driven CAN scheduler: it owns the channel
// table, the keepalive/handshake dialogue, the circuit breaker, the
// token-bucket rate limiter, and the FNV-1a frame-dedup cache.
type Publisher struct {
	bus   can.Bus
	cfg   Config
	log   *logrus.Entry
	busCh *eventbus.Bus

	getLiveData  LiveDataSource
	getEnergy    EnergySource
	sampleEnergy EnergySampler
	getOnline    func() bool

	channels []channel
	nextDue  map[uint32]time.Time
	lastHash map[uint32]uint64

	mu             sync.Mutex
	metrics        map[uint32]*ChannelMetrics
	rateLimitDrops uint64

	cvlMu         sync.Mutex
	cvlConfig     cvl.Config
	cvlState      cvl.State
	cvlOutput     cvl.Output
	haveCVLOutput bool

	breaker          BreakerState
	consecutiveFails int
	halfOpenSuccess  int
	breakerOpenedAt  time.Time

	tokens     float64
	lastRefill time.Time

	lastKeepaliveSent time.Time
	lastHandshakeSeen time.Time
	peerConnected     bool
}

// New builds a Publisher wired to bus and the live data sources.
// getOnline reports serial-link health for the 0x35A online-indicator
// bits. cvlCfg seeds the CVL controller the publisher now owns and
// recomputes synchronously on every tick; sampleEnergy integrates one
// Wh sample per tick at that same cadence.
func New(bus can.Bus, cfg Config, busCh *eventbus.Bus, log *logrus.Entry,
	getLiveData LiveDataSource, cvlCfg cvl.Config, sampleEnergy EnergySampler, getEnergy EnergySource, getOnline func() bool) *Publisher {

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Publisher{
		bus:          bus,
		cfg:          cfg,
		log:          log.WithField("component", "victron"),
		busCh:        busCh,
		getLiveData:  getLiveData,
		getEnergy:    getEnergy,
		sampleEnergy: sampleEnergy,
		getOnline:    getOnline,
		nextDue:      map[uint32]time.Time{},
		lastHash:     map[uint32]uint64{},
		metrics:      map[uint32]*ChannelMetrics{},
		tokens:       float64(cfg.RateLimiterCapacity),
		lastRefill:   time.Now(),
		cvlConfig:    cvlCfg,
	}
	p.channels = p.buildChannels()
	for _, ch := range p.channels {
		p.metrics[ch.id] = &ChannelMetrics{}
	}
	bus.Subscribe(p)
	return p
}

// CVLOutput returns the most recently computed CVL output.
func (p *Publisher) CVLOutput() cvl.Output {
	p.cvlMu.Lock()
	defer p.cvlMu.Unlock()
	return p.cvlOutput
}

// CVLConfig returns the CVL controller's current configuration.
func (p *Publisher) CVLConfig() cvl.Config {
	p.cvlMu.Lock()
	defer p.cvlMu.Unlock()
	return p.cvlConfig
}

// SetCVLConfig replaces the CVL controller's configuration; it takes
// effect on the next tick.
func (p *Publisher) SetCVLConfig(cfg cvl.Config) {
	p.cvlMu.Lock()
	p.cvlConfig = cfg
	p.cvlMu.Unlock()
}

// computeCVL recomputes the CVL output synchronously, immediately
// before 0x351/0x35A are encoded on this same tick, and integrates one
// energy sample at the same cadence. It is the sole writer of
// cvlState/cvlOutput; no separate goroutine ever touches them.
func (p *Publisher) computeCVL(now time.Time) {
	live := p.getLiveData()

	p.cvlMu.Lock()
	out, state := cvl.Compute(live, p.cvlState, p.cvlConfig)
	prevPhase := p.cvlOutput.Phase
	changed := p.haveCVLOutput && prevPhase != out.Phase
	p.cvlState = state
	p.cvlOutput = out
	p.haveCVLOutput = true
	p.cvlMu.Unlock()

	if p.sampleEnergy != nil {
		p.sampleEnergy(live.PackV, live.PackA, now)
	}

	if p.busCh != nil {
		p.busCh.Publish(eventbus.CvlLimitsUpdated, nil)
		if changed {
			p.busCh.Publish(eventbus.CvlStateChanged, nil)
		}
	}
}

// buildChannels returns the frame table in transmission-priority
// order. CVL itself is recomputed once per tick in computeCVL, before
// this table is walked, so every entry reading CVLOutput() sees the
// value computed for the current tick, never a stale one.
func (p *Publisher) buildChannels() []channel {
	sec := func(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
	return []channel{
		{IDKeepalive, sec(p.cfg.KeepaliveIntervalMs), false, func(p *Publisher) [8]byte { return EncodeKeepalive() }},
		{IDChargeLimits, time.Second, false, func(p *Publisher) [8]byte { return EncodeChargeLimits(p.CVLOutput()) }},
		{IDSOC, time.Second, true, func(p *Publisher) [8]byte { return EncodeSOC(p.getLiveData()) }},
		{IDVIT, time.Second, true, func(p *Publisher) [8]byte { return EncodeVIT(p.getLiveData()) }},
		{IDAlarms, time.Second, false, func(p *Publisher) [8]byte {
			return EncodeAlarms(p.getLiveData(), p.CVLOutput(), p.getOnline())
		}},
		{IDManufacturer, 10 * time.Second, true, func(p *Publisher) [8]byte { return EncodeManufacturer(p.cfg.Identity) }},
		{IDFWCapacity, 10 * time.Second, true, func(p *Publisher) [8]byte { return EncodeFWCapacity(p.getLiveData()) }},
		{IDBatteryName0, 10 * time.Second, true, func(p *Publisher) [8]byte { return EncodeBatteryName0(p.cfg.Identity) }},
		{IDBatteryName1, 10 * time.Second, true, func(p *Publisher) [8]byte { return EncodeBatteryName1(p.cfg.Identity) }},
		{IDModuleStatus, time.Second, true, func(p *Publisher) [8]byte {
			status := ModuleStatus{OnlineModules: 1}
			if !p.getOnline() {
				status = ModuleStatus{OfflineModules: 1}
			}
			return EncodeModuleStatus(status)
		}},
		{IDMinMaxCellTemp, time.Second, true, func(p *Publisher) [8]byte { return EncodeMinMaxCellTemp(p.getLiveData()) }},
		{IDMinCellID, time.Second, true, func(p *Publisher) [8]byte { return EncodeMinCellID(p.getLiveData()) }},
		{IDMaxCellID, time.Second, true, func(p *Publisher) [8]byte { return EncodeMaxCellID(p.getLiveData()) }},
		{IDMinTempID, time.Second, true, func(p *Publisher) [8]byte { return EncodeMinTempID(p.getLiveData()) }},
		{IDMaxTempID, time.Second, true, func(p *Publisher) [8]byte { return EncodeMaxTempID(p.getLiveData()) }},
		{IDEnergy, time.Second, false, func(p *Publisher) [8]byte { return EncodeEnergy(p.getEnergy()) }},
		{IDCapacity, 5 * time.Second, true, func(p *Publisher) [8]byte { return EncodeCapacity(p.getLiveData()) }},
		{IDSerial0, 10 * time.Second, true, func(p *Publisher) [8]byte { return EncodeSerial0(p.getLiveData()) }},
		{IDSerial1, 10 * time.Second, true, func(p *Publisher) [8]byte { return EncodeSerial1(p.getLiveData()) }},
		{IDFamily, 10 * time.Second, true, func(p *Publisher) [8]byte { return EncodeFamily(p.getLiveData()) }},
	}
}

// Handle implements can.FrameListener: it watches for the GX
// handshake reply on 0x307 (bytes 4-6 spelling "VIC") to mark the
// peer connected.
func (p *Publisher) Handle(frame can.Frame) {
	if frame.ID != IDHandshake {
		return
	}
	if frame.DLC < 7 {
		return
	}
	if frame.Data[4] == 'V' && frame.Data[5] == 'I' && frame.Data[6] == 'C' {
		p.mu.Lock()
		wasConnected := p.peerConnected
		p.peerConnected = true
		p.lastHandshakeSeen = time.Now()
		p.mu.Unlock()
		if p.busCh != nil {
			p.busCh.Publish(eventbus.CanHandshake, nil)
			if !wasConnected {
				p.busCh.Publish(eventbus.CanPeerConnected, nil)
			}
		}
	}
}

// Run ticks the scheduler at cfg.TickIntervalMs until stop closes.
func (p *Publisher) Run(stop <-chan struct{}) {
	interval := time.Duration(p.cfg.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			p.tick(now)
		}
	}
}

func (p *Publisher) tick(now time.Time) {
	p.computeCVL(now)
	p.checkPeerTimeout(now)
	p.refillTokens(now)

	for i := range p.channels {
		ch := p.channels[i]
		due, ok := p.nextDue[ch.id]
		if ok && now.Before(due) {
			continue
		}
		p.nextDue[ch.id] = now.Add(ch.period)
		p.send(ch, now)
	}
}

func (p *Publisher) checkPeerTimeout(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.peerConnected {
		return
	}
	timeout := time.Duration(p.cfg.KeepaliveTimeoutMs) * time.Millisecond
	if now.Sub(p.lastHandshakeSeen) > timeout {
		p.peerConnected = false
		if p.busCh != nil {
			p.busCh.Publish(eventbus.CanPeerDisconnected, nil)
		}
	}
}

func (p *Publisher) refillTokens(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := now.Sub(p.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := elapsed.Seconds() / p.cfg.RateLimiterRefill.Seconds()
	p.tokens += add
	if p.tokens > float64(p.cfg.RateLimiterCapacity) {
		p.tokens = float64(p.cfg.RateLimiterCapacity)
	}
	p.lastRefill = now
}

func (p *Publisher) takeToken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokens < 1 {
		return false
	}
	p.tokens--
	return true
}

func (p *Publisher) breakerAllows(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.breaker {
	case BreakerOpen:
		if now.Sub(p.breakerOpenedAt) >= p.cfg.BreakerOpenDuration {
			p.breaker = BreakerHalfOpen
			p.halfOpenSuccess = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (p *Publisher) recordResult(ok bool, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.consecutiveFails = 0
		switch p.breaker {
		case BreakerHalfOpen:
			p.halfOpenSuccess++
			if p.halfOpenSuccess >= p.cfg.BreakerHalfOpenSuccesses {
				p.breaker = BreakerClosed
			}
		case BreakerOpen:
			p.breaker = BreakerHalfOpen
			p.halfOpenSuccess = 1
		}
		return
	}
	p.consecutiveFails++
	if p.breaker == BreakerHalfOpen {
		p.breaker = BreakerOpen
		p.breakerOpenedAt = now
		return
	}
	if p.consecutiveFails >= p.cfg.BreakerFailureThreshold {
		p.breaker = BreakerOpen
		p.breakerOpenedAt = now
	}
}

func fnv1a(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// send applies the dedup cache, circuit breaker, and rate limiter in
// that order, then transmits and records metrics. Keepalive, the CVL
// frame, alarms, and the energy frame are never cache-eligible: they
// always transmit on schedule.
func (p *Publisher) send(ch channel, now time.Time) {
	metric := p.metrics[ch.id]
	payload := ch.encode(p)

	if ch.cacheable {
		h := fnv1a(payload[:])
		if prev, ok := p.lastHash[ch.id]; ok && prev == h {
			p.mu.Lock()
			metric.SkippedCached++
			p.mu.Unlock()
			return
		}
		p.lastHash[ch.id] = h
	}

	if !p.breakerAllows(now) {
		p.mu.Lock()
		metric.Failed++
		p.mu.Unlock()
		return
	}

	if !p.takeToken() {
		p.mu.Lock()
		metric.RateLimited++
		p.rateLimitDrops++
		p.mu.Unlock()
		return
	}

	frame := can.Frame{ID: ch.id, DLC: 8, Data: payload}
	err := p.bus.Send(frame)
	p.recordResult(err == nil, now)

	p.mu.Lock()
	if err != nil {
		metric.Failed++
		p.log.WithError(err).WithField("id", ch.id).Warn("CAN send failed")
	} else {
		metric.Transmitted++
	}
	p.mu.Unlock()

	if p.busCh != nil {
		if err != nil {
			p.busCh.Publish(eventbus.CanBusError, []byte(err.Error()))
		} else {
			p.busCh.Publish(eventbus.CanFrameTransmitted, nil)
		}
	}

	if ch.id == IDKeepalive {
		p.mu.Lock()
		p.lastKeepaliveSent = now
		p.mu.Unlock()
	}
}

// Metrics returns a snapshot of breaker state, peer connectivity, and
// every channel's counters.
func (p *Publisher) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Metrics{
		Breaker:        p.breaker,
		PeerConnected:  p.peerConnected,
		RateLimitDrops: p.rateLimitDrops,
		Channels:       make(map[uint32]ChannelMetrics, len(p.metrics)),
	}
	for id, m := range p.metrics {
		out.Channels[id] = *m
	}
	return out
}
