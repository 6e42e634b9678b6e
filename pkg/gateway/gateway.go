// Package gateway wires the serial, CVL, CAN, and event-bus
// subsystems into one running instance and exposes the command and
// snapshot surface external callers use: reset_bms, write_register,
// set_cvl_config, set_energy_counters, and the get_* accessors.
package gateway

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/victronbms/gateway/pkg/can"
	"github.com/victronbms/gateway/pkg/config"
	"github.com/victronbms/gateway/pkg/cvl"
	"github.com/victronbms/gateway/pkg/energy"
	"github.com/victronbms/gateway/pkg/eventbus"
	"github.com/victronbms/gateway/pkg/tinybms"
	"github.com/victronbms/gateway/pkg/victron"
)

// Gateway is the root object: one per running process. Construct it
// with New, start its background workers with Run, and call its
// command/accessor methods from any goroutine.
type Gateway struct {
	Bus       *eventbus.Bus
	Cache     *tinybms.Cache
	Serial    *tinybms.Client
	Energy    *energy.Accumulator
	CANBus    can.Bus
	Publisher *victron.Publisher

	log *logrus.Entry

	cvlStore *config.CVLStore
}

// New constructs every subsystem in dependency order — event bus,
// register cache, serial client, energy accumulator, CVL controller,
// CAN transport, CAN publisher — without starting any goroutines.
func New(cfg config.Gateway, port tinybms.Port, canBus can.Bus, cvlStore *config.CVLStore, energyStore energy.Store, log *logrus.Entry) *Gateway {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "gateway")

	bus := eventbus.New(log)
	cache := tinybms.NewCache()
	serial := tinybms.NewClient(port, cache, bus, cfg.Serial, log)
	acc := energy.New(energyStore, bus, log)

	cvlCfg := cfg.CVL
	if cvlStore != nil {
		cvlCfg = cvlStore.LoadCVLConfig(cfg.CVL)
	}

	g := &Gateway{
		Bus:      bus,
		Cache:    cache,
		Serial:   serial,
		Energy:   acc,
		CANBus:   canBus,
		log:      log,
		cvlStore: cvlStore,
	}

	publisher := victron.New(canBus, cfg.CAN, bus, log,
		func() tinybms.LiveData { return tinybms.Derive(cache) },
		cvlCfg,
		acc.Sample,
		acc.Counters,
		serial.Online,
	)
	g.Publisher = publisher

	return g
}

// Run starts every background worker and blocks until stop is
// closed: the serial poll loop, the energy persistence ticker, and
// the CAN publisher scheduler (which recomputes CVL and integrates
// one energy sample on every tick of its own).
func (g *Gateway) Run(ctx context.Context, stop <-chan struct{}) error {
	if err := g.CANBus.Connect(); err != nil {
		return err
	}

	go g.Serial.Run(ctx)
	go g.Energy.Run(stop)
	go g.Publisher.Run(stop)

	<-stop
	return g.CANBus.Disconnect()
}

// ResetBMS issues a device reset with the given sub-option
// (tinybms.ResetDevice / ResetClearEvents / ResetClearStats).
func (g *Gateway) ResetBMS(ctx context.Context, option byte) error {
	return g.Serial.Reset(ctx, option)
}

// WriteRegister writes and read-back-verifies a single register.
func (g *Gateway) WriteRegister(ctx context.Context, addr uint16, value uint16) (uint32, error) {
	return g.Serial.WriteRegister(ctx, addr, value)
}

// SetCVLConfig replaces the CVL controller's configuration and
// persists it, if a store is configured.
func (g *Gateway) SetCVLConfig(cfg cvl.Config) error {
	g.Publisher.SetCVLConfig(cfg)
	if g.cvlStore == nil {
		return nil
	}
	return g.cvlStore.SaveCVLConfig(cfg)
}

// SetEnergyCounters overwrites both energy totals, e.g. to correct a
// drift observed against an external meter.
func (g *Gateway) SetEnergyCounters(charged, discharged float64) {
	g.Energy.Set(charged, discharged)
}

// GetLiveData returns the current battery snapshot.
func (g *Gateway) GetLiveData() tinybms.LiveData {
	return tinybms.Derive(g.Cache)
}

// GetCVLOutput returns the most recently computed CVL output.
func (g *Gateway) GetCVLOutput() cvl.Output {
	return g.Publisher.CVLOutput()
}

// GetEnergyCounters returns the current Wh-in/Wh-out totals.
func (g *Gateway) GetEnergyCounters() energy.Counters {
	return g.Energy.Counters()
}

// GetCANMetrics returns the publisher's breaker, limiter, and
// per-channel counters.
func (g *Gateway) GetCANMetrics() victron.Metrics {
	return g.Publisher.Metrics()
}

// GetBusMetrics returns the event bus's subscriber and throughput
// counters.
func (g *Gateway) GetBusMetrics() eventbus.Metrics {
	return g.Bus.Metrics()
}
