// Package config loads the gateway's ini-file configuration surface
// and doubles as the ini.v1-backed persistence store for energy
// counters and CVL configuration. Both use an implementation-chosen
// key-value store; loss of either must fall back to compile-time
// defaults without halting the core. Grounded on the use of
// gopkg.in/ini.v1 to parse configuration-shaped files elsewhere in
// this codebase's CANopen heritage (pkg/od's EDS parser).
package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/victronbms/gateway/pkg/cvl"
	"github.com/victronbms/gateway/pkg/energy"
	"github.com/victronbms/gateway/pkg/tinybms"
	"github.com/victronbms/gateway/pkg/victron"
)

// Gateway aggregates every subsystem's configuration, loaded from a
// single ini file with sections [serial], [can], [cvl].
type Gateway struct {
	Serial  tinybms.Config
	CAN     victron.Config
	CVL     cvl.Config
	Device  string
	CANIface string
}

// Defaults returns the compile-time fallback configuration, used when
// no file is present or a section/key is missing.
func Defaults() Gateway {
	return Gateway{
		Serial:   tinybms.DefaultConfig(),
		CAN:      victron.DefaultConfig(),
		CVL:      cvl.DefaultConfig(),
		Device:   "/dev/ttyUSB0",
		CANIface: "can0",
	}
}

// Load reads path with ini.v1 and overlays it onto Defaults(). A
// missing file returns the defaults and a nil error — losing the
// config file must never halt the core.
func Load(path string) (Gateway, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return cfg, nil
	}

	if sec, err := file.GetSection("serial"); err == nil {
		cfg.Device = sec.Key("device").MustString(cfg.Device)
		cfg.Serial.FlushBeforeRead = sec.Key("flush_before_read").MustBool(cfg.Serial.FlushBeforeRead)
		cfg.Serial.MaxRetries = sec.Key("max_retries").MustInt(cfg.Serial.MaxRetries)
	}
	if sec, err := file.GetSection("can"); err == nil {
		cfg.CANIface = sec.Key("interface").MustString(cfg.CANIface)
		cfg.CAN.KeepaliveIntervalMs = sec.Key("keepalive_interval_ms").MustInt64(cfg.CAN.KeepaliveIntervalMs)
		cfg.CAN.KeepaliveTimeoutMs = sec.Key("keepalive_timeout_ms").MustInt64(cfg.CAN.KeepaliveTimeoutMs)
	}
	if sec, err := file.GetSection("cvl"); err == nil {
		cfg.CVL.BulkTargetV = sec.Key("bulk_target_v").MustFloat64(cfg.CVL.BulkTargetV)
		cfg.CVL.FloatVoltageV = sec.Key("float_voltage_v").MustFloat64(cfg.CVL.FloatVoltageV)
		cfg.CVL.SustainVoltageV = sec.Key("sustain_voltage_v").MustFloat64(cfg.CVL.SustainVoltageV)
		cfg.CVL.BulkSOCThresholdPct = sec.Key("bulk_soc_threshold_pct").MustFloat64(cfg.CVL.BulkSOCThresholdPct)
		cfg.CVL.TransitionSOCThresholdPct = sec.Key("transition_soc_threshold_pct").MustFloat64(cfg.CVL.TransitionSOCThresholdPct)
		cfg.CVL.FloatSOCThresholdPct = sec.Key("float_soc_threshold_pct").MustFloat64(cfg.CVL.FloatSOCThresholdPct)
	}

	return cfg, nil
}

// EnergyStore persists the two Wh counters as a dedicated ini file,
// satisfying pkg/energy.Store.
type EnergyStore struct {
	Path string
}

func (s EnergyStore) LoadEnergyCounters() (energy.Counters, error) {
	file, err := ini.Load(s.Path)
	if err != nil {
		return energy.Counters{}, err
	}
	sec := file.Section("energy")
	return energy.Counters{
		ChargedWh:    sec.Key("charged_wh").MustFloat64(0),
		DischargedWh: sec.Key("discharged_wh").MustFloat64(0),
	}, nil
}

func (s EnergyStore) SaveEnergyCounters(c energy.Counters) error {
	file := ini.Empty()
	sec, err := file.NewSection("energy")
	if err != nil {
		return err
	}
	sec.Key("charged_wh").SetValue(formatFloat(c.ChargedWh))
	sec.Key("discharged_wh").SetValue(formatFloat(c.DischargedWh))
	return file.SaveTo(s.Path)
}

// CVLStore persists CVL configuration overrides independently of the
// main config file, satisfying the config-loading needs of the CVL
// controller.
type CVLStore struct {
	Path string
}

func (s CVLStore) LoadCVLConfig(fallback cvl.Config) cvl.Config {
	file, err := ini.Load(s.Path)
	if err != nil {
		return fallback
	}
	sec := file.Section("cvl")
	fallback.BulkTargetV = sec.Key("bulk_target_v").MustFloat64(fallback.BulkTargetV)
	fallback.FloatVoltageV = sec.Key("float_voltage_v").MustFloat64(fallback.FloatVoltageV)
	fallback.SustainVoltageV = sec.Key("sustain_voltage_v").MustFloat64(fallback.SustainVoltageV)
	return fallback
}

func (s CVLStore) SaveCVLConfig(c cvl.Config) error {
	file := ini.Empty()
	sec, err := file.NewSection("cvl")
	if err != nil {
		return err
	}
	sec.Key("bulk_target_v").SetValue(formatFloat(c.BulkTargetV))
	sec.Key("float_voltage_v").SetValue(formatFloat(c.FloatVoltageV))
	sec.Key("sustain_voltage_v").SetValue(formatFloat(c.SustainVoltageV))
	return file.SaveTo(s.Path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
