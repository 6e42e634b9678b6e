// Package cvl implements the six-state charge-voltage-limit
// controller (Core B.1): it consumes a LiveData
// snapshot and persistent State, and produces a CvlOutput plus a
// possibly-updated State every tick.
package cvl

import (
	"math"

	"github.com/victronbms/gateway/pkg/tinybms"
)

// Phase is the SOC/imbalance/protection-driven operating mode.
type Phase int

const (
	Bulk Phase = iota
	Transition
	FloatApproach
	Float
	ImbalanceHold
	Sustain
)

func (p Phase) String() string {
	switch p {
	case Bulk:
		return "Bulk"
	case Transition:
		return "Transition"
	case FloatApproach:
		return "FloatApproach"
	case Float:
		return "Float"
	case ImbalanceHold:
		return "ImbalanceHold"
	case Sustain:
		return "Sustain"
	default:
		return "Unknown"
	}
}

// State persists across ticks. The phase itself is recomputed fresh
// every tick from the current inputs (hysteresis lives
// in the entry/exit thresholds, not in a sticky state variable"); only
// the hysteresis booleans and the previous CVL value carry over.
type State struct {
	PreviousCVLV          float64
	CellProtectionActive  bool
	ImbalanceHoldActive   bool
	SustainActive         bool
}

// Output is recomputed every tick.
type Output struct {
	CVLV  float64
	CCLA  float64
	DCLA  float64
	Phase Phase
}

// Config holds every threshold and gain the controller needs. None are
// hardcoded past these defaults — pkg/config loads overrides from the
// gateway's ini file.
type Config struct {
	CellMaxV      float64 // ultimate per-cell ceiling
	CellMinFloatV float64 // per-cell floor while any protection is active

	BulkTargetV    float64
	FloatVoltageV  float64
	SustainVoltageV float64

	BulkSOCThresholdPct       float64 // 80
	TransitionSOCThresholdPct float64 // 90
	FloatSOCThresholdPct      float64 // 95

	SustainSOCEntryPct float64 // 30
	SustainSOCExitPct  float64 // 40
	SustainCCLA        float64
	SustainDCLA        float64

	ImbalanceHoldThresholdMV   float64 // 40
	ImbalanceReleaseThresholdMV float64 // 30
	ImbalanceDropMaxV          float64
	ImbalanceDropPerMV         float64
	MinimumCCLInFloatA         float64

	CellSafetyThresholdMV float64
	CellSafetyReleaseMV   float64
	KP                    float64
	NominalCurrentA       float64

	MaxRecoveryStepV float64
}

// DefaultConfig returns the example values the worked scenarios are
// built around.
func DefaultConfig() Config {
	return Config{
		CellMaxV:        3.40,
		CellMinFloatV:   3.30,
		BulkTargetV:     54.4,
		FloatVoltageV:   53.2,
		SustainVoltageV: 52.0,

		BulkSOCThresholdPct:       80,
		TransitionSOCThresholdPct: 90,
		FloatSOCThresholdPct:      95,

		SustainSOCEntryPct: 30,
		SustainSOCExitPct:  40,
		SustainCCLA:        5,
		SustainDCLA:        5,

		ImbalanceHoldThresholdMV:    40,
		ImbalanceReleaseThresholdMV: 30,
		ImbalanceDropMaxV:           2.0,
		ImbalanceDropPerMV:          0.05,
		MinimumCCLInFloatA:          5,

		CellSafetyThresholdMV: 3600,
		CellSafetyReleaseMV:   3580,
		KP:                    5.0,
		NominalCurrentA:       100,

		MaxRecoveryStepV: 0.2,
	}
}

// Compute runs one tick of the controller: it reads live and the
// previous State, and returns the Output plus the State to carry into
// the next tick.
func Compute(live tinybms.LiveData, prev State, cfg Config) (Output, State) {
	seriesCells := live.SeriesCells
	if seriesCells == 0 {
		seriesCells = tinybms.MinSeriesCells
	}
	maxCellV := float64(live.MaxCellMV()) / 1000.0
	imbalanceMV := float64(live.ImbalanceMV())

	next := prev

	// Cell-overvoltage guard, hysteresis on its own.
	if maxCellV*1000 >= cfg.CellSafetyThresholdMV {
		next.CellProtectionActive = true
	} else if maxCellV*1000 <= cfg.CellSafetyReleaseMV {
		next.CellProtectionActive = false
	}

	// Imbalance hold, hysteresis on its own.
	if imbalanceMV > cfg.ImbalanceHoldThresholdMV {
		next.ImbalanceHoldActive = true
	} else if imbalanceMV <= cfg.ImbalanceReleaseThresholdMV {
		next.ImbalanceHoldActive = false
	}

	// Sustain, hysteresis on its own.
	if live.SOCPct <= cfg.SustainSOCEntryPct {
		next.SustainActive = true
	} else if live.SOCPct >= cfg.SustainSOCExitPct {
		next.SustainActive = false
	}

	minFloatV := cfg.CellMinFloatV * float64(seriesCells)

	var phase Phase
	var targetV float64
	cclCap := math.MaxFloat64
	dclCap := math.MaxFloat64

	switch {
	case next.SustainActive:
		phase = Sustain
		targetV = cfg.SustainVoltageV
		cclCap = cfg.SustainCCLA
		dclCap = cfg.SustainDCLA

	case next.ImbalanceHoldActive:
		phase = ImbalanceHold
		drop := min(cfg.ImbalanceDropMaxV, (imbalanceMV-cfg.ImbalanceHoldThresholdMV)*cfg.ImbalanceDropPerMV)
		if drop < 0 {
			drop = 0
		}
		targetV = max(cfg.BulkTargetV-drop, minFloatV)
		cclCap = cfg.MinimumCCLInFloatA

	default:
		switch {
		case live.SOCPct < cfg.BulkSOCThresholdPct:
			phase = Bulk
			targetV = cfg.BulkTargetV
		case live.SOCPct < cfg.TransitionSOCThresholdPct:
			phase = Transition
			targetV = cfg.BulkTargetV
		case live.SOCPct < cfg.FloatSOCThresholdPct:
			phase = FloatApproach
			targetV = cfg.BulkTargetV
		default:
			phase = Float
			targetV = cfg.FloatVoltageV
			cclCap = cfg.MinimumCCLInFloatA
		}
	}

	// Cell-overvoltage guard reduces CVL on top of whatever the phase
	// picked, regardless of phase.
	if next.CellProtectionActive {
		reduction := cfg.KP * (1 + live.PackA/cfg.NominalCurrentA) * (maxCellV - cfg.CellSafetyThresholdMV/1000.0)
		if reduction < 0 {
			reduction = 0
		}
		if reduction > cfg.ImbalanceDropMaxV {
			reduction = cfg.ImbalanceDropMaxV
		}
		targetV = max(targetV-reduction, minFloatV)
	}

	// Anti-oscillation: increases capped, decreases unlimited.
	if prev.PreviousCVLV > 0 && targetV > prev.PreviousCVLV+cfg.MaxRecoveryStepV {
		targetV = prev.PreviousCVLV + cfg.MaxRecoveryStepV
	}

	// Ultimate ceiling.
	ceiling := cfg.CellMaxV * float64(seriesCells)
	if targetV > ceiling {
		targetV = ceiling
	}

	ccl := live.CCLBaseA
	if ccl > cclCap {
		ccl = cclCap
	}
	dcl := live.DCLBaseA
	if dcl > dclCap {
		dcl = dclCap
	}

	next.PreviousCVLV = targetV

	return Output{CVLV: targetV, CCLA: ccl, DCLA: dcl, Phase: phase}, next
}
