// Package victron implements the nineteen Victron GX CAN frame
// encoders (Core B.2) and the tick-driven publisher that schedules,
// rate-limits, and transmits them (Core B.3). Every encoder is a pure
// function of LiveData, cvl.Output, energy.Counters, or an Identity —
// none read shared state.
package victron

import (
	"encoding/binary"

	"github.com/victronbms/gateway/pkg/cvl"
	"github.com/victronbms/gateway/pkg/energy"
	"github.com/victronbms/gateway/pkg/tinybms"
)

// CAN identifiers.
const (
	IDKeepalive        uint32 = 0x305
	IDHandshake        uint32 = 0x307 // RX only
	IDChargeLimits     uint32 = 0x351
	IDSOC              uint32 = 0x355
	IDVIT              uint32 = 0x356
	IDAlarms           uint32 = 0x35A
	IDManufacturer     uint32 = 0x35E
	IDFWCapacity       uint32 = 0x35F
	IDBatteryName0     uint32 = 0x370
	IDBatteryName1     uint32 = 0x371
	IDModuleStatus     uint32 = 0x372
	IDMinMaxCellTemp   uint32 = 0x373
	IDMinCellID        uint32 = 0x374
	IDMaxCellID        uint32 = 0x375
	IDMinTempID        uint32 = 0x376
	IDMaxTempID        uint32 = 0x377
	IDEnergy           uint32 = 0x378
	IDCapacity         uint32 = 0x379
	IDSerial0          uint32 = 0x380
	IDSerial1          uint32 = 0x381
	IDFamily           uint32 = 0x382
)

// asciiPad copies s into an n-byte, null-padded (and truncated) slice.
func asciiPad(s string, n int) []byte {
	buf := make([]byte, n)
	copy(buf, s)
	return buf
}

func putU16(buf []byte, off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:off+2], v) }
func putI16(buf []byte, off int, v int16)  { binary.LittleEndian.PutUint16(buf[off:off+2], uint16(v)) }
func putU32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:off+4], v) }

// EncodeKeepalive builds 0x305: eight zero bytes sent every second to
// hold the GX link.
func EncodeKeepalive() [8]byte { return [8]byte{} }

// EncodeChargeLimits builds 0x351.
func EncodeChargeLimits(out cvl.Output) [8]byte {
	var b [8]byte
	putU16(b[:], 0, uint16(out.CVLV*10))
	putU16(b[:], 2, uint16(out.CCLA*10))
	putU16(b[:], 4, uint16(out.DCLA*10))
	putU16(b[:], 6, 0)
	return b
}

// EncodeSOC builds 0x355.
func EncodeSOC(d tinybms.LiveData) [8]byte {
	var b [8]byte
	soc := uint16(d.SOCPct * 100)
	putU16(b[:], 0, soc)
	putU16(b[:], 2, uint16(d.SOHPct*100))
	putU16(b[:], 4, soc) // no separate hi-res source register; mirrors SOC
	putU16(b[:], 6, 0)
	return b
}

// EncodeVIT builds 0x356: pack voltage/current/temperature.
func EncodeVIT(d tinybms.LiveData) [8]byte {
	var b [8]byte
	putI16(b[:], 0, int16(d.PackV*100))
	putI16(b[:], 2, int16(d.PackA*10))
	putI16(b[:], 4, int16(d.TempInternalC*10))
	putU16(b[:], 6, 0)
	return b
}

// alarm/warning bit slots within their respective 4-byte half,
// 2 bits each.
const (
	condOverall = iota
	condPackOV
	condPackUV
	condOverTemp
	condUnderTemp
	condHighTempCharge
	condDischargeOC
	condChargeOC
	condImbalance
)

const (
	stateUnsupported = 0b00
	stateOK          = 0b01
	stateActive      = 0b10
)

func setCond(word *uint32, cond int, state uint32) {
	shift := uint(cond * 2)
	*word &^= 0b11 << shift
	*word |= (state & 0b11) << shift
}

// EncodeAlarms builds 0x35A. Thresholds: over-temp >= 65C, under-temp
// <= -10C, discharge/charge overcurrent >= 80% of the respective
// limit, imbalance >= 40mV. The "system online" indicator occupies
// byte 7 bits 2-3, on the warning side.
func EncodeAlarms(d tinybms.LiveData, out cvl.Output, online bool) [8]byte {
	var alarms, warnings uint32
	conds := []int{condOverall, condPackOV, condPackUV, condOverTemp, condUnderTemp,
		condHighTempCharge, condDischargeOC, condChargeOC, condImbalance}
	for _, c := range conds {
		setCond(&alarms, c, stateOK)
		setCond(&warnings, c, stateOK)
	}

	overTemp := d.TempInternalC >= 65
	underTemp := d.TempInternalC <= -10
	dischargeOC := out.DCLA > 0 && d.PackA < 0 && -d.PackA >= 0.8*out.DCLA
	chargeOC := out.CCLA > 0 && d.PackA > 0 && d.PackA >= 0.8*out.CCLA
	imbalance := d.ImbalanceMV() >= 40
	highTempCharge := overTemp && d.PackA > 0

	if overTemp {
		setCond(&alarms, condOverTemp, stateActive)
	}
	if underTemp {
		setCond(&alarms, condUnderTemp, stateActive)
	}
	if dischargeOC {
		setCond(&alarms, condDischargeOC, stateActive)
	}
	if chargeOC {
		setCond(&alarms, condChargeOC, stateActive)
	}
	if imbalance {
		setCond(&warnings, condImbalance, stateActive)
	}
	if highTempCharge {
		setCond(&warnings, condHighTempCharge, stateActive)
	}
	if overTemp || underTemp || dischargeOC || chargeOC {
		setCond(&alarms, condOverall, stateActive)
	}

	var b [8]byte
	putU32(b[:], 0, alarms)
	putU32(b[:], 4, warnings)
	onlineBits := uint32(stateOK)
	if !online {
		onlineBits = stateActive
	}
	b[7] &^= 0b1100
	b[7] |= byte(onlineBits<<2) & 0b1100
	return b
}

// EncodeManufacturer builds 0x35E.
func EncodeManufacturer(id Identity) [8]byte {
	var b [8]byte
	copy(b[:], asciiPad(id.Manufacturer, 8))
	return b
}

// EncodeFWCapacity builds 0x35F. The firmware version is packed from
// the two registers the BMS itself reports, not a config constant.
func EncodeFWCapacity(d tinybms.LiveData) [8]byte {
	var b [8]byte
	version := uint32(d.FWMajor)<<8 | uint32(d.FWMinor)
	putU32(b[:], 0, version)
	putU32(b[:], 4, uint32(d.CapacityAh*100))
	return b
}

// EncodeBatteryName0/1 build 0x370/0x371: two 8-byte halves. The
// battery name is gateway-configured product identity, not read off
// the BMS, so it still comes from Identity.
func EncodeBatteryName0(id Identity) [8]byte { return firstHalf(id.BatteryName) }
func EncodeBatteryName1(id Identity) [8]byte { return secondHalf(id.BatteryName) }

// EncodeSerial0/1 build 0x380/0x381 from the serial number the BMS
// itself reports over the register map.
func EncodeSerial0(d tinybms.LiveData) [8]byte {
	var b [8]byte
	copy(b[:], d.Serial[:8])
	return b
}
func EncodeSerial1(d tinybms.LiveData) [8]byte {
	var b [8]byte
	copy(b[:], d.Serial[8:16])
	return b
}

// EncodeFamily builds 0x382 from the family string the BMS reports
// over the register map.
func EncodeFamily(d tinybms.LiveData) [8]byte {
	var b [8]byte
	copy(b[:], d.Family[:])
	return b
}

func firstHalf(s string) [8]byte {
	var b [8]byte
	copy(b[:], asciiPad(s, 16)[:8])
	return b
}

func secondHalf(s string) [8]byte {
	var b [8]byte
	copy(b[:], asciiPad(s, 16)[8:])
	return b
}

// ModuleStatus describes the module-count summary 0x372 reports. The
// TinyBMS gateway manages a single module, so the publisher reports
// OnlineModules 1 while the serial link to the BMS is online and
// OfflineModules 1 otherwise.
type ModuleStatus struct {
	OnlineModules            uint16
	OfflineModules           uint16
	BlockingChargeModules    uint16
	BlockingDischargeModules uint16
}

// EncodeModuleStatus builds 0x372.
func EncodeModuleStatus(s ModuleStatus) [8]byte {
	var b [8]byte
	putU16(b[:], 0, s.OnlineModules)
	putU16(b[:], 2, s.OfflineModules)
	putU16(b[:], 4, s.BlockingChargeModules)
	putU16(b[:], 6, s.BlockingDischargeModules)
	return b
}

// EncodeMinMaxCellTemp builds 0x373.
func EncodeMinMaxCellTemp(d tinybms.LiveData) [8]byte {
	var b [8]byte
	putU16(b[:], 0, d.MinCellMV())
	putU16(b[:], 2, d.MaxCellMV())
	minT, maxT := minMaxTemp(d)
	putI16(b[:], 4, int16(minT*10))
	putI16(b[:], 6, int16(maxT*10))
	return b
}

func minMaxTemp(d tinybms.LiveData) (min, max float64) {
	temps := []float64{d.TempInternalC}
	if !isNaN(d.TempExt1C) {
		temps = append(temps, d.TempExt1C)
	}
	if !isNaN(d.TempExt2C) {
		temps = append(temps, d.TempExt2C)
	}
	min, max = temps[0], temps[0]
	for _, t := range temps[1:] {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return
}

func isNaN(f float64) bool { return f != f }

func cellIndexOf(cells []uint16, target uint16) int {
	for i, c := range cells {
		if c == target {
			return i
		}
	}
	return 0
}

// EncodeMinCellID/MaxCellID build 0x374/0x375: an ASCII label for
// which series position reported the extreme reading.
func EncodeMinCellID(d tinybms.LiveData) [8]byte {
	return cellLabel(cellIndexOf(d.CellMV, d.MinCellMV()))
}
func EncodeMaxCellID(d tinybms.LiveData) [8]byte {
	return cellLabel(cellIndexOf(d.CellMV, d.MaxCellMV()))
}

func cellLabel(index int) [8]byte {
	var b [8]byte
	copy(b[:], asciiPad("cell"+itoa(index+1), 8))
	return b
}

// EncodeMinTempID/MaxTempID build 0x376/0x377.
func EncodeMinTempID(d tinybms.LiveData) [8]byte {
	var b [8]byte
	copy(b[:], asciiPad(tempLabel(d, true), 8))
	return b
}
func EncodeMaxTempID(d tinybms.LiveData) [8]byte {
	var b [8]byte
	copy(b[:], asciiPad(tempLabel(d, false), 8))
	return b
}

func tempLabel(d tinybms.LiveData, wantMin bool) string {
	type candidate struct {
		name string
		v    float64
	}
	cands := []candidate{{"internal", d.TempInternalC}}
	if !isNaN(d.TempExt1C) {
		cands = append(cands, candidate{"ext1", d.TempExt1C})
	}
	if !isNaN(d.TempExt2C) {
		cands = append(cands, candidate{"ext2", d.TempExt2C})
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if (wantMin && c.v < best.v) || (!wantMin && c.v > best.v) {
			best = c
		}
	}
	return best.name
}

// EncodeEnergy builds 0x378. counters must already be a snapshot read
// under the accumulator's lock.
func EncodeEnergy(counters energy.Counters) [8]byte {
	var b [8]byte
	putU32(b[:], 0, uint32(counters.ChargedWh/100))
	putU32(b[:], 4, uint32(counters.DischargedWh/100))
	return b
}

// EncodeCapacity builds 0x379.
func EncodeCapacity(d tinybms.LiveData) [8]byte {
	var b [8]byte
	putU32(b[:], 0, uint32(d.CapacityAh*100))
	putU32(b[:], 4, 0)
	return b
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
