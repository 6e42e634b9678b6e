package tinybms

import "math"

// TempAbsent is the sentinel raw reading meaning "sensor absent"
// (sensor absent).
const TempAbsent int16 = -32768

func float32FromBits(raw uint32) float32 { return math.Float32frombits(raw) }

// LiveData is an immutable snapshot derived from the register cache.
// Producers always build a fresh value; nothing mutates it in place.
type LiveData struct {
	PackV float64 // volts
	PackA float64 // amps, + = charge

	SOCPct float64 // 0..100
	SOHPct float64 // 0..100

	CellMV []uint16 // series_cells entries, mV

	TempInternalC float64
	TempExt1C     float64 // math.NaN() if sensor absent
	TempExt2C     float64

	CCLBaseA float64
	DCLBaseA float64

	CapacityAh  float64
	SeriesCells int

	Serial  [16]byte
	Family  [8]byte
	FWMajor uint8
	FWMinor uint8

	OnlineStatus uint16
}

// MinCellMV returns the lowest cell reading.
func (d LiveData) MinCellMV() uint16 { return extreme(d.CellMV, false) }

// MaxCellMV returns the highest cell reading.
func (d LiveData) MaxCellMV() uint16 { return extreme(d.CellMV, true) }

// ImbalanceMV is MaxCellMV - MinCellMV.
func (d LiveData) ImbalanceMV() uint16 { return d.MaxCellMV() - d.MinCellMV() }

func extreme(cells []uint16, max bool) uint16 {
	if len(cells) == 0 {
		return 0
	}
	best := cells[0]
	for _, c := range cells[1:] {
		if (max && c > best) || (!max && c < best) {
			best = c
		}
	}
	return best
}

// Derive is the pure battery-model adapter: given the
// register cache, produce a LiveData snapshot. It never blocks and
// never mutates the cache.
func Derive(cache *Cache) LiveData {
	snap := cache.Snapshot()

	d := LiveData{}
	d.PackV = ResolvePackVoltage(snap)
	if r, ok := snap[RegPackCurrent]; ok {
		d.PackA = float64(r.AsI16()) / 100.0
	}
	if r, ok := snap[RegSOC]; ok {
		d.SOCPct = float64(r.AsU16()) / 10000.0 // ppm -> percent
	}
	if r, ok := snap[RegSOH]; ok {
		d.SOHPct = float64(r.AsU16()) / 100.0
	}
	if r, ok := snap[RegTempInternal]; ok {
		d.TempInternalC = tenthsOrAbsent(r.AsI16())
	}
	if r, ok := snap[RegTempExternal1]; ok {
		d.TempExt1C = tenthsOrAbsent(r.AsI16())
	}
	if r, ok := snap[RegTempExternal2]; ok {
		d.TempExt2C = tenthsOrAbsent(r.AsI16())
	}
	if r, ok := snap[RegCCLBase]; ok {
		d.CCLBaseA = float64(r.AsU16()) / 10.0
	}
	if r, ok := snap[RegDCLBase]; ok {
		d.DCLBaseA = float64(r.AsU16()) / 10.0
	}
	if r, ok := snap[RegCapacityAh]; ok {
		d.CapacityAh = float64(r.AsU16()) / 100.0
	}
	if r, ok := snap[RegOnlineStatus]; ok {
		d.OnlineStatus = r.AsU16()
	}
	if r, ok := snap[RegFWVersionMajor]; ok {
		d.FWMajor = uint8(r.AsU16())
	}
	if r, ok := snap[RegFWVersionMinor]; ok {
		d.FWMinor = uint8(r.AsU16())
	}

	for i := uint16(0); i < 8; i++ {
		if r, ok := snap[RegSerialBase+i]; ok {
			v := r.AsU16()
			d.Serial[2*i] = byte(v >> 8)
			d.Serial[2*i+1] = byte(v)
		}
	}
	for i := uint16(0); i < 4; i++ {
		if r, ok := snap[RegFamilyBase+i]; ok {
			v := r.AsU16()
			d.Family[2*i] = byte(v >> 8)
			d.Family[2*i+1] = byte(v)
		}
	}

	d.CellMV = make([]uint16, 0, MaxSeriesCells)
	for i := uint16(0); i < MaxSeriesCells; i++ {
		r, ok := snap[RegCellVoltageBase+i]
		if !ok || r.AsU16() == 0 {
			continue
		}
		d.CellMV = append(d.CellMV, r.AsU16())
	}
	d.SeriesCells = len(d.CellMV)
	if d.SeriesCells < MinSeriesCells {
		// Not enough cells have ever reported: the pack hasn't
		// produced a full sweep yet.
		d.SeriesCells = 0
	}

	return d
}

func tenthsOrAbsent(raw int16) float64 {
	if raw == TempAbsent {
		return math.NaN()
	}
	return float64(raw) / 10.0
}

// ResolvePackVoltage resolves a documented ambiguity: register
// 36 is documented both as f32 (on the proprietary 0x07 block read)
// and as a scaled int16 (on the MODBUS-mapped 0x03 read). This
// gateway standardizes on the f32 interpretation when the cached
// Kind says so, and falls back to the 0.01V-scaled-int16
// interpretation otherwise — the choice must be validated with a
// golden-capture test against real hardware per command.
func ResolvePackVoltage(snap map[uint16]Register) float64 {
	r, ok := snap[RegPackVoltage]
	if !ok {
		return 0
	}
	if r.Kind == KindF32 {
		return float64(r.AsF32())
	}
	return float64(r.AsI16()) / 100.0
}
