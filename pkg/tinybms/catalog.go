package tinybms

// Register catalog. Addresses below follow the TinyBMS register map;
// register 36 (pack voltage) carries a documented ambiguity noted
// inline, the rest of the poll set sit in the same neighborhood.
const (
	RegPackVoltage uint16 = 36 // f32 on 0x07, scaled i16 (0.01V) on 0x03 — see ResolvePackVoltage
	RegPackCurrent uint16 = 38 // signed, 0.01A, + = charge

	RegMinCellVoltage uint16 = 40 // mV
	RegMaxCellVoltage uint16 = 41 // mV

	RegTempInternal uint16 = 48 // 0.1 degC, -32768 == absent
	RegTempExternal1 uint16 = 49
	RegTempExternal2 uint16 = 50

	RegSOC uint16 = 46 // ppm (ie 0.0001 %)
	RegSOH uint16 = 47 // 0.01 %

	RegOnlineStatus uint16 = 52
	RegSeriesCells  uint16 = 74

	RegCapacityAh uint16 = 96 // 0.01Ah

	RegDCLBase uint16 = 102 // 0.1A
	RegCCLBase uint16 = 103 // 0.1A

	RegFWVersionMajor uint16 = 120
	RegFWVersionMinor uint16 = 121

	// Cell voltages occupy a contiguous block, one register per
	// series cell, mV.
	RegCellVoltageBase uint16 = 2000
	MaxSeriesCells            = 16
	MinSeriesCells            = 4

	// Serial number and family strings occupy contiguous 16-bit-word
	// blocks; two ASCII bytes per register.
	RegSerialBase uint16 = 3000 // 16 bytes -> 8 registers
	RegFamilyBase uint16 = 3008 // 8 bytes -> 4 registers
)

// PollSet is the pre-declared set of registers the poll loop reads
// every tick, 44 registers: 16 measurement, identity, limit and
// status registers, every per-cell voltage for a maximally-populated
// 16-cell pack, and the 8 serial-number and 4 family registers.
func PollSet() []uint16 {
	addrs := []uint16{
		RegPackVoltage, RegPackCurrent,
		RegMinCellVoltage, RegMaxCellVoltage,
		RegTempInternal, RegTempExternal1, RegTempExternal2,
		RegSOC, RegSOH,
		RegOnlineStatus, RegSeriesCells, RegCapacityAh,
		RegDCLBase, RegCCLBase,
		RegFWVersionMajor, RegFWVersionMinor,
	}
	for i := uint16(0); i < MaxSeriesCells; i++ {
		addrs = append(addrs, RegCellVoltageBase+i)
	}
	for i := uint16(0); i < 8; i++ {
		addrs = append(addrs, RegSerialBase+i)
	}
	for i := uint16(0); i < 4; i++ {
		addrs = append(addrs, RegFamilyBase+i)
	}
	return addrs
}
