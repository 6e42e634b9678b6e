package tinybms

import "encoding/binary"

// Command codes. The two MODBUS-mapped commands (0x03, 0x10) are
// big-endian; every proprietary command is little-endian except the
// 0x0D write-data word, which is big-endian — the single easiest
// place to introduce a silent endianness bug.
const (
	CmdReset             byte = 0x02
	CmdModbusReadRegs    byte = 0x03
	CmdReadRegisterBlock byte = 0x07
	CmdReadRegisters     byte = 0x09
	CmdWriteRegisterBlock byte = 0x0B
	CmdWriteRegister     byte = 0x0D
	CmdModbusWriteRegs   byte = 0x10

	CmdReadPackVoltage  byte = 0x14
	CmdReadPackCurrent  byte = 0x15
	CmdReadSOC          byte = 0x1A
	CmdReadTemperatures byte = 0x1B
	CmdReadCellVoltages byte = 0x1C
	CmdReadVersion      byte = 0x1E
	CmdReadLifetimeData byte = 0x1F
)

const preamble byte = 0xAA

// Reset/clear sub-options for CmdReset.
const (
	ResetDevice       byte = 0x05
	ResetClearEvents  byte = 0x06
	ResetClearStats   byte = 0x07
)

// frame appends the preamble, command, payload and CRC-16/MODBUS
// trailer (little-endian on the wire, as the CRC itself is not a
// MODBUS-endianness field) to form a complete request.
func frame(cmd byte, payload []byte) []byte {
	buf := make([]byte, 0, 2+len(payload)+2)
	buf = append(buf, preamble, cmd)
	buf = append(buf, payload...)
	crc := Checksum(buf)
	buf = append(buf, byte(crc), byte(crc>>8))
	return buf
}

// BuildReset builds the 0x02 reset/clear-events/clear-stats request.
func BuildReset(option byte) []byte {
	return frame(CmdReset, []byte{option})
}

// BuildModbusReadRegisters builds the 0x03 MODBUS read-holding-
// registers request. Address and count are big-endian on the wire.
func BuildModbusReadRegisters(addr uint16, count uint16) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], count)
	return frame(CmdModbusReadRegs, payload)
}

// BuildReadRegisterBlock builds the 0x07 proprietary block-read
// request. Address and count are little-endian.
func BuildReadRegisterBlock(addr uint16, count byte) []byte {
	payload := make([]byte, 3)
	binary.LittleEndian.PutUint16(payload[0:2], addr)
	payload[2] = count
	return frame(CmdReadRegisterBlock, payload)
}

// BuildReadRegisters builds the 0x09 individual-register read
// request for an arbitrary set of addresses, little-endian.
func BuildReadRegisters(addrs []uint16) []byte {
	payload := make([]byte, 2*len(addrs))
	for i, a := range addrs {
		binary.LittleEndian.PutUint16(payload[2*i:2*i+2], a)
	}
	return frame(CmdReadRegisters, payload)
}

// BuildWriteRegisterBlock builds the 0x0B write-register-block
// request. Start address is little-endian; each data word is
// little-endian.
func BuildWriteRegisterBlock(startAddr uint16, data []uint16) []byte {
	payload := make([]byte, 3+2*len(data))
	binary.LittleEndian.PutUint16(payload[0:2], startAddr)
	payload[2] = byte(len(data))
	for i, w := range data {
		binary.LittleEndian.PutUint16(payload[3+2*i:3+2*i+2], w)
	}
	return frame(CmdWriteRegisterBlock, payload)
}

// BuildWriteRegister builds the 0x0D write-individual-register
// request. The address is little-endian; the data word is
// big-endian — the documented exception among proprietary commands.
func BuildWriteRegister(addr uint16, data uint16) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], data)
	return frame(CmdWriteRegister, payload)
}

// BuildModbusWriteRegisters builds the 0x10 MODBUS write-multiple-
// registers request. Address, count and every data word are
// big-endian.
func BuildModbusWriteRegisters(addr uint16, data []uint16) []byte {
	payload := make([]byte, 5+2*len(data))
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], uint16(len(data)))
	payload[4] = byte(2 * len(data))
	for i, w := range data {
		binary.BigEndian.PutUint16(payload[5+2*i:5+2*i+2], w)
	}
	return frame(CmdModbusWriteRegs, payload)
}

// buildShortcut builds any of the no-payload shortcut read requests
// (0x14, 0x15, 0x1A, 0x1B, 0x1C, 0x1E, 0x1F).
func buildShortcut(cmd byte) []byte {
	return frame(cmd, nil)
}

func BuildReadPackVoltage() []byte  { return buildShortcut(CmdReadPackVoltage) }
func BuildReadPackCurrent() []byte  { return buildShortcut(CmdReadPackCurrent) }
func BuildReadSOC() []byte          { return buildShortcut(CmdReadSOC) }
func BuildReadTemperatures() []byte { return buildShortcut(CmdReadTemperatures) }
func BuildReadCellVoltages() []byte { return buildShortcut(CmdReadCellVoltages) }
func BuildReadVersion() []byte      { return buildShortcut(CmdReadVersion) }
func BuildReadLifetimeData() []byte { return buildShortcut(CmdReadLifetimeData) }
