package tinybms

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBuildEndianness pins down which commands put their payload
// fields big-endian versus little-endian, since a silent swap here
// would pass every other test by symmetry.
func TestBuildEndianness(t *testing.T) {
	t.Run("0x03 modbus read is big-endian", func(t *testing.T) {
		req := BuildModbusReadRegisters(0x0024, 0x0001)
		require.Equal(t, preamble, req[0])
		require.Equal(t, CmdModbusReadRegs, req[1])
		require.Equal(t, uint16(0x0024), binary.BigEndian.Uint16(req[2:4]))
		require.Equal(t, uint16(0x0001), binary.BigEndian.Uint16(req[4:6]))
	})

	t.Run("0x07 block read is little-endian", func(t *testing.T) {
		req := BuildReadRegisterBlock(0x0024, 4)
		require.Equal(t, uint16(0x0024), binary.LittleEndian.Uint16(req[2:4]))
		require.Equal(t, byte(4), req[4])
	})

	t.Run("0x09 multi-address read is little-endian", func(t *testing.T) {
		req := BuildReadRegisters([]uint16{0x0024, 0x0026})
		require.Equal(t, uint16(0x0024), binary.LittleEndian.Uint16(req[2:4]))
		require.Equal(t, uint16(0x0026), binary.LittleEndian.Uint16(req[4:6]))
	})

	t.Run("0x0D write register: LE address, BE data", func(t *testing.T) {
		req := BuildWriteRegister(0x0042, 0x1234)
		require.Equal(t, uint16(0x0042), binary.LittleEndian.Uint16(req[2:4]))
		require.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(req[4:6]))
	})

	t.Run("0x10 modbus write is fully big-endian", func(t *testing.T) {
		req := BuildModbusWriteRegisters(0x0024, []uint16{0x0102, 0x0304})
		require.Equal(t, uint16(0x0024), binary.BigEndian.Uint16(req[2:4]))
		require.Equal(t, uint16(0x0002), binary.BigEndian.Uint16(req[4:6]))
		require.Equal(t, byte(4), req[6])
		require.Equal(t, uint16(0x0102), binary.BigEndian.Uint16(req[7:9]))
		require.Equal(t, uint16(0x0304), binary.BigEndian.Uint16(req[9:11]))
	})
}

func TestBuildAppendsValidCRC(t *testing.T) {
	req := BuildReset(ResetDevice)
	body := req[:len(req)-2]
	gotCRC := binary.LittleEndian.Uint16(req[len(req)-2:])
	require.Equal(t, Checksum(body), gotCRC)
}

func TestShortcutBuildersUseDistinctCommands(t *testing.T) {
	builders := map[string]func() []byte{
		"pack_voltage":  BuildReadPackVoltage,
		"pack_current":  BuildReadPackCurrent,
		"soc":           BuildReadSOC,
		"temperatures":  BuildReadTemperatures,
		"cell_voltages": BuildReadCellVoltages,
		"version":       BuildReadVersion,
		"lifetime_data": BuildReadLifetimeData,
	}
	seen := map[byte]string{}
	for name, build := range builders {
		req := build()
		require.Len(t, req, 5, "%s: shortcut commands carry no payload", name)
		cmd := req[1]
		if other, ok := seen[cmd]; ok {
			t.Fatalf("%s and %s share command byte %#02x", name, other, cmd)
		}
		seen[cmd] = name
	}
}
