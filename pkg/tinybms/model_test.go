package tinybms

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvePackVoltagePrefersF32Kind(t *testing.T) {
	snap := map[uint16]Register{
		RegPackVoltage: {Kind: KindF32, Raw: math.Float32bits(54.4)},
	}
	require.InDelta(t, 54.4, ResolvePackVoltage(snap), 0.001)
}

func TestResolvePackVoltageFallsBackToScaledInt16(t *testing.T) {
	snap := map[uint16]Register{
		RegPackVoltage: {Kind: KindI16, Raw: uint32(uint16(5440))},
	}
	require.InDelta(t, 54.4, ResolvePackVoltage(snap), 0.001)
}

func TestDeriveBuildsCellSliceAndSkipsAbsentTemps(t *testing.T) {
	cache := NewCache()
	now := time.Now()
	cache.Store(RegPackVoltage, KindI16, uint32(uint16(5440)), now)
	cache.Store(RegPackCurrent, KindI16, uint32(uint16(250)), now)
	cache.Store(RegTempInternal, KindI16, uint32(uint16(int16(250))), now)
	absent := TempAbsent
	cache.Store(RegTempExternal1, KindI16, uint32(uint16(absent)), now)
	for i := uint16(0); i < 8; i++ {
		cache.Store(RegCellVoltageBase+i, KindU16, uint32(3300+i), now)
	}

	d := Derive(cache)
	require.Equal(t, 8, d.SeriesCells)
	require.Len(t, d.CellMV, 8)
	require.True(t, math.IsNaN(d.TempExt1C))
	require.InDelta(t, 25.0, d.TempInternalC, 0.001)
	require.InDelta(t, 2.5, d.PackA, 0.001)
}

func TestDeriveTreatsPartialCellSweepAsZeroSeriesCells(t *testing.T) {
	cache := NewCache()
	now := time.Now()
	// Fewer than MinSeriesCells have ever reported.
	cache.Store(RegCellVoltageBase, KindU16, 3300, now)

	d := Derive(cache)
	require.Equal(t, 0, d.SeriesCells)
}

func TestDerivePopulatesSerialFamilyAndFWVersion(t *testing.T) {
	cache := NewCache()
	now := time.Now()
	serial := "SN1234567890ABCD"
	for i := uint16(0); i < 8; i++ {
		word := uint16(serial[2*i])<<8 | uint16(serial[2*i+1])
		cache.Store(RegSerialBase+i, KindU16, uint32(word), now)
	}
	family := "Li-Ion\x00\x00"
	for i := uint16(0); i < 4; i++ {
		word := uint16(family[2*i])<<8 | uint16(family[2*i+1])
		cache.Store(RegFamilyBase+i, KindU16, uint32(word), now)
	}
	cache.Store(RegFWVersionMajor, KindU16, 2, now)
	cache.Store(RegFWVersionMinor, KindU16, 3, now)

	d := Derive(cache)
	require.Equal(t, serial, string(d.Serial[:]))
	require.Equal(t, "Li-Ion", trimNulls(d.Family[:]))
	require.Equal(t, uint8(2), d.FWMajor)
	require.Equal(t, uint8(3), d.FWMinor)
}

func trimNulls(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func TestLiveDataMinMaxImbalance(t *testing.T) {
	d := LiveData{CellMV: []uint16{3300, 3280, 3350, 3290}}
	require.Equal(t, uint16(3280), d.MinCellMV())
	require.Equal(t, uint16(3350), d.MaxCellMV())
	require.Equal(t, uint16(70), d.ImbalanceMV())
}
