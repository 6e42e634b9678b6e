package tinybms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheStoreLoadSnapshot(t *testing.T) {
	cache := NewCache()
	_, ok := cache.Load(RegPackVoltage)
	require.False(t, ok)

	now := time.Now()
	cache.Store(RegPackVoltage, KindI16, uint32(uint16(5440)), now)

	reg, ok := cache.Load(RegPackVoltage)
	require.True(t, ok)
	require.Equal(t, int16(5440), reg.AsI16())

	snap := cache.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, reg, snap[RegPackVoltage])
}

func TestRegisterAccessorsReinterpretRawBits(t *testing.T) {
	r := Register{Raw: 0xFFFF}
	require.Equal(t, uint16(0xFFFF), r.AsU16())
	require.Equal(t, int16(-1), r.AsI16())
}
