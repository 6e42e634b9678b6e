package victron

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victronbms/gateway/pkg/cvl"
	"github.com/victronbms/gateway/pkg/energy"
	"github.com/victronbms/gateway/pkg/tinybms"
)

func TestEncodeKeepaliveIsAllZero(t *testing.T) {
	require.Equal(t, [8]byte{}, EncodeKeepalive())
}

func TestEncodeChargeLimitsScalesToTenths(t *testing.T) {
	b := EncodeChargeLimits(cvl.Output{CVLV: 54.4, CCLA: 10.5, DCLA: 20.0})
	require.Equal(t, uint16(544), binary.LittleEndian.Uint16(b[0:2]))
	require.Equal(t, uint16(105), binary.LittleEndian.Uint16(b[2:4]))
	require.Equal(t, uint16(200), binary.LittleEndian.Uint16(b[4:6]))
}

func TestEncodeSOCScalesToHundredths(t *testing.T) {
	b := EncodeSOC(tinybms.LiveData{SOCPct: 87.5, SOHPct: 99.0})
	require.Equal(t, uint16(8750), binary.LittleEndian.Uint16(b[0:2]))
	require.Equal(t, uint16(9900), binary.LittleEndian.Uint16(b[2:4]))
	require.Equal(t, uint16(8750), binary.LittleEndian.Uint16(b[4:6]), "hi-res mirrors the same SOC")
}

func TestEncodeVITScalesVoltageCurrentTemp(t *testing.T) {
	b := EncodeVIT(tinybms.LiveData{PackV: 52.3, PackA: -12.4, TempInternalC: 24.6})
	require.Equal(t, int16(5230), int16(binary.LittleEndian.Uint16(b[0:2])))
	require.Equal(t, int16(-124), int16(binary.LittleEndian.Uint16(b[2:4])))
	require.Equal(t, int16(246), int16(binary.LittleEndian.Uint16(b[4:6])))
}

func TestEncodeAlarmsSetsOnlineBitsOnByte7(t *testing.T) {
	healthy := tinybms.LiveData{TempInternalC: 25}
	out := cvl.Output{CCLA: 10, DCLA: 10}

	online := EncodeAlarms(healthy, out, true)
	require.Equal(t, byte(stateOK<<2), online[7]&0b1100)

	offline := EncodeAlarms(healthy, out, false)
	require.Equal(t, byte(stateActive<<2), offline[7]&0b1100)
}

func TestEncodeAlarmsFlagsOverTemperature(t *testing.T) {
	hot := tinybms.LiveData{TempInternalC: 70}
	b := EncodeAlarms(hot, cvl.Output{}, true)
	alarms := binary.LittleEndian.Uint32(b[0:4])
	require.Equal(t, uint32(stateActive), (alarms>>(condOverTemp*2))&0b11)
	require.Equal(t, uint32(stateActive), (alarms>>(condOverall*2))&0b11, "overall must roll up any active alarm")
}

func TestEncodeAlarmsFlagsImbalanceAsWarningOnly(t *testing.T) {
	d := tinybms.LiveData{TempInternalC: 25, CellMV: []uint16{3200, 3250}} // 50mV spread
	b := EncodeAlarms(d, cvl.Output{}, true)
	alarms := binary.LittleEndian.Uint32(b[0:4])
	warnings := binary.LittleEndian.Uint32(b[4:8])
	require.Equal(t, uint32(stateOK), (alarms>>(condOverall*2))&0b11, "imbalance alone must not trip the overall alarm")
	require.Equal(t, uint32(stateActive), (warnings>>(condImbalance*2))&0b11)
}

func TestEncodeManufacturerPadsShortName(t *testing.T) {
	b := EncodeManufacturer(Identity{Manufacturer: "Enepaq"})
	require.Equal(t, [8]byte{'E', 'n', 'e', 'p', 'a', 'q', 0, 0}, b)
}

func TestEncodeFamilyReadsFromLiveData(t *testing.T) {
	d := tinybms.LiveData{Family: [8]byte{'L', 'i', '-', 'I', 'o', 'n', 0, 0}}
	b := EncodeFamily(d)
	require.Equal(t, "Li-Ion", trimNulls(b[:]))
}

func TestEncodeBatteryNameSplitsAcrossTwoFrames(t *testing.T) {
	id := Identity{BatteryName: "TinyBMS-Gateway1"}
	f0 := EncodeBatteryName0(id)
	f1 := EncodeBatteryName1(id)
	require.Equal(t, "TinyBMS-", string(f0[:]))
	require.Equal(t, "Gateway1", string(f1[:]))
}

func TestEncodeFWCapacity(t *testing.T) {
	b := EncodeFWCapacity(tinybms.LiveData{FWMajor: 1, FWMinor: 7, CapacityAh: 100.0})
	require.Equal(t, uint32(1<<8|7), binary.LittleEndian.Uint32(b[0:4]))
	require.Equal(t, uint32(10000), binary.LittleEndian.Uint32(b[4:8]))
}

func TestEncodeSerialSplitsAcrossTwoFrames(t *testing.T) {
	var d tinybms.LiveData
	copy(d.Serial[:], "SN1234567890ABCD")
	f0 := EncodeSerial0(d)
	f1 := EncodeSerial1(d)
	require.Equal(t, "SN123456", string(f0[:]))
	require.Equal(t, "7890ABCD", string(f1[:]))
}

func TestEncodeModuleStatus(t *testing.T) {
	b := EncodeModuleStatus(ModuleStatus{OnlineModules: 1, BlockingChargeModules: 0})
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(b[0:2]))
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(b[2:4]))
}

func TestEncodeMinMaxCellTempIgnoresNaNSensors(t *testing.T) {
	d := tinybms.LiveData{
		CellMV:        []uint16{3200, 3300},
		TempInternalC: 20,
		TempExt1C:     math.NaN(),
		TempExt2C:     30,
	}
	b := EncodeMinMaxCellTemp(d)
	require.Equal(t, uint16(3200), binary.LittleEndian.Uint16(b[0:2]))
	require.Equal(t, uint16(3300), binary.LittleEndian.Uint16(b[2:4]))
	require.Equal(t, int16(200), int16(binary.LittleEndian.Uint16(b[4:6])))
	require.Equal(t, int16(300), int16(binary.LittleEndian.Uint16(b[6:8])))
}

func TestEncodeMinMaxCellIDLabelsBySeriesPosition(t *testing.T) {
	d := tinybms.LiveData{CellMV: []uint16{3300, 3250, 3320}}
	min := EncodeMinCellID(d)
	max := EncodeMaxCellID(d)
	require.Equal(t, "cell2", trimNulls(min[:]))
	require.Equal(t, "cell3", trimNulls(max[:]))
}

func TestEncodeMinMaxTempIDPrefersExternalWhenMoreExtreme(t *testing.T) {
	d := tinybms.LiveData{TempInternalC: 25, TempExt1C: 10, TempExt2C: math.NaN()}
	min := EncodeMinTempID(d)
	max := EncodeMaxTempID(d)
	require.Equal(t, "ext1", trimNulls(min[:]))
	require.Equal(t, "internal", trimNulls(max[:]))
}

func TestEncodeEnergyScalesToHundredWattHours(t *testing.T) {
	b := EncodeEnergy(energy.Counters{ChargedWh: 1250, DischargedWh: 980})
	require.Equal(t, uint32(12), binary.LittleEndian.Uint32(b[0:4]))
	require.Equal(t, uint32(9), binary.LittleEndian.Uint32(b[4:8]))
}

func trimNulls(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
