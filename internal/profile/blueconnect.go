package profile

import (
	"math"

	"blueconnect-gateway/internal/codec"
)

// Blue Connect Go GATT identifiers (community-sourced).
const (
	ServiceUUID    = "f3300001-f0a2-9b06-0c59-1bc4763b5c00"
	ButtonCharUUID = "f3300002-f0a2-9b06-0c59-1bc4763b5c00"
	NotifyCharUUID = "f3300003-f0a2-9b06-0c59-1bc4763b5c00"
)

// Hardware identifiers accepted by the registry.
const (
	HardwareIDV2 = "blueconnect-go/2"
	HardwareIDV1 = "blueconnect-go/1"
)

// Battery discharge window of the CR123A cell, in millivolts.
const (
	battMinMV = 3400
	battMaxMV = 3640
)

// pH calibration: raw counts convert as (2048 - raw)/232 + anchor. The anchor
// moved from 7.0 to 7.2 between firmware revisions.
const (
	phScale    = -1.0 / 232.0
	phShiftV2  = 2048.0/232.0 + 7.2
	phShiftV1  = 2048.0/232.0 + 7.0
	battScale  = 100.0 / (battMaxMV - battMinMV)
	battShift  = -battMinMV * battScale
	orpScale   = 0.25
	orpShift   = -5.0
	tempScale  = 0.01
	condMaxUS  = 10000
	saltMaxPPM = 5000
)

// measurementLayout is the 12-byte frame pushed on the notify characteristic
// after poking the button characteristic. No embedded check byte; integrity
// is the exact-length rule. Byte 0 is a status byte with no decoded meaning.
func measurementLayout(phShift float64) codec.Layout {
	return codec.Layout{
		Kind:     codec.PacketMeasurement,
		CharUUID: NotifyCharUUID,
		Length:   12,
		Checksum: codec.ChecksumSpec{Kind: codec.ChecksumNone},
		Fields: []codec.FieldSpec{
			{Name: codec.FieldTemperature, Offset: 1, Width: 2, Order: codec.LittleEndian, Scale: tempScale, Min: -5, Max: 60, Unit: "°C"},
			{Name: codec.FieldPH, Offset: 3, Width: 2, Order: codec.LittleEndian, Scale: phScale, Shift: phShift, Min: 0, Max: 14, Unit: "pH"},
			{Name: codec.FieldORP, Offset: 5, Width: 2, Order: codec.LittleEndian, Scale: orpScale, Shift: orpShift, Min: 0, Max: 1000, Unit: "mV"},
			{Name: codec.FieldConductivity, Offset: 7, Width: 2, Order: codec.LittleEndian, Scale: 1, Min: 1, Max: condMaxUS, Unit: "µS/cm"},
			{Name: codec.FieldBatteryVoltage, Offset: 9, Width: 2, Order: codec.LittleEndian, Scale: 1, Min: 0, Max: 5000, Unit: "mV"},
		},
	}
}

// summaryLayout is the 7-byte manufacturer-data advertisement: type byte
// 0x01, temperature and battery, a rolling frame counter, and an additive
// check byte over the first six bytes.
func summaryLayout() codec.Layout {
	return codec.Layout{
		Kind:     codec.PacketSummary,
		TypeByte: 0x01,
		Length:   7,
		Checksum: codec.ChecksumSpec{Kind: codec.ChecksumSum8, Start: 0, End: 6, Pos: 6},
		Fields: []codec.FieldSpec{
			{Name: codec.FieldTemperature, Offset: 1, Width: 2, Order: codec.LittleEndian, Scale: tempScale, Min: -5, Max: 60, Unit: "°C"},
			{Name: codec.FieldBatteryVoltage, Offset: 3, Width: 2, Order: codec.LittleEndian, Scale: 1, Min: 0, Max: 5000, Unit: "mV"},
			{Name: codec.FieldFrameCounter, Offset: 5, Width: 1, Order: codec.LittleEndian, Scale: 1, Min: 0, Max: 255, Unit: ""},
		},
	}
}

// deviceInfoLayout is the 6-byte identification frame: type byte 0x03,
// hardware revision, firmware major.minor, and an XOR check byte.
func deviceInfoLayout() codec.Layout {
	return codec.Layout{
		Kind:     codec.PacketDeviceInfo,
		TypeByte: 0x03,
		Length:   6,
		Checksum: codec.ChecksumSpec{Kind: codec.ChecksumXor8, Start: 0, End: 5, Pos: 5},
		Fields: []codec.FieldSpec{
			{Name: codec.FieldHardwareRev, Offset: 1, Width: 1, Order: codec.LittleEndian, Scale: 1, Min: 0, Max: 255, Unit: ""},
			{Name: codec.FieldFirmwareVer, Offset: 2, Width: 2, Order: codec.BigEndian, Scale: 0.01, Min: 0, Max: 99, Unit: ""},
		},
	}
}

func blueConnectDerived() []Derived {
	return []Derived{
		{
			Name:     codec.FieldBatteryPercent,
			Unit:     "%",
			Requires: []codec.FieldName{codec.FieldBatteryVoltage},
			Compute: func(in map[codec.FieldName]float64) (float64, bool) {
				pct := in[codec.FieldBatteryVoltage]*battScale + battShift
				return math.Max(0, math.Min(pct, 100)), true
			},
		},
		{
			Name:     codec.FieldSalinity,
			Unit:     "ppm",
			Requires: []codec.FieldName{codec.FieldConductivity},
			Compute: func(in map[codec.FieldName]float64) (float64, bool) {
				// Empirical quadratic µS/cm -> ppm approximation, valid to ~5000 ppm.
				c := in[codec.FieldConductivity]
				ppm := 1.433*c - 0.00085*c*c
				if ppm < 0 || ppm > saltMaxPPM {
					return 0, false
				}
				return ppm, true
			},
		},
		{
			Name:     codec.FieldChlorine,
			Unit:     "ppm",
			Requires: []codec.FieldName{codec.FieldORP, codec.FieldPH, codec.FieldTemperature},
			Compute:  estimateFreeChlorine,
		},
	}
}

// estimateFreeChlorine derives free chlorine (ppm) from ORP, corrected for
// the HOCl fraction at the measured pH. The Nernst factor converts the ORP
// offset from the 650 mV reference into a decade exponent.
func estimateFreeChlorine(in map[codec.FieldName]float64) (float64, bool) {
	const (
		gasConstR   = 8.314
		faradayF    = 96485.0
		orpRefMV    = 650.0
		hoclPivot   = 7.5
		chlorineMax = 10.0
	)
	tempK := in[codec.FieldTemperature] + 273.15
	nernstMV := gasConstR * tempK / (faradayF * math.Ln10) * 1000

	base := math.Pow(10, (in[codec.FieldORP]-orpRefMV)/nernstMV)
	hoclFraction := 1 / (1 + math.Pow(10, in[codec.FieldPH]-hoclPivot))
	ppm := base * hoclFraction

	if math.IsNaN(ppm) || math.IsInf(ppm, 0) || ppm < 0 || ppm > chlorineMax {
		return 0, false
	}
	return ppm, true
}

// BlueConnectV2 is the current-firmware profile.
func BlueConnectV2() *Profile {
	return &Profile{
		HardwareID: HardwareIDV2,
		Model:      "Blue Connect Go",
		Firmware:   "2.x",
		Layouts:    []codec.Layout{measurementLayout(phShiftV2), summaryLayout(), deviceInfoLayout()},
		Derived:    blueConnectDerived(),
	}
}

// BlueConnectV1 keeps the legacy pH anchor for first-generation firmware.
func BlueConnectV1() *Profile {
	return &Profile{
		HardwareID: HardwareIDV1,
		Model:      "Blue Connect Go",
		Firmware:   "1.x",
		Layouts:    []codec.Layout{measurementLayout(phShiftV1), summaryLayout(), deviceInfoLayout()},
		Derived:    blueConnectDerived(),
	}
}

// DefaultRegistry registers the built-in profiles, current revision first.
func DefaultRegistry() *Registry {
	return NewRegistry(BlueConnectV2(), BlueConnectV1())
}
