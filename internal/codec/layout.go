package codec

// PacketKind enumerates the frame kinds a device family is known to emit.
type PacketKind uint8

const (
	// PacketSummary is the periodic advertisement carrying a subset of fields.
	PacketSummary PacketKind = iota
	// PacketMeasurement is the full reading pushed over the notify characteristic.
	PacketMeasurement
	// PacketDeviceInfo carries hardware/firmware identifiers.
	PacketDeviceInfo
)

func (k PacketKind) String() string {
	switch k {
	case PacketSummary:
		return "summary"
	case PacketMeasurement:
		return "measurement"
	case PacketDeviceInfo:
		return "device_info"
	default:
		return "unknown"
	}
}

// FieldName enumerates the measurements this device family reports.
type FieldName string

const (
	FieldTemperature    FieldName = "temperature"
	FieldPH             FieldName = "ph"
	FieldORP            FieldName = "orp"
	FieldConductivity   FieldName = "conductivity"
	FieldSalinity       FieldName = "salinity"
	FieldChlorine       FieldName = "chlorine"
	FieldBatteryVoltage FieldName = "battery_voltage"
	FieldBatteryPercent FieldName = "battery_percent"
	FieldFrameCounter   FieldName = "frame_counter"
	FieldHardwareRev    FieldName = "hardware_revision"
	FieldFirmwareVer    FieldName = "firmware_version"
)

// FieldSpec is one row of a layout table: where the raw integer lives and how
// it converts to a physical value (value = raw*Scale + Shift).
type FieldSpec struct {
	Name   FieldName
	Offset int
	Width  int
	Signed bool
	Order  ByteOrder
	Scale  float64
	Shift  float64
	Min    float64
	Max    float64
	Unit   string
}

// ChecksumKind selects the integrity algorithm of a layout.
type ChecksumKind uint8

const (
	// ChecksumNone: the layout has no embedded check byte; integrity is the
	// exact-length rule only.
	ChecksumNone ChecksumKind = iota
	// ChecksumSum8: additive sum of the covered span, truncated to one byte.
	ChecksumSum8
	// ChecksumXor8: XOR of the covered span.
	ChecksumXor8
	// ChecksumCRC8: CRC-8/MAXIM (poly 0x31 reflected) over the covered span.
	ChecksumCRC8
)

// ChecksumSpec describes the check byte of a layout: the algorithm, the
// covered half-open span [Start, End), and the offset of the embedded value.
type ChecksumSpec struct {
	Kind  ChecksumKind
	Start int
	End   int
	Pos   int
}

// Layout is the full wire description of one packet kind of one device
// profile. These tables are community-sourced reverse engineering; treat the
// offsets as protocol constants, not tunables.
type Layout struct {
	Kind PacketKind

	// TypeByte identifies advertisement frames (payload[0]).
	TypeByte byte
	// CharUUID identifies notification frames instead of a type byte.
	CharUUID string

	// Length is the exact expected payload length.
	Length int

	Checksum ChecksumSpec
	Fields   []FieldSpec
}
