package codec

import (
	"fmt"
	"time"
)

// DecodedField is one converted measurement. Invalid marks a value that
// decoded cleanly but fell outside its physical range; it must never be
// merged into a snapshot.
type DecodedField struct {
	Name      FieldName
	Value     float64
	Unit      string
	Valid     bool
	Timestamp time.Time
}

// DecodeFields converts every field of a verified payload. Fields are
// independent: an out-of-range value is flagged invalid without affecting its
// siblings. Output order is the layout's declaration order.
//
// The payload must already have passed Verify for this layout; a read error
// here means the layout table itself is inconsistent and is returned as-is.
func DecodeFields(payload []byte, layout *Layout, ts time.Time) ([]DecodedField, error) {
	out := make([]DecodedField, 0, len(layout.Fields))
	for _, f := range layout.Fields {
		var raw float64
		if f.Signed {
			v, err := ReadInt(payload, f.Offset, f.Width, f.Order)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			raw = float64(v)
		} else {
			v, err := ReadUint(payload, f.Offset, f.Width, f.Order)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			raw = float64(v)
		}

		value := raw*f.Scale + f.Shift
		out = append(out, DecodedField{
			Name:      f.Name,
			Value:     value,
			Unit:      f.Unit,
			Valid:     value >= f.Min && value <= f.Max,
			Timestamp: ts,
		})
	}
	return out, nil
}
