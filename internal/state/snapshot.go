package state

import (
	"time"

	"blueconnect-gateway/internal/codec"
)

// FieldValue is the latest validated value of one field.
type FieldValue struct {
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the read view of one physical device: the latest validated
// value per field, liveness metadata, and rejection counters. Values returned
// to callers are copies; mutating them cannot affect the aggregator.
type Snapshot struct {
	Address      string                         `json:"address"`
	HardwareID   string                         `json:"hardware_id"`
	Fields       map[codec.FieldName]FieldValue `json:"fields"`
	LastSeen     time.Time                      `json:"last_seen"`
	RSSI         int16                          `json:"rssi"`
	DecodeErrors uint64                         `json:"decode_errors"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Fields = make(map[codec.FieldName]FieldValue, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	return out
}

// Update is pushed to the registered handler after every merge that changed
// at least one field.
type Update struct {
	Address  string
	Changed  []codec.FieldName
	Snapshot Snapshot
}
