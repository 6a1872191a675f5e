// Package metrics exposes the decode pipeline's observability counters.
// Rejections are reported here and in per-device snapshot counters; they are
// never surfaced as stream-interrupting errors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reason labels for DecodeErrors.
const (
	ReasonUnknownKind       = "unknown_packet_kind"
	ReasonChecksumMismatch  = "checksum_mismatch"
	ReasonLengthMismatch    = "length_mismatch"
	ReasonFieldOutOfRange   = "field_out_of_range"
	ReasonUnsupportedDevice = "unsupported_device"
)

var (
	PacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueconnect_packets_total",
		Help: "Frames handled by the decode pipeline, by packet kind and result.",
	}, []string{"kind", "result"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueconnect_decode_errors_total",
		Help: "Rejected frames and flagged fields, by reason.",
	}, []string{"reason"})

	FieldUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueconnect_field_updates_total",
		Help: "Snapshot field merges that changed a value, by field name.",
	}, []string{"field"})

	StaleWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blueconnect_stale_writes_total",
		Help: "Field updates discarded because a newer value was already merged.",
	})
)
