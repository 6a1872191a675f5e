package codec

import "time"

// Source identifies where a frame was observed.
type Source uint8

const (
	// SourceAdvertisement is manufacturer data from a connectionless broadcast.
	SourceAdvertisement Source = iota
	// SourceNotification is a GATT characteristic value pushed by a connected device.
	SourceNotification
)

func (s Source) String() string {
	switch s {
	case SourceAdvertisement:
		return "advertisement"
	case SourceNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// RawEvent is one observed frame plus its radio metadata. The payload is
// borrowed from the caller for the duration of decoding and never retained.
type RawEvent struct {
	Address    string
	RSSI       int16
	ReceivedAt time.Time
	Source     Source
	// CharUUID is set for notification-sourced events only.
	CharUUID string
	Payload  []byte
}
