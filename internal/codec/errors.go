package codec

import "errors"

// Decode rejections. None of these are fatal: a frame that trips one is
// dropped (or, for ErrFieldOutOfRange, the single field is flagged) and the
// event stream continues.
var (
	ErrUnknownPacketKind = errors.New("unknown packet kind")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrLengthMismatch    = errors.New("length mismatch")
	ErrFieldOutOfRange   = errors.New("field out of range")
	ErrUnsupportedDevice = errors.New("unsupported device")
)
