package codec

import "fmt"

// Verify checks a payload against the layout's integrity rules. The length is
// always checked exactly; layouts with an embedded check byte additionally get
// it recomputed over the covered span. On error the whole payload must be
// discarded: no field may be extracted from an unverified frame.
func Verify(payload []byte, layout *Layout) error {
	if len(payload) != layout.Length {
		return fmt.Errorf("%w: got %d bytes, layout %s wants %d",
			ErrLengthMismatch, len(payload), layout.Kind, layout.Length)
	}

	spec := layout.Checksum
	if spec.Kind == ChecksumNone {
		return nil
	}
	if spec.Start < 0 || spec.End > len(payload) || spec.Start > spec.End ||
		spec.Pos < 0 || spec.Pos >= len(payload) {
		return fmt.Errorf("%w: checksum span [%d:%d] pos %d outside payload",
			ErrChecksumMismatch, spec.Start, spec.End, spec.Pos)
	}

	var sum byte
	span := payload[spec.Start:spec.End]
	switch spec.Kind {
	case ChecksumSum8:
		for _, b := range span {
			sum += b
		}
	case ChecksumXor8:
		for _, b := range span {
			sum ^= b
		}
	case ChecksumCRC8:
		sum = crc8Maxim(span)
	default:
		return fmt.Errorf("%w: unknown checksum kind %d", ErrChecksumMismatch, spec.Kind)
	}

	if sum != payload[spec.Pos] {
		return fmt.Errorf("%w: computed %02X, embedded %02X",
			ErrChecksumMismatch, sum, payload[spec.Pos])
	}
	return nil
}

// crc8Maxim is CRC-8/MAXIM: poly 0x31 reflected, init 0x00.
func crc8Maxim(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x01 != 0 {
				crc = crc>>1 ^ 0x8C
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
