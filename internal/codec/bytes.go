package codec

import "fmt"

// ByteOrder selects the byte order of a wire field.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// ReadUint extracts an unsigned integer of width bytes at offset.
// Width must be 1..8 and the field must lie inside buf.
func ReadUint(buf []byte, offset, width int, order ByteOrder) (uint64, error) {
	if width < 1 || width > 8 {
		return 0, fmt.Errorf("invalid field width %d", width)
	}
	if offset < 0 || offset+width > len(buf) {
		return 0, fmt.Errorf("field [%d:%d] out of bounds (payload %d bytes)", offset, offset+width, len(buf))
	}
	var v uint64
	if order == LittleEndian {
		for i := width - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[offset+i])
		}
	} else {
		for i := 0; i < width; i++ {
			v = v<<8 | uint64(buf[offset+i])
		}
	}
	return v, nil
}

// ReadInt extracts a two's-complement signed integer of width bytes at offset.
func ReadInt(buf []byte, offset, width int, order ByteOrder) (int64, error) {
	v, err := ReadUint(buf, offset, width, order)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - width*8)
	return int64(v<<shift) >> shift, nil
}
