package codec

import "testing"

func TestReadUint_LittleEndian(t *testing.T) {
	buf := []byte{0x00, 0x34, 0x12, 0xFF}
	v, err := ReadUint(buf, 1, 2, LittleEndian)
	if err != nil {
		t.Fatalf("ReadUint: %v", err)
	}
	if v != 0x1234 {
		t.Errorf("got %#x, want 0x1234", v)
	}
}

func TestReadUint_BigEndian(t *testing.T) {
	buf := []byte{0x12, 0x34}
	v, err := ReadUint(buf, 0, 2, BigEndian)
	if err != nil {
		t.Fatalf("ReadUint: %v", err)
	}
	if v != 0x1234 {
		t.Errorf("got %#x, want 0x1234", v)
	}
}

func TestReadUint_Bounds(t *testing.T) {
	buf := []byte{0x01, 0x02}
	cases := []struct {
		name          string
		offset, width int
	}{
		{"past end", 1, 2},
		{"negative offset", -1, 1},
		{"zero width", 0, 0},
		{"width too large", 0, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadUint(buf, tc.offset, tc.width, LittleEndian); err == nil {
				t.Errorf("ReadUint(offset=%d, width=%d): expected error", tc.offset, tc.width)
			}
		})
	}
}

func TestReadInt_SignExtension(t *testing.T) {
	cases := []struct {
		name  string
		buf   []byte
		width int
		order ByteOrder
		want  int64
	}{
		{"negative int8", []byte{0xFF}, 1, LittleEndian, -1},
		{"negative int16 le", []byte{0xFE, 0xFF}, 2, LittleEndian, -2},
		{"negative int16 be", []byte{0xFF, 0xFE}, 2, BigEndian, -2},
		{"positive int16", []byte{0x10, 0x00}, 2, LittleEndian, 16},
		{"negative int24", []byte{0x00, 0x00, 0x80}, 3, LittleEndian, -8388608},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ReadInt(tc.buf, 0, tc.width, tc.order)
			if err != nil {
				t.Fatalf("ReadInt: %v", err)
			}
			if v != tc.want {
				t.Errorf("got %d, want %d", v, tc.want)
			}
		})
	}
}

func TestReadUint_FullWidth(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	v, err := ReadUint(buf, 0, 8, BigEndian)
	if err != nil {
		t.Fatalf("ReadUint: %v", err)
	}
	if v != 0x0102030405060708 {
		t.Errorf("got %#x", v)
	}
}
