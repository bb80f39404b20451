package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		elems []Element
	}{
		{"single empty", []Element{{Tag: 0x01, Value: []byte{}}}},
		{"single value", []Element{{Tag: 0x04, Value: []byte("proof")}}},
		{"two elements", []Element{
			{Tag: 0x09, Value: []byte("hello device")},
			{Tag: 0x0A, Value: bytes.Repeat([]byte{0xAB}, 20)},
		}},
		{"max size", []Element{{Tag: 0xFF, Value: make([]byte, MaxValueSize)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.elems...)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := Decode(encoded, len(tt.elems))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			reencoded, err := Encode(decoded...)
			if err != nil {
				t.Fatalf("re-Encode failed: %v", err)
			}
			if !bytes.Equal(encoded, reencoded) {
				t.Errorf("round trip mismatch:\n got %x\nwant %x", reencoded, encoded)
			}

			for i := range tt.elems {
				if decoded[i].Tag != tt.elems[i].Tag {
					t.Errorf("element %d tag = 0x%02x, want 0x%02x", i, decoded[i].Tag, tt.elems[i].Tag)
				}
				if !bytes.Equal(decoded[i].Value, tt.elems[i].Value) {
					t.Errorf("element %d value mismatch", i)
				}
			}
		})
	}
}

func TestDecodeFromRawBytes(t *testing.T) {
	raw := []byte{0x01, 0x00, 0x03, 'a', 'b', 'c'}

	elems, err := Decode(raw, 1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if elems[0].Tag != 0x01 || string(elems[0].Value) != "abc" {
		t.Errorf("got %+v", elems[0])
	}

	out, _ := Encode(elems...)
	if !bytes.Equal(out, raw) {
		t.Errorf("Encode(Decode(raw)) = %x, want %x", out, raw)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		buf   []byte
		count int
	}{
		{"empty buffer", nil, 1},
		{"truncated header", []byte{0x01, 0x00}, 1},
		{"length exceeds buffer", []byte{0x01, 0x00, 0x05, 'a', 'b'}, 1},
		{"trailing bytes", []byte{0x01, 0x00, 0x01, 'a', 0xFF}, 1},
		{"missing second element", []byte{0x01, 0x00, 0x01, 'a'}, 2},
		{"zero count", []byte{0x01, 0x00, 0x00}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf, tt.count)
			if !errors.Is(err, ErrFormat) {
				t.Errorf("Decode() error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestDecodeSchema(t *testing.T) {
	buf := MustEncode(
		Element{Tag: 0x09, Value: []byte("m")},
		Element{Tag: 0x0A, Value: []byte("s")},
	)

	if _, err := DecodeSchema(buf, 0x09, 0x0A); err != nil {
		t.Fatalf("DecodeSchema failed: %v", err)
	}

	if _, err := DecodeSchema(buf, 0x09, 0x0B); !errors.Is(err, ErrFormat) {
		t.Errorf("DecodeSchema() with wrong tag error = %v, want ErrFormat", err)
	}
}

func TestDecodeAll(t *testing.T) {
	buf := MustEncode(
		Element{Tag: 1, Value: []byte{1}},
		Element{Tag: 2, Value: nil},
		Element{Tag: 3, Value: []byte{3, 3}},
	)

	elems, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(elems) != 3 {
		t.Fatalf("len = %d, want 3", len(elems))
	}

	if _, err := DecodeAll(append(buf, 0x01)); !errors.Is(err, ErrFormat) {
		t.Errorf("DecodeAll() with dangling byte error = %v, want ErrFormat", err)
	}
}

func TestEncodeOversizedValue(t *testing.T) {
	_, err := Encode(Element{Tag: 1, Value: make([]byte, MaxValueSize+1)})
	if !errors.Is(err, ErrFormat) {
		t.Errorf("Encode() error = %v, want ErrFormat", err)
	}
}

func TestReaderSequential(t *testing.T) {
	buf := MustEncode(Element{Tag: 7, Value: []byte("x")}, Element{Tag: 8, Value: []byte("yz")})
	r := NewReader(buf)

	first, err := r.Next()
	if err != nil || first.Tag != 7 {
		t.Fatalf("first = %+v, err = %v", first, err)
	}
	if r.Remaining() != 5 {
		t.Errorf("Remaining() = %d, want 5", r.Remaining())
	}
	second, err := r.Next()
	if err != nil || string(second.Value) != "yz" {
		t.Fatalf("second = %+v, err = %v", second, err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrFormat) {
		t.Errorf("Next() past end error = %v, want ErrFormat", err)
	}
}
