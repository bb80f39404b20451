// Package tlv implements the tag-length-value element format carried by every
// Utim command payload.
//
// An element is a 1-byte tag, a 2-byte big-endian unsigned length and exactly
// that many value bytes. Payloads are plain concatenations of elements with no
// terminator, so callers state how many elements they expect.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the tag and length fields.
	HeaderSize = 3

	// MaxValueSize is the largest value a 2-byte length can describe.
	MaxValueSize = 0xFFFF
)

// ErrFormat is returned for any malformed TLV data.
var ErrFormat = errors.New("tlv: malformed data")

// Element is a single decoded TLV element.
type Element struct {
	Tag   byte
	Value []byte
}

// EncodedLen returns the number of bytes the element occupies on the wire.
func (e Element) EncodedLen() int {
	return HeaderSize + len(e.Value)
}

// Reader parses elements sequentially from one buffer.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over buf. The buffer is not copied.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Next decodes the next element. The returned value aliases the buffer.
func (r *Reader) Next() (Element, error) {
	rest := r.buf[r.off:]
	if len(rest) < HeaderSize {
		return Element{}, fmt.Errorf("%w: truncated header at offset %d", ErrFormat, r.off)
	}

	length := int(binary.BigEndian.Uint16(rest[1:HeaderSize]))
	if len(rest)-HeaderSize < length {
		return Element{}, fmt.Errorf("%w: declared length %d exceeds remaining %d bytes",
			ErrFormat, length, len(rest)-HeaderSize)
	}

	e := Element{
		Tag:   rest[0],
		Value: rest[HeaderSize : HeaderSize+length],
	}
	r.off += HeaderSize + length
	return e, nil
}

// Decode parses exactly count elements and requires the buffer to be fully
// consumed.
func Decode(buf []byte, count int) ([]Element, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: element count must be positive", ErrFormat)
	}

	r := NewReader(buf)
	elems := make([]Element, 0, count)
	for i := 0; i < count; i++ {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}

	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d elements", ErrFormat, r.Remaining(), count)
	}
	return elems, nil
}

// DecodeAll parses elements until the buffer is exhausted.
func DecodeAll(buf []byte) ([]Element, error) {
	r := NewReader(buf)
	var elems []Element
	for r.Remaining() > 0 {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return elems, nil
}

// DecodeSchema parses one element per expected tag, in order, and fails if
// any tag differs from the schema.
func DecodeSchema(buf []byte, tags ...byte) ([]Element, error) {
	elems, err := Decode(buf, len(tags))
	if err != nil {
		return nil, err
	}
	for i, e := range elems {
		if e.Tag != tags[i] {
			return nil, fmt.Errorf("%w: element %d has tag 0x%02x, want 0x%02x", ErrFormat, i, e.Tag, tags[i])
		}
	}
	return elems, nil
}

// Append encodes the element and appends it to dst.
func Append(dst []byte, e Element) ([]byte, error) {
	if len(e.Value) > MaxValueSize {
		return nil, fmt.Errorf("%w: value of %d bytes exceeds %d", ErrFormat, len(e.Value), MaxValueSize)
	}

	var hdr [HeaderSize]byte
	hdr[0] = e.Tag
	binary.BigEndian.PutUint16(hdr[1:], uint16(len(e.Value)))

	dst = append(dst, hdr[:]...)
	return append(dst, e.Value...), nil
}

// Encode serializes the elements back to back.
func Encode(elems ...Element) ([]byte, error) {
	size := 0
	for _, e := range elems {
		size += e.EncodedLen()
	}

	out := make([]byte, 0, size)
	for _, e := range elems {
		var err error
		if out, err = Append(out, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MustEncode is like Encode but panics on oversized values. It is meant for
// fixed, known-small packets.
func MustEncode(elems ...Element) []byte {
	out, err := Encode(elems...)
	if err != nil {
		panic(err)
	}
	return out
}
