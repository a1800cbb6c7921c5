// Package wireutil implements the small hand-rolled protobuf-shaped
// encoder/decoder shared by internal/relay and internal/plumtree's wire
// formats (spec §4.12: "All Plumtree and Circuit Relay messages are
// encoded as protobuf with length-prefix framing... unknown fields are
// skipped via wire-type-driven skip logic").
//
// This is not protoc-generated code — no protoc invocation is available
// in this environment — but it follows the exact wire shapes used by
// go-libp2p's own generated circuit-relay-v2 messages, observed via the
// retrieved reference implementation's pbv2.HopMessage/StopMessage usage,
// reimplemented here as plain Go with manual field encode/decode.
package wireutil

import (
	"fmt"

	"github.com/multiformats/go-varint"
)

// Wire types, per the protobuf wire format.
const (
	WireVarint  = 0
	WireFixed64 = 1
	WireBytes   = 2
	WireFixed32 = 5
)

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binaryMaxVarintLen]byte
	n := varint.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

const binaryMaxVarintLen = 10

// AppendVarintField appends a varint-typed field (tag + value).
func AppendVarintField(buf []byte, field int, v uint64) []byte {
	buf = appendVarint(buf, uint64(field)<<3|WireVarint)
	return appendVarint(buf, v)
}

// AppendBytesField appends a length-delimited field (tag + length + bytes).
func AppendBytesField(buf []byte, field int, b []byte) []byte {
	buf = appendVarint(buf, uint64(field)<<3|WireBytes)
	buf = appendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// AppendStringField is AppendBytesField for a string value.
func AppendStringField(buf []byte, field int, s string) []byte {
	return AppendBytesField(buf, field, []byte(s))
}

// Decoder walks a hand-rolled protobuf-shaped byte slice field by field.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential field decoding.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Done reports whether every byte has been consumed.
func (d *Decoder) Done() bool { return d.pos >= len(d.buf) }

// NextTag reads the next field tag, returning its field number and wire
// type.
func (d *Decoder) NextTag() (field int, wireType int, err error) {
	v, n, err := varint.FromUvarint(d.buf[d.pos:])
	if err != nil {
		return 0, 0, fmt.Errorf("wireutil: read tag: %w", err)
	}
	d.pos += n
	return int(v >> 3), int(v & 0x7), nil
}

// ReadVarint reads a varint-encoded value.
func (d *Decoder) ReadVarint() (uint64, error) {
	v, n, err := varint.FromUvarint(d.buf[d.pos:])
	if err != nil {
		return 0, fmt.Errorf("wireutil: read varint: %w", err)
	}
	d.pos += n
	return v, nil
}

// ReadBytes reads a length-delimited field's payload.
func (d *Decoder) ReadBytes() ([]byte, error) {
	l, err := d.ReadVarint()
	if err != nil {
		return nil, err
	}
	if int(l) < 0 || d.pos+int(l) > len(d.buf) {
		return nil, fmt.Errorf("wireutil: length-delimited field overruns buffer")
	}
	b := d.buf[d.pos : d.pos+int(l)]
	d.pos += int(l)
	return b, nil
}

// SkipField skips an unrecognized field's payload given its wire type,
// implementing the varint/64-bit/length-delimited/32-bit skip logic spec
// §4.12 calls for.
func (d *Decoder) SkipField(wireType int) error {
	switch wireType {
	case WireVarint:
		_, err := d.ReadVarint()
		return err
	case WireFixed64:
		if d.pos+8 > len(d.buf) {
			return fmt.Errorf("wireutil: fixed64 field overruns buffer")
		}
		d.pos += 8
		return nil
	case WireBytes:
		_, err := d.ReadBytes()
		return err
	case WireFixed32:
		if d.pos+4 > len(d.buf) {
			return fmt.Errorf("wireutil: fixed32 field overruns buffer")
		}
		d.pos += 4
		return nil
	default:
		return fmt.Errorf("wireutil: unknown wire type %d", wireType)
	}
}
