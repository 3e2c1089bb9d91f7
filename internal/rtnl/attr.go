// Package rtnl decodes rtnetlink notifications: netlink message framing,
// the fixed link/address/route bodies and their type-length-value
// attribute lists. Every read is bounds-checked against the caller's
// buffer; nothing here allocates a copy of attribute values.
package rtnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
)

// ErrMalformed reports a length field that does not fit the buffer.
var ErrMalformed = errors.New("rtnl: malformed netlink data")

// ErrTruncated reports a fixed message body shorter than its header size.
var ErrTruncated = errors.New("rtnl: truncated message body")

// Align rounds n up to the 4-byte netlink alignment.
func Align(n int) int {
	return (n + 3) &^ 3
}

// Attr is one decoded attribute. Value aliases the decoded buffer.
type Attr struct {
	Type   uint16
	Nested bool
	Value  []byte
}

// AttrDecoder walks a packed attribute list. It stops at the first record
// whose declared length is shorter than the attribute header or runs past
// the end of the buffer.
//
//	ad := rtnl.NewAttrDecoder(b)
//	for ad.Next() {
//		switch ad.Type() { ... }
//	}
//	if err := ad.Err(); err != nil { ... }
type AttrDecoder struct {
	b   []byte
	off int
	cur Attr
	err error
}

// NewAttrDecoder returns a decoder over b.
func NewAttrDecoder(b []byte) *AttrDecoder {
	return &AttrDecoder{b: b}
}

// Next advances to the next attribute. It returns false at the end of the
// buffer or on a malformed record, in which case Err is set.
func (d *AttrDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	rest := len(d.b) - d.off
	if rest == 0 {
		return false
	}
	if rest < SizeofAttr {
		d.err = fmt.Errorf("%w: %d trailing bytes at offset %d", ErrMalformed, rest, d.off)
		return false
	}

	length := int(binary.NativeEndian.Uint16(d.b[d.off:]))
	typ := binary.NativeEndian.Uint16(d.b[d.off+2:])
	if length < SizeofAttr || length > rest {
		d.err = fmt.Errorf("%w: attribute type %d length %d at offset %d, %d bytes left",
			ErrMalformed, typ&attrTypeMask, length, d.off, rest)
		return false
	}

	d.cur = Attr{
		Type:   typ & attrTypeMask,
		Nested: typ&attrNestedFlag != 0,
		Value:  d.b[d.off+SizeofAttr : d.off+length],
	}

	// The final record may omit its padding.
	d.off += min(Align(length), rest)
	return true
}

// Err returns the error that stopped iteration, if any.
func (d *AttrDecoder) Err() error {
	return d.err
}

// Attr returns the current attribute.
func (d *AttrDecoder) Attr() Attr {
	return d.cur
}

// Type returns the current attribute type with the flag bits cleared.
func (d *AttrDecoder) Type() uint16 {
	return d.cur.Type
}

// Bytes returns the current attribute value.
func (d *AttrDecoder) Bytes() []byte {
	return d.cur.Value
}

// String returns the current value as a NUL-terminated string.
func (d *AttrDecoder) String() string {
	return cString(d.cur.Value)
}

// Uint32 returns the current value as a host-order uint32, or 0 when the
// value is not exactly four bytes.
func (d *AttrDecoder) Uint32() uint32 {
	if len(d.cur.Value) != 4 {
		return 0
	}
	return binary.NativeEndian.Uint32(d.cur.Value)
}

// Nested returns a decoder over the current attribute's value.
func (d *AttrDecoder) Nested() *AttrDecoder {
	return NewAttrDecoder(d.cur.Value)
}

// All returns the remaining attributes as a sequence. Check Err after the
// loop.
func (d *AttrDecoder) All() iter.Seq[Attr] {
	return func(yield func(Attr) bool) {
		for d.Next() {
			if !yield(d.cur) {
				return
			}
		}
	}
}

// Table maps attribute types to values. When a type repeats, the last
// occurrence wins.
type Table map[uint16][]byte

// ParseAttrs decodes b into a Table.
func ParseAttrs(b []byte) (Table, error) {
	t := make(Table)
	d := NewAttrDecoder(b)
	for d.Next() {
		t[d.Type()] = d.Bytes()
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// String returns the NUL-terminated string stored under typ.
func (t Table) String(typ uint16) (string, bool) {
	v, ok := t[typ]
	if !ok {
		return "", false
	}
	return cString(v), true
}

// Uint32 returns the four-byte value stored under typ.
func (t Table) Uint32(typ uint16) (uint32, bool) {
	v, ok := t[typ]
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.NativeEndian.Uint32(v), true
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
