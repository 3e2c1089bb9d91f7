package rtnl

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed netlink message header (struct nlmsghdr).
type Header struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

// Message is one framed netlink message. Data is the payload after the
// header, sized by Header.Len, and aliases the decoded buffer.
type Message struct {
	Header Header
	Data   []byte
}

// MessageDecoder frames a datagram into netlink messages. A header whose
// length is shorter than the header itself or runs past the buffer leaves
// no next boundary to resume from, so it ends the batch with ErrMalformed.
type MessageDecoder struct {
	b   []byte
	off int
	cur Message
	err error
}

// NewMessageDecoder returns a decoder over one received datagram.
func NewMessageDecoder(b []byte) *MessageDecoder {
	return &MessageDecoder{b: b}
}

// Next advances to the next message.
func (d *MessageDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	rest := len(d.b) - d.off
	if rest == 0 {
		return false
	}
	if rest < SizeofHeader {
		d.err = fmt.Errorf("%w: %d trailing bytes at offset %d", ErrMalformed, rest, d.off)
		return false
	}

	b := d.b[d.off:]
	h := Header{
		Len:   binary.NativeEndian.Uint32(b[0:4]),
		Type:  binary.NativeEndian.Uint16(b[4:6]),
		Flags: binary.NativeEndian.Uint16(b[6:8]),
		Seq:   binary.NativeEndian.Uint32(b[8:12]),
		Pid:   binary.NativeEndian.Uint32(b[12:16]),
	}
	if h.Len < SizeofHeader || int64(h.Len) > int64(rest) {
		d.err = fmt.Errorf("%w: message type %d length %d at offset %d, %d bytes left",
			ErrMalformed, h.Type, h.Len, d.off, rest)
		return false
	}

	d.cur = Message{Header: h, Data: b[SizeofHeader:h.Len]}
	d.off += min(Align(int(h.Len)), rest)
	return true
}

// Message returns the current message.
func (d *MessageDecoder) Message() Message {
	return d.cur
}

// Err returns the framing error that stopped iteration, if any.
func (d *MessageDecoder) Err() error {
	return d.err
}

// IfInfo is the link message body (struct ifinfomsg).
type IfInfo struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

// Running reports whether the kernel marks the link operationally running.
func (i IfInfo) Running() bool {
	return i.Flags&FlagRunning != 0
}

// ParseIfInfo decodes a link message body and returns the attribute bytes
// that follow it.
func ParseIfInfo(data []byte) (IfInfo, []byte, error) {
	if len(data) < SizeofIfInfo {
		return IfInfo{}, nil, fmt.Errorf("%w: ifinfomsg needs %d bytes, have %d", ErrTruncated, SizeofIfInfo, len(data))
	}
	info := IfInfo{
		Family: data[0],
		Type:   binary.NativeEndian.Uint16(data[2:4]),
		Index:  int32(binary.NativeEndian.Uint32(data[4:8])),
		Flags:  binary.NativeEndian.Uint32(data[8:12]),
		Change: binary.NativeEndian.Uint32(data[12:16]),
	}
	return info, data[SizeofIfInfo:], nil
}

// IfAddr is the address message body (struct ifaddrmsg).
type IfAddr struct {
	Family    uint8
	PrefixLen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

// ParseIfAddr decodes an address message body and returns the attribute
// bytes that follow it.
func ParseIfAddr(data []byte) (IfAddr, []byte, error) {
	if len(data) < SizeofIfAddr {
		return IfAddr{}, nil, fmt.Errorf("%w: ifaddrmsg needs %d bytes, have %d", ErrTruncated, SizeofIfAddr, len(data))
	}
	a := IfAddr{
		Family:    data[0],
		PrefixLen: data[1],
		Flags:     data[2],
		Scope:     data[3],
		Index:     binary.NativeEndian.Uint32(data[4:8]),
	}
	return a, data[SizeofIfAddr:], nil
}

// RtMsg is the route message body (struct rtmsg).
type RtMsg struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	Tos      uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32
}

// ParseRtMsg decodes a route message body and returns the attribute bytes
// that follow it.
func ParseRtMsg(data []byte) (RtMsg, []byte, error) {
	if len(data) < SizeofRtMsg {
		return RtMsg{}, nil, fmt.Errorf("%w: rtmsg needs %d bytes, have %d", ErrTruncated, SizeofRtMsg, len(data))
	}
	r := RtMsg{
		Family:   data[0],
		DstLen:   data[1],
		SrcLen:   data[2],
		Tos:      data[3],
		Table:    data[4],
		Protocol: data[5],
		Scope:    data[6],
		Type:     data[7],
		Flags:    binary.NativeEndian.Uint32(data[8:12]),
	}
	return r, data[SizeofRtMsg:], nil
}

// TypeName returns a short name for the rtnetlink message types handled
// here, for logs and metric labels.
func TypeName(t uint16) string {
	switch t {
	case TypeNoop:
		return "noop"
	case TypeError:
		return "error"
	case TypeDone:
		return "done"
	case TypeOverrun:
		return "overrun"
	case TypeNewLink:
		return "newlink"
	case TypeDelLink:
		return "dellink"
	case TypeNewAddr:
		return "newaddr"
	case TypeDelAddr:
		return "deladdr"
	case TypeNewRoute:
		return "newroute"
	case TypeDelRoute:
		return "delroute"
	default:
		return "other"
	}
}
