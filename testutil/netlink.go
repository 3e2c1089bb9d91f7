package testutil

import (
	"encoding/binary"
	"net/netip"
)

// NetlinkAttr encodes one rtattr record with padding.
func NetlinkAttr(typ uint16, value []byte) []byte {
	length := 4 + len(value)
	b := make([]byte, (length+3)&^3)
	binary.NativeEndian.PutUint16(b[0:2], uint16(length))
	binary.NativeEndian.PutUint16(b[2:4], typ)
	copy(b[4:], value)
	return b
}

// NetlinkString encodes a NUL-terminated string attribute.
func NetlinkString(typ uint16, s string) []byte {
	return NetlinkAttr(typ, append([]byte(s), 0))
}

// NetlinkUint32 encodes a host-order uint32 attribute.
func NetlinkUint32(typ uint16, v uint32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, v)
	return NetlinkAttr(typ, b)
}

// NetlinkAddr encodes an IP address attribute in network byte order.
func NetlinkAddr(typ uint16, addr string) []byte {
	return NetlinkAttr(typ, netip.MustParseAddr(addr).AsSlice())
}

// NetlinkMessage frames body and attrs behind an nlmsghdr.
func NetlinkMessage(typ uint16, body []byte, attrs ...[]byte) []byte {
	payload := append([]byte(nil), body...)
	for _, a := range attrs {
		payload = append(payload, a...)
	}
	length := 16 + len(payload)
	b := make([]byte, (length+3)&^3)
	binary.NativeEndian.PutUint32(b[0:4], uint32(length))
	binary.NativeEndian.PutUint16(b[4:6], typ)
	copy(b[16:], payload)
	return b
}

// IfInfoBody encodes an ifinfomsg.
func IfInfoBody(family uint8, index int32, flags uint32) []byte {
	b := make([]byte, 16)
	b[0] = family
	binary.NativeEndian.PutUint32(b[4:8], uint32(index))
	binary.NativeEndian.PutUint32(b[8:12], flags)
	return b
}

// IfAddrBody encodes an ifaddrmsg.
func IfAddrBody(family, prefixLen uint8, index uint32) []byte {
	b := make([]byte, 8)
	b[0] = family
	b[1] = prefixLen
	binary.NativeEndian.PutUint32(b[4:8], index)
	return b
}

// RtMsgBody encodes an rtmsg.
func RtMsgBody(family, dstLen uint8) []byte {
	b := make([]byte, 12)
	b[0] = family
	b[1] = dstLen
	return b
}

// Batch concatenates framed messages into one datagram.
func Batch(msgs ...[]byte) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m...)
	}
	return out
}
