package rtnl

// Netlink control message types.
const (
	TypeNoop    uint16 = 0x1
	TypeError   uint16 = 0x2
	TypeDone    uint16 = 0x3
	TypeOverrun uint16 = 0x4
)

// rtnetlink message types.
const (
	TypeNewLink  uint16 = 16
	TypeDelLink  uint16 = 17
	TypeNewAddr  uint16 = 20
	TypeDelAddr  uint16 = 21
	TypeNewRoute uint16 = 24
	TypeDelRoute uint16 = 25
)

// Link attributes (IFLA_*).
const (
	LinkAddress uint16 = 1
	LinkIfName  uint16 = 3
	LinkMTU     uint16 = 4
)

// Address attributes (IFA_*).
const (
	AddrAddress uint16 = 1
	AddrLocal   uint16 = 2
	AddrLabel   uint16 = 3
	AddrFlags   uint16 = 8
)

// Route attributes (RTA_*).
const (
	RouteDst     uint16 = 1
	RouteSrc     uint16 = 2
	RouteOIF     uint16 = 4
	RouteGateway uint16 = 5
	RouteTable   uint16 = 15
)

// Interface flags (IFF_*).
const (
	FlagUp      uint32 = 0x1
	FlagRunning uint32 = 0x40
	FlagLowerUp uint32 = 0x10000
)

// Address families carried in message bodies.
const (
	FamilyUnspec uint8 = 0
	FamilyInet   uint8 = 2
	FamilyBridge uint8 = 7
	FamilyInet6  uint8 = 10
)

// Multicast group bitmasks for bind(2).
const (
	GroupLink      uint32 = 0x1
	GroupIPv4Addr  uint32 = 0x10
	GroupIPv4Route uint32 = 0x40
	GroupIPv6Addr  uint32 = 0x100
	GroupIPv6Route uint32 = 0x400
)

// Wire sizes of the fixed headers.
const (
	SizeofHeader   = 16
	SizeofAttr     = 4
	SizeofIfInfo   = 16
	SizeofIfAddr   = 8
	SizeofRtMsg    = 12
	attrTypeMask   = 0x3fff
	attrNestedFlag = 0x8000
)
