package netmon

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/nlagent/nlagent/internal/registry"
	"github.com/nlagent/nlagent/internal/rtnl"
)

var (
	errBadAddress = errors.New("bad address attribute")
	errBadIndex   = errors.New("bad interface index")
)

// Interpreter applies decoded notifications to a registry. It is not safe
// for concurrent use; the reactor goroutine owns it.
type Interpreter struct {
	reg *registry.Registry
	cfg Config
	log zerolog.Logger
	obs Observer
}

// NewInterpreter returns an interpreter updating reg.
func NewInterpreter(reg *registry.Registry, cfg Config, logger zerolog.Logger) *Interpreter {
	return &Interpreter{
		reg: reg,
		cfg: cfg,
		log: logger,
		obs: nopObserver{},
	}
}

// SetObserver installs o to receive message outcomes.
func (in *Interpreter) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	in.obs = o
}

// HandleBatch decodes one received datagram and handles every message in
// it. A message that fails to decode is dropped and the rest of the batch
// is still processed; a framing error ends the batch. It returns the
// number of messages applied.
func (in *Interpreter) HandleBatch(b []byte) int {
	applied := 0
	d := rtnl.NewMessageDecoder(b)
	for d.Next() {
		m := d.Message()
		in.obs.MessageReceived(rtnl.TypeName(m.Header.Type))
		if err := in.Handle(m); err != nil {
			reason := dropReason(err)
			in.obs.MessageDropped(reason)
			ev := in.log.Warn()
			if reason == "unknown_interface" {
				ev = in.log.Debug()
			}
			ev.Err(err).Str("type", rtnl.TypeName(m.Header.Type)).Str("reason", reason).Msg("dropping netlink message")
			continue
		}
		applied++
	}
	if err := d.Err(); err != nil {
		in.obs.MessageDropped("framing")
		in.log.Warn().Err(err).Int("bytes", len(b)).Msg("discarding rest of netlink datagram")
	}
	return applied
}

// Handle applies a single message.
func (in *Interpreter) Handle(m rtnl.Message) error {
	switch m.Header.Type {
	case rtnl.TypeNewLink, rtnl.TypeDelLink:
		return in.handleLink(m)
	case rtnl.TypeNewAddr, rtnl.TypeDelAddr:
		return in.handleAddr(m)
	case rtnl.TypeNewRoute, rtnl.TypeDelRoute:
		return in.handleRoute(m)
	default:
		return nil
	}
}

func (in *Interpreter) handleLink(m rtnl.Message) error {
	info, attrs, err := rtnl.ParseIfInfo(m.Data)
	if err != nil {
		return err
	}
	// Bridge port notifications reuse the link message types.
	if info.Family == rtnl.FamilyBridge {
		return nil
	}
	tb, err := rtnl.ParseAttrs(attrs)
	if err != nil {
		return fmt.Errorf("link %d: %w", info.Index, err)
	}
	if info.Index <= 0 {
		return fmt.Errorf("%w: %d", errBadIndex, info.Index)
	}
	index := int(info.Index)
	name, _ := tb.String(rtnl.LinkIfName)

	if m.Header.Type == rtnl.TypeDelLink {
		in.reg.RemoveInterface(index)
		return nil
	}

	if in.cfg.Ignored(name) {
		in.reg.RemoveInterface(index)
		return nil
	}

	in.reg.UpsertByIndex(index, name)
	in.reg.SetStatus(index, info.Running())
	return nil
}

func (in *Interpreter) handleAddr(m rtnl.Message) error {
	hdr, attrs, err := rtnl.ParseIfAddr(m.Data)
	if err != nil {
		return err
	}
	tb, err := rtnl.ParseAttrs(attrs)
	if err != nil {
		return fmt.Errorf("address on index %d: %w", hdr.Index, err)
	}

	var family registry.Family
	switch hdr.Family {
	case rtnl.FamilyInet:
		family = registry.FamilyIPv4
	case rtnl.FamilyInet6:
		family = registry.FamilyIPv6
	default:
		return nil
	}

	// IFA_LOCAL is the local end on point-to-point links; IFA_ADDRESS is
	// the peer there and the local address everywhere else.
	raw, ok := tb[rtnl.AddrLocal]
	if !ok {
		raw, ok = tb[rtnl.AddrAddress]
	}
	if !ok {
		return fmt.Errorf("%w: missing on index %d", errBadAddress, hdr.Index)
	}
	ip, err := parseIP(family, raw)
	if err != nil {
		return err
	}

	index := int(hdr.Index)
	addr := registry.Address{Family: family, Addr: ip.String(), PrefixLen: int(hdr.PrefixLen)}

	if m.Header.Type == rtnl.TypeDelAddr {
		if _, err := in.reg.RemoveAddress(index, addr); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		return nil
	}

	err = in.reg.AddAddress(index, addr)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrIncompletePrefix):
		in.log.Debug().Str("address", addr.Addr).Int("index", index).Msg("skipping address without prefix")
		return nil
	default:
		return err
	}
}

func (in *Interpreter) handleRoute(m rtnl.Message) error {
	rt, attrs, err := rtnl.ParseRtMsg(m.Data)
	if err != nil {
		return err
	}
	tb, err := rtnl.ParseAttrs(attrs)
	if err != nil {
		return fmt.Errorf("route: %w", err)
	}

	var family registry.Family
	switch rt.Family {
	case rtnl.FamilyInet:
		family = registry.FamilyIPv4
	case rtnl.FamilyInet6:
		family = registry.FamilyIPv6
	default:
		return nil
	}

	dst := "default"
	if raw, ok := tb[rtnl.RouteDst]; ok {
		ip, err := parseIP(family, raw)
		if err != nil {
			return err
		}
		dst = netip.PrefixFrom(ip, int(rt.DstLen)).String()
	}

	action := "added"
	if m.Header.Type == rtnl.TypeDelRoute {
		action = "removed"
	}

	ev := in.log.Debug()
	if dst == "default" {
		ev = in.log.Info()
	}
	ev = ev.Str("destination", dst).Str("family", family.String()).Uint8("table", rt.Table)
	if oif, ok := tb.Uint32(rtnl.RouteOIF); ok {
		ev = ev.Uint32("oif", oif)
		if iface, found := in.reg.FindByIndex(int(oif)); found {
			ev = ev.Str("interface", iface.Name)
		}
	}
	if raw, ok := tb[rtnl.RouteGateway]; ok {
		if gw, err := parseIP(family, raw); err == nil {
			ev = ev.Str("gateway", gw.String())
		}
	}
	ev.Msg("route " + action)
	return nil
}

func parseIP(family registry.Family, raw []byte) (netip.Addr, error) {
	want := 4
	if family == registry.FamilyIPv6 {
		want = 16
	}
	if len(raw) != want {
		return netip.Addr{}, fmt.Errorf("%w: %d bytes for %s", errBadAddress, len(raw), family)
	}
	ip, _ := netip.AddrFromSlice(raw)
	return ip, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, rtnl.ErrTruncated):
		return "truncated"
	case errors.Is(err, rtnl.ErrMalformed):
		return "malformed"
	case errors.Is(err, registry.ErrNotFound):
		return "unknown_interface"
	case errors.Is(err, registry.ErrAddressLimit):
		return "address_limit"
	case errors.Is(err, errBadAddress), errors.Is(err, errBadIndex):
		return "bad_value"
	default:
		return "other"
	}
}
