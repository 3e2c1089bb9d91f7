//go:build linux

package netmon

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nlagent/nlagent/internal/registry"
)

// Enumerator lists links and addresses through a netlink handle, in the
// configured namespace when one is set.
type Enumerator struct {
	handle *netlink.Handle
	cfg    Config
}

// NewEnumerator opens a netlink handle for enumeration.
func NewEnumerator(cfg Config) (*Enumerator, error) {
	var (
		h   *netlink.Handle
		err error
	)
	if cfg.Namespace != "" {
		ns, nsErr := openNamespace(cfg.Namespace)
		if nsErr != nil {
			return nil, nsErr
		}
		h, err = netlink.NewHandleAt(ns, unix.NETLINK_ROUTE)
		_ = ns.Close()
	} else {
		h, err = netlink.NewHandle(unix.NETLINK_ROUTE)
	}
	if err != nil {
		return nil, fmt.Errorf("open netlink handle: %w", err)
	}
	return &Enumerator{handle: h, cfg: cfg}, nil
}

// Handle returns the underlying netlink handle.
func (e *Enumerator) Handle() *netlink.Handle {
	return e.handle
}

// Links implements registry.Enumerator.
func (e *Enumerator) Links(ctx context.Context) ([]registry.Link, error) {
	links, err := e.handle.LinkList()
	if err != nil {
		return nil, err
	}
	out := make([]registry.Link, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		if e.cfg.Ignored(attrs.Name) {
			continue
		}
		out = append(out, registry.Link{
			Index: attrs.Index,
			Name:  attrs.Name,
			Up:    attrs.RawFlags&unix.IFF_RUNNING != 0,
		})
	}
	return out, ctx.Err()
}

// Addresses implements registry.Enumerator.
func (e *Enumerator) Addresses(ctx context.Context) ([]registry.LinkAddress, error) {
	addrs, err := e.handle.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return nil, err
	}
	out := make([]registry.LinkAddress, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		family := registry.FamilyIPv6
		if ip.Is4() {
			family = registry.FamilyIPv4
		}
		prefix, _ := a.Mask.Size()
		out = append(out, registry.LinkAddress{
			Index: a.LinkIndex,
			Address: registry.Address{
				Family:    family,
				Addr:      ip.String(),
				PrefixLen: prefix,
			},
		})
	}
	return out, ctx.Err()
}

// Close releases the netlink handle.
func (e *Enumerator) Close() error {
	e.handle.Close()
	return nil
}
