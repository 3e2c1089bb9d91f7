// Package counters polls per-interface traffic counters into the registry
// and derives byte rates from successive samples.
package counters

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/nlagent/nlagent/internal/registry"
)

// DefaultSysfsRoot is where the kernel exposes per-interface statistics.
const DefaultSysfsRoot = "/sys/class/net"

// Source reads the current counters of one interface. Fields that could
// not be read are zero in the returned value and described by the error.
type Source interface {
	Read(name string) (registry.Counters, error)
}

// SysfsSource reads <root>/<name>/statistics/{rx,tx}_{bytes,errors}.
type SysfsSource struct {
	fsys fs.FS
}

// NewSysfsSource reads statistics below root.
func NewSysfsSource(root string) *SysfsSource {
	return &SysfsSource{fsys: os.DirFS(root)}
}

// NewSysfsSourceFS reads statistics from fsys, rooted like /sys/class/net.
func NewSysfsSourceFS(fsys fs.FS) *SysfsSource {
	return &SysfsSource{fsys: fsys}
}

// Read implements Source.
func (s *SysfsSource) Read(name string) (registry.Counters, error) {
	var (
		c    registry.Counters
		errs []error
	)
	fields := []struct {
		file string
		dst  *uint64
	}{
		{"rx_bytes", &c.RxBytes},
		{"tx_bytes", &c.TxBytes},
		{"rx_errors", &c.RxErrors},
		{"tx_errors", &c.TxErrors},
	}
	for _, f := range fields {
		v, err := s.readValue(path.Join(name, "statistics", f.file))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
	}
	return c, errors.Join(errs...)
}

func (s *SysfsSource) readValue(name string) (uint64, error) {
	if !fs.ValidPath(name) {
		return 0, fmt.Errorf("invalid statistics path %q", name)
	}
	b, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

// LinkReader looks links up by name; *netlink.Handle implements it.
type LinkReader interface {
	LinkByName(name string) (netlink.Link, error)
}

// NetlinkSource reads link statistics over rtnetlink. It works inside
// network namespaces whose sysfs is not mounted.
type NetlinkSource struct {
	links LinkReader
}

// NewNetlinkSource reads statistics through links.
func NewNetlinkSource(links LinkReader) *NetlinkSource {
	return &NetlinkSource{links: links}
}

// Read implements Source.
func (s *NetlinkSource) Read(name string) (registry.Counters, error) {
	link, err := s.links.LinkByName(name)
	if err != nil {
		return registry.Counters{}, fmt.Errorf("link %s: %w", name, err)
	}
	stats := link.Attrs().Statistics
	if stats == nil {
		return registry.Counters{}, fmt.Errorf("link %s: no statistics", name)
	}
	return registry.Counters{
		RxBytes:  stats.RxBytes,
		TxBytes:  stats.TxBytes,
		RxErrors: stats.RxErrors,
		TxErrors: stats.TxErrors,
	}, nil
}
