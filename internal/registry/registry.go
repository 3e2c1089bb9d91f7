// Package registry holds the authoritative in-memory model of the host's
// network interfaces and their addresses.
//
// One goroutine (the reactor) mutates the registry; any goroutine may read.
// Lookups and snapshots return copies, so nothing handed out aliases
// registry storage.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"time"
)

// NameMax is the longest interface name kept (IFNAMSIZ minus the NUL).
const NameMax = 15

// DefaultMaxAddresses is the per-interface address limit used when
// Options.MaxAddresses is negative.
const DefaultMaxAddresses = 8

var (
	// ErrNotFound is returned when no interface has the given index.
	ErrNotFound = errors.New("interface not found")
	// ErrAddressLimit is returned when an interface already holds the
	// maximum number of addresses.
	ErrAddressLimit = errors.New("address limit reached")
	// ErrIncompletePrefix is returned for addresses with prefix length 0.
	ErrIncompletePrefix = errors.New("address has no prefix length")
	// ErrUnsupportedFamily is returned for families other than IPv4/IPv6.
	ErrUnsupportedFamily = errors.New("unsupported address family")
)

// Family is an address family.
type Family uint8

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Address is one address assigned to an interface. Addr is canonical text.
type Address struct {
	Family    Family `json:"family"`
	Addr      string `json:"address"`
	PrefixLen int    `json:"prefix_len"`
}

func (a Address) String() string {
	return a.Addr + "/" + strconv.Itoa(a.PrefixLen)
}

// Counters are the last polled absolute traffic counters.
type Counters struct {
	RxBytes  uint64 `json:"rx_bytes"`
	TxBytes  uint64 `json:"tx_bytes"`
	RxErrors uint64 `json:"rx_errors"`
	TxErrors uint64 `json:"tx_errors"`
}

// Interface is a copy of one registry entry.
type Interface struct {
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	Up          bool      `json:"up"`
	Provisional bool      `json:"provisional,omitempty"`
	Counters    Counters  `json:"counters"`
	Addresses   []Address `json:"addresses"`
}

func (i *Interface) clone() Interface {
	c := *i
	c.Addresses = append([]Address(nil), i.Addresses...)
	return c
}

// Options configure a Registry.
type Options struct {
	// MaxAddresses caps the addresses kept per interface. Zero means no
	// limit; negative selects DefaultMaxAddresses.
	MaxAddresses int

	// OnChange is called for every change, after the registry lock is
	// released, on the mutating goroutine.
	OnChange func(Event)
}

// Registry is the set of known interfaces keyed by kernel index.
type Registry struct {
	mu       sync.RWMutex
	byIndex  map[int]*Interface
	byName   map[string]int
	order    []int
	maxAddrs int
	onChange func(Event)
}

// New returns an empty registry.
func New(opts Options) *Registry {
	maxAddrs := opts.MaxAddresses
	if maxAddrs < 0 {
		maxAddrs = DefaultMaxAddresses
	}
	return &Registry{
		byIndex:  make(map[int]*Interface),
		byName:   make(map[string]int),
		maxAddrs: maxAddrs,
		onChange: opts.OnChange,
	}
}

// PlaceholderName is the provisional name given to an index seen before
// its name.
func PlaceholderName(index int) string {
	return "if" + strconv.Itoa(index)
}

func truncateName(name string) string {
	if len(name) > NameMax {
		return name[:NameMax]
	}
	return name
}

// UpsertByIndex returns the interface with the given index, creating it if
// needed. An empty name creates a provisional entry named if<index>; a
// non-empty name replaces whatever name the entry had. The bool reports
// whether the entry was created.
func (r *Registry) UpsertByIndex(index int, name string) (Interface, bool) {
	name = truncateName(name)

	r.mu.Lock()
	var events []Event
	iface, ok := r.byIndex[index]
	created := !ok
	if created {
		iface = &Interface{Index: index, Name: name}
		if name == "" {
			iface.Name = PlaceholderName(index)
			iface.Provisional = true
		}
		events = append(events, r.evictName(iface.Name, index)...)
		r.byIndex[index] = iface
		r.byName[iface.Name] = index
		r.order = append(r.order, index)
		events = append(events, Event{Type: ChangeInterfaceAdded, Index: index, Name: iface.Name})
	} else if name != "" && name != iface.Name {
		old := iface.Name
		events = append(events, r.evictName(name, index)...)
		delete(r.byName, old)
		iface.Name = name
		iface.Provisional = false
		r.byName[name] = index
		events = append(events, Event{Type: ChangeInterfaceRenamed, Index: index, Name: name, OldName: old, Up: iface.Up})
	} else if name != "" {
		iface.Provisional = false
	}
	out := iface.clone()
	r.mu.Unlock()

	r.emit(events)
	return out, created
}

// evictName drops a stale entry holding name under another index. Live
// kernel names are unique, so such an entry missed its delete.
func (r *Registry) evictName(name string, index int) []Event {
	other, ok := r.byName[name]
	if !ok || other == index {
		return nil
	}
	if ev, ok := r.removeLocked(other); ok {
		return []Event{ev}
	}
	return nil
}

// FindByIndex returns a copy of the interface with the given index.
func (r *Registry) FindByIndex(index int) (Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.byIndex[index]
	if !ok {
		return Interface{}, false
	}
	return iface.clone(), true
}

// FindByName returns a copy of the interface with the given name.
func (r *Registry) FindByName(name string) (Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index, ok := r.byName[name]
	if !ok {
		return Interface{}, false
	}
	return r.byIndex[index].clone(), true
}

// SetStatus records the up flag for an interface. It reports false when
// the index is unknown. Every call on a known interface emits an event so
// listeners see each status report from the kernel.
func (r *Registry) SetStatus(index int, up bool) bool {
	r.mu.Lock()
	iface, ok := r.byIndex[index]
	if !ok {
		r.mu.Unlock()
		return false
	}
	changed := iface.Up != up
	iface.Up = up
	name := iface.Name
	r.mu.Unlock()

	typ := ChangeInterfaceDown
	if up {
		typ = ChangeInterfaceUp
	}
	r.emit([]Event{{Type: typ, Index: index, Name: name, Up: up, StatusChanged: changed}})
	return true
}

// SetCounters stores the latest counter snapshot, replacing the previous
// one even when values went down.
func (r *Registry) SetCounters(index int, c Counters) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface, ok := r.byIndex[index]
	if !ok {
		return false
	}
	iface.Counters = c
	return true
}

// AddAddress assigns addr to the interface. Adding an address that is
// already present is a no-op.
func (r *Registry) AddAddress(index int, addr Address) error {
	if addr.Family != FamilyIPv4 && addr.Family != FamilyIPv6 {
		return fmt.Errorf("%w: %d", ErrUnsupportedFamily, addr.Family)
	}
	if addr.PrefixLen == 0 {
		return fmt.Errorf("%s: %w", addr.Addr, ErrIncompletePrefix)
	}

	r.mu.Lock()
	iface, ok := r.byIndex[index]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	for _, a := range iface.Addresses {
		if a == addr {
			r.mu.Unlock()
			return nil
		}
	}
	if r.maxAddrs > 0 && len(iface.Addresses) >= r.maxAddrs {
		r.mu.Unlock()
		return fmt.Errorf("%s on %s: %w (%d)", addr, iface.Name, ErrAddressLimit, r.maxAddrs)
	}
	iface.Addresses = append(iface.Addresses, addr)
	name := iface.Name
	r.mu.Unlock()

	r.emit([]Event{{Type: ChangeAddressAdded, Index: index, Name: name, Address: &addr}})
	return nil
}

// RemoveAddress removes the exact (family, address, prefix) entry. It
// reports whether an address was removed; removing an absent address is
// not an error.
func (r *Registry) RemoveAddress(index int, addr Address) (bool, error) {
	r.mu.Lock()
	iface, ok := r.byIndex[index]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	pos := -1
	for i, a := range iface.Addresses {
		if a == addr {
			pos = i
			break
		}
	}
	if pos < 0 {
		r.mu.Unlock()
		return false, nil
	}
	iface.Addresses = append(iface.Addresses[:pos], iface.Addresses[pos+1:]...)
	name := iface.Name
	r.mu.Unlock()

	r.emit([]Event{{Type: ChangeAddressRemoved, Index: index, Name: name, Address: &addr}})
	return true, nil
}

// RemoveInterface deletes an interface and its addresses.
func (r *Registry) RemoveInterface(index int) bool {
	r.mu.Lock()
	ev, ok := r.removeLocked(index)
	r.mu.Unlock()
	if ok {
		r.emit([]Event{ev})
	}
	return ok
}

func (r *Registry) removeLocked(index int) (Event, bool) {
	iface, ok := r.byIndex[index]
	if !ok {
		return Event{}, false
	}
	delete(r.byIndex, index)
	if r.byName[iface.Name] == index {
		delete(r.byName, iface.Name)
	}
	for i, idx := range r.order {
		if idx == index {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return Event{Type: ChangeInterfaceRemoved, Index: index, Name: iface.Name}, true
}

// Len returns the number of known interfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIndex)
}

// Snapshot returns copies of all interfaces in insertion order.
func (r *Registry) Snapshot() []Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Interface, 0, len(r.order))
	for _, index := range r.order {
		out = append(out, r.byIndex[index].clone())
	}
	return out
}

// All iterates over a snapshot taken when iteration starts. Mutations
// during the loop do not affect the sequence.
func (r *Registry) All() iter.Seq[Interface] {
	return func(yield func(Interface) bool) {
		for _, iface := range r.Snapshot() {
			if !yield(iface) {
				return
			}
		}
	}
}

func (r *Registry) emit(events []Event) {
	if r.onChange == nil {
		return
	}
	now := time.Now()
	for _, ev := range events {
		ev.Timestamp = now
		r.onChange(ev)
	}
}
