package registry

import (
	"encoding/json"
	"time"
)

// ChangeType identifies what a registry mutation did.
type ChangeType int

const (
	ChangeUnknown ChangeType = iota
	ChangeInterfaceAdded
	ChangeInterfaceRemoved
	ChangeInterfaceRenamed
	ChangeInterfaceUp
	ChangeInterfaceDown
	ChangeAddressAdded
	ChangeAddressRemoved
)

// String returns a string representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeInterfaceAdded:
		return "interface_added"
	case ChangeInterfaceRemoved:
		return "interface_removed"
	case ChangeInterfaceRenamed:
		return "interface_renamed"
	case ChangeInterfaceUp:
		return "interface_up"
	case ChangeInterfaceDown:
		return "interface_down"
	case ChangeAddressAdded:
		return "address_added"
	case ChangeAddressRemoved:
		return "address_removed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the change type by name.
func (c ChangeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Event describes one registry change.
type Event struct {
	Type    ChangeType `json:"type"`
	Index   int        `json:"index"`
	Name    string     `json:"name"`
	OldName string     `json:"old_name,omitempty"`
	Up      bool       `json:"up"`
	// StatusChanged is set on up/down events whose flag differs from the
	// previous report.
	StatusChanged bool      `json:"status_changed,omitempty"`
	Address       *Address  `json:"address,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
