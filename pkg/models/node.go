package models

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID is the 32-bit number that identifies a node on the mesh. Its
// canonical string form is "!" followed by eight lowercase hex digits.
type NodeID uint32

// String renders the canonical node ID, e.g. NodeID(0x1a2b3c4d) -> "!1a2b3c4d".
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// ParseNodeID parses a canonical node ID string back into a NodeID.
// Uppercase hex digits are accepted.
func ParseNodeID(s string) (NodeID, error) {
	if len(s) != 9 || !strings.HasPrefix(s, "!") {
		return 0, fmt.Errorf("invalid node ID %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node ID %q: %w", s, err)
	}
	return NodeID(v), nil
}

// NodeEntry is the last-known view of a mesh node. Telemetry and position
// fields are pointers and stay nil until the node has reported them; a
// repeated update replaces the whole row (no field-level merge).
type NodeEntry struct {
	NodeID    string `db:"node_id"`
	NodeNum   uint32 `db:"node_num"`
	LongName  string `db:"long_name"`
	ShortName string `db:"short_name"`
	HwModel   string `db:"hw_model"`
	Role      string `db:"role"`

	BatteryLevel  *int     `db:"battery_level"`
	Voltage       *float64 `db:"voltage"`
	ChannelUtil   *float64 `db:"channel_util"`
	AirUtilTx     *float64 `db:"air_util_tx"`
	UptimeSeconds *int64   `db:"uptime_seconds"`
	Snr           *float64 `db:"snr"`
	HopsAway      *int     `db:"hops_away"`
	LastHeard     *float64 `db:"last_heard"`

	Latitude  *float64 `db:"latitude"`
	Longitude *float64 `db:"longitude"`
	Altitude  *int     `db:"altitude"`
}

// DisplayName returns the best human-readable name for the node.
func (n *NodeEntry) DisplayName() string {
	if n.LongName != "" {
		return n.LongName
	}
	if n.ShortName != "" {
		return n.ShortName
	}
	return n.NodeID
}

// HasPosition returns true if the node has reported coordinates.
func (n *NodeEntry) HasPosition() bool {
	return n.Latitude != nil && n.Longitude != nil
}
