package models

// Channel role values as reported by the device.
const (
	ChannelRoleDisabled  = "DISABLED"
	ChannelRolePrimary   = "PRIMARY"
	ChannelRoleSecondary = "SECONDARY"
)

// Channel is one of the up to eight logical communication slots configured
// on a node.
type Channel struct {
	Index int
	Role  string
	Name  string
}

// Enabled returns true if the channel slot is usable for messaging.
func (c Channel) Enabled() bool {
	return c.Role != ChannelRoleDisabled && c.Role != ""
}

// DisplayName returns the channel name, or a default for the primary slot.
func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Index == 0 {
		return "Primary"
	}
	return ""
}
