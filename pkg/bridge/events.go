package bridge

import "github.com/jdenoy/meshdeck/pkg/models"

// Event is a notification emitted by the bridge. The concrete types below
// form a closed set; consumers switch on them.
type Event interface {
	event()
}

// Connected reports a completed session handshake, with the local node's
// identity resolved from the remote node table.
type Connected struct {
	NodeID   string
	NodeNum  uint32
	NodeName string
	HwModel  string
}

// Disconnected reports that the session ended, whether by request or
// because the transport went away.
type Disconnected struct{}

// ConnectionError carries a human-readable failure message; the bridge is
// back in the disconnected state when it is delivered.
type ConnectionError struct {
	Message string
}

// MessageReceived carries an inbound text message.
type MessageReceived struct {
	Message *models.Message
}

// MessageSent carries a locally originated message that was handed to the
// transport. Persisting it is the consumer's job, same as for received
// messages.
type MessageSent struct {
	Message *models.Message
}

// NodesUpdated carries the full node table.
type NodesUpdated struct {
	Nodes []*models.NodeEntry
}

// NodeUpdated carries a single refreshed node entry.
type NodeUpdated struct {
	Node *models.NodeEntry
}

// ChannelsLoaded carries the channel slots configured on the local node.
type ChannelsLoaded struct {
	Channels []models.Channel
}

// ConfigLoaded carries a named config section read from the local node. The
// section is opaque to the bridge.
type ConfigLoaded struct {
	Name    string
	Section any
}

func (Connected) event()       {}
func (Disconnected) event()    {}
func (ConnectionError) event() {}
func (MessageReceived) event() {}
func (MessageSent) event()     {}
func (NodesUpdated) event()    {}
func (NodeUpdated) event()     {}
func (ChannelsLoaded) event()  {}
func (ConfigLoaded) event()    {}
