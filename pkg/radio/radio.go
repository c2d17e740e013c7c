// Package radio defines the contract with the mesh-node client library that
// carries the actual wire protocol. The bridge talks only to these
// interfaces; concrete transports (TCP to a Meshtastic node, the in-process
// simulator in radiosim) implement them.
package radio

import (
	"context"

	"github.com/jdenoy/meshdeck/pkg/models"
)

// Record is a loosely structured record as delivered by the node's event
// feed. Use DecodeNodeRecord / DecodeTextPacket to validate one at the
// boundary.
type Record = map[string]any

// Dialer opens connections to a mesh node.
type Dialer interface {
	// Dial connects to the node at host:port and blocks until the remote
	// completes its configuration handshake or the context is done. A
	// returned Conn has a fully downloaded node table and local-node
	// descriptor.
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, host string, port int) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, host string, port int) (Conn, error) {
	return f(ctx, host, port)
}

// DefaultDialer is the transport used when none is configured explicitly.
// A linked transport package is expected to set it from the program's main.
var DefaultDialer Dialer

// Conn is a live session with a mesh node.
type Conn interface {
	// MyNodeNum returns the numeric id of the locally connected node.
	MyNodeNum() uint32
	// Nodes returns the node table currently known to the remote.
	Nodes() []Record
	// LocalNode returns the handle for configuring the connected node,
	// or nil if it is not available.
	LocalNode() LocalNode
	// SendText sends a text message. An empty destination broadcasts to
	// every node on the channel.
	SendText(text, destination string, channelIndex int) error
	// Subscribe attaches the feed handler. If the session is already
	// established the handler receives ConnectionEstablished first.
	// Events are delivered sequentially on the connection's own
	// goroutine.
	Subscribe(h Handler)
	// Unsubscribe detaches the feed handler; no events are delivered
	// after it returns.
	Unsubscribe()
	// Close tears down the transport.
	Close() error
}

// LocalNode exposes the configuration surface of the connected node.
type LocalNode interface {
	Channels() []models.Channel
	// Config returns the named section of the node's local configuration.
	Config(name string) (any, bool)
	// ModuleConfig returns the named section of the module configuration.
	ModuleConfig(name string) (any, bool)
	// WriteConfig pushes a previously mutated config section to the device.
	WriteConfig(name string) error
	// WriteChannel pushes a channel slot to the device.
	WriteChannel(index int) error
	SetOwner(longName, shortName string) error
	Reboot(delaySeconds int) error
	Shutdown(delaySeconds int) error
	FactoryReset(full bool) error
}

// Handler receives the four feed topics published by a connection. All
// methods are invoked sequentially per connection.
type Handler interface {
	ConnectionEstablished(c Conn)
	ConnectionLost(c Conn)
	TextReceived(c Conn, packet Record)
	NodeUpdated(c Conn, node Record)
}
