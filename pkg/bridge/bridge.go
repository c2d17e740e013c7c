// Package bridge owns the single live connection to a mesh node. It
// executes all commands and feed callbacks on one goroutine, translating
// the node's asynchronous event feed into an ordered stream of typed
// notifications for the presentation layer.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/jdenoy/meshdeck/pkg/models"
	"github.com/jdenoy/meshdeck/pkg/radio"
)

// localSenderName labels locally originated messages in the UI.
const localSenderName = "Me"

const nameCacheTTL = 5 * time.Minute

// State describes the bridge's connection lifecycle. A transport failure
// passes through a transient error which immediately lands back in
// StateDisconnected; the error itself travels as a ConnectionError event.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configures a Bridge.
type Options struct {
	// Dialer opens the transport to the node. Required.
	Dialer radio.Dialer
	// ConnectTimeout bounds the blocking connect handshake. Zero means
	// no timeout: a hung remote blocks the bridge until disconnected.
	ConnectTimeout time.Duration
	// SurfaceCommandErrors emits ConnectionError events for post-connect
	// command failures (send, config writes). Off by default: those
	// failures only produce a log line.
	SurfaceCommandErrors bool
	Logger               *slog.Logger
}

// Bridge is the session actor. All fields below inbox are owned by the run
// loop and must only be touched from closures executing on it.
type Bridge struct {
	opts   Options
	log    *slog.Logger
	broker *Broker
	state  atomic.Int32

	inbox     chan func()
	quit      chan struct{}
	closeOnce sync.Once

	conn      radio.Conn
	myNodeID  string
	myNodeNum uint32
	host      string
	port      int
	names     *ttlcache.Cache[string, string]
}

// New creates a bridge. Call Start before issuing commands.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		opts:   opts,
		log:    opts.Logger.With("component", "bridge"),
		broker: NewBroker(),
		inbox:  make(chan func(), 128),
		quit:   make(chan struct{}),
		names: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](nameCacheTTL),
		),
	}
}

// Start launches the run loop.
func (b *Bridge) Start() {
	go b.names.Start()
	go b.run()
}

// Close disconnects if needed and stops the run loop. Subscribers' event
// channels are closed once pending events have been delivered.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		done := make(chan struct{})
		b.post(func() {
			if b.conn != nil {
				b.doDisconnect()
			}
			close(done)
		})
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			b.log.Warn("timed out waiting for bridge shutdown")
		}
		close(b.quit)
		b.names.Stop()
		b.broker.Close()
	})
}

// Subscribe registers a consumer for bridge notifications.
func (b *Bridge) Subscribe() *Subscriber {
	return b.broker.Subscribe()
}

// Unsubscribe removes a consumer.
func (b *Bridge) Unsubscribe(sub *Subscriber) {
	b.broker.Unsubscribe(sub)
}

// State returns the current connection state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// IsConnected reports whether a session is established.
func (b *Bridge) IsConnected() bool {
	return b.State() == StateConnected
}

// Connect opens a session to host:port. Any existing connection is closed
// first. The result arrives as a Connected or ConnectionError event.
func (b *Bridge) Connect(host string, port int) {
	b.post(func() { b.doConnect(host, port) })
}

// Disconnect tears the session down. Safe to call in any state; every call
// emits one Disconnected event.
func (b *Bridge) Disconnect() {
	b.post(b.doDisconnect)
}

// SendText sends a text message. An empty destination broadcasts to the
// channel. A no-op when not connected.
func (b *Bridge) SendText(text, destination string, channelIndex int) {
	b.post(func() { b.doSendText(text, destination, channelIndex) })
}

// RefreshNodes re-emits the full node table from the connection. It does
// not round-trip to the device.
func (b *Bridge) RefreshNodes() {
	b.post(func() { b.emitAllNodes() })
}

// ReadConfig emits a ConfigLoaded event for a local config section.
func (b *Bridge) ReadConfig(name string) {
	b.post(func() { b.doReadConfig(name, false) })
}

// ReadModuleConfig emits a ConfigLoaded event for a module config section.
func (b *Bridge) ReadModuleConfig(name string) {
	b.post(func() { b.doReadConfig(name, true) })
}

// WriteConfig pushes a previously mutated config section to the device.
func (b *Bridge) WriteConfig(name string) {
	b.post(func() { b.doWrite("writeConfig", name, func(ln radio.LocalNode) error { return ln.WriteConfig(name) }) })
}

// WriteChannel pushes a channel slot to the device.
func (b *Bridge) WriteChannel(index int) {
	b.post(func() {
		b.doWrite("writeChannel", fmt.Sprint(index), func(ln radio.LocalNode) error { return ln.WriteChannel(index) })
	})
}

// SetOwner updates the node's owner names.
func (b *Bridge) SetOwner(longName, shortName string) {
	b.post(func() {
		b.doWrite("setOwner", longName, func(ln radio.LocalNode) error { return ln.SetOwner(longName, shortName) })
	})
}

// Reboot asks the device to reboot after a delay.
func (b *Bridge) Reboot(delaySeconds int) {
	b.post(func() {
		b.doWrite("reboot", fmt.Sprint(delaySeconds), func(ln radio.LocalNode) error { return ln.Reboot(delaySeconds) })
	})
}

// Shutdown asks the device to power off after a delay.
func (b *Bridge) Shutdown(delaySeconds int) {
	b.post(func() {
		b.doWrite("shutdown", fmt.Sprint(delaySeconds), func(ln radio.LocalNode) error { return ln.Shutdown(delaySeconds) })
	})
}

// FactoryReset asks the device to reset its settings; full also wipes keys.
func (b *Bridge) FactoryReset(full bool) {
	b.post(func() {
		b.doWrite("factoryReset", fmt.Sprint(full), func(ln radio.LocalNode) error { return ln.FactoryReset(full) })
	})
}

func (b *Bridge) post(fn func()) {
	select {
	case b.inbox <- fn:
	case <-b.quit:
	}
}

func (b *Bridge) run() {
	for {
		select {
		case fn := <-b.inbox:
			fn()
		case <-b.quit:
			return
		}
	}
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// feedHandler forwards feed callbacks onto the bridge's run loop, so they
// are serialized with command execution.
type feedHandler struct {
	b *Bridge
}

func (h feedHandler) ConnectionEstablished(c radio.Conn) {
	h.b.post(func() { h.b.onEstablished(c) })
}

func (h feedHandler) ConnectionLost(c radio.Conn) {
	h.b.post(func() { h.b.onLost(c) })
}

func (h feedHandler) TextReceived(c radio.Conn, pkt radio.Record) {
	h.b.post(func() { h.b.onText(c, pkt) })
}

func (h feedHandler) NodeUpdated(c radio.Conn, rec radio.Record) {
	h.b.post(func() { h.b.onNode(c, rec) })
}

// doConnect blocks the run loop for the duration of the handshake; no other
// command or callback runs during that window.
func (b *Bridge) doConnect(host string, port int) {
	if b.conn != nil {
		b.conn.Unsubscribe()
		_ = b.conn.Close()
		b.conn = nil
	}
	b.setState(StateConnecting)

	ctx := context.Background()
	if b.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.ConnectTimeout)
		defer cancel()
	}

	c, err := b.opts.Dialer.Dial(ctx, host, port)
	if err != nil {
		b.log.Error("connection failed", "host", host, "port", port, "error", err)
		b.setState(StateDisconnected)
		b.broker.Publish(ConnectionError{Message: err.Error()})
		return
	}

	b.conn = c
	b.host, b.port = host, port
	c.Subscribe(feedHandler{b: b})
	// The session becomes Connected when the feed delivers its
	// connection-established event.
}

func (b *Bridge) onEstablished(c radio.Conn) {
	if c != b.conn {
		return
	}
	num := c.MyNodeNum()
	b.myNodeNum = num
	b.myNodeID = ""
	if num != 0 {
		b.myNodeID = models.NodeID(num).String()
	}

	nodeName, hwModel := "", ""
	if b.myNodeID != "" {
		for _, raw := range c.Nodes() {
			rec, err := radio.DecodeNodeRecord(raw)
			if err != nil {
				b.log.Warn("skipping malformed node record", "error", err)
				continue
			}
			if e := rec.Entry(); e.NodeID == b.myNodeID {
				nodeName, hwModel = e.LongName, e.HwModel
				break
			}
		}
	}

	b.setState(StateConnected)
	b.log.Info("session established", "host", b.host, "port", b.port, "node", b.myNodeID)
	b.broker.Publish(Connected{
		NodeID:   b.myNodeID,
		NodeNum:  num,
		NodeName: nodeName,
		HwModel:  hwModel,
	})
	b.emitAllNodes()
	b.emitChannels()
}

func (b *Bridge) onLost(c radio.Conn) {
	if c != b.conn {
		return
	}
	// The transport is already gone; nothing to close.
	b.conn = nil
	b.setState(StateDisconnected)
	b.broker.Publish(Disconnected{})
}

func (b *Bridge) onText(c radio.Conn, raw radio.Record) {
	if c != b.conn {
		return
	}
	pkt, err := radio.DecodeTextPacket(raw)
	if err != nil {
		b.log.Error("dropping malformed text packet", "error", err)
		return
	}
	fromID := pkt.Sender()
	msg := &models.Message{
		Text:         pkt.Decoded.Text,
		FromID:       fromID,
		ToID:         pkt.Recipient(),
		ChannelIndex: pkt.Channel,
		FromName:     b.resolveName(c, fromID),
		RxTime:       pkt.ReceivedAt(),
		RxSnr:        pkt.RxSnr,
		PacketID:     pkt.PacketID,
		IsOutgoing:   b.myNodeID != "" && fromID == b.myNodeID,
	}
	b.broker.Publish(MessageReceived{Message: msg})
}

func (b *Bridge) onNode(c radio.Conn, raw radio.Record) {
	if c != b.conn {
		return
	}
	rec, err := radio.DecodeNodeRecord(raw)
	if err != nil {
		b.log.Error("dropping malformed node update", "error", err)
		return
	}
	e := rec.Entry()
	if e.LongName != "" {
		b.names.Set(e.NodeID, e.LongName, ttlcache.DefaultTTL)
	}
	b.broker.Publish(NodeUpdated{Node: e})
}

func (b *Bridge) doDisconnect() {
	if b.conn != nil {
		b.conn.Unsubscribe()
		// Best effort: a transport that fails to close is already gone.
		_ = b.conn.Close()
		b.conn = nil
	}
	b.names.DeleteAll()
	b.setState(StateDisconnected)
	b.broker.Publish(Disconnected{})
}

func (b *Bridge) doSendText(text, destination string, channelIndex int) {
	if b.conn == nil || b.State() != StateConnected {
		return
	}
	dest := destination
	if dest == "" {
		dest = models.BroadcastID
	}
	if err := b.conn.SendText(text, dest, channelIndex); err != nil {
		b.log.Error("send failed", "channel", channelIndex, "error", err)
		b.surfaceCommandError(fmt.Sprintf("send failed: %v", err))
		return
	}
	b.broker.Publish(MessageSent{Message: &models.Message{
		Text:         text,
		FromID:       b.myNodeID,
		ToID:         dest,
		ChannelIndex: channelIndex,
		FromName:     localSenderName,
		RxTime:       unixNow(),
		IsOutgoing:   true,
	}})
}

func (b *Bridge) emitAllNodes() {
	if b.conn == nil || b.State() != StateConnected {
		return
	}
	entries := []*models.NodeEntry{}
	for _, raw := range b.conn.Nodes() {
		rec, err := radio.DecodeNodeRecord(raw)
		if err != nil {
			b.log.Warn("skipping malformed node record", "error", err)
			continue
		}
		entries = append(entries, rec.Entry())
	}
	b.broker.Publish(NodesUpdated{Nodes: entries})
}

func (b *Bridge) emitChannels() {
	ln := b.localNode()
	if ln == nil {
		return
	}
	chs := ln.Channels()
	if len(chs) == 0 {
		return
	}
	b.broker.Publish(ChannelsLoaded{Channels: chs})
}

func (b *Bridge) doReadConfig(name string, module bool) {
	ln := b.localNode()
	if ln == nil {
		return
	}
	var (
		section any
		ok      bool
	)
	if module {
		section, ok = ln.ModuleConfig(name)
	} else {
		section, ok = ln.Config(name)
	}
	if !ok {
		return
	}
	b.broker.Publish(ConfigLoaded{Name: name, Section: section})
}

func (b *Bridge) doWrite(op, arg string, fn func(radio.LocalNode) error) {
	ln := b.localNode()
	if ln == nil {
		return
	}
	if err := fn(ln); err != nil {
		b.log.Error("device command failed", "op", op, "arg", arg, "error", err)
		b.surfaceCommandError(fmt.Sprintf("%s(%s) failed: %v", op, arg, err))
	}
}

func (b *Bridge) localNode() radio.LocalNode {
	if b.conn == nil || b.State() != StateConnected {
		return nil
	}
	return b.conn.LocalNode()
}

// surfaceCommandError optionally turns a post-connect command failure into
// a user-visible event. The default keeps the original silent behavior.
func (b *Bridge) surfaceCommandError(msg string) {
	if b.opts.SurfaceCommandErrors {
		b.broker.Publish(ConnectionError{Message: msg})
	}
}

func (b *Bridge) resolveName(c radio.Conn, nodeID string) string {
	if nodeID == "" {
		return ""
	}
	if item := b.names.Get(nodeID); item != nil {
		return item.Value()
	}
	for _, raw := range c.Nodes() {
		rec, err := radio.DecodeNodeRecord(raw)
		if err != nil {
			continue
		}
		if e := rec.Entry(); e.NodeID == nodeID {
			if e.LongName != "" {
				b.names.Set(nodeID, e.LongName, ttlcache.DefaultTTL)
			}
			return e.LongName
		}
	}
	return ""
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
