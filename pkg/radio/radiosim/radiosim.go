// Package radiosim provides an in-process mesh node implementing the radio
// contract. It backs the bridge tests and the client's simulate mode; no
// radio hardware or wire protocol is involved.
package radiosim

import (
	"context"
	"fmt"
	"sync"

	"github.com/jdenoy/meshdeck/pkg/models"
	"github.com/jdenoy/meshdeck/pkg/radio"
)

// SentText records one SendText call observed by the simulator.
type SentText struct {
	Text         string
	Destination  string
	ChannelIndex int
}

// Sim is a scripted mesh node. Configure it, hand its Dialer to a bridge,
// then inject feed events and inspect what the bridge sent.
type Sim struct {
	mu           sync.Mutex
	nodeNum      uint32
	nodes        []radio.Record
	channels     []models.Channel
	localConfig  map[string]any
	moduleConfig map[string]any

	dialErr  error
	sendErr  error
	writeErr error

	conn *Conn
	sent []SentText
	ops  []string
}

// New creates a simulator for a node with the given number.
func New(nodeNum uint32) *Sim {
	return &Sim{
		nodeNum:      nodeNum,
		localConfig:  map[string]any{},
		moduleConfig: map[string]any{},
	}
}

// AddNode adds a record to the simulated node table.
func (s *Sim) AddNode(rec radio.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, rec)
}

// SetChannels replaces the configured channel slots.
func (s *Sim) SetChannels(chs []models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = chs
}

// SetLocalConfig sets a named local config section.
func (s *Sim) SetLocalConfig(name string, section any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localConfig[name] = section
}

// SetModuleConfig sets a named module config section.
func (s *Sim) SetModuleConfig(name string, section any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moduleConfig[name] = section
}

// FailDial makes subsequent Dial calls return err (nil to clear).
func (s *Sim) FailDial(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

// FailSend makes subsequent SendText calls return err (nil to clear).
func (s *Sim) FailSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// FailWrites makes config/channel writes and device control return err.
func (s *Sim) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// SentTexts returns a copy of every text the connected client sent.
func (s *Sim) SentTexts() []SentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentText, len(s.sent))
	copy(out, s.sent)
	return out
}

// Ops returns the device-control and write operations received, in order.
func (s *Sim) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// Dial implements radio.Dialer. The handshake is immediate.
func (s *Sim) Dial(ctx context.Context, host string, port int) (radio.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	c := &Conn{
		sim:  s,
		feed: make(chan func(), 64),
		done: make(chan struct{}),
	}
	s.conn = c
	go c.run()
	return c, nil
}

// InjectText delivers a text-received event on the feed.
func (s *Sim) InjectText(pkt radio.Record) {
	if c := s.active(); c != nil {
		c.deliver(func(h radio.Handler) { h.TextReceived(c, pkt) })
	}
}

// InjectNodeUpdate delivers a node-updated event on the feed and refreshes
// the simulated node table.
func (s *Sim) InjectNodeUpdate(rec radio.Record) {
	s.mu.Lock()
	s.nodes = append(s.nodes, rec)
	s.mu.Unlock()
	if c := s.active(); c != nil {
		c.deliver(func(h radio.Handler) { h.NodeUpdated(c, rec) })
	}
}

// DropConnection delivers a connection-lost event, as if the transport died.
func (s *Sim) DropConnection() {
	if c := s.active(); c != nil {
		c.deliver(func(h radio.Handler) { h.ConnectionLost(c) })
	}
}

func (s *Sim) active() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Conn is a live simulated session. It delivers feed events sequentially on
// its own goroutine, like a real client library's notification thread.
type Conn struct {
	sim *Sim

	mu      sync.Mutex
	handler radio.Handler
	closed  bool

	feed chan func()
	done chan struct{}
}

func (c *Conn) run() {
	for {
		select {
		case fn := <-c.feed:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Conn) enqueue(fn func()) {
	select {
	case c.feed <- fn:
	case <-c.done:
	}
}

func (c *Conn) deliver(f func(h radio.Handler)) {
	c.enqueue(func() {
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			f(h)
		}
	})
}

// MyNodeNum implements radio.Conn.
func (c *Conn) MyNodeNum() uint32 {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	return c.sim.nodeNum
}

// Nodes implements radio.Conn.
func (c *Conn) Nodes() []radio.Record {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	out := make([]radio.Record, len(c.sim.nodes))
	copy(out, c.sim.nodes)
	return out
}

// LocalNode implements radio.Conn.
func (c *Conn) LocalNode() radio.LocalNode {
	return &localNode{sim: c.sim}
}

// SendText implements radio.Conn.
func (c *Conn) SendText(text, destination string, channelIndex int) error {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	if c.sim.sendErr != nil {
		return c.sim.sendErr
	}
	c.sim.sent = append(c.sim.sent, SentText{
		Text:         text,
		Destination:  destination,
		ChannelIndex: channelIndex,
	})
	return nil
}

// Subscribe implements radio.Conn. The session is established as soon as
// Dial returns, so the handler immediately receives ConnectionEstablished.
func (c *Conn) Subscribe(h radio.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	c.deliver(func(h radio.Handler) { h.ConnectionEstablished(c) })
}

// Unsubscribe implements radio.Conn.
func (c *Conn) Unsubscribe() {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
}

// Close implements radio.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.handler = nil
	close(c.done)
	return nil
}

type localNode struct {
	sim *Sim
}

func (l *localNode) Channels() []models.Channel {
	l.sim.mu.Lock()
	defer l.sim.mu.Unlock()
	out := make([]models.Channel, len(l.sim.channels))
	copy(out, l.sim.channels)
	return out
}

func (l *localNode) Config(name string) (any, bool) {
	l.sim.mu.Lock()
	defer l.sim.mu.Unlock()
	v, ok := l.sim.localConfig[name]
	return v, ok
}

func (l *localNode) ModuleConfig(name string) (any, bool) {
	l.sim.mu.Lock()
	defer l.sim.mu.Unlock()
	v, ok := l.sim.moduleConfig[name]
	return v, ok
}

func (l *localNode) op(format string, args ...any) error {
	l.sim.mu.Lock()
	defer l.sim.mu.Unlock()
	if l.sim.writeErr != nil {
		return l.sim.writeErr
	}
	l.sim.ops = append(l.sim.ops, fmt.Sprintf(format, args...))
	return nil
}

func (l *localNode) WriteConfig(name string) error {
	return l.op("writeConfig:%s", name)
}

func (l *localNode) WriteChannel(index int) error {
	return l.op("writeChannel:%d", index)
}

func (l *localNode) SetOwner(longName, shortName string) error {
	return l.op("setOwner:%s/%s", longName, shortName)
}

func (l *localNode) Reboot(delaySeconds int) error {
	return l.op("reboot:%d", delaySeconds)
}

func (l *localNode) Shutdown(delaySeconds int) error {
	return l.op("shutdown:%d", delaySeconds)
}

func (l *localNode) FactoryReset(full bool) error {
	return l.op("factoryReset:%t", full)
}
