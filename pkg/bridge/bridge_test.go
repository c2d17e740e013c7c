package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/jdenoy/meshdeck/pkg/models"
	"github.com/jdenoy/meshdeck/pkg/radio"
	"github.com/jdenoy/meshdeck/pkg/radio/radiosim"
)

func testSim() *radiosim.Sim {
	sim := radiosim.New(0x1a2b3c4d)
	sim.AddNode(radio.Record{
		"num": uint32(0x1a2b3c4d),
		"user": map[string]any{
			"id":       "!1a2b3c4d",
			"longName": "Base Station",
			"hwModel":  "TBEAM",
		},
	})
	sim.AddNode(radio.Record{
		"num": uint32(0xc0ffee01),
		"user": map[string]any{
			"id":       "!c0ffee01",
			"longName": "Rooftop Router",
		},
	})
	sim.SetChannels([]models.Channel{
		{Index: 0, Role: models.ChannelRolePrimary},
		{Index: 1, Role: models.ChannelRoleSecondary, Name: "offgrid"},
	})
	return sim
}

func testBridge(t *testing.T, sim *radiosim.Sim, opts ...func(*Options)) (*Bridge, *Subscriber) {
	t.Helper()
	o := Options{Dialer: sim, ConnectTimeout: 2 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	b := New(o)
	b.Start()
	t.Cleanup(b.Close)
	return b, b.Subscribe()
}

func nextEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func connect(t *testing.T, b *Bridge, sub *Subscriber) Connected {
	t.Helper()
	b.Connect("localhost", 4403)
	conn, ok := nextEvent(t, sub).(Connected)
	if !ok {
		t.Fatal("first event after connect was not Connected")
	}
	if _, ok := nextEvent(t, sub).(NodesUpdated); !ok {
		t.Fatal("second event after connect was not NodesUpdated")
	}
	if _, ok := nextEvent(t, sub).(ChannelsLoaded); !ok {
		t.Fatal("third event after connect was not ChannelsLoaded")
	}
	return conn
}

func TestConnectSequence(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)

	b.Connect("localhost", 4403)

	ev := nextEvent(t, sub)
	conn, ok := ev.(Connected)
	if !ok {
		t.Fatalf("first event = %T, want Connected", ev)
	}
	if conn.NodeID != "!1a2b3c4d" || conn.NodeNum != 0x1a2b3c4d {
		t.Errorf("local identity mismatch: %+v", conn)
	}
	if conn.NodeName != "Base Station" || conn.HwModel != "TBEAM" {
		t.Errorf("local name not resolved from node table: %+v", conn)
	}

	ev = nextEvent(t, sub)
	nodes, ok := ev.(NodesUpdated)
	if !ok {
		t.Fatalf("second event = %T, want NodesUpdated", ev)
	}
	if len(nodes.Nodes) != 2 {
		t.Errorf("got %d nodes, want 2", len(nodes.Nodes))
	}

	ev = nextEvent(t, sub)
	chs, ok := ev.(ChannelsLoaded)
	if !ok {
		t.Fatalf("third event = %T, want ChannelsLoaded", ev)
	}
	if len(chs.Channels) != 2 || chs.Channels[1].Name != "offgrid" {
		t.Errorf("channel list mismatch: %+v", chs.Channels)
	}

	if !b.IsConnected() {
		t.Error("bridge should report connected")
	}
}

func TestConnectFailure(t *testing.T) {
	sim := testSim()
	sim.FailDial(errors.New("connection refused"))
	b, sub := testBridge(t, sim)

	b.Connect("localhost", 4403)

	ev := nextEvent(t, sub)
	cerr, ok := ev.(ConnectionError)
	if !ok {
		t.Fatalf("event = %T, want ConnectionError", ev)
	}
	if cerr.Message != "connection refused" {
		t.Errorf("message = %q", cerr.Message)
	}
	if b.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", b.State())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)

	// Never connected: still emits exactly one Disconnected per call.
	b.Disconnect()
	b.Disconnect()
	for i := 0; i < 2; i++ {
		if ev := nextEvent(t, sub); ev != (Disconnected{}) {
			t.Fatalf("event %d = %T, want Disconnected", i, ev)
		}
	}

	connect(t, b, sub)
	b.Disconnect()
	b.Disconnect()
	for i := 0; i < 2; i++ {
		if ev := nextEvent(t, sub); ev != (Disconnected{}) {
			t.Fatalf("event %d = %T, want Disconnected", i, ev)
		}
	}
	if b.IsConnected() {
		t.Error("bridge should be disconnected")
	}
}

func TestConnectionLost(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	sim.DropConnection()

	if ev := nextEvent(t, sub); ev != (Disconnected{}) {
		t.Fatalf("event = %T, want Disconnected", ev)
	}
	if b.IsConnected() {
		t.Error("bridge should be disconnected after losing the transport")
	}
}

func TestSendTextBroadcast(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	b.SendText("hi", "", 0)

	ev := nextEvent(t, sub)
	sent, ok := ev.(MessageSent)
	if !ok {
		t.Fatalf("event = %T, want MessageSent", ev)
	}
	m := sent.Message
	if !m.IsOutgoing || m.ToID != models.BroadcastID || m.ChannelIndex != 0 {
		t.Errorf("sent message mismatch: %+v", m)
	}
	if m.FromID != "!1a2b3c4d" || m.FromName != "Me" {
		t.Errorf("sender mismatch: %+v", m)
	}
	if m.RxTime == 0 {
		t.Error("rx_time not stamped")
	}

	texts := sim.SentTexts()
	if len(texts) != 1 || texts[0].Text != "hi" || texts[0].Destination != models.BroadcastID {
		t.Errorf("transport saw %+v", texts)
	}
}

func TestSendTextWhileDisconnected(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)

	b.SendText("hi", "", 0)
	// Fence: a Disconnected event must be the first thing observed,
	// proving the send produced neither a notification nor a panic.
	b.Disconnect()

	if ev := nextEvent(t, sub); ev != (Disconnected{}) {
		t.Fatalf("event = %T, want Disconnected", ev)
	}
	if len(sim.SentTexts()) != 0 {
		t.Error("nothing should reach the transport while disconnected")
	}
}

func TestSendFailureIsSilentByDefault(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	sim.FailSend(errors.New("radio busy"))
	b.SendText("hi", "", 0)
	b.RefreshNodes() // fence

	if ev := nextEvent(t, sub); !isNodesUpdated(ev) {
		t.Fatalf("event = %T; a failed send must not surface a notification", ev)
	}
}

func TestSendFailureSurfacedWhenConfigured(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim, func(o *Options) { o.SurfaceCommandErrors = true })
	connect(t, b, sub)

	sim.FailSend(errors.New("radio busy"))
	b.SendText("hi", "", 0)

	ev := nextEvent(t, sub)
	if _, ok := ev.(ConnectionError); !ok {
		t.Fatalf("event = %T, want ConnectionError", ev)
	}
}

func TestTextReceived(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	sim.InjectText(radio.Record{
		"from":    uint32(0xc0ffee01),
		"to":      uint32(0x1a2b3c4d),
		"fromId":  "!c0ffee01",
		"toId":    "!1a2b3c4d",
		"channel": 1,
		"rxTime":  1700000000.0,
		"rxSnr":   5.5,
		"id":      uint32(77),
		"decoded": map[string]any{"text": "ping"},
	})

	ev := nextEvent(t, sub)
	recv, ok := ev.(MessageReceived)
	if !ok {
		t.Fatalf("event = %T, want MessageReceived", ev)
	}
	m := recv.Message
	if m.Text != "ping" || m.ChannelIndex != 1 || m.RxSnr != 5.5 {
		t.Errorf("message mismatch: %+v", m)
	}
	if m.FromName != "Rooftop Router" {
		t.Errorf("from_name = %q, want resolved long name", m.FromName)
	}
	if m.IsOutgoing {
		t.Error("inbound message flagged as outgoing")
	}
}

func TestOwnTextIsOutgoing(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	// Our own broadcast looped back by the device.
	sim.InjectText(radio.Record{
		"from":    uint32(0x1a2b3c4d),
		"to":      uint32(0xffffffff),
		"decoded": map[string]any{"text": "echo"},
	})

	recv := nextEvent(t, sub).(MessageReceived)
	if !recv.Message.IsOutgoing {
		t.Error("own message should be flagged outgoing")
	}
}

func TestMalformedTextIsSwallowed(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	sim.InjectText(radio.Record{"from": "garbage", "decoded": 42})
	b.RefreshNodes() // fence

	if ev := nextEvent(t, sub); !isNodesUpdated(ev) {
		t.Fatalf("event = %T; malformed packets must be dropped silently", ev)
	}
	if !b.IsConnected() {
		t.Error("subscription must survive a malformed packet")
	}
}

func TestNodeUpdated(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	sim.InjectNodeUpdate(radio.Record{
		"num":       uint32(0xc0ffee02),
		"lastHeard": 1700000000.0,
		"user": map[string]any{
			"id":       "!c0ffee02",
			"longName": "Trail Tracker",
		},
		"deviceMetrics": map[string]any{"batteryLevel": 41},
	})

	ev := nextEvent(t, sub)
	upd, ok := ev.(NodeUpdated)
	if !ok {
		t.Fatalf("event = %T, want NodeUpdated", ev)
	}
	n := upd.Node
	if n.NodeID != "!c0ffee02" || n.LongName != "Trail Tracker" {
		t.Errorf("node mismatch: %+v", n)
	}
	if n.BatteryLevel == nil || *n.BatteryLevel != 41 {
		t.Errorf("battery = %v, want 41", n.BatteryLevel)
	}
}

func TestRefreshNodes(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	b.RefreshNodes()

	ev := nextEvent(t, sub)
	nodes, ok := ev.(NodesUpdated)
	if !ok {
		t.Fatalf("event = %T, want NodesUpdated", ev)
	}
	if len(nodes.Nodes) != 2 {
		t.Errorf("got %d nodes, want 2", len(nodes.Nodes))
	}
}

func TestReadConfig(t *testing.T) {
	sim := testSim()
	sim.SetLocalConfig("lora", map[string]any{"region": "EU_868"})
	sim.SetModuleConfig("mqtt", map[string]any{"enabled": false})
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	b.ReadConfig("lora")
	ev := nextEvent(t, sub)
	cfg, ok := ev.(ConfigLoaded)
	if !ok {
		t.Fatalf("event = %T, want ConfigLoaded", ev)
	}
	if cfg.Name != "lora" {
		t.Errorf("section name = %q", cfg.Name)
	}

	b.ReadModuleConfig("mqtt")
	ev = nextEvent(t, sub)
	if cfg, ok = ev.(ConfigLoaded); !ok || cfg.Name != "mqtt" {
		t.Fatalf("event = %#v, want mqtt ConfigLoaded", ev)
	}

	// Absent sections produce nothing.
	b.ReadConfig("bogus")
	b.RefreshNodes() // fence
	if ev := nextEvent(t, sub); !isNodesUpdated(ev) {
		t.Fatalf("event = %T; absent section must be a no-op", ev)
	}
}

func TestWriteCommands(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	b.WriteConfig("lora")
	b.WriteChannel(1)
	b.SetOwner("New Name", "NEW")
	b.Reboot(10)
	b.Shutdown(5)
	b.FactoryReset(false)
	b.RefreshNodes() // fence: all writes precede this on the run loop
	nextEvent(t, sub)

	want := []string{
		"writeConfig:lora",
		"writeChannel:1",
		"setOwner:New Name/NEW",
		"reboot:10",
		"shutdown:5",
		"factoryReset:false",
	}
	ops := sim.Ops()
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, ops[i], want[i])
		}
	}
}

func TestWriteFailureIsSilentByDefault(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	sim.FailWrites(errors.New("nvram error"))
	b.WriteConfig("lora")
	b.RefreshNodes() // fence

	if ev := nextEvent(t, sub); !isNodesUpdated(ev) {
		t.Fatalf("event = %T; a failed write must not surface a notification", ev)
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	sim := testSim()
	b, sub := testBridge(t, sim)
	connect(t, b, sub)

	// Connecting again closes the old session first and runs the full
	// sequence for the new one.
	connect(t, b, sub)

	if !b.IsConnected() {
		t.Error("bridge should be connected after reconnect")
	}
}

func isNodesUpdated(ev Event) bool {
	_, ok := ev.(NodesUpdated)
	return ok
}
