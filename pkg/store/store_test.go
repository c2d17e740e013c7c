package store

import (
	"fmt"
	"testing"

	"github.com/jdenoy/meshdeck/pkg/models"
)

func openTestStore(t *testing.T) *Stores {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFreshDatabaseIsEmpty(t *testing.T) {
	s := openTestStore(t)

	msgs, err := s.Messages.LoadChannel(0, 0)
	if err != nil {
		t.Fatalf("LoadChannel on empty db: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}

	nodes, err := s.Nodes.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll on empty db: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected no nodes, got %d", len(nodes))
	}

	n, err := s.Nodes.Get("!00000001")
	if err != nil {
		t.Fatalf("Get on empty db: %v", err)
	}
	if n != nil {
		t.Errorf("expected nil for unknown node, got %+v", n)
	}
}

func TestSaveAndLoadMessages(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		id, err := s.Messages.Save(&models.Message{
			Text:         fmt.Sprintf("msg %d", i),
			FromID:       "!00000001",
			ToID:         models.BroadcastID,
			ChannelIndex: 0,
			RxTime:       1000 + float64(i),
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if id != int64(i+1) {
			t.Errorf("Save returned id %d, want %d", id, i+1)
		}
	}

	// A message on another channel must not leak into channel 0.
	if _, err := s.Messages.Save(&models.Message{
		Text: "other channel", FromID: "!00000002", ToID: models.BroadcastID,
		ChannelIndex: 3, RxTime: 1100,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	msgs, err := s.Messages.LoadChannel(0, 0)
	if err != nil {
		t.Fatalf("LoadChannel failed: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	for i, m := range msgs {
		if want := fmt.Sprintf("msg %d", i); m.Text != want {
			t.Errorf("message %d = %q, want %q (not chronological)", i, m.Text, want)
		}
	}
}

func TestLoadMessagesLimitKeepsMostRecent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 10; i++ {
		if _, err := s.Messages.Save(&models.Message{
			Text: fmt.Sprintf("msg %d", i), FromID: "!00000001",
			ToID: models.BroadcastID, RxTime: 1000 + float64(i),
		}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	msgs, err := s.Messages.LoadChannel(0, 3)
	if err != nil {
		t.Fatalf("LoadChannel failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Truncation drops the oldest rows, and the survivors stay ordered.
	for i, want := range []string{"msg 7", "msg 8", "msg 9"} {
		if msgs[i].Text != want {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Text, want)
		}
	}
}

func TestSaveDuplicateMessages(t *testing.T) {
	s := openTestStore(t)

	m := &models.Message{Text: "dup", FromID: "!00000001", ToID: models.BroadcastID, RxTime: 1}
	if _, err := s.Messages.Save(m); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if _, err := s.Messages.Save(m); err != nil {
		t.Fatalf("duplicate Save failed: %v", err)
	}

	msgs, err := s.Messages.LoadChannel(0, 0)
	if err != nil {
		t.Fatalf("LoadChannel failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }

func TestUpsertNodeLastWriteWins(t *testing.T) {
	s := openTestStore(t)

	first := &models.NodeEntry{
		NodeID: "!00000001", NodeNum: 1, LongName: "Alpha", ShortName: "A",
		HwModel: "TBEAM", Role: "CLIENT",
		BatteryLevel: intPtr(80), Voltage: floatPtr(3.9),
		UptimeSeconds: int64Ptr(3600), Snr: floatPtr(7.25),
		LastHeard: floatPtr(1000), Latitude: floatPtr(48.85), Longitude: floatPtr(2.35),
	}
	if err := s.Nodes.Upsert(first); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	second := &models.NodeEntry{
		NodeID: "!00000001", NodeNum: 1, LongName: "Alpha Prime", ShortName: "AP",
		HwModel: "TBEAM", Role: "ROUTER",
		BatteryLevel: intPtr(75), LastHeard: floatPtr(2000),
	}
	if err := s.Nodes.Upsert(second); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Nodes.Get("!00000001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("node not found after upsert")
	}
	if got.LongName != "Alpha Prime" || got.Role != "ROUTER" {
		t.Errorf("update not applied: %+v", got)
	}
	if got.BatteryLevel == nil || *got.BatteryLevel != 75 {
		t.Errorf("battery_level = %v, want 75", got.BatteryLevel)
	}
	// Full-row replace: fields absent from the second write are cleared,
	// not merged.
	if got.Voltage != nil {
		t.Errorf("voltage should have been overwritten with null, got %v", *got.Voltage)
	}
	if got.Latitude != nil || got.Longitude != nil {
		t.Error("position should have been overwritten with null")
	}
}

func TestUpsertNodeNullOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.Nodes.Upsert(&models.NodeEntry{NodeID: "!00000001", BatteryLevel: intPtr(80)}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Nodes.Upsert(&models.NodeEntry{NodeID: "!00000001"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	nodes, err := s.Nodes.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if nodes[0].BatteryLevel != nil {
		t.Errorf("battery_level = %v, want nil", *nodes[0].BatteryLevel)
	}
}

func TestLoadNodesOrderedByLastHeard(t *testing.T) {
	s := openTestStore(t)

	entries := []*models.NodeEntry{
		{NodeID: "!00000001", LastHeard: floatPtr(100)},
		{NodeID: "!00000002", LastHeard: floatPtr(300)},
		{NodeID: "!00000003"}, // never heard
		{NodeID: "!00000004", LastHeard: floatPtr(200)},
	}
	for _, e := range entries {
		if err := s.Nodes.Upsert(e); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	nodes, err := s.Nodes.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	want := []string{"!00000002", "!00000004", "!00000001", "!00000003"}
	if len(nodes) != len(want) {
		t.Fatalf("got %d nodes, want %d", len(nodes), len(want))
	}
	for i, id := range want {
		if nodes[i].NodeID != id {
			t.Errorf("position %d = %s, want %s", i, nodes[i].NodeID, id)
		}
	}
}
