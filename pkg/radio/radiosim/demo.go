package radiosim

import (
	"context"
	"math/rand"
	"time"

	"github.com/jdenoy/meshdeck/pkg/models"
	"github.com/jdenoy/meshdeck/pkg/radio"
)

func demoNode(num uint32, long, short, hw, role string, battery int, snr float64) radio.Record {
	return radio.Record{
		"num":       num,
		"snr":       snr,
		"lastHeard": float64(time.Now().Unix()),
		"user": map[string]any{
			"id":        models.NodeID(num).String(),
			"longName":  long,
			"shortName": short,
			"hwModel":   hw,
			"role":      role,
		},
		"deviceMetrics": map[string]any{
			"batteryLevel":  battery,
			"voltage":       3.7 + rand.Float64()*0.5,
			"uptimeSeconds": rand.Intn(100000),
		},
	}
}

// NewDemo returns a simulator pre-populated with a small mesh, for running
// the client without any hardware.
func NewDemo() *Sim {
	s := New(0x1a2b3c4d)
	s.AddNode(demoNode(0x1a2b3c4d, "Demo Base", "BASE", "TBEAM", "CLIENT", 92, 0))
	s.AddNode(demoNode(0xc0ffee01, "Rooftop Router", "ROOF", "HELTEC_V3", "ROUTER", 78, 8.75))
	s.AddNode(demoNode(0xc0ffee02, "Trail Tracker", "TRAK", "T1000_E", "TRACKER", 55, -2.5))
	s.AddNode(demoNode(0xc0ffee03, "Cabin Relay", "CABN", "RAK4631", "ROUTER_CLIENT", 63, 4.0))
	s.SetChannels([]models.Channel{
		{Index: 0, Role: models.ChannelRolePrimary, Name: ""},
		{Index: 1, Role: models.ChannelRoleSecondary, Name: "offgrid"},
	})
	s.SetLocalConfig("device", map[string]any{"role": "CLIENT", "nodeInfoBroadcastSecs": 900})
	s.SetLocalConfig("lora", map[string]any{"region": "EU_868", "hopLimit": 3})
	s.SetModuleConfig("mqtt", map[string]any{"enabled": false})
	return s
}

// StartChatter injects periodic demo traffic until ctx is done.
func (s *Sim) StartChatter(ctx context.Context, interval time.Duration) {
	lines := []string{
		"anyone copy?",
		"battery holding up fine",
		"signal check from the ridge",
		"heading back before dark",
	}
	peers := []uint32{0xc0ffee01, 0xc0ffee02, 0xc0ffee03}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			from := peers[i%len(peers)]
			s.InjectText(radio.Record{
				"from":    from,
				"to":      uint32(0xffffffff),
				"fromId":  models.NodeID(from).String(),
				"toId":    models.BroadcastID,
				"channel": 0,
				"rxTime":  float64(time.Now().Unix()),
				"rxSnr":   rand.Float64()*20 - 10,
				"id":      uint32(1000 + i),
				"decoded": map[string]any{"text": lines[i%len(lines)]},
			})
		}
	}()
}
