package radio

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/jdenoy/meshdeck/pkg/models"
)

// NodeRecord is the validated shape of a node-table entry or node-updated
// event. Pointer fields distinguish "not reported" from zero.
type NodeRecord struct {
	Num       uint32   `mapstructure:"num"`
	Snr       *float64 `mapstructure:"snr"`
	HopsAway  *int     `mapstructure:"hopsAway"`
	LastHeard *float64 `mapstructure:"lastHeard"`

	User struct {
		ID        string `mapstructure:"id"`
		LongName  string `mapstructure:"longName"`
		ShortName string `mapstructure:"shortName"`
		HwModel   string `mapstructure:"hwModel"`
		Role      string `mapstructure:"role"`
	} `mapstructure:"user"`

	Position struct {
		Latitude  *float64 `mapstructure:"latitude"`
		Longitude *float64 `mapstructure:"longitude"`
		Altitude  *int     `mapstructure:"altitude"`
	} `mapstructure:"position"`

	DeviceMetrics struct {
		BatteryLevel       *int     `mapstructure:"batteryLevel"`
		Voltage            *float64 `mapstructure:"voltage"`
		ChannelUtilization *float64 `mapstructure:"channelUtilization"`
		AirUtilTx          *float64 `mapstructure:"airUtilTx"`
		UptimeSeconds      *int64   `mapstructure:"uptimeSeconds"`
	} `mapstructure:"deviceMetrics"`
}

// Entry converts the record to a cacheable NodeEntry. When the feed omits
// the string id it falls back to the canonical rendering of the numeric id.
func (r *NodeRecord) Entry() *models.NodeEntry {
	id := r.User.ID
	if id == "" {
		id = models.NodeID(r.Num).String()
	}
	return &models.NodeEntry{
		NodeID:        id,
		NodeNum:       r.Num,
		LongName:      r.User.LongName,
		ShortName:     r.User.ShortName,
		HwModel:       r.User.HwModel,
		Role:          r.User.Role,
		BatteryLevel:  r.DeviceMetrics.BatteryLevel,
		Voltage:       r.DeviceMetrics.Voltage,
		ChannelUtil:   r.DeviceMetrics.ChannelUtilization,
		AirUtilTx:     r.DeviceMetrics.AirUtilTx,
		UptimeSeconds: r.DeviceMetrics.UptimeSeconds,
		Snr:           r.Snr,
		HopsAway:      r.HopsAway,
		LastHeard:     r.LastHeard,
		Latitude:      r.Position.Latitude,
		Longitude:     r.Position.Longitude,
		Altitude:      r.Position.Altitude,
	}
}

// TextPacket is the validated shape of a received text event.
type TextPacket struct {
	From     uint32   `mapstructure:"from"`
	To       uint32   `mapstructure:"to"`
	FromID   string   `mapstructure:"fromId"`
	ToID     string   `mapstructure:"toId"`
	Channel  int      `mapstructure:"channel"`
	RxTime   *float64 `mapstructure:"rxTime"`
	RxSnr    float64  `mapstructure:"rxSnr"`
	PacketID uint32   `mapstructure:"id"`

	Decoded struct {
		Text string `mapstructure:"text"`
	} `mapstructure:"decoded"`
}

// Sender returns the sender id, falling back to the canonical rendering of
// the numeric id when the feed omitted the string form.
func (p *TextPacket) Sender() string {
	if p.FromID != "" {
		return p.FromID
	}
	return models.NodeID(p.From).String()
}

// Recipient is the counterpart of Sender for the destination id.
func (p *TextPacket) Recipient() string {
	if p.ToID != "" {
		return p.ToID
	}
	return models.NodeID(p.To).String()
}

// ReceivedAt returns the receipt timestamp, stamping the current time when
// the feed did not carry one.
func (p *TextPacket) ReceivedAt() float64 {
	if p.RxTime != nil && *p.RxTime > 0 {
		return *p.RxTime
	}
	return float64(time.Now().UnixNano()) / 1e9
}

func decode(kind string, in Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("building %s decoder: %w", kind, err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decoding %s: %w", kind, err)
	}
	return nil
}

// DecodeNodeRecord validates a loosely structured node record from the feed
// or the remote node table.
func DecodeNodeRecord(in Record) (*NodeRecord, error) {
	var rec NodeRecord
	if err := decode("node record", in, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DecodeTextPacket validates a loosely structured text-received event.
func DecodeTextPacket(in Record) (*TextPacket, error) {
	var pkt TextPacket
	if err := decode("text packet", in, &pkt); err != nil {
		return nil, err
	}
	return &pkt, nil
}
