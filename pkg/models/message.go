package models

import "time"

// BroadcastID is the destination meaning "every node on the channel".
const BroadcastID = "^all"

// Message is a single text message on a mesh channel. Messages are immutable
// once created; ID is assigned by the store when the message is persisted.
type Message struct {
	ID           int64   `db:"id"`
	Text         string  `db:"text"`
	FromID       string  `db:"from_id"`
	ToID         string  `db:"to_id"`
	ChannelIndex int     `db:"channel_index"`
	FromName     string  `db:"from_name"`
	RxTime       float64 `db:"rx_time"`
	RxSnr        float64 `db:"rx_snr"`
	PacketID     uint32  `db:"packet_id"`
	IsOutgoing   bool    `db:"is_outgoing"`
}

// IsBroadcast returns true if the message was addressed to the whole channel.
func (m *Message) IsBroadcast() bool {
	return m.ToID == BroadcastID
}

// Received returns the receipt time as a time.Time.
func (m *Message) Received() time.Time {
	sec := int64(m.RxTime)
	nsec := int64((m.RxTime - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
