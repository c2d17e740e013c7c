package store

import (
	"github.com/jmoiron/sqlx"

	"github.com/jdenoy/meshdeck/pkg/models"
)

// DefaultHistoryLimit is the number of messages returned per channel when
// the caller does not ask for a specific limit.
const DefaultHistoryLimit = 200

// MessageStore provides database operations for message history.
type MessageStore interface {
	// Save appends a message and returns its assigned row id.
	Save(msg *models.Message) (int64, error)
	// LoadChannel returns the most recent limit messages for a channel,
	// oldest first. A limit <= 0 means DefaultHistoryLimit.
	LoadChannel(channelIndex, limit int) ([]*models.Message, error)
}

type sqliteMessageStore struct {
	db *sqlx.DB
}

// NewMessages creates a new message store.
func NewMessages(dbconn *sqlx.DB) MessageStore {
	return &sqliteMessageStore{db: dbconn}
}

func (s *sqliteMessageStore) Save(msg *models.Message) (int64, error) {
	stmt := `
	INSERT INTO messages (text, from_id, to_id, channel_index, from_name, rx_time, rx_snr, packet_id, is_outgoing)
	VALUES (:text, :from_id, :to_id, :channel_index, :from_name, :rx_time, :rx_snr, :packet_id, :is_outgoing)
	;`

	res, err := s.db.NamedExec(stmt, msg)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteMessageStore) LoadChannel(channelIndex, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
	SELECT * FROM messages
	WHERE channel_index = ?
	ORDER BY rx_time DESC, id DESC
	LIMIT ?;`

	msgs := []*models.Message{}
	if err := s.db.Select(&msgs, query, channelIndex, limit); err != nil {
		return nil, err
	}

	// The query returns newest first so the LIMIT keeps the most recent
	// rows; callers want them in chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
