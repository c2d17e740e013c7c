package store

import (
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/jdenoy/meshdeck/pkg/models"
)

var selectNodes = `SELECT * FROM node_cache`

// NodeStore provides database operations for the node telemetry cache.
type NodeStore interface {
	// Upsert inserts or replaces the cached entry for entry.NodeID. The
	// whole row is overwritten: a nil field in entry clears any value a
	// previous update stored.
	Upsert(entry *models.NodeEntry) error
	// Get returns the cached entry for a node id, or nil if unknown.
	Get(nodeID string) (*models.NodeEntry, error)
	// LoadAll returns every cached node, most recently heard first.
	LoadAll() ([]*models.NodeEntry, error)
}

type sqliteNodeStore struct {
	db *sqlx.DB
}

// NewNodes creates a new node cache store.
func NewNodes(dbconn *sqlx.DB) NodeStore {
	return &sqliteNodeStore{db: dbconn}
}

func (s *sqliteNodeStore) Upsert(entry *models.NodeEntry) error {
	stmt := `
	INSERT INTO node_cache (node_id, node_num, long_name, short_name, hw_model, role,
		battery_level, voltage, channel_util, air_util_tx, uptime_seconds,
		snr, hops_away, last_heard, latitude, longitude, altitude)
	VALUES (:node_id, :node_num, :long_name, :short_name, :hw_model, :role,
		:battery_level, :voltage, :channel_util, :air_util_tx, :uptime_seconds,
		:snr, :hops_away, :last_heard, :latitude, :longitude, :altitude)
	ON CONFLICT (node_id)
	DO UPDATE SET
		node_num = :node_num,
		long_name = :long_name,
		short_name = :short_name,
		hw_model = :hw_model,
		role = :role,
		battery_level = :battery_level,
		voltage = :voltage,
		channel_util = :channel_util,
		air_util_tx = :air_util_tx,
		uptime_seconds = :uptime_seconds,
		snr = :snr,
		hops_away = :hops_away,
		last_heard = :last_heard,
		latitude = :latitude,
		longitude = :longitude,
		altitude = :altitude
	;`

	_, err := s.db.NamedExec(stmt, entry)
	return err
}

func (s *sqliteNodeStore) Get(nodeID string) (*models.NodeEntry, error) {
	query := selectNodes + " WHERE node_id = ?;"
	var entry models.NodeEntry
	err := s.db.Get(&entry, query, nodeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *sqliteNodeStore) LoadAll() ([]*models.NodeEntry, error) {
	query := selectNodes + " ORDER BY last_heard DESC NULLS LAST, node_id ASC;"
	nodes := []*models.NodeEntry{}
	if err := s.db.Select(&nodes, query); err != nil {
		return nil, err
	}
	return nodes, nil
}
