// Package store holds the durable local cache: message history per channel
// and the last-known telemetry for every node seen on the mesh. It is
// independent of the live session and must work against an empty database.
package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Stores bundles the individual stores sharing one database handle.
type Stores struct {
	db       *sqlx.DB
	Messages MessageStore
	Nodes    NodeStore
}

// Open opens (creating if needed) the cache database at path and applies any
// pending schema migrations. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Stores, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// sqlite allows a single writer; one pooled connection also keeps
	// in-memory databases from evaporating between connections.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating cache database: %w", err)
	}

	return &Stores{
		db:       db,
		Messages: NewMessages(db),
		Nodes:    NewNodes(db),
	}, nil
}

// Close closes the underlying database handle.
func (s *Stores) Close() error {
	return s.db.Close()
}

func applyMigrations(db *sqlx.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	drv, err := msqlite.WithInstance(db.DB, &msqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
