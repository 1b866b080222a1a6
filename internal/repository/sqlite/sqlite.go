// Package sqlite implements repository.Store on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id           TEXT PRIMARY KEY,
	mac          TEXT NOT NULL DEFAULT '',
	ip           TEXT NOT NULL DEFAULT '',
	hostname     TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	device_type  TEXT NOT NULL DEFAULT 'unknown',
	icon         TEXT NOT NULL DEFAULT 'help-circle',
	vendor       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'unknown',
	ip_kind      TEXT NOT NULL DEFAULT 'unknown',
	open_ports   TEXT NOT NULL DEFAULT '[]',
	attributes   TEXT NOT NULL DEFAULT '{}',
	first_seen   TEXT NOT NULL,
	last_seen    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_mac ON devices(mac);
CREATE INDEX IF NOT EXISTS idx_devices_ip  ON devices(ip);

CREATE TABLE IF NOT EXISTS device_ports (
	device_id TEXT NOT NULL,
	port      INTEGER NOT NULL,
	protocol  TEXT NOT NULL,
	service   TEXT NOT NULL DEFAULT '',
	banner    TEXT NOT NULL DEFAULT '',
	last_seen TEXT NOT NULL,
	PRIMARY KEY (device_id, port, protocol)
);

CREATE TABLE IF NOT EXISTS device_status_history (
	id         TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL,
	status     TEXT NOT NULL,
	changed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_device ON device_status_history(device_id, changed_at);

CREATE TABLE IF NOT EXISTS scans (
	id            TEXT PRIMARY KEY,
	target        TEXT NOT NULL,
	scan_type     TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	started_at    TEXT,
	finished_at   TEXT,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status, created_at);

CREATE TABLE IF NOT EXISTS scan_results (
	id         TEXT PRIMARY KEY,
	scan_id    TEXT NOT NULL,
	ip         TEXT NOT NULL,
	mac        TEXT NOT NULL DEFAULT '',
	hostname   TEXT NOT NULL DEFAULT '',
	open_ports TEXT NOT NULL DEFAULT '[]',
	first_seen TEXT NOT NULL,
	last_seen  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_scan ON scan_results(scan_id);

CREATE TABLE IF NOT EXISTS scan_schedules (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	target           TEXT NOT NULL,
	scan_type        TEXT NOT NULL,
	interval_seconds INTEGER NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	last_run_at      TEXT,
	next_run_at      TEXT
);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mac_vendors (
	oui    TEXT PRIMARY KEY,
	vendor TEXT NOT NULL
);
`

// Store is the sqlite-backed implementation of repository.Store.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies the
// schema. The connection pool is pinned to a single connection; SQLite
// allows one writer and the serialized pool keeps transactions simple.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetConfigValue returns the value for key, or repository.ErrNotFound.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return "", wrapNotFound(err, "get config %q", key)
	}
	return v, nil
}

// SetConfigValue inserts or replaces the value for key.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// GetVendorByOUI returns the cached vendor name for an OUI prefix.
func (s *Store) GetVendorByOUI(ctx context.Context, oui string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT vendor FROM mac_vendors WHERE oui = ?`, oui).Scan(&v)
	if err != nil {
		return "", wrapNotFound(err, "get vendor %q", oui)
	}
	return v, nil
}

// UpsertVendor caches a vendor name for an OUI prefix.
func (s *Store) UpsertVendor(ctx context.Context, oui, vendor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mac_vendors (oui, vendor) VALUES (?, ?)
		ON CONFLICT(oui) DO UPDATE SET vendor = excluded.vendor`,
		oui, vendor)
	if err != nil {
		return fmt.Errorf("upsert vendor %q: %w", oui, err)
	}
	return nil
}

// CountVendors reports how many OUI prefixes are cached.
func (s *Store) CountVendors(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mac_vendors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vendors: %w", err)
	}
	return n, nil
}
