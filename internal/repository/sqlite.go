package repository

import (
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS store_replicas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL UNIQUE,
	active INTEGER NOT NULL DEFAULT 1,
	sync_enabled INTEGER NOT NULL DEFAULT 1,
	credential_ref TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sku TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	tracks_inventory INTEGER NOT NULL DEFAULT 1,
	oversell_policy TEXT NOT NULL DEFAULT 'deny',
	origin_replica_id INTEGER,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS product_store_mappings (
	product_id INTEGER NOT NULL,
	replica_id INTEGER NOT NULL,
	external_product_id TEXT NOT NULL DEFAULT '',
	external_variant_id TEXT NOT NULL DEFAULT '',
	inventory_item_id TEXT NOT NULL DEFAULT '',
	last_synced_at DATETIME,
	sync_status TEXT NOT NULL DEFAULT 'active',
	PRIMARY KEY (product_id, replica_id)
);
CREATE INDEX IF NOT EXISTS idx_mappings_item ON product_store_mappings(replica_id, inventory_item_id);
CREATE TABLE IF NOT EXISTS locations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	replica_id INTEGER NOT NULL,
	external_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	is_primary INTEGER NOT NULL DEFAULT 0,
	UNIQUE (replica_id, external_id)
);
CREATE TABLE IF NOT EXISTS inventory_locations (
	product_id INTEGER NOT NULL,
	location_id INTEGER NOT NULL,
	available INTEGER NOT NULL DEFAULT 0,
	committed INTEGER NOT NULL DEFAULT 0,
	incoming INTEGER NOT NULL DEFAULT 0,
	last_adjusted_at DATETIME NOT NULL,
	last_adjusted_by TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (product_id, location_id)
);
CREATE TABLE IF NOT EXISTS inventory_aggregates (
	product_id INTEGER PRIMARY KEY,
	available INTEGER NOT NULL DEFAULT 0,
	committed INTEGER NOT NULL DEFAULT 0,
	incoming INTEGER NOT NULL DEFAULT 0,
	last_adjusted_at DATETIME NOT NULL,
	last_adjusted_by TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sync_operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_type TEXT NOT NULL,
	direction TEXT NOT NULL,
	product_id INTEGER,
	replica_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	previous_value INTEGER,
	new_value INTEGER,
	cause TEXT NOT NULL DEFAULT '',
	event_id TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sync_operations_product ON sync_operations(product_id, id);
CREATE INDEX IF NOT EXISTS idx_sync_operations_recent ON sync_operations(product_id, direction, completed_at);
CREATE TABLE IF NOT EXISTS conflicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL,
	replica_id INTEGER NOT NULL,
	location_id INTEGER NOT NULL DEFAULT 0,
	type TEXT NOT NULL,
	central_value INTEGER NOT NULL,
	store_value INTEGER NOT NULL,
	strategy TEXT NOT NULL DEFAULT '',
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_value INTEGER,
	resolved_by TEXT NOT NULL DEFAULT '',
	resolved_at DATETIME,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS webhook_events (
	event_id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	source TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	processed INTEGER NOT NULL DEFAULT 0,
	processed_at DATETIME,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	received_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhook_events_received ON webhook_events(processed, received_at)
`

// NewSQLiteStore opens a SQLite-backed store.
// dbPath is the path to the SQLite database file (e.g., "./data/stocksync.db").
//
// SQLite has a single writer, so the pool is pinned to one connection; every
// transaction is therefore serialized, which gives the per-product
// read-modify-write its isolation.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s, err := newSQLStore(db, dialect{name: "sqlite", schema: sqliteSchema})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("component", "repository").Infof("SQLite store initialized with database: %s", dbPath)
	return s, nil
}
