// Package database provides schema management for the gateway tables
package database

import (
	"fmt"
)

// schemaStatements creates the durable tables. Session state itself is
// cache-only; the database holds the gateway catalog and the append-only
// ledgers that must survive a restart.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS gateways (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		creator_email TEXT,
		definition TEXT NOT NULL,
		postback_secret_hash TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS task_completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		gateway_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		source TEXT NOT NULL,
		completed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reward_dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		gateway_id TEXT NOT NULL,
		session_id TEXT NOT NULL UNIQUE,
		identity TEXT NOT NULL,
		window_key TEXT NOT NULL,
		dispensed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_completions_gateway ON task_completions(gateway_id, completed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatches_window ON reward_dispatches(gateway_id, identity, window_key)`,
}

// EnsureSchema creates the gateway tables if they do not exist.
func (db *DB) EnsureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
