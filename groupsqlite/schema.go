// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// initializeDatabase creates the local cache, cursor and pending-queue tables
func initializeDatabase(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`PRAGMA busy_timeout=5000`,
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id          TEXT PRIMARY KEY,
			local_id    TEXT NOT NULL DEFAULT '',
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_by  TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'pending'
		)`,

		// Members are replaced wholesale by group deltas and patched by membership events
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id  TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (group_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id                 TEXT PRIMARY KEY,
			local_id           TEXT NOT NULL DEFAULT '',
			group_id           TEXT NOT NULL,
			user_id            TEXT NOT NULL,
			content            TEXT NOT NULL,
			message_type       TEXT NOT NULL DEFAULT 'text',
			created_at         TEXT NOT NULL,
			server_received_at TEXT,
			sync_status        TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at, id)`,

		// scope is an entity type, or "group:<id>" once that group's history is fetched
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			scope               TEXT PRIMARY KEY,
			last_sync_timestamp TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS pending_groups (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			local_id        TEXT NOT NULL UNIQUE,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT,
			last_error      TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS pending_membership_events (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			local_id        TEXT NOT NULL UNIQUE,
			group_id        TEXT NOT NULL,
			action          TEXT NOT NULL CHECK (action IN ('JOIN','LEAVE')),
			event_timestamp TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT,
			last_error      TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS pending_messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			local_id        TEXT NOT NULL UNIQUE,
			group_id        TEXT NOT NULL,
			content         TEXT NOT NULL,
			message_type    TEXT NOT NULL DEFAULT 'text',
			created_at      TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT,
			last_error      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_messages_group ON pending_messages(group_id)`,

		// Reconciliation map: every local id the server has accepted
		`CREATE TABLE IF NOT EXISTS id_mappings (
			local_id  TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			entity    TEXT NOT NULL CHECK (entity IN ('group','message'))
		)`,

		`CREATE TABLE IF NOT EXISTS client_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create local table: %w", err)
		}
	}
	return nil
}
