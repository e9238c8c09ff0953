// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchema creates the chat tables if they don't exist
func (s *SyncService) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
}

// initializeSchemaInTx creates the chat tables within an existing transaction
func (s *SyncService) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS chat`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS chat.chat_groups (
			id          UUID        PRIMARY KEY,
			local_id    TEXT,
			name        TEXT        NOT NULL,
			description TEXT        NOT NULL DEFAULT '',
			created_by  TEXT        NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_deleted  BOOLEAN     NOT NULL DEFAULT FALSE
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS chat_groups_creator_name_idx
			ON chat.chat_groups (created_by, name) WHERE NOT is_deleted`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS chat_groups_updated_idx
			ON chat.chat_groups (updated_at)`,

		// One row per (user, group); rejoin flips is_active back on
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS chat.group_memberships (
			user_id   TEXT        NOT NULL,
			group_id  UUID        NOT NULL REFERENCES chat.chat_groups (id),
			is_active BOOLEAN     NOT NULL DEFAULT TRUE,
			joined_at TIMESTAMPTZ NOT NULL,
			left_at   TIMESTAMPTZ,
			PRIMARY KEY (user_id, group_id)
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS group_memberships_group_idx
			ON chat.group_memberships (group_id) WHERE is_active`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS chat.membership_events (
			id              UUID        PRIMARY KEY,
			local_id        TEXT,
			user_id         TEXT        NOT NULL,
			group_id        UUID        NOT NULL REFERENCES chat.chat_groups (id),
			action          TEXT        NOT NULL CHECK (action IN ('JOIN', 'LEAVE', 'REMOVE')),
			performed_by    TEXT        NOT NULL,
			event_timestamp TIMESTAMPTZ NOT NULL,
			received_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS membership_events_group_received_idx
			ON chat.membership_events (group_id, received_at)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS membership_events_user_received_idx
			ON chat.membership_events (user_id, received_at)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS chat.messages (
			id                 UUID        PRIMARY KEY,
			local_id           TEXT,
			group_id           UUID        NOT NULL REFERENCES chat.chat_groups (id),
			user_id            TEXT        NOT NULL,
			content            TEXT        NOT NULL,
			message_type       TEXT        NOT NULL DEFAULT 'text',
			created_at         TIMESTAMPTZ NOT NULL,
			server_received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_deleted         BOOLEAN     NOT NULL DEFAULT FALSE
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS messages_group_received_idx
			ON chat.messages (group_id, server_received_at)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS messages_dedup_idx
			ON chat.messages (user_id, group_id, created_at)`,

		// Server-side record of each caller's last sync per entity type
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS chat.user_sync_metadata (
			user_id              TEXT        PRIMARY KEY,
			last_group_sync      TIMESTAMPTZ,
			last_membership_sync TIMESTAMPTZ,
			last_message_sync    TIMESTAMPTZ,
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for i, migration := range migrations {
		s.logger.Debug("Running chat schema migration", "step", i+1, "total", len(migrations))
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("chat schema migration %d failed: %w", i+1, err)
		}
	}
	s.logger.Info("Chat schema initialized successfully", "migrations", len(migrations))

	return nil
}
