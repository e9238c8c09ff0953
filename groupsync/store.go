// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// txStore runs every read and write of one sync batch against a single
// transaction. It implements Snapshot for the resolver.
type txStore struct {
	tx pgx.Tx
}

var _ Snapshot = (*txStore)(nil)

func (s *txStore) HasActiveMembership(ctx context.Context, userID, groupID string) (bool, error) {
	var active bool
	err := s.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat.group_memberships
			WHERE user_id = @user_id AND group_id = @group_id::uuid AND is_active
		)`,
		pgx.NamedArgs{"user_id": userID, "group_id": groupID},
	).Scan(&active)
	return active, err
}

func (s *txStore) GroupStatus(ctx context.Context, groupID string) (GroupStatus, error) {
	var deleted bool
	err := s.tx.QueryRow(ctx,
		`SELECT is_deleted FROM chat.chat_groups WHERE id = @group_id::uuid`,
		pgx.NamedArgs{"group_id": groupID},
	).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return GroupMissing, nil
	}
	if err != nil {
		return GroupMissing, err
	}
	if deleted {
		return GroupDeleted, nil
	}
	return GroupLive, nil
}

func (s *txStore) FindDuplicateMessage(ctx context.Context, userID, groupID, content string, from, to time.Time) (string, bool, error) {
	var id string
	err := s.tx.QueryRow(ctx, `
		SELECT id::text FROM chat.messages
		WHERE user_id = @user_id
		  AND group_id = @group_id::uuid
		  AND content = @content
		  AND NOT is_deleted
		  AND created_at BETWEEN @from AND @to
		ORDER BY created_at
		LIMIT 1`,
		pgx.NamedArgs{"user_id": userID, "group_id": groupID, "content": content, "from": from, "to": to},
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *txStore) FindOwnGroupByName(ctx context.Context, userID, name string) (string, bool, error) {
	var id string
	err := s.tx.QueryRow(ctx, `
		SELECT id::text FROM chat.chat_groups
		WHERE created_by = @user_id AND name = @name AND NOT is_deleted
		ORDER BY created_at
		LIMIT 1`,
		pgx.NamedArgs{"user_id": userID, "name": name},
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// now returns the transaction timestamp. Rows written in this transaction carry
// the same value, so it is also the cursor handed back to the client.
func (s *txStore) now(ctx context.Context) (time.Time, error) {
	var ts time.Time
	if err := s.tx.QueryRow(ctx, `SELECT now()`).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// applyMembershipEvent persists an accepted JOIN or LEAVE and returns the stored event
func (s *txStore) applyMembershipEvent(ctx context.Context, userID string, ev MembershipEventUpload) (MembershipEvent, error) {
	switch ev.Action {
	case ActionJoin:
		if _, err := s.tx.Exec(ctx, `
			INSERT INTO chat.group_memberships (user_id, group_id, is_active, joined_at, left_at)
			VALUES (@user_id, @group_id::uuid, TRUE, @at, NULL)
			ON CONFLICT (user_id, group_id)
			DO UPDATE SET is_active = TRUE, joined_at = EXCLUDED.joined_at, left_at = NULL`,
			pgx.NamedArgs{"user_id": userID, "group_id": ev.GroupID, "at": ev.Timestamp},
		); err != nil {
			return MembershipEvent{}, fmt.Errorf("activate membership: %w", err)
		}
	case ActionLeave, ActionRemove:
		if _, err := s.tx.Exec(ctx, `
			UPDATE chat.group_memberships
			SET is_active = FALSE, left_at = @at
			WHERE user_id = @user_id AND group_id = @group_id::uuid AND is_active`,
			pgx.NamedArgs{"user_id": userID, "group_id": ev.GroupID, "at": ev.Timestamp},
		); err != nil {
			return MembershipEvent{}, fmt.Errorf("deactivate membership: %w", err)
		}
	default:
		return MembershipEvent{}, fmt.Errorf("%w: unsupported membership action %q", ErrBadPayload, ev.Action)
	}

	stored, err := s.insertMembershipEvent(ctx, userID, userID, ev)
	if err != nil {
		return MembershipEvent{}, err
	}
	if err := s.touchGroup(ctx, ev.GroupID); err != nil {
		return MembershipEvent{}, err
	}
	return stored, nil
}

func (s *txStore) insertMembershipEvent(ctx context.Context, userID, performedBy string, ev MembershipEventUpload) (MembershipEvent, error) {
	out := MembershipEvent{
		ID:          uuid.New().String(),
		LocalID:     ev.LocalID,
		UserID:      userID,
		GroupID:     ev.GroupID,
		Action:      ev.Action,
		PerformedBy: performedBy,
	}
	err := s.tx.QueryRow(ctx, `
		INSERT INTO chat.membership_events (id, local_id, user_id, group_id, action, performed_by, event_timestamp)
		VALUES (@id::uuid, NULLIF(@local_id, ''), @user_id, @group_id::uuid, @action, @performed_by, @ts)
		RETURNING event_timestamp, received_at`,
		pgx.NamedArgs{
			"id":           out.ID,
			"local_id":     ev.LocalID,
			"user_id":      userID,
			"group_id":     ev.GroupID,
			"action":       string(ev.Action),
			"performed_by": performedBy,
			"ts":           ev.Timestamp,
		},
	).Scan(&out.Timestamp, &out.ReceivedAt)
	if err != nil {
		return MembershipEvent{}, fmt.Errorf("insert membership event: %w", err)
	}
	return out, nil
}

// touchGroup bumps updated_at so the member list change reaches group deltas
func (s *txStore) touchGroup(ctx context.Context, groupID string) error {
	if _, err := s.tx.Exec(ctx,
		`UPDATE chat.chat_groups SET updated_at = now() WHERE id = @group_id::uuid`,
		pgx.NamedArgs{"group_id": groupID},
	); err != nil {
		return fmt.Errorf("touch group: %w", err)
	}
	return nil
}

// insertMessage stores an accepted message; server_received_at defaults to now()
func (s *txStore) insertMessage(ctx context.Context, userID string, msg MessageUpload) (Message, error) {
	out := Message{
		ID:          uuid.New().String(),
		LocalID:     msg.LocalID,
		GroupID:     msg.GroupID,
		UserID:      userID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		SyncStatus:  SyncStatusSynced,
	}
	err := s.tx.QueryRow(ctx, `
		INSERT INTO chat.messages (id, local_id, group_id, user_id, content, message_type, created_at)
		VALUES (@id::uuid, NULLIF(@local_id, ''), @group_id::uuid, @user_id, @content, @message_type, @created_at)
		RETURNING created_at, server_received_at`,
		pgx.NamedArgs{
			"id":           out.ID,
			"local_id":     msg.LocalID,
			"group_id":     msg.GroupID,
			"user_id":      userID,
			"content":      msg.Content,
			"message_type": msg.MessageType,
			"created_at":   msg.CreatedAt,
		},
	).Scan(&out.CreatedAt, &out.ServerReceivedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return out, nil
}

// insertGroup creates the group together with the creator's active membership
// and JOIN event
func (s *txStore) insertGroup(ctx context.Context, userID string, g GroupUpload) (string, error) {
	id := uuid.New().String()
	if _, err := s.tx.Exec(ctx, `
		INSERT INTO chat.chat_groups (id, local_id, name, description, created_by, created_at, updated_at)
		VALUES (@id::uuid, NULLIF(@local_id, ''), @name, @description, @created_by, @created_at, now())`,
		pgx.NamedArgs{
			"id":          id,
			"local_id":    g.LocalID,
			"name":        g.Name,
			"description": g.Description,
			"created_by":  userID,
			"created_at":  g.CreatedAt,
		},
	); err != nil {
		return "", fmt.Errorf("insert group: %w", err)
	}

	join := MembershipEventUpload{GroupID: id, Action: ActionJoin, Timestamp: g.CreatedAt}
	if _, err := s.applyMembershipEvent(ctx, userID, join); err != nil {
		return "", fmt.Errorf("auto-join creator: %w", err)
	}
	return id, nil
}

// membershipEventsSince returns events the caller may see: their own, or any
// event in a group they are currently an active member of.
func (s *txStore) membershipEventsSince(ctx context.Context, userID string, cursor time.Time) ([]MembershipEvent, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT e.id::text, COALESCE(e.local_id, ''), e.user_id, e.group_id::text, e.action,
		       e.performed_by, e.event_timestamp, e.received_at
		FROM chat.membership_events e
		WHERE e.received_at > @cursor
		  AND (
		    e.user_id = @user_id
		    OR e.group_id IN (
		      SELECT group_id FROM chat.group_memberships WHERE user_id = @user_id AND is_active
		    )
		  )
		ORDER BY e.received_at, e.id`,
		pgx.NamedArgs{"user_id": userID, "cursor": cursor},
	)
	if err != nil {
		return nil, fmt.Errorf("query membership events: %w", err)
	}
	defer rows.Close()

	events := []MembershipEvent{}
	for rows.Next() {
		var ev MembershipEvent
		var action string
		if err := rows.Scan(&ev.ID, &ev.LocalID, &ev.UserID, &ev.GroupID, &action,
			&ev.PerformedBy, &ev.Timestamp, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan membership event: %w", err)
		}
		ev.Action = MembershipAction(action)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// messagesSince returns live messages in groups the caller is an active member
// of, keyed on server receipt time. A non-empty groupID limits the result to
// that group.
func (s *txStore) messagesSince(ctx context.Context, userID, groupID string, cursor time.Time) ([]Message, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT m.id::text, COALESCE(m.local_id, ''), m.group_id::text, m.user_id, m.content,
		       m.message_type, m.created_at, m.server_received_at
		FROM chat.messages m
		JOIN chat.group_memberships gm
		  ON gm.group_id = m.group_id AND gm.user_id = @user_id AND gm.is_active
		WHERE m.server_received_at > @cursor
		  AND NOT m.is_deleted
		  AND (@group_id::text = '' OR m.group_id::text = @group_id::text)
		ORDER BY m.server_received_at, m.id`,
		pgx.NamedArgs{"user_id": userID, "group_id": groupID, "cursor": cursor},
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.LocalID, &m.GroupID, &m.UserID, &m.Content,
			&m.MessageType, &m.CreatedAt, &m.ServerReceivedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SyncStatus = SyncStatusSynced
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// groupsSince returns live groups the caller created or belongs to, with
// their active member lists attached
func (s *txStore) groupsSince(ctx context.Context, userID string, cursor time.Time) ([]Group, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT g.id::text, COALESCE(g.local_id, ''), g.name, g.description, g.created_by,
		       g.created_at, g.updated_at
		FROM chat.chat_groups g
		WHERE g.updated_at > @cursor
		  AND NOT g.is_deleted
		  AND (
		    g.created_by = @user_id
		    OR g.id IN (
		      SELECT group_id FROM chat.group_memberships WHERE user_id = @user_id AND is_active
		    )
		  )
		ORDER BY g.updated_at, g.id`,
		pgx.NamedArgs{"user_id": userID, "cursor": cursor},
	)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	groups := []Group{}
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.LocalID, &g.Name, &g.Description, &g.CreatedBy,
			&g.CreatedAt, &g.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.IsActive = true
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachMembers(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// getGroup loads one live group with its members
func (s *txStore) getGroup(ctx context.Context, groupID string) (Group, error) {
	var g Group
	err := s.tx.QueryRow(ctx, `
		SELECT id::text, COALESCE(local_id, ''), name, description, created_by, created_at, updated_at
		FROM chat.chat_groups
		WHERE id = @group_id::uuid AND NOT is_deleted`,
		pgx.NamedArgs{"group_id": groupID},
	).Scan(&g.ID, &g.LocalID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("load group: %w", err)
	}
	g.IsActive = true
	groups := []Group{g}
	if err := s.attachMembers(ctx, groups); err != nil {
		return Group{}, err
	}
	return groups[0], nil
}

// getMessage loads one message by id
func (s *txStore) getMessage(ctx context.Context, messageID string) (Message, error) {
	var m Message
	err := s.tx.QueryRow(ctx, `
		SELECT id::text, COALESCE(local_id, ''), group_id::text, user_id, content, message_type,
		       created_at, server_received_at
		FROM chat.messages
		WHERE id = @id::uuid`,
		pgx.NamedArgs{"id": messageID},
	).Scan(&m.ID, &m.LocalID, &m.GroupID, &m.UserID, &m.Content, &m.MessageType, &m.CreatedAt, &m.ServerReceivedAt)
	if err != nil {
		return Message{}, fmt.Errorf("load message: %w", err)
	}
	m.SyncStatus = SyncStatusSynced
	return m, nil
}

func (s *txStore) attachMembers(ctx context.Context, groups []Group) error {
	if len(groups) == 0 {
		return nil
	}
	ids := make([]string, len(groups))
	index := make(map[string]int, len(groups))
	for i := range groups {
		ids[i] = groups[i].ID
		index[groups[i].ID] = i
		groups[i].Members = []GroupMember{}
	}

	rows, err := s.tx.Query(ctx, `
		SELECT group_id::text, user_id, joined_at
		FROM chat.group_memberships
		WHERE is_active AND group_id::text = ANY(@group_ids::text[])
		ORDER BY joined_at, user_id`,
		pgx.NamedArgs{"group_ids": ids},
	)
	if err != nil {
		return fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var groupID string
		var m GroupMember
		if err := rows.Scan(&groupID, &m.UserID, &m.JoinedAt); err != nil {
			return fmt.Errorf("scan group member: %w", err)
		}
		if i, ok := index[groupID]; ok {
			groups[i].Members = append(groups[i].Members, m)
		}
	}
	return rows.Err()
}

var syncMetadataUpserts = map[EntityType]string{
	EntityGroups: `
		INSERT INTO chat.user_sync_metadata (user_id, last_group_sync, updated_at)
		VALUES (@user_id, @ts, now())
		ON CONFLICT (user_id) DO UPDATE SET last_group_sync = EXCLUDED.last_group_sync, updated_at = now()`,
	EntityMembershipEvents: `
		INSERT INTO chat.user_sync_metadata (user_id, last_membership_sync, updated_at)
		VALUES (@user_id, @ts, now())
		ON CONFLICT (user_id) DO UPDATE SET last_membership_sync = EXCLUDED.last_membership_sync, updated_at = now()`,
	EntityMessages: `
		INSERT INTO chat.user_sync_metadata (user_id, last_message_sync, updated_at)
		VALUES (@user_id, @ts, now())
		ON CONFLICT (user_id) DO UPDATE SET last_message_sync = EXCLUDED.last_message_sync, updated_at = now()`,
}

// upsertSyncMetadata records the caller's cursor for one entity type
func (s *txStore) upsertSyncMetadata(ctx context.Context, userID string, entity EntityType, ts time.Time) error {
	query, ok := syncMetadataUpserts[entity]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entity)
	}
	if _, err := s.tx.Exec(ctx, query, pgx.NamedArgs{"user_id": userID, "ts": ts}); err != nil {
		return fmt.Errorf("upsert sync metadata: %w", err)
	}
	return nil
}
