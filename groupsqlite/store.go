// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const activeGroupKey = "active_group_id"

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the device's durable cache: groups, members, messages, sync
// cursors and the three pending-mutation queues.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex // serialize write transactions to avoid SQLite lock contention
}

// OpenStore prepares db for use as a local store
func OpenStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := initializeDatabase(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB { return s.db }

// Update runs fn in one transaction. Every write made through tx becomes
// visible together, or none does when fn returns an error.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs read-only fn against the database
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return fn(&Tx{q: s.db})
}

// Tx exposes store operations within Update or View
type Tx struct {
	q queryer
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Groups

// PutGroup inserts or overwrites a group. Members are replaced only when
// g.Members is non-nil.
func (tx *Tx) PutGroup(ctx context.Context, g Group) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO groups (id, local_id, name, description, created_by, created_at, updated_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_id    = CASE WHEN excluded.local_id = '' THEN groups.local_id ELSE excluded.local_id END,
			name        = excluded.name,
			description = excluded.description,
			created_by  = excluded.created_by,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at,
			sync_status = excluded.sync_status`,
		g.ID, g.LocalID, g.Name, g.Description, g.CreatedBy, formatTime(g.CreatedAt), formatTime(g.UpdatedAt), g.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to put group %s: %w", g.ID, err)
	}
	if g.Members == nil {
		return nil
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("failed to clear members of %s: %w", g.ID, err)
	}
	for _, m := range g.Members {
		if err := tx.PutMember(ctx, g.ID, m.UserID, m.JoinedAt); err != nil {
			return err
		}
	}
	return nil
}

// GetGroup returns ErrNotFound when id does not name a cached group
func (tx *Tx) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	var createdAt, updatedAt sql.NullString
	err := tx.q.QueryRowContext(ctx, `
		SELECT id, local_id, name, description, created_by, created_at, updated_at, sync_status
		FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.LocalID, &g.Name, &g.Description, &g.CreatedBy, &createdAt, &updatedAt, &g.SyncStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Group{}, fmt.Errorf("failed to get group %s: %w", id, err)
	}
	g.CreatedAt, g.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)

	members, err := tx.members(ctx, `WHERE group_id = ?`, id)
	if err != nil {
		return Group{}, err
	}
	g.Members = members[id]
	if g.Members == nil {
		g.Members = []Member{}
	}
	return g, nil
}

// ListGroups returns every cached group with members, oldest first
func (tx *Tx) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT id, local_id, name, description, created_by, created_at, updated_at, sync_status
		FROM groups ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	groups := []Group{}
	for rows.Next() {
		var g Group
		var createdAt, updatedAt sql.NullString
		if err := rows.Scan(&g.ID, &g.LocalID, &g.Name, &g.Description, &g.CreatedBy, &createdAt, &updatedAt, &g.SyncStatus); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.CreatedAt, g.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := tx.members(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].Members = members[groups[i].ID]
		if groups[i].Members == nil {
			groups[i].Members = []Member{}
		}
	}
	return groups, nil
}

func (tx *Tx) members(ctx context.Context, where string, args ...any) (map[string][]Member, error) {
	rows, err := tx.q.QueryContext(ctx, `SELECT group_id, user_id, joined_at FROM group_members `+where+` ORDER BY joined_at, user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()
	out := map[string][]Member{}
	for rows.Next() {
		var groupID string
		var m Member
		var joinedAt sql.NullString
		if err := rows.Scan(&groupID, &m.UserID, &joinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.JoinedAt = parseTime(joinedAt)
		out[groupID] = append(out[groupID], m)
	}
	return out, rows.Err()
}

func (tx *Tx) SetGroupStatus(ctx context.Context, id, status string) error {
	if _, err := tx.q.ExecContext(ctx, `UPDATE groups SET sync_status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("failed to set status of group %s: %w", id, err)
	}
	return nil
}

// PutMember is a no-op when the membership is already cached
func (tx *Tx) PutMember(ctx context.Context, groupID, userID string, joinedAt time.Time) error {
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID, userID, formatTime(joinedAt))
	if err != nil {
		return fmt.Errorf("failed to put member %s of %s: %w", userID, groupID, err)
	}
	return nil
}

func (tx *Tx) RemoveMember(ctx context.Context, groupID, userID string) error {
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID); err != nil {
		return fmt.Errorf("failed to remove member %s of %s: %w", userID, groupID, err)
	}
	return nil
}

// ApplyServerGroup stores a group delta. A delta whose localId still names a
// local row is reconciled onto that row first.
func (tx *Tx) ApplyServerGroup(ctx context.Context, g groupsync.Group) error {
	if g.LocalID != "" && g.LocalID != g.ID {
		if err := tx.ReconcileGroupID(ctx, g.LocalID, g.ID); err != nil {
			return err
		}
	}
	return tx.PutGroup(ctx, groupFromServer(g))
}

// ApplyServerMembershipEvent patches the cached member list of ev's group
func (tx *Tx) ApplyServerMembershipEvent(ctx context.Context, ev groupsync.MembershipEvent) error {
	switch ev.Action {
	case groupsync.ActionJoin:
		return tx.PutMember(ctx, ev.GroupID, ev.UserID, ev.Timestamp)
	case groupsync.ActionLeave, groupsync.ActionRemove:
		return tx.RemoveMember(ctx, ev.GroupID, ev.UserID)
	default:
		return fmt.Errorf("unknown membership action %q", ev.Action)
	}
}

// Messages

// PutMessage inserts m unless a message with the same id exists. For an
// existing row, a non-zero ServerReceivedAt marks it synced and records the
// receipt time; other fields are left alone. inserted reports a new row.
func (tx *Tx) PutMessage(ctx context.Context, m Message) (inserted bool, err error) {
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO messages (id, local_id, group_id, user_id, content, message_type, created_at, server_received_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.LocalID, m.GroupID, m.UserID, m.Content, m.MessageType,
		formatTime(m.CreatedAt), formatTime(m.ServerReceivedAt), m.SyncStatus)
	if err != nil {
		return false, fmt.Errorf("failed to put message %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 || m.ServerReceivedAt.IsZero() {
		return n > 0, nil
	}
	_, err = tx.q.ExecContext(ctx, `
		UPDATE messages
		SET server_received_at = ?, sync_status = ?,
		    local_id = CASE WHEN local_id = '' THEN ? ELSE local_id END
		WHERE id = ?`,
		formatTime(m.ServerReceivedAt), groupsync.SyncStatusSynced, m.LocalID, m.ID)
	if err != nil {
		return false, fmt.Errorf("failed to mark message %s synced: %w", m.ID, err)
	}
	return false, nil
}

// GetMessage returns ErrNotFound when id does not name a cached message
func (tx *Tx) GetMessage(ctx context.Context, id string) (Message, error) {
	rows, err := tx.queryMessages(ctx, `WHERE id = ?`, id)
	if err != nil {
		return Message{}, err
	}
	if len(rows) == 0 {
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return rows[0], nil
}

// ListMessages returns a group's messages ordered by claimed creation time
func (tx *Tx) ListMessages(ctx context.Context, groupID string) ([]Message, error) {
	return tx.queryMessages(ctx, `WHERE group_id = ?`, groupID)
}

func (tx *Tx) queryMessages(ctx context.Context, where string, args ...any) ([]Message, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT id, local_id, group_id, user_id, content, message_type, created_at, server_received_at, sync_status
		FROM messages `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	messages := []Message{}
	for rows.Next() {
		var m Message
		var createdAt, receivedAt sql.NullString
		if err := rows.Scan(&m.ID, &m.LocalID, &m.GroupID, &m.UserID, &m.Content, &m.MessageType,
			&createdAt, &receivedAt, &m.SyncStatus); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt, m.ServerReceivedAt = parseTime(createdAt), parseTime(receivedAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (tx *Tx) SetMessageStatus(ctx context.Context, id, status string) error {
	if _, err := tx.q.ExecContext(ctx, `UPDATE messages SET sync_status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("failed to set status of message %s: %w", id, err)
	}
	return nil
}

// ApplyServerMessage stores a message delta, reconciling it onto the local
// row its localId names when that row still exists
func (tx *Tx) ApplyServerMessage(ctx context.Context, m groupsync.Message) error {
	if m.LocalID != "" && m.LocalID != m.ID {
		if err := tx.ReconcileMessageID(ctx, m.LocalID, m.ID); err != nil {
			return err
		}
	}
	_, err := tx.PutMessage(ctx, messageFromServer(m))
	return err
}

// Cursors

// EntityScope is the cursor scope for one entity type
func EntityScope(entity groupsync.EntityType) string { return string(entity) }

// GroupScope is the per-group cursor scope. Its presence means the group's
// history has been fetched; it then tracks the newest message received there.
func GroupScope(groupID string) string { return "group:" + groupID }

// Cursor returns the stored lastSyncTimestamp for scope, or the epoch
func (tx *Tx) Cursor(ctx context.Context, scope string) (string, error) {
	var ts string
	err := tx.q.QueryRowContext(ctx, `SELECT last_sync_timestamp FROM sync_cursors WHERE scope = ?`, scope).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return groupsync.EpochTimestamp, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cursor %s: %w", scope, err)
	}
	return ts, nil
}

// SetCursor advances the cursor for scope. A value older than the stored one
// is ignored so the cursor never moves backwards.
func (tx *Tx) SetCursor(ctx context.Context, scope string, ts time.Time) error {
	current, err := tx.Cursor(ctx, scope)
	if err != nil {
		return err
	}
	if groupsync.ParseSyncCursor(current).After(ts) {
		return nil
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO sync_cursors (scope, last_sync_timestamp) VALUES (?, ?)
		ON CONFLICT(scope) DO UPDATE SET last_sync_timestamp = excluded.last_sync_timestamp`,
		scope, groupsync.FormatSyncTimestamp(ts))
	if err != nil {
		return fmt.Errorf("failed to write cursor %s: %w", scope, err)
	}
	return nil
}

// AdvanceCursor moves an existing cursor forward and leaves a missing one
// missing
func (tx *Tx) AdvanceCursor(ctx context.Context, scope string, ts time.Time) error {
	var exists bool
	err := tx.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sync_cursors WHERE scope = ?)`, scope).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check cursor %s: %w", scope, err)
	}
	if !exists {
		return nil
	}
	return tx.SetCursor(ctx, scope, ts)
}

// RewindGroupCursor drops the per-group cursor of groupID when it predates
// joinedAt, so the group's history is fetched again on the next pass
func (tx *Tx) RewindGroupCursor(ctx context.Context, groupID string, joinedAt time.Time) error {
	current, err := tx.Cursor(ctx, GroupScope(groupID))
	if err != nil {
		return err
	}
	if !groupsync.ParseSyncCursor(current).Before(joinedAt) {
		return nil
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM sync_cursors WHERE scope = ?`, GroupScope(groupID)); err != nil {
		return fmt.Errorf("failed to rewind cursor of group %s: %w", groupID, err)
	}
	return nil
}

// GroupsAwaitingHistory returns accepted groups that have no per-group cursor:
// groups new to this device and groups it has (re)joined since their history
// was last fetched
func (tx *Tx) GroupsAwaitingHistory(ctx context.Context) ([]string, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT g.id FROM groups g
		WHERE NOT EXISTS (SELECT 1 FROM pending_groups p WHERE p.local_id = g.id)
		  AND NOT EXISTS (SELECT 1 FROM sync_cursors c WHERE c.scope = 'group:' || g.id)
		ORDER BY g.created_at, g.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups awaiting history: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Client state

// ActiveGroup returns the selected group id, or "" when none is selected
func (tx *Tx) ActiveGroup(ctx context.Context) (string, error) {
	var id string
	err := tx.q.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, activeGroupKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active group: %w", err)
	}
	return id, nil
}

func (tx *Tx) SetActiveGroup(ctx context.Context, id string) error {
	var err error
	if id == "" {
		_, err = tx.q.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, activeGroupKey)
	} else {
		_, err = tx.q.ExecContext(ctx, `
			INSERT INTO client_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, activeGroupKey, id)
	}
	if err != nil {
		return fmt.Errorf("failed to set active group: %w", err)
	}
	return nil
}

// Pending queues

// EnqueueGroup appends a group creation. Re-enqueueing the same local id is a no-op.
func (tx *Tx) EnqueueGroup(ctx context.Context, p PendingGroup) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO pending_groups (local_id, name, description, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(local_id) DO NOTHING`,
		p.LocalID, p.Name, p.Description, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue group %s: %w", p.LocalID, err)
	}
	return nil
}

func (tx *Tx) EnqueueMembershipEvent(ctx context.Context, p PendingMembershipEvent) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO pending_membership_events (local_id, group_id, action, event_timestamp) VALUES (?, ?, ?, ?)
		ON CONFLICT(local_id) DO NOTHING`,
		p.LocalID, p.GroupID, string(p.Action), formatTime(p.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to enqueue membership event %s: %w", p.LocalID, err)
	}
	return nil
}

func (tx *Tx) EnqueueMessage(ctx context.Context, p PendingMessage) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO pending_messages (local_id, group_id, content, message_type, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO NOTHING`,
		p.LocalID, p.GroupID, p.Content, p.MessageType, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue message %s: %w", p.LocalID, err)
	}
	return nil
}

func isDue(next sql.NullString, now time.Time) bool {
	t := parseTime(next)
	return t.IsZero() || !t.After(now)
}

// DuePendingGroups returns up to limit queued groups whose backoff has expired, in enqueue order
func (tx *Tx) DuePendingGroups(ctx context.Context, now time.Time, limit int) ([]PendingGroup, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT local_id, name, description, created_at, attempts, next_attempt_at, last_error
		FROM pending_groups ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending groups: %w", err)
	}
	defer rows.Close()
	out := []PendingGroup{}
	for len(out) < limit && rows.Next() {
		var p PendingGroup
		var createdAt, next sql.NullString
		if err := rows.Scan(&p.LocalID, &p.Name, &p.Description, &createdAt, &p.Attempts, &next, &p.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan pending group: %w", err)
		}
		if !isDue(next, now) {
			continue
		}
		p.CreatedAt, p.NextAttemptAt = parseTime(createdAt), parseTime(next)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DuePendingMembershipEvents returns due events in enqueue order. It stops
// at the first event still in backoff so a LEAVE is never sent ahead of
// the JOIN queued before it.
func (tx *Tx) DuePendingMembershipEvents(ctx context.Context, now time.Time, limit int) ([]PendingMembershipEvent, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT local_id, group_id, action, event_timestamp, attempts, next_attempt_at, last_error
		FROM pending_membership_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending membership events: %w", err)
	}
	defer rows.Close()
	out := []PendingMembershipEvent{}
	for len(out) < limit && rows.Next() {
		var p PendingMembershipEvent
		var action string
		var ts, next sql.NullString
		if err := rows.Scan(&p.LocalID, &p.GroupID, &action, &ts, &p.Attempts, &next, &p.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan pending membership event: %w", err)
		}
		if !isDue(next, now) {
			break
		}
		p.Action = groupsync.MembershipAction(action)
		p.Timestamp, p.NextAttemptAt = parseTime(ts), parseTime(next)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (tx *Tx) DuePendingMessages(ctx context.Context, now time.Time, limit int) ([]PendingMessage, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT local_id, group_id, content, message_type, created_at, attempts, next_attempt_at, last_error
		FROM pending_messages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	defer rows.Close()
	out := []PendingMessage{}
	for len(out) < limit && rows.Next() {
		var p PendingMessage
		var createdAt, next sql.NullString
		if err := rows.Scan(&p.LocalID, &p.GroupID, &p.Content, &p.MessageType, &createdAt, &p.Attempts, &next, &p.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan pending message: %w", err)
		}
		if !isDue(next, now) {
			continue
		}
		p.CreatedAt, p.NextAttemptAt = parseTime(createdAt), parseTime(next)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingCount returns the number of entries in q, due or not
func (tx *Tx) PendingCount(ctx context.Context, q Queue) (int, error) {
	var n int
	if err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(q)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q, err)
	}
	return n, nil
}

// PendingRetry returns the retry bookkeeping of one queued entry
func (tx *Tx) PendingRetry(ctx context.Context, q Queue, localID string) (RetryState, error) {
	var rs RetryState
	var next sql.NullString
	err := tx.q.QueryRowContext(ctx,
		`SELECT attempts, next_attempt_at, last_error FROM `+string(q)+` WHERE local_id = ?`, localID,
	).Scan(&rs.Attempts, &next, &rs.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return RetryState{}, fmt.Errorf("%s %s: %w", q, localID, ErrNotFound)
	}
	if err != nil {
		return RetryState{}, fmt.Errorf("failed to read %s %s: %w", q, localID, err)
	}
	rs.NextAttemptAt = parseTime(next)
	return rs, nil
}

// RemovePending deletes accepted entries from q
func (tx *Tx) RemovePending(ctx context.Context, q Queue, localIDs ...string) error {
	for _, id := range localIDs {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM `+string(q)+` WHERE local_id = ?`, id); err != nil {
			return fmt.Errorf("failed to remove %s %s: %w", q, id, err)
		}
	}
	return nil
}

// MarkPendingFailed records a failed attempt for each entry and pushes its
// next attempt out by backoff(attempts)
func (tx *Tx) MarkPendingFailed(ctx context.Context, q Queue, localIDs []string, reason string, now time.Time, backoff func(attempts int) time.Duration) error {
	for _, id := range localIDs {
		rs, err := tx.PendingRetry(ctx, q, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		attempts := rs.Attempts + 1
		_, err = tx.q.ExecContext(ctx,
			`UPDATE `+string(q)+` SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE local_id = ?`,
			attempts, formatTime(now.Add(backoff(attempts))), reason, id)
		if err != nil {
			return fmt.Errorf("failed to mark %s %s failed: %w", q, id, err)
		}
	}
	return nil
}

// NoteImmediateFailure records the error of a failed direct call without
// delaying the next sweep
func (tx *Tx) NoteImmediateFailure(ctx context.Context, q Queue, localID, reason string) error {
	if _, err := tx.q.ExecContext(ctx, `UPDATE `+string(q)+` SET last_error = ? WHERE local_id = ?`, reason, localID); err != nil {
		return fmt.Errorf("failed to note failure of %s %s: %w", q, localID, err)
	}
	return nil
}

// IsLocalGroup reports whether id is a group the server has not accepted yet
func (tx *Tx) IsLocalGroup(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := tx.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pending_groups WHERE local_id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending group %s: %w", id, err)
	}
	return exists, nil
}

// Reconciliation

// ResolveGroupID follows the reconciliation map so callers holding a stale
// local id end up with the server id
func (tx *Tx) ResolveGroupID(ctx context.Context, id string) (string, error) {
	return tx.resolveID(ctx, "group", id)
}

func (tx *Tx) ResolveMessageID(ctx context.Context, id string) (string, error) {
	return tx.resolveID(ctx, "message", id)
}

func (tx *Tx) resolveID(ctx context.Context, entity, id string) (string, error) {
	var serverID string
	err := tx.q.QueryRowContext(ctx, `SELECT server_id FROM id_mappings WHERE local_id = ? AND entity = ?`, id, entity).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s id %s: %w", entity, id, err)
	}
	return serverID, nil
}

func (tx *Tx) recordMapping(ctx context.Context, entity, localID, serverID string) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO id_mappings (local_id, server_id, entity) VALUES (?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET server_id = excluded.server_id`,
		localID, serverID, entity)
	if err != nil {
		return fmt.Errorf("failed to record %s mapping %s: %w", entity, localID, err)
	}
	return nil
}

func (tx *Tx) exists(ctx context.Context, table, id string) (bool, error) {
	var ok bool
	if err := tx.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = ?)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", table, id, err)
	}
	return ok, nil
}

// ReconcileGroupID rewrites every reference to localID (the group row, its
// members, messages, queued events and messages, per-group cursor and the
// active selection) to serverID. When serverID is already cached the local
// row is merged into it. Applying it again is a no-op.
func (tx *Tx) ReconcileGroupID(ctx context.Context, localID, serverID string) error {
	if localID == "" || serverID == "" || localID == serverID {
		return nil
	}
	if err := tx.recordMapping(ctx, "group", localID, serverID); err != nil {
		return err
	}

	hasLocal, err := tx.exists(ctx, "groups", localID)
	if err != nil {
		return err
	}
	if hasLocal {
		hasServer, err := tx.exists(ctx, "groups", serverID)
		if err != nil {
			return err
		}
		if hasServer {
			_, err = tx.q.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, localID)
			if err == nil {
				_, err = tx.q.ExecContext(ctx,
					`UPDATE groups SET local_id = ?, sync_status = ? WHERE id = ? AND local_id = ''`,
					localID, groupsync.SyncStatusSynced, serverID)
			}
		} else {
			_, err = tx.q.ExecContext(ctx,
				`UPDATE groups SET id = ?, local_id = ?, sync_status = ? WHERE id = ?`,
				serverID, localID, groupsync.SyncStatusSynced, localID)
		}
		if err != nil {
			return fmt.Errorf("failed to reconcile group %s: %w", localID, err)
		}
	}

	stmts := []string{
		`UPDATE OR IGNORE group_members SET group_id = ? WHERE group_id = ?`,
		`UPDATE messages SET group_id = ? WHERE group_id = ?`,
		`UPDATE pending_messages SET group_id = ? WHERE group_id = ?`,
		`UPDATE pending_membership_events SET group_id = ? WHERE group_id = ?`,
		`UPDATE OR IGNORE sync_cursors SET scope = 'group:' || ? WHERE scope = 'group:' || ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.q.ExecContext(ctx, stmt, serverID, localID); err != nil {
			return fmt.Errorf("failed to reconcile group %s references: %w", localID, err)
		}
	}
	// Rows left behind by OR IGNORE duplicate rows already stored under serverID
	cleanup := []string{
		`DELETE FROM group_members WHERE group_id = ?`,
		`DELETE FROM sync_cursors WHERE scope = 'group:' || ?`,
	}
	for _, stmt := range cleanup {
		if _, err := tx.q.ExecContext(ctx, stmt, localID); err != nil {
			return fmt.Errorf("failed to clean up group %s: %w", localID, err)
		}
	}

	_, err = tx.q.ExecContext(ctx, `UPDATE client_state SET value = ? WHERE key = ? AND value = ?`,
		serverID, activeGroupKey, localID)
	if err != nil {
		return fmt.Errorf("failed to reconcile active group: %w", err)
	}
	return nil
}

// ReconcileMessageID renames a local message to its server id and marks it
// synced. When the server copy already arrived through a delta the local row
// is dropped instead.
func (tx *Tx) ReconcileMessageID(ctx context.Context, localID, serverID string) error {
	if localID == "" || serverID == "" || localID == serverID {
		return nil
	}
	if err := tx.recordMapping(ctx, "message", localID, serverID); err != nil {
		return err
	}
	hasLocal, err := tx.exists(ctx, "messages", localID)
	if err != nil || !hasLocal {
		return err
	}
	hasServer, err := tx.exists(ctx, "messages", serverID)
	if err != nil {
		return err
	}
	if hasServer {
		_, err = tx.q.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, localID)
		if err == nil {
			_, err = tx.q.ExecContext(ctx,
				`UPDATE messages SET local_id = ? WHERE id = ? AND local_id = ''`, localID, serverID)
		}
	} else {
		_, err = tx.q.ExecContext(ctx,
			`UPDATE messages SET id = ?, local_id = ?, sync_status = ? WHERE id = ?`,
			serverID, localID, groupsync.SyncStatusSynced, localID)
	}
	if err != nil {
		return fmt.Errorf("failed to reconcile message %s: %w", localID, err)
	}
	return nil
}
