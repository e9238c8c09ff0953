// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

// Observer is told that a sync pass changed something in a group. Each
// affected group is reported at least once per pass; duplicates are possible.
type Observer interface {
	SyncCompleted(groupID string)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(groupID string)

func (f ObserverFunc) SyncCompleted(groupID string) { f(groupID) }

// EntityReport summarizes one entity type within a pass
type EntityReport struct {
	Submitted int
	Skipped   int // waiting for their group to be accepted
	Accepted  int
	Conflicts int
	Deltas    int
	Err       error
}

// PassReport summarizes one sync pass
type PassReport struct {
	Groups           EntityReport
	MembershipEvents EntityReport
	Messages         EntityReport
	History          EntityReport // per-group history fetches; Submitted counts groups
	AffectedGroups   []string
}

// Err joins the per-entity errors of the pass
func (r *PassReport) Err() error {
	return errors.Join(r.Groups.Err, r.MembershipEvents.Err, r.Messages.Err, r.History.Err)
}

// Orchestrator drains the pending queues against the server in a fixed
// order (groups, membership events, messages) and merges server deltas.
// Groups without a per-group cursor then get their full history. Only one
// pass runs at a time.
type Orchestrator struct {
	userID string
	store  *Store
	remote Remote
	state  *State
	conn   Connectivity
	config *Config
	logger *slog.Logger
	now    func() time.Time

	syncing atomic.Bool
	trigger chan struct{}

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int
}

func newOrchestrator(userID string, store *Store, remote Remote, state *State, conn Connectivity, config *Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		userID:    userID,
		store:     store,
		remote:    remote,
		state:     state,
		conn:      conn,
		config:    config,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		trigger:   make(chan struct{}, 1),
		observers: map[int]Observer{},
	}
}

// Subscribe registers o and returns a function that removes it
func (o *Orchestrator) Subscribe(obs Observer) (unsubscribe func()) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	id := o.nextObsID
	o.nextObsID++
	o.observers[id] = obs
	return func() {
		o.obsMu.Lock()
		defer o.obsMu.Unlock()
		delete(o.observers, id)
	}
}

func (o *Orchestrator) notify(groupIDs []string) {
	o.obsMu.Lock()
	observers := make([]Observer, 0, len(o.observers))
	for _, obs := range o.observers {
		observers = append(observers, obs)
	}
	o.obsMu.Unlock()

	for _, id := range groupIDs {
		for _, obs := range observers {
			obs.SyncCompleted(id)
		}
	}
}

// TriggerSync requests a pass from the Run loop. Requests made while one is
// already pending collapse into it.
func (o *Orchestrator) TriggerSync() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Syncing reports whether a pass is in progress
func (o *Orchestrator) Syncing() bool { return o.syncing.Load() }

// Run performs a pass on every tick, every explicit trigger and every
// transition to online, until ctx is done
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.config.SyncInterval)
	defer ticker.Stop()
	changes := o.conn.Changes()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.trigger:
		case online, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			o.state.Dispatch(SetOnline{Online: online})
			if online {
				o.logger.Info("Connectivity regained, syncing")
			}
		}
		if !o.conn.Online() {
			continue
		}
		report, err := o.SyncOnce(ctx)
		if errors.Is(err, ErrSyncInProgress) {
			continue
		}
		if err != nil {
			o.logger.Warn("Sync pass finished with errors", "error", err,
				"affected_groups", len(report.AffectedGroups))
		}
	}
}

// SyncOnce runs one pass and returns ErrSyncInProgress if another pass is
// running. A failure of one entity type is recorded in the report and does
// not stop the following types; the returned error joins those failures.
func (o *Orchestrator) SyncOnce(ctx context.Context) (*PassReport, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.syncing.Store(false)

	report := &PassReport{}
	affected := newGroupSet()

	report.Groups = o.syncGroups(ctx, affected)
	report.MembershipEvents = o.syncMembershipEvents(ctx, affected)
	report.Messages = o.syncMessages(ctx, affected)
	report.History = o.fetchGroupHistory(ctx, affected)

	report.AffectedGroups = affected.list()
	if err := o.refreshState(ctx, report.AffectedGroups); err != nil {
		o.logger.Warn("Failed to refresh state after sync", "error", err)
	}
	o.notify(report.AffectedGroups)
	return report, report.Err()
}

type groupSet struct {
	ids   map[string]struct{}
	order []string
}

func newGroupSet() *groupSet { return &groupSet{ids: map[string]struct{}{}} }

func (s *groupSet) add(id string) {
	if _, ok := s.ids[id]; ok || id == "" {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *groupSet) list() []string { return slices.Clone(s.order) }

// skipLocalGroups drops items whose group has not been accepted yet. They
// stay queued and go out once the group has a server id.
func skipLocalGroups[T any](ctx context.Context, tx *Tx, items []T, groupOf func(T) string) ([]T, int, error) {
	out := items[:0:0]
	skipped := 0
	for _, it := range items {
		local, err := tx.IsLocalGroup(ctx, groupOf(it))
		if err != nil {
			return nil, 0, err
		}
		if local {
			skipped++
			continue
		}
		out = append(out, it)
	}
	return out, skipped, nil
}

func (o *Orchestrator) syncGroups(ctx context.Context, affected *groupSet) (rep EntityReport) {
	scope := EntityScope(groupsync.EntityGroups)
	var due []PendingGroup
	var cursor string
	err := o.store.View(ctx, func(tx *Tx) error {
		var err error
		if due, err = tx.DuePendingGroups(ctx, o.now(), o.config.MaxBatchSize); err != nil {
			return err
		}
		cursor, err = tx.Cursor(ctx, scope)
		return err
	})
	if err != nil {
		rep.Err = fmt.Errorf("groups: %w", err)
		return rep
	}

	req := &groupsync.GroupSyncRequest{Groups: make([]groupsync.GroupUpload, len(due)), LastSyncTimestamp: cursor}
	localIDs := make([]string, len(due))
	for i, p := range due {
		req.Groups[i] = p.upload()
		localIDs[i] = p.LocalID
	}
	rep.Submitted = len(due)

	resp, err := o.remote.SyncGroups(ctx, req)
	if err != nil {
		rep.Err = fmt.Errorf("groups: %w", err)
		o.markFailed(ctx, QueueGroups, localIDs, err, func(tx *Tx, id string) error {
			return tx.SetGroupStatus(ctx, id, groupsync.SyncStatusFailed)
		})
		return rep
	}

	err = o.store.Update(ctx, func(tx *Tx) error {
		for _, a := range resp.AcceptedGroups {
			if err := tx.ReconcileGroupID(ctx, a.LocalID, a.ServerID); err != nil {
				return err
			}
			if err := tx.RemovePending(ctx, QueueGroups, a.LocalID); err != nil {
				return err
			}
		}
		for _, g := range resp.ServerGroups {
			if err := tx.ApplyServerGroup(ctx, g); err != nil {
				return err
			}
		}
		return tx.SetCursor(ctx, scope, resp.SyncTimestamp)
	})
	if err != nil {
		rep.Err = fmt.Errorf("groups: apply response: %w", err)
		return rep
	}

	for _, a := range resp.AcceptedGroups {
		o.state.Dispatch(ReconcileGroupID{LocalID: a.LocalID, ServerID: a.ServerID})
		affected.add(a.ServerID)
	}
	for _, g := range resp.ServerGroups {
		affected.add(g.ID)
	}
	rep.Accepted, rep.Conflicts, rep.Deltas = len(resp.AcceptedGroups), len(resp.ConflictsResolved), len(resp.ServerGroups)
	o.logger.Debug("Synced groups", "submitted", rep.Submitted, "accepted", rep.Accepted,
		"conflicts", rep.Conflicts, "deltas", rep.Deltas)
	return rep
}

func (o *Orchestrator) syncMembershipEvents(ctx context.Context, affected *groupSet) (rep EntityReport) {
	scope := EntityScope(groupsync.EntityMembershipEvents)
	var due []PendingMembershipEvent
	var cursor string
	err := o.store.View(ctx, func(tx *Tx) error {
		var err error
		if due, err = tx.DuePendingMembershipEvents(ctx, o.now(), o.config.MaxBatchSize); err != nil {
			return err
		}
		if due, rep.Skipped, err = skipLocalGroups(ctx, tx, due, func(p PendingMembershipEvent) string { return p.GroupID }); err != nil {
			return err
		}
		cursor, err = tx.Cursor(ctx, scope)
		return err
	})
	if err != nil {
		rep.Err = fmt.Errorf("membership events: %w", err)
		return rep
	}

	req := &groupsync.MembershipSyncRequest{Events: make([]groupsync.MembershipEventUpload, len(due)), LastSyncTimestamp: cursor}
	localIDs := make([]string, len(due))
	for i, p := range due {
		req.Events[i] = p.upload()
		localIDs[i] = p.LocalID
	}
	rep.Submitted = len(due)

	resp, err := o.remote.SyncMembershipEvents(ctx, req)
	if err != nil {
		// A JOIN to a missing group fails the whole batch; every event in it waits out the backoff
		rep.Err = fmt.Errorf("membership events: %w", err)
		o.markFailed(ctx, QueueMembershipEvents, localIDs, err, nil)
		return rep
	}

	joins := map[string]string{}
	for _, p := range due {
		if p.Action == groupsync.ActionJoin {
			joins[p.LocalID] = p.GroupID
		}
	}
	err = o.store.Update(ctx, func(tx *Tx) error {
		for _, a := range resp.AcceptedEvents {
			if err := tx.RemovePending(ctx, QueueMembershipEvents, a.LocalID); err != nil {
				return err
			}
			if gid, ok := joins[a.LocalID]; ok {
				if err := tx.RewindGroupCursor(ctx, gid, resp.SyncTimestamp); err != nil {
					return err
				}
			}
		}
		// Duplicate JOIN/LEAVE means the server already is in the requested state
		for _, c := range resp.ConflictsResolved {
			if c.ResolutionApplied == groupsync.ResolutionIgnoreDuplicate {
				if err := tx.RemovePending(ctx, QueueMembershipEvents, c.LocalID); err != nil {
					return err
				}
			}
		}
		for _, ev := range resp.ServerEvents {
			if err := tx.ApplyServerMembershipEvent(ctx, ev); err != nil {
				return err
			}
			// A join made from another device of this user
			if ev.UserID == o.userID && ev.Action == groupsync.ActionJoin {
				if err := tx.RewindGroupCursor(ctx, ev.GroupID, ev.ReceivedAt); err != nil {
					return err
				}
			}
		}
		return tx.SetCursor(ctx, scope, resp.SyncTimestamp)
	})
	if err != nil {
		rep.Err = fmt.Errorf("membership events: apply response: %w", err)
		return rep
	}

	for _, p := range due {
		affected.add(p.GroupID)
	}
	for _, ev := range resp.ServerEvents {
		affected.add(ev.GroupID)
	}
	rep.Accepted, rep.Conflicts, rep.Deltas = len(resp.AcceptedEvents), len(resp.ConflictsResolved), len(resp.ServerEvents)
	o.logger.Debug("Synced membership events", "submitted", rep.Submitted, "skipped", rep.Skipped,
		"accepted", rep.Accepted, "conflicts", rep.Conflicts, "deltas", rep.Deltas)
	return rep
}

func (o *Orchestrator) syncMessages(ctx context.Context, affected *groupSet) (rep EntityReport) {
	scope := EntityScope(groupsync.EntityMessages)
	var due []PendingMessage
	var cursor string
	err := o.store.View(ctx, func(tx *Tx) error {
		var err error
		if due, err = tx.DuePendingMessages(ctx, o.now(), o.config.MaxBatchSize); err != nil {
			return err
		}
		if due, rep.Skipped, err = skipLocalGroups(ctx, tx, due, func(p PendingMessage) string { return p.GroupID }); err != nil {
			return err
		}
		cursor, err = tx.Cursor(ctx, scope)
		return err
	})
	if err != nil {
		rep.Err = fmt.Errorf("messages: %w", err)
		return rep
	}

	req := &groupsync.MessageSyncRequest{Messages: make([]groupsync.MessageUpload, len(due)), LastSyncTimestamp: cursor}
	localIDs := make([]string, len(due))
	groupOf := make(map[string]string, len(due))
	for i, p := range due {
		req.Messages[i] = p.upload()
		localIDs[i] = p.LocalID
		groupOf[p.LocalID] = p.GroupID
	}
	rep.Submitted = len(due)

	resp, err := o.remote.SyncMessages(ctx, req)
	if err != nil {
		rep.Err = fmt.Errorf("messages: %w", err)
		o.markFailed(ctx, QueueMessages, localIDs, err, func(tx *Tx, id string) error {
			return tx.SetMessageStatus(ctx, id, groupsync.SyncStatusFailed)
		})
		for _, id := range localIDs {
			affected.add(groupOf[id])
		}
		return rep
	}

	var rejected []groupsync.ResolvedConflict
	err = o.store.Update(ctx, func(tx *Tx) error {
		for _, a := range resp.AcceptedMessages {
			if err := tx.ReconcileMessageID(ctx, a.LocalID, a.ServerID); err != nil {
				return err
			}
			if err := tx.RemovePending(ctx, QueueMessages, a.LocalID); err != nil {
				return err
			}
		}
		for _, c := range resp.ConflictsResolved {
			if c.ResolutionApplied != groupsync.ResolutionRejectMessage {
				continue
			}
			rejected = append(rejected, c)
			if err := tx.SetMessageStatus(ctx, c.LocalID, groupsync.SyncStatusFailed); err != nil {
				return err
			}
			if err := tx.MarkPendingFailed(ctx, QueueMessages, []string{c.LocalID}, string(c.ConflictType), o.now(), o.config.retryBackoff); err != nil {
				return err
			}
		}
		for _, m := range resp.ServerMessages {
			if err := tx.ApplyServerMessage(ctx, m); err != nil {
				return err
			}
			if err := tx.AdvanceCursor(ctx, GroupScope(m.GroupID), m.ServerReceivedAt); err != nil {
				return err
			}
		}
		return tx.SetCursor(ctx, scope, resp.SyncTimestamp)
	})
	if err != nil {
		rep.Err = fmt.Errorf("messages: apply response: %w", err)
		return rep
	}

	for _, a := range resp.AcceptedMessages {
		gid := groupOf[a.LocalID]
		o.state.Dispatch(ReconcileMessageID{GroupID: gid, LocalID: a.LocalID, ServerID: a.ServerID})
		affected.add(gid)
	}
	for _, c := range rejected {
		affected.add(groupOf[c.LocalID])
		o.logger.Info("Message rejected by server", "local_id", c.LocalID, "conflict", c.ConflictType)
	}
	for _, m := range resp.ServerMessages {
		affected.add(m.GroupID)
	}
	rep.Accepted, rep.Conflicts, rep.Deltas = len(resp.AcceptedMessages), len(resp.ConflictsResolved), len(resp.ServerMessages)
	o.logger.Debug("Synced messages", "submitted", rep.Submitted, "skipped", rep.Skipped,
		"accepted", rep.Accepted, "conflicts", rep.Conflicts, "deltas", rep.Deltas)
	return rep
}

// fetchGroupHistory asks for the complete message history of every group
// awaiting it, one group-scoped request each. The entity cursor only covers
// messages received since this device last synced, which misses whatever was
// posted in a group before the device joined it. Each group's cursor starts
// at the sync timestamp of its history fetch.
func (o *Orchestrator) fetchGroupHistory(ctx context.Context, affected *groupSet) (rep EntityReport) {
	var groupIDs []string
	err := o.store.View(ctx, func(tx *Tx) error {
		var err error
		groupIDs, err = tx.GroupsAwaitingHistory(ctx)
		return err
	})
	if err != nil {
		rep.Err = fmt.Errorf("group history: %w", err)
		return rep
	}
	rep.Submitted = len(groupIDs)

	var errs []error
	for _, groupID := range groupIDs {
		resp, err := o.remote.SyncMessages(ctx, &groupsync.MessageSyncRequest{
			Messages:          []groupsync.MessageUpload{},
			LastSyncTimestamp: groupsync.EpochTimestamp,
			GroupID:           groupID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", groupID, err))
			continue
		}
		err = o.store.Update(ctx, func(tx *Tx) error {
			for _, m := range resp.ServerMessages {
				if err := tx.ApplyServerMessage(ctx, m); err != nil {
					return err
				}
			}
			return tx.SetCursor(ctx, GroupScope(groupID), resp.SyncTimestamp)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("group %s: apply history: %w", groupID, err))
			continue
		}
		rep.Accepted++
		rep.Deltas += len(resp.ServerMessages)
		if len(resp.ServerMessages) > 0 {
			affected.add(groupID)
		}
	}
	if len(errs) > 0 {
		rep.Err = fmt.Errorf("group history: %w", errors.Join(errs...))
	}
	if rep.Submitted > 0 {
		o.logger.Debug("Fetched group history", "groups", rep.Submitted, "fetched", rep.Accepted, "messages", rep.Deltas)
	}
	return rep
}

// markFailed keeps the entries queued, pushes their next attempt out and
// lets mark flag the cached entity as failed
func (o *Orchestrator) markFailed(ctx context.Context, q Queue, localIDs []string, cause error, mark func(tx *Tx, id string) error) {
	if len(localIDs) == 0 {
		return
	}
	err := o.store.Update(ctx, func(tx *Tx) error {
		if err := tx.MarkPendingFailed(ctx, q, localIDs, cause.Error(), o.now(), o.config.retryBackoff); err != nil {
			return err
		}
		if mark == nil {
			return nil
		}
		for _, id := range localIDs {
			if err := mark(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to record sync failure", "queue", string(q), "error", err)
	}
}

// refreshState republishes groups, the active selection and the messages of
// every affected group from the store
func (o *Orchestrator) refreshState(ctx context.Context, affected []string) error {
	var groups []Group
	var active string
	messages := map[string][]Message{}
	err := o.store.View(ctx, func(tx *Tx) error {
		var err error
		if groups, err = tx.ListGroups(ctx); err != nil {
			return err
		}
		if active, err = tx.ActiveGroup(ctx); err != nil {
			return err
		}
		for _, id := range affected {
			if messages[id], err = tx.ListMessages(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.state.Dispatch(SetGroups{Groups: groups})
	o.state.Dispatch(SetActiveGroup{ID: active})
	for id, msgs := range messages {
		o.state.Dispatch(SetMessages{GroupID: id, Messages: msgs})
	}
	return nil
}
