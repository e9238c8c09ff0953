// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"fmt"
)

// SyncMembershipEvents applies a batch of JOIN/LEAVE events in order and returns
// the membership events the caller has not seen since lastSyncTimestamp.
// A JOIN to a missing or deleted group aborts the whole batch with a
// *HardFailureError; nothing from the batch is persisted in that case.
func (s *SyncService) SyncMembershipEvents(ctx context.Context, userID string, req *MembershipSyncRequest) (*MembershipSyncResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := s.validateMembershipRequest(req); err != nil {
		return nil, err
	}
	cursor := ParseSyncCursor(req.LastSyncTimestamp)
	total := s.startStage(OpSyncMemberships, StageTotal)

	var resp *MembershipSyncResponse
	err := s.runInTx(ctx, OpSyncMemberships, func(st *txStore) error {
		resp = &MembershipSyncResponse{
			ConflictsResolved: []ResolvedConflict{},
			AcceptedEvents:    []AcceptedMapping{},
		}

		stage := s.startStage(OpSyncMemberships, StageResolveApply)
		for _, ev := range req.Events {
			d, err := s.resolver.ResolveMembership(ctx, st, userID, ev)
			if err != nil {
				return err
			}
			switch d.Kind {
			case DecisionHardFailure:
				s.logger.Warn("Membership batch aborted", "user_id", userID, "group_id", ev.GroupID, "local_id", ev.LocalID, "error", d.Err)
				return d.Err
			case DecisionSoftConflict:
				resp.ConflictsResolved = append(resp.ConflictsResolved, *d.Conflict)
			case DecisionAccept:
				stored, err := st.applyMembershipEvent(ctx, userID, ev)
				if err != nil {
					return err
				}
				resp.AcceptedEvents = append(resp.AcceptedEvents, AcceptedMapping{LocalID: ev.LocalID, ServerID: stored.ID})
			}
		}
		stage.end(ctx, len(req.Events), 0, nil)

		stage = s.startStage(OpSyncMemberships, StageDeltas)
		events, err := st.membershipEventsSince(ctx, userID, cursor)
		if err != nil {
			return err
		}
		stage.end(ctx, len(events), 0, nil)
		resp.ServerEvents = events

		resp.SyncTimestamp, err = st.now(ctx)
		if err != nil {
			return fmt.Errorf("read sync timestamp: %w", err)
		}
		return st.upsertSyncMetadata(ctx, userID, EntityMembershipEvents, resp.SyncTimestamp)
	})
	total.end(ctx, len(req.Events), 0, err)
	if err != nil {
		return nil, fmt.Errorf("failed to sync membership events: %w", err)
	}

	s.logger.Debug("Synced membership events",
		"user_id", userID,
		"submitted", len(req.Events),
		"accepted", len(resp.AcceptedEvents),
		"conflicts", len(resp.ConflictsResolved),
		"deltas", len(resp.ServerEvents))
	return resp, nil
}

// SyncMessages applies a batch of messages and returns messages received by
// the server after lastSyncTimestamp in groups the caller belongs to, or in
// req.GroupID only when it is set. A group-scoped call leaves the caller's
// recorded message sync time alone.
// A deduplicated message is reported both as a conflict and as accepted,
// mapped onto the existing server id.
func (s *SyncService) SyncMessages(ctx context.Context, userID string, req *MessageSyncRequest) (*MessageSyncResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := s.validateMessageRequest(req); err != nil {
		return nil, err
	}
	cursor := ParseSyncCursor(req.LastSyncTimestamp)
	total := s.startStage(OpSyncMessages, StageTotal)

	var resp *MessageSyncResponse
	err := s.runInTx(ctx, OpSyncMessages, func(st *txStore) error {
		resp = &MessageSyncResponse{
			ConflictsResolved: []ResolvedConflict{},
			AcceptedMessages:  []AcceptedMapping{},
		}

		stage := s.startStage(OpSyncMessages, StageResolveApply)
		for _, msg := range req.Messages {
			d, err := s.resolver.ResolveMessage(ctx, st, userID, msg)
			if err != nil {
				return err
			}
			switch d.Kind {
			case DecisionHardFailure:
				return d.Err
			case DecisionSoftConflict:
				resp.ConflictsResolved = append(resp.ConflictsResolved, *d.Conflict)
				if d.MatchedID != "" {
					resp.AcceptedMessages = append(resp.AcceptedMessages, AcceptedMapping{LocalID: msg.LocalID, ServerID: d.MatchedID})
				}
			case DecisionAccept:
				stored, err := st.insertMessage(ctx, userID, msg)
				if err != nil {
					return err
				}
				resp.AcceptedMessages = append(resp.AcceptedMessages, AcceptedMapping{LocalID: msg.LocalID, ServerID: stored.ID})
			}
		}
		stage.end(ctx, len(req.Messages), 0, nil)

		stage = s.startStage(OpSyncMessages, StageDeltas)
		messages, err := st.messagesSince(ctx, userID, req.GroupID, cursor)
		if err != nil {
			return err
		}
		stage.end(ctx, len(messages), 0, nil)
		resp.ServerMessages = messages

		resp.SyncTimestamp, err = st.now(ctx)
		if err != nil {
			return fmt.Errorf("read sync timestamp: %w", err)
		}
		if req.GroupID != "" {
			return nil
		}
		return st.upsertSyncMetadata(ctx, userID, EntityMessages, resp.SyncTimestamp)
	})
	total.end(ctx, len(req.Messages), 0, err)
	if err != nil {
		return nil, fmt.Errorf("failed to sync messages: %w", err)
	}

	s.logger.Debug("Synced messages",
		"user_id", userID,
		"submitted", len(req.Messages),
		"accepted", len(resp.AcceptedMessages),
		"conflicts", len(resp.ConflictsResolved),
		"deltas", len(resp.ServerMessages))
	return resp, nil
}

// SyncGroups creates the submitted groups (deduplicating by creator and name)
// and returns groups changed since lastSyncTimestamp that the caller can see
func (s *SyncService) SyncGroups(ctx context.Context, userID string, req *GroupSyncRequest) (*GroupSyncResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := s.validateGroupRequest(req); err != nil {
		return nil, err
	}
	cursor := ParseSyncCursor(req.LastSyncTimestamp)
	total := s.startStage(OpSyncGroups, StageTotal)

	var resp *GroupSyncResponse
	err := s.runInTx(ctx, OpSyncGroups, func(st *txStore) error {
		resp = &GroupSyncResponse{
			ConflictsResolved: []ResolvedConflict{},
			AcceptedGroups:    []AcceptedMapping{},
		}

		stage := s.startStage(OpSyncGroups, StageResolveApply)
		for _, g := range req.Groups {
			d, err := s.resolver.ResolveGroup(ctx, st, userID, g)
			if err != nil {
				return err
			}
			switch d.Kind {
			case DecisionHardFailure:
				return d.Err
			case DecisionSoftConflict:
				resp.ConflictsResolved = append(resp.ConflictsResolved, *d.Conflict)
				if d.MatchedID != "" {
					resp.AcceptedGroups = append(resp.AcceptedGroups, AcceptedMapping{LocalID: g.LocalID, ServerID: d.MatchedID})
				}
			case DecisionAccept:
				id, err := st.insertGroup(ctx, userID, g)
				if err != nil {
					return err
				}
				resp.AcceptedGroups = append(resp.AcceptedGroups, AcceptedMapping{LocalID: g.LocalID, ServerID: id})
			}
		}
		stage.end(ctx, len(req.Groups), 0, nil)

		stage = s.startStage(OpSyncGroups, StageDeltas)
		groups, err := st.groupsSince(ctx, userID, cursor)
		if err != nil {
			return err
		}
		stage.end(ctx, len(groups), 0, nil)
		resp.ServerGroups = groups

		resp.SyncTimestamp, err = st.now(ctx)
		if err != nil {
			return fmt.Errorf("read sync timestamp: %w", err)
		}
		return st.upsertSyncMetadata(ctx, userID, EntityGroups, resp.SyncTimestamp)
	})
	total.end(ctx, len(req.Groups), 0, err)
	if err != nil {
		return nil, fmt.Errorf("failed to sync groups: %w", err)
	}

	s.logger.Debug("Synced groups",
		"user_id", userID,
		"submitted", len(req.Groups),
		"accepted", len(resp.AcceptedGroups),
		"conflicts", len(resp.ConflictsResolved),
		"deltas", len(resp.ServerGroups))
	return resp, nil
}
