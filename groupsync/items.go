// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"fmt"
	"time"
)

// Single-item operations back the non-batch endpoints a connected client calls
// right after an optimistic local write. They run through the same resolver
// rules as the batch path.

// CreateGroup creates one group. created is false when the request was
// deduplicated onto a group the caller already owns; the existing group is
// returned in that case.
func (s *SyncService) CreateGroup(ctx context.Context, userID string, req GroupUpload) (group *Group, created bool, err error) {
	if err := s.checkClosed(); err != nil {
		return nil, false, err
	}
	if err := validateGroup(&req, -1, time.Now().UTC()); err != nil {
		return nil, false, err
	}

	timer := s.startStage(OpCreateGroup, StageTotal)
	err = s.runInTx(ctx, OpCreateGroup, func(st *txStore) error {
		d, err := s.resolver.ResolveGroup(ctx, st, userID, req)
		if err != nil {
			return err
		}
		id := d.MatchedID
		created = d.Kind == DecisionAccept
		if created {
			if id, err = st.insertGroup(ctx, userID, req); err != nil {
				return err
			}
		}
		g, err := st.getGroup(ctx, id)
		if err != nil {
			return err
		}
		group = &g
		return nil
	})
	timer.end(ctx, 1, 0, err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create group: %w", err)
	}
	return group, created, nil
}

// JoinGroup makes userID an active member of groupID. It returns
// ErrAlreadyMember for an active membership and ErrGroupNotFound for a missing
// or deleted group.
func (s *SyncService) JoinGroup(ctx context.Context, userID, groupID string, req JoinGroupRequest) (*MembershipEvent, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	ev := MembershipEventUpload{LocalID: req.LocalID, GroupID: groupID, Action: ActionJoin, Timestamp: req.Timestamp}
	if err := validateMembershipEvent(&ev, -1, time.Now().UTC()); err != nil {
		return nil, err
	}

	var stored MembershipEvent
	timer := s.startStage(OpJoinGroup, StageTotal)
	err := s.runInTx(ctx, OpJoinGroup, func(st *txStore) error {
		d, err := s.resolver.ResolveMembership(ctx, st, userID, ev)
		if err != nil {
			return err
		}
		switch d.Kind {
		case DecisionHardFailure:
			return d.Err
		case DecisionSoftConflict:
			return ErrAlreadyMember
		}
		stored, err = st.applyMembershipEvent(ctx, userID, ev)
		return err
	})
	timer.end(ctx, 1, 0, err)
	if err != nil {
		return nil, fmt.Errorf("failed to join group: %w", err)
	}
	return &stored, nil
}

// SendMessage stores one message in groupID. It returns ErrNotMember when the
// caller has no active membership and ErrGroupNotFound when the group is
// deleted. created is false when the message matched an existing duplicate.
func (s *SyncService) SendMessage(ctx context.Context, userID, groupID string, req MessageUpload) (message *Message, created bool, err error) {
	if err := s.checkClosed(); err != nil {
		return nil, false, err
	}
	req.GroupID = groupID
	if err := validateMessage(&req, -1, time.Now().UTC()); err != nil {
		return nil, false, err
	}

	timer := s.startStage(OpSendMessage, StageTotal)
	err = s.runInTx(ctx, OpSendMessage, func(st *txStore) error {
		d, err := s.resolver.ResolveMessage(ctx, st, userID, req)
		if err != nil {
			return err
		}
		switch {
		case d.Kind == DecisionAccept:
			m, err := st.insertMessage(ctx, userID, req)
			if err != nil {
				return err
			}
			message, created = &m, true
			return nil
		case d.MatchedID != "":
			m, err := st.getMessage(ctx, d.MatchedID)
			if err != nil {
				return err
			}
			message = &m
			return nil
		case d.Conflict != nil && d.Conflict.ConflictType == ConflictSendToDeletedGroup:
			return ErrGroupNotFound
		default:
			return ErrNotMember
		}
	})
	timer.end(ctx, 1, 0, err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to send message: %w", err)
	}
	return message, created, nil
}
