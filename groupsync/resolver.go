// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GroupStatus is the existence state of a group as seen by the resolver
type GroupStatus int

const (
	GroupMissing GroupStatus = iota
	GroupDeleted
	GroupLive
)

// Snapshot is the server state the resolver consults. Implementations must
// answer from inside the batch transaction so each item observes the effects
// of the items applied before it.
type Snapshot interface {
	HasActiveMembership(ctx context.Context, userID, groupID string) (bool, error)
	GroupStatus(ctx context.Context, groupID string) (GroupStatus, error)
	// FindDuplicateMessage returns the id of a live message with the same
	// author, group and content whose createdAt lies in [from, to].
	FindDuplicateMessage(ctx context.Context, userID, groupID, content string, from, to time.Time) (string, bool, error)
	// FindOwnGroupByName returns a non-deleted group created by userID with the given name.
	FindOwnGroupByName(ctx context.Context, userID, name string) (string, bool, error)
}

// DecisionKind classifies the fate of a single batch item
type DecisionKind int

const (
	DecisionAccept DecisionKind = iota
	DecisionSoftConflict
	DecisionHardFailure
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAccept:
		return "accept"
	case DecisionSoftConflict:
		return "soft_conflict"
	case DecisionHardFailure:
		return "hard_failure"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// Decision is the resolver output for one item.
//   - Accept: the caller applies the item's effect.
//   - SoftConflict: Conflict is set; MatchedID is set when the item was
//     deduplicated onto an existing row and must be reported as accepted.
//   - HardFailure: Err is set and the whole batch must be rolled back.
type Decision struct {
	Kind      DecisionKind
	Conflict  *ResolvedConflict
	MatchedID string
	Err       error
}

func accept() Decision { return Decision{Kind: DecisionAccept} }

func soft(c ResolvedConflict, matchedID string) Decision {
	return Decision{Kind: DecisionSoftConflict, Conflict: &c, MatchedID: matchedID}
}

func hard(err error) Decision { return Decision{Kind: DecisionHardFailure, Err: err} }

// Resolver classifies incoming items against current server state
type Resolver struct {
	dedupWindow time.Duration
	newID       func() string
}

// NewResolver creates a resolver using the given duplicate-message window
func NewResolver(dedupWindow time.Duration) *Resolver {
	if dedupWindow <= 0 {
		dedupWindow = DefaultMessageDedupWindow
	}
	return &Resolver{
		dedupWindow: dedupWindow,
		newID:       func() string { return uuid.New().String() },
	}
}

// ResolveMembership decides a JOIN or LEAVE. A JOIN targeting a missing or
// deleted group is a hard failure; every other membership conflict is soft.
func (r *Resolver) ResolveMembership(ctx context.Context, snap Snapshot, userID string, ev MembershipEventUpload) (Decision, error) {
	active, err := snap.HasActiveMembership(ctx, userID, ev.GroupID)
	if err != nil {
		return Decision{}, fmt.Errorf("check membership: %w", err)
	}

	switch ev.Action {
	case ActionJoin:
		if active {
			return soft(conflictDuplicateJoin(r.newID(), ev.LocalID), ""), nil
		}
		status, err := snap.GroupStatus(ctx, ev.GroupID)
		if err != nil {
			return Decision{}, fmt.Errorf("check group: %w", err)
		}
		if status != GroupLive {
			return hard(&HardFailureError{LocalID: ev.LocalID, GroupID: ev.GroupID, Err: ErrGroupNotFound}), nil
		}
		return accept(), nil

	case ActionLeave:
		if !active {
			return soft(conflictDuplicateLeave(r.newID(), ev.LocalID), ""), nil
		}
		return accept(), nil

	default:
		return Decision{}, fmt.Errorf("%w: unsupported membership action %q", ErrBadPayload, ev.Action)
	}
}

// ResolveMessage decides a message send
func (r *Resolver) ResolveMessage(ctx context.Context, snap Snapshot, userID string, msg MessageUpload) (Decision, error) {
	active, err := snap.HasActiveMembership(ctx, userID, msg.GroupID)
	if err != nil {
		return Decision{}, fmt.Errorf("check membership: %w", err)
	}
	if !active {
		return soft(conflictSendToLeftGroup(r.newID(), msg.LocalID), ""), nil
	}

	status, err := snap.GroupStatus(ctx, msg.GroupID)
	if err != nil {
		return Decision{}, fmt.Errorf("check group: %w", err)
	}
	if status != GroupLive {
		return soft(conflictSendToDeletedGroup(r.newID(), msg.LocalID), ""), nil
	}

	existingID, found, err := snap.FindDuplicateMessage(ctx, userID, msg.GroupID, msg.Content,
		msg.CreatedAt.Add(-r.dedupWindow), msg.CreatedAt.Add(r.dedupWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("check duplicate message: %w", err)
	}
	if found {
		return soft(conflictDuplicateMessage(r.newID(), msg.LocalID, existingID), existingID), nil
	}
	return accept(), nil
}

// ResolveGroup decides a group creation
func (r *Resolver) ResolveGroup(ctx context.Context, snap Snapshot, userID string, g GroupUpload) (Decision, error) {
	existingID, found, err := snap.FindOwnGroupByName(ctx, userID, g.Name)
	if err != nil {
		return Decision{}, fmt.Errorf("check group name: %w", err)
	}
	if found {
		return soft(conflictDuplicateGroupName(r.newID(), g.LocalID, existingID), existingID), nil
	}
	return accept(), nil
}
