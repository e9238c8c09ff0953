// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

// Optimistic mutations. Each one writes the entity and its pending-queue
// entry in one store transaction and publishes it to State before any
// network call, so the UI sees it immediately. The queue entry is written
// whether or not the device is online; a failed direct call leaves it for
// the next sync pass.

// SendMessage posts content to groupID and returns the message as it stands
// after the optional direct call: synced with its server id, or pending or
// failed under its local id.
func (c *Client) SendMessage(ctx context.Context, groupID, content, messageType string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("message content cannot be empty")
	}
	if messageType == "" {
		messageType = groupsync.MessageTypeText
	}

	id := c.newID()
	msg := Message{
		ID:          id,
		LocalID:     id,
		UserID:      c.UserID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   c.now(),
		SyncStatus:  groupsync.SyncStatusPending,
	}
	var localGroup bool
	err := c.Store.Update(ctx, func(tx *Tx) error {
		var err error
		if msg.GroupID, err = tx.ResolveGroupID(ctx, groupID); err != nil {
			return err
		}
		if localGroup, err = tx.IsLocalGroup(ctx, msg.GroupID); err != nil {
			return err
		}
		if _, err := tx.PutMessage(ctx, msg); err != nil {
			return err
		}
		return tx.EnqueueMessage(ctx, PendingMessage{
			LocalID:     id,
			GroupID:     msg.GroupID,
			Content:     msg.Content,
			MessageType: msg.MessageType,
			CreatedAt:   msg.CreatedAt,
		})
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	c.State.Dispatch(AddMessage{Message: msg})

	if !c.Conn.Online() || localGroup {
		c.TriggerSync()
		return msg, nil
	}

	sent, err := c.Remote.SendMessage(ctx, msg.GroupID, groupsync.MessageUpload{
		LocalID:     id,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		CreatedAt:   msg.CreatedAt,
	})
	if err != nil {
		c.logger.Warn("Direct send failed, left for sync", "local_id", id, "group_id", msg.GroupID, "error", err)
		return c.failMessage(ctx, msg, err), nil
	}

	synced := messageFromServer(*sent)
	err = c.Store.Update(ctx, func(tx *Tx) error {
		if err := tx.ReconcileMessageID(ctx, id, sent.ID); err != nil {
			return err
		}
		if _, err := tx.PutMessage(ctx, synced); err != nil {
			return err
		}
		return tx.RemovePending(ctx, QueueMessages, id)
	})
	if err != nil {
		return msg, fmt.Errorf("failed to reconcile sent message: %w", err)
	}
	c.State.Dispatch(ReconcileMessageID{GroupID: msg.GroupID, LocalID: id, ServerID: sent.ID})
	c.State.Dispatch(UpdateMessage{ID: sent.ID, Message: synced})
	return synced, nil
}

func (c *Client) failMessage(ctx context.Context, msg Message, cause error) Message {
	msg.SyncStatus = groupsync.SyncStatusFailed
	err := c.Store.Update(ctx, func(tx *Tx) error {
		if err := tx.SetMessageStatus(ctx, msg.ID, msg.SyncStatus); err != nil {
			return err
		}
		return tx.NoteImmediateFailure(ctx, QueueMessages, msg.ID, cause.Error())
	})
	if err != nil {
		c.logger.Error("Failed to mark message failed", "local_id", msg.ID, "error", err)
	}
	c.State.Dispatch(UpdateMessage{ID: msg.ID, Message: msg})
	c.TriggerSync()
	return msg
}

// CreateGroup creates a group owned by the current user, who becomes its
// first member
func (c *Client) CreateGroup(ctx context.Context, name, description string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, fmt.Errorf("group name cannot be empty")
	}

	id := c.newID()
	now := c.now()
	group := Group{
		ID:          id,
		LocalID:     id,
		Name:        name,
		Description: description,
		CreatedBy:   c.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncStatus:  groupsync.SyncStatusPending,
		Members:     []Member{{UserID: c.UserID, JoinedAt: now}},
	}
	err := c.Store.Update(ctx, func(tx *Tx) error {
		if err := tx.PutGroup(ctx, group); err != nil {
			return err
		}
		return tx.EnqueueGroup(ctx, PendingGroup{LocalID: id, Name: name, Description: description, CreatedAt: now})
	})
	if err != nil {
		return Group{}, fmt.Errorf("failed to store group: %w", err)
	}
	c.State.Dispatch(AddGroup{Group: group})

	if !c.Conn.Online() {
		c.TriggerSync()
		return group, nil
	}

	created, err := c.Remote.CreateGroup(ctx, groupsync.GroupUpload{LocalID: id, Name: name, Description: description, CreatedAt: now})
	if err != nil {
		c.logger.Warn("Direct group create failed, left for sync", "local_id", id, "error", err)
		cause := err
		group.SyncStatus = groupsync.SyncStatusFailed
		err = c.Store.Update(ctx, func(tx *Tx) error {
			if err := tx.SetGroupStatus(ctx, id, group.SyncStatus); err != nil {
				return err
			}
			return tx.NoteImmediateFailure(ctx, QueueGroups, id, cause.Error())
		})
		if err != nil {
			c.logger.Error("Failed to mark group failed", "local_id", id, "error", err)
		}
		c.State.Dispatch(UpdateGroup{ID: id, Group: group})
		c.TriggerSync()
		return group, nil
	}

	synced := groupFromServer(*created)
	synced.LocalID = id
	err = c.Store.Update(ctx, func(tx *Tx) error {
		if err := tx.ReconcileGroupID(ctx, id, created.ID); err != nil {
			return err
		}
		if err := tx.PutGroup(ctx, synced); err != nil {
			return err
		}
		return tx.RemovePending(ctx, QueueGroups, id)
	})
	if err != nil {
		return group, fmt.Errorf("failed to reconcile created group: %w", err)
	}
	c.State.Dispatch(ReconcileGroupID{LocalID: id, ServerID: created.ID})
	c.State.Dispatch(UpdateGroup{ID: created.ID, Group: synced})
	return synced, nil
}

// JoinGroup makes the current user a member of groupID. The membership shows
// up locally at once; the returned error reports only local failures.
func (c *Client) JoinGroup(ctx context.Context, groupID string) error {
	return c.enqueueMembership(ctx, groupID, groupsync.ActionJoin, true)
}

// LeaveGroup queues a LEAVE for groupID and drops the local membership. It
// is always delivered by the sync orchestrator.
func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	return c.enqueueMembership(ctx, groupID, groupsync.ActionLeave, false)
}

func (c *Client) enqueueMembership(ctx context.Context, groupID string, action groupsync.MembershipAction, direct bool) error {
	id := c.newID()
	now := c.now()
	var localGroup bool
	err := c.Store.Update(ctx, func(tx *Tx) error {
		var err error
		if groupID, err = tx.ResolveGroupID(ctx, groupID); err != nil {
			return err
		}
		if localGroup, err = tx.IsLocalGroup(ctx, groupID); err != nil {
			return err
		}
		if action == groupsync.ActionJoin {
			err = tx.PutMember(ctx, groupID, c.UserID, now)
		} else {
			err = tx.RemoveMember(ctx, groupID, c.UserID)
		}
		if err != nil {
			return err
		}
		return tx.EnqueueMembershipEvent(ctx, PendingMembershipEvent{LocalID: id, GroupID: groupID, Action: action, Timestamp: now})
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", action, err)
	}
	c.publishGroup(ctx, groupID)

	if !direct || !c.Conn.Online() || localGroup {
		c.TriggerSync()
		return nil
	}

	ev, err := c.Remote.JoinGroup(ctx, groupID, groupsync.JoinGroupRequest{LocalID: id, Timestamp: now})
	switch {
	case err == nil:
		err = c.Store.Update(ctx, func(tx *Tx) error {
			if err := tx.ApplyServerMembershipEvent(ctx, *ev); err != nil {
				return err
			}
			if err := tx.RewindGroupCursor(ctx, groupID, ev.ReceivedAt); err != nil {
				return err
			}
			return tx.RemovePending(ctx, QueueMembershipEvents, id)
		})
		if err != nil {
			return fmt.Errorf("failed to record join: %w", err)
		}
		// The group and its history arrive with the next pass
		c.TriggerSync()
	case IsAPIError(err, "already_member"):
		if err := c.Store.Update(ctx, func(tx *Tx) error {
			return tx.RemovePending(ctx, QueueMembershipEvents, id)
		}); err != nil {
			return fmt.Errorf("failed to record join: %w", err)
		}
	default:
		c.logger.Warn("Direct join failed, left for sync", "local_id", id, "group_id", groupID, "error", err)
		cause := err
		if err := c.Store.Update(ctx, func(tx *Tx) error {
			return tx.NoteImmediateFailure(ctx, QueueMembershipEvents, id, cause.Error())
		}); err != nil {
			c.logger.Error("Failed to note join failure", "local_id", id, "error", err)
		}
		c.TriggerSync()
	}
	return nil
}

// publishGroup re-reads one group from the store into State
func (c *Client) publishGroup(ctx context.Context, groupID string) {
	var g Group
	err := c.Store.View(ctx, func(tx *Tx) error {
		var err error
		g, err = tx.GetGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return
	}
	if _, ok := c.State.Group(groupID); ok {
		c.State.Dispatch(UpdateGroup{ID: groupID, Group: g})
	} else {
		c.State.Dispatch(AddGroup{Group: g})
	}
}
