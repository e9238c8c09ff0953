// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the sync API. Field names are camelCase on the wire.

// Group is the server-authoritative view of a chat group
type Group struct {
	ID          string        `json:"id"`
	LocalID     string        `json:"localId,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	CreatedBy   string        `json:"createdBy"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	IsActive    bool          `json:"isActive"`
	Members     []GroupMember `json:"members"`
}

// GroupMember is an active membership attached to a group delta
type GroupMember struct {
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MembershipEvent is an immutable JOIN/LEAVE/REMOVE record
type MembershipEvent struct {
	ID          string           `json:"id"`
	LocalID     string           `json:"localId,omitempty"`
	UserID      string           `json:"userId"`
	GroupID     string           `json:"groupId"`
	Action      MembershipAction `json:"action"`
	PerformedBy string           `json:"performedBy"`
	Timestamp   time.Time        `json:"timestamp"`
	ReceivedAt  time.Time        `json:"receivedAt"`
}

// Message is an accepted chat message. CreatedAt is the client-claimed time,
// ServerReceivedAt is stamped by the server and drives delta queries.
type Message struct {
	ID               string    `json:"id"`
	LocalID          string    `json:"localId,omitempty"`
	GroupID          string    `json:"groupId"`
	UserID           string    `json:"userId"`
	Content          string    `json:"content"`
	MessageType      string    `json:"messageType"`
	CreatedAt        time.Time `json:"createdAt"`
	ServerReceivedAt time.Time `json:"serverReceivedAt"`
	SyncStatus       string    `json:"syncStatus"`
}

// AcceptedMapping maps a client-minted local id to its server id
type AcceptedMapping struct {
	LocalID  string `json:"localId"`
	ServerID string `json:"serverId"`
}

// ResolvedState is the closed union describing what happened to a conflicting
// item. Action selects which of the optional fields are meaningful.
type ResolvedState struct {
	Action            ResolvedAction `json:"action"`
	ExistingMessageID string         `json:"existingMessageId,omitempty"`
	ExistingGroupID   string         `json:"existingGroupId,omitempty"`
}

// ResolvedConflict describes one soft conflict detected while applying a batch
type ResolvedConflict struct {
	ConflictID        string        `json:"conflictId"`
	LocalID           string        `json:"localId"`
	ConflictType      ConflictType  `json:"conflictType"`
	ResolutionApplied Resolution    `json:"resolutionApplied"`
	UserMessage       string        `json:"userMessage"`
	ResolvedState     ResolvedState `json:"resolvedState"`
}

// Membership events sync

type MembershipEventUpload struct {
	LocalID   string           `json:"localId"`
	GroupID   string           `json:"groupId"`
	Action    MembershipAction `json:"action"`
	Timestamp time.Time        `json:"timestamp"`
}

type MembershipSyncRequest struct {
	Events            []MembershipEventUpload `json:"events"`
	LastSyncTimestamp string                  `json:"lastSyncTimestamp"`
}

type MembershipSyncResponse struct {
	ConflictsResolved []ResolvedConflict `json:"conflictsResolved"`
	ServerEvents      []MembershipEvent  `json:"serverEvents"`
	SyncTimestamp     time.Time          `json:"syncTimestamp"`
	AcceptedEvents    []AcceptedMapping  `json:"acceptedEvents"`
}

// Messages sync

type MessageUpload struct {
	LocalID     string    `json:"localId"`
	GroupID     string    `json:"groupId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MessageSyncRequest uploads messages and asks for messages received after
// LastSyncTimestamp. A non-empty GroupID narrows the returned messages to that
// group, which is how a device fetches a group's history after joining it.
type MessageSyncRequest struct {
	Messages          []MessageUpload `json:"messages"`
	LastSyncTimestamp string          `json:"lastSyncTimestamp"`
	GroupID           string          `json:"groupId,omitempty"`
}

type MessageSyncResponse struct {
	ConflictsResolved []ResolvedConflict `json:"conflictsResolved"`
	ServerMessages    []Message          `json:"serverMessages"`
	SyncTimestamp     time.Time          `json:"syncTimestamp"`
	AcceptedMessages  []AcceptedMapping  `json:"acceptedMessages"`
}

// Groups sync

type GroupUpload struct {
	LocalID     string    `json:"localId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type GroupSyncRequest struct {
	Groups            []GroupUpload `json:"groups"`
	LastSyncTimestamp string        `json:"lastSyncTimestamp"`
}

type GroupSyncResponse struct {
	ConflictsResolved []ResolvedConflict `json:"conflictsResolved"`
	ServerGroups      []Group            `json:"serverGroups"`
	SyncTimestamp     time.Time          `json:"syncTimestamp"`
	AcceptedGroups    []AcceptedMapping  `json:"acceptedGroups"`
}

// Single-item endpoints

// JoinGroupRequest is the body of POST /groups/{groupId}/join
type JoinGroupRequest struct {
	LocalID   string    `json:"localId"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Item timestamps are decoded leniently, see decodeClientTime

func (u *MembershipEventUpload) UnmarshalJSON(data []byte) error {
	type plain MembershipEventUpload
	aux := struct {
		*plain
		Timestamp json.RawMessage `json:"timestamp"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.Timestamp = decodeClientTime(aux.Timestamp)
	return nil
}

func (u *MessageUpload) UnmarshalJSON(data []byte) error {
	type plain MessageUpload
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"createdAt"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.CreatedAt = decodeClientTime(aux.CreatedAt)
	return nil
}

func (u *GroupUpload) UnmarshalJSON(data []byte) error {
	type plain GroupUpload
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"createdAt"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.CreatedAt = decodeClientTime(aux.CreatedAt)
	return nil
}

func (r *JoinGroupRequest) UnmarshalJSON(data []byte) error {
	type plain JoinGroupRequest
	aux := struct {
		*plain
		Timestamp json.RawMessage `json:"timestamp"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Timestamp = decodeClientTime(aux.Timestamp)
	return nil
}
