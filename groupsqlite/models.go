// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"time"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

// Group is the device's cached copy of a chat group. Until the server accepts
// it, ID equals LocalID.
type Group struct {
	ID          string
	LocalID     string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncStatus  string
	Members     []Member
}

// HasMember reports whether userID is in the cached member list
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Member is a cached active membership
type Member struct {
	UserID   string
	JoinedAt time.Time
}

// Message is the device's cached copy of a chat message. ServerReceivedAt is
// zero until the server has echoed the message back in a delta.
type Message struct {
	ID               string
	LocalID          string
	GroupID          string
	UserID           string
	Content          string
	MessageType      string
	CreatedAt        time.Time
	ServerReceivedAt time.Time
	SyncStatus       string
}

// RetryState is carried by every pending mutation
type RetryState struct {
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

type PendingGroup struct {
	LocalID     string
	Name        string
	Description string
	CreatedAt   time.Time
	RetryState
}

type PendingMembershipEvent struct {
	LocalID   string
	GroupID   string
	Action    groupsync.MembershipAction
	Timestamp time.Time
	RetryState
}

type PendingMessage struct {
	LocalID     string
	GroupID     string
	Content     string
	MessageType string
	CreatedAt   time.Time
	RetryState
}

// Queue names one of the three pending-mutation queues
type Queue string

const (
	QueueGroups           Queue = "pending_groups"
	QueueMembershipEvents Queue = "pending_membership_events"
	QueueMessages         Queue = "pending_messages"
)

func groupFromServer(g groupsync.Group) Group {
	out := Group{
		ID:          g.ID,
		LocalID:     g.LocalID,
		Name:        g.Name,
		Description: g.Description,
		CreatedBy:   g.CreatedBy,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
		SyncStatus:  groupsync.SyncStatusSynced,
	}
	if g.Members != nil {
		out.Members = make([]Member, len(g.Members))
		for i, m := range g.Members {
			out.Members[i] = Member{UserID: m.UserID, JoinedAt: m.JoinedAt}
		}
	}
	return out
}

func messageFromServer(m groupsync.Message) Message {
	return Message{
		ID:               m.ID,
		LocalID:          m.LocalID,
		GroupID:          m.GroupID,
		UserID:           m.UserID,
		Content:          m.Content,
		MessageType:      m.MessageType,
		CreatedAt:        m.CreatedAt,
		ServerReceivedAt: m.ServerReceivedAt,
		SyncStatus:       groupsync.SyncStatusSynced,
	}
}

func (p PendingGroup) upload() groupsync.GroupUpload {
	return groupsync.GroupUpload{LocalID: p.LocalID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
}

func (p PendingMembershipEvent) upload() groupsync.MembershipEventUpload {
	return groupsync.MembershipEventUpload{LocalID: p.LocalID, GroupID: p.GroupID, Action: p.Action, Timestamp: p.Timestamp}
}

func (p PendingMessage) upload() groupsync.MessageUpload {
	return groupsync.MessageUpload{
		LocalID:     p.LocalID,
		GroupID:     p.GroupID,
		Content:     p.Content,
		MessageType: p.MessageType,
		CreatedAt:   p.CreatedAt,
	}
}
