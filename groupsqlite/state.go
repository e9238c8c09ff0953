// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"slices"
	"sync"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

// State is the in-memory projection the UI renders from. It changes only
// through Dispatch, so every transition is one of the Command types below.
type State struct {
	mu            sync.RWMutex
	userID        string
	online        bool
	groups        []Group
	activeGroupID string
	messages      map[string][]Message
}

// StateSnapshot is an immutable copy of State
type StateSnapshot struct {
	UserID        string
	Online        bool
	Groups        []Group
	ActiveGroupID string
	Messages      map[string][]Message
}

func NewState(userID string) *State {
	return &State{userID: userID, groups: []Group{}, messages: map[string][]Message{}}
}

// Command is a state transition. The set is closed: only types in this
// package implement it.
type Command interface {
	apply(s *State)
}

// Dispatch applies cmd atomically with respect to other Dispatch and Snapshot calls
func (s *State) Dispatch(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd.apply(s)
}

// Snapshot returns a deep copy of the current state
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StateSnapshot{
		UserID:        s.userID,
		Online:        s.online,
		Groups:        make([]Group, len(s.groups)),
		ActiveGroupID: s.activeGroupID,
		Messages:      make(map[string][]Message, len(s.messages)),
	}
	for i, g := range s.groups {
		g.Members = slices.Clone(g.Members)
		snap.Groups[i] = g
	}
	for id, msgs := range s.messages {
		snap.Messages[id] = slices.Clone(msgs)
	}
	return snap
}

// Group returns the group with id, matching either its server or local id
func (s *State) Group(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.groupIndex(id); i >= 0 {
		g := s.groups[i]
		g.Members = slices.Clone(g.Members)
		return g, true
	}
	return Group{}, false
}

func (s *State) groupIndex(id string) int {
	return slices.IndexFunc(s.groups, func(g Group) bool { return g.ID == id || (g.LocalID != "" && g.LocalID == id) })
}

// SetOnline records the connectivity flag
type SetOnline struct{ Online bool }

func (c SetOnline) apply(s *State) { s.online = c.Online }

// SetGroups replaces the group list
type SetGroups struct{ Groups []Group }

func (c SetGroups) apply(s *State) { s.groups = slices.Clone(c.Groups) }

// AddGroup appends a group unless one with the same id is present
type AddGroup struct{ Group Group }

func (c AddGroup) apply(s *State) {
	if slices.ContainsFunc(s.groups, func(g Group) bool { return g.ID == c.Group.ID }) {
		return
	}
	s.groups = append(s.groups, c.Group)
}

// UpdateGroup replaces the group whose id or local id equals ID
type UpdateGroup struct {
	ID    string
	Group Group
}

func (c UpdateGroup) apply(s *State) {
	if i := s.groupIndex(c.ID); i >= 0 {
		s.groups[i] = c.Group
	}
}

// ReconcileGroupID renames a local group to its server id. Messages keyed by
// the local id move with it and the active selection follows. When a group
// with ServerID is already present the local entry is dropped.
type ReconcileGroupID struct {
	LocalID  string
	ServerID string
}

func (c ReconcileGroupID) apply(s *State) {
	if c.LocalID == c.ServerID {
		return
	}
	local := slices.IndexFunc(s.groups, func(g Group) bool { return g.ID == c.LocalID })
	if local >= 0 {
		if slices.ContainsFunc(s.groups, func(g Group) bool { return g.ID == c.ServerID }) {
			s.groups = slices.Delete(s.groups, local, local+1)
		} else {
			s.groups[local].ID = c.ServerID
			s.groups[local].LocalID = c.LocalID
			s.groups[local].SyncStatus = groupsync.SyncStatusSynced
		}
	}

	if msgs, ok := s.messages[c.LocalID]; ok {
		for i := range msgs {
			msgs[i].GroupID = c.ServerID
		}
		s.messages[c.ServerID] = mergeMessages(s.messages[c.ServerID], msgs)
		delete(s.messages, c.LocalID)
	}
	if s.activeGroupID == c.LocalID {
		s.activeGroupID = c.ServerID
	}
}

// SetActiveGroup selects a group; an empty ID clears the selection
type SetActiveGroup struct{ ID string }

func (c SetActiveGroup) apply(s *State) { s.activeGroupID = c.ID }

// SetMessages replaces the messages of one group
type SetMessages struct {
	GroupID  string
	Messages []Message
}

func (c SetMessages) apply(s *State) { s.messages[c.GroupID] = slices.Clone(c.Messages) }

// AddMessage appends a message to its group unless its id is already present
type AddMessage struct{ Message Message }

func (c AddMessage) apply(s *State) {
	msgs := s.messages[c.Message.GroupID]
	if slices.ContainsFunc(msgs, func(m Message) bool { return m.ID == c.Message.ID }) {
		return
	}
	s.messages[c.Message.GroupID] = append(msgs, c.Message)
}

// UpdateMessage replaces the message with id ID in its group
type UpdateMessage struct {
	ID      string
	Message Message
}

func (c UpdateMessage) apply(s *State) {
	msgs := s.messages[c.Message.GroupID]
	if i := slices.IndexFunc(msgs, func(m Message) bool { return m.ID == c.ID }); i >= 0 {
		msgs[i] = c.Message
	}
}

// ReconcileMessageID renames a local message to its server id, dropping the
// local copy when the server copy is already present
type ReconcileMessageID struct {
	GroupID  string
	LocalID  string
	ServerID string
}

func (c ReconcileMessageID) apply(s *State) {
	msgs := s.messages[c.GroupID]
	local := slices.IndexFunc(msgs, func(m Message) bool { return m.ID == c.LocalID })
	if local < 0 || c.LocalID == c.ServerID {
		return
	}
	if slices.ContainsFunc(msgs, func(m Message) bool { return m.ID == c.ServerID }) {
		s.messages[c.GroupID] = slices.Delete(msgs, local, local+1)
		return
	}
	msgs[local].ID = c.ServerID
	msgs[local].LocalID = c.LocalID
	msgs[local].SyncStatus = groupsync.SyncStatusSynced
}

// mergeMessages appends the messages of extra whose ids are not in base
func mergeMessages(base, extra []Message) []Message {
	for _, m := range extra {
		if !slices.ContainsFunc(base, func(b Message) bool { return b.ID == m.ID }) {
			base = append(base, m)
		}
	}
	return base
}
