// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// One connection keeps every query on the same in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), openTestDB(t))
	require.NoError(t, err)
	return store
}

func newTestClient(t *testing.T, userID string, remote Remote, conn Connectivity) *Client {
	t.Helper()
	config := DefaultConfig()
	config.SyncInterval = time.Hour
	c, err := NewClient(context.Background(), openTestDB(t), userID, remote, conn, config, discardLogger())
	require.NoError(t, err)
	return c
}

func update(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return fn(ctx, tx) }))
}

func view[T any](t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx) (T, error)) T {
	t.Helper()
	ctx := context.Background()
	var out T
	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = fn(ctx, tx)
		return err
	}))
	return out
}

func pendingCount(t *testing.T, s *Store, q Queue) int {
	return view(t, s, func(ctx context.Context, tx *Tx) (int, error) { return tx.PendingCount(ctx, q) })
}

// fakeServer is an in-memory stand-in for the sync server implementing the
// same per-item rules: duplicate JOIN/LEAVE ignored, sends from non-members
// rejected, JOIN to a missing group failing the whole batch.
type fakeServer struct {
	mu       sync.Mutex
	clock    time.Time
	groups   map[string]*groupsync.Group
	members  map[string]map[string]time.Time // group -> user -> joinedAt
	events   []groupsync.MembershipEvent
	messages []groupsync.Message
	failures map[string]error
	calls    map[string]int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		clock:    time.Now().UTC().Truncate(time.Millisecond),
		groups:   map[string]*groupsync.Group{},
		members:  map[string]map[string]time.Time{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

// as returns a Remote acting for userID
func (s *fakeServer) as(userID string) *fakeRemote { return &fakeRemote{srv: s, user: userID} }

func (s *fakeServer) failNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

func (s *fakeServer) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *fakeServer) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *fakeServer) enter(method string) error {
	s.calls[method]++
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

func (s *fakeServer) isMember(groupID, userID string) bool {
	_, ok := s.members[groupID][userID]
	return ok
}

func (s *fakeServer) createGroup(userID string, up groupsync.GroupUpload) (string, bool) {
	for _, g := range s.groups {
		if g.CreatedBy == userID && g.Name == up.Name {
			return g.ID, false
		}
	}
	now := s.tick()
	g := &groupsync.Group{
		ID: uuid.NewString(), LocalID: up.LocalID, Name: up.Name, Description: up.Description,
		CreatedBy: userID, CreatedAt: now, UpdatedAt: now, IsActive: true,
	}
	s.groups[g.ID] = g
	s.applyMembership(userID, groupsync.MembershipEventUpload{GroupID: g.ID, Action: groupsync.ActionJoin, Timestamp: now})
	return g.ID, true
}

func (s *fakeServer) applyMembership(userID string, ev groupsync.MembershipEventUpload) groupsync.MembershipEvent {
	now := s.tick()
	if ev.Action == groupsync.ActionJoin {
		if s.members[ev.GroupID] == nil {
			s.members[ev.GroupID] = map[string]time.Time{}
		}
		s.members[ev.GroupID][userID] = now
	} else {
		delete(s.members[ev.GroupID], userID)
	}
	stored := groupsync.MembershipEvent{
		ID: uuid.NewString(), LocalID: ev.LocalID, UserID: userID, GroupID: ev.GroupID,
		Action: ev.Action, PerformedBy: userID, Timestamp: ev.Timestamp, ReceivedAt: now,
	}
	s.events = append(s.events, stored)
	s.groups[ev.GroupID].UpdatedAt = now
	return stored
}

func (s *fakeServer) insertMessage(userID, groupID string, up groupsync.MessageUpload) groupsync.Message {
	m := groupsync.Message{
		ID: uuid.NewString(), LocalID: up.LocalID, GroupID: groupID, UserID: userID,
		Content: up.Content, MessageType: up.MessageType, CreatedAt: up.CreatedAt,
		ServerReceivedAt: s.tick(), SyncStatus: groupsync.SyncStatusSynced,
	}
	s.messages = append(s.messages, m)
	return m
}

func (s *fakeServer) groupView(id string) groupsync.Group {
	g := *s.groups[id]
	g.Members = []groupsync.GroupMember{}
	for user, joined := range s.members[id] {
		g.Members = append(g.Members, groupsync.GroupMember{UserID: user, JoinedAt: joined})
	}
	sort.Slice(g.Members, func(i, j int) bool { return g.Members[i].UserID < g.Members[j].UserID })
	return g
}

type fakeRemote struct {
	srv  *fakeServer
	user string
}

func conflict(localID string, ct groupsync.ConflictType, res groupsync.Resolution, action groupsync.ResolvedAction) groupsync.ResolvedConflict {
	return groupsync.ResolvedConflict{
		ConflictID: uuid.NewString(), LocalID: localID, ConflictType: ct,
		ResolutionApplied: res, ResolvedState: groupsync.ResolvedState{Action: action},
	}
}

func (r *fakeRemote) SyncGroups(ctx context.Context, req *groupsync.GroupSyncRequest) (*groupsync.GroupSyncResponse, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SyncGroups"); err != nil {
		return nil, err
	}
	cursor := groupsync.ParseSyncCursor(req.LastSyncTimestamp)
	resp := &groupsync.GroupSyncResponse{ConflictsResolved: []groupsync.ResolvedConflict{}, AcceptedGroups: []groupsync.AcceptedMapping{}}
	for _, up := range req.Groups {
		id, created := s.createGroup(r.user, up)
		if !created {
			c := conflict(up.LocalID, groupsync.ConflictDuplicateGroupName, groupsync.ResolutionDedupeByUserAndName, groupsync.ResolvedDeduplicated)
			c.ResolvedState.ExistingGroupID = id
			resp.ConflictsResolved = append(resp.ConflictsResolved, c)
		}
		resp.AcceptedGroups = append(resp.AcceptedGroups, groupsync.AcceptedMapping{LocalID: up.LocalID, ServerID: id})
	}
	resp.ServerGroups = []groupsync.Group{}
	for id, g := range s.groups {
		if g.UpdatedAt.After(cursor) && (g.CreatedBy == r.user || s.isMember(id, r.user)) {
			resp.ServerGroups = append(resp.ServerGroups, s.groupView(id))
		}
	}
	resp.SyncTimestamp = s.tick()
	return resp, nil
}

func (r *fakeRemote) SyncMembershipEvents(ctx context.Context, req *groupsync.MembershipSyncRequest) (*groupsync.MembershipSyncResponse, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SyncMembershipEvents"); err != nil {
		return nil, err
	}
	for _, ev := range req.Events {
		if _, ok := s.groups[ev.GroupID]; !ok && ev.Action == groupsync.ActionJoin {
			return nil, &APIError{StatusCode: http.StatusNotFound, Code: "group_not_found", Message: "group not found"}
		}
	}
	cursor := groupsync.ParseSyncCursor(req.LastSyncTimestamp)
	resp := &groupsync.MembershipSyncResponse{ConflictsResolved: []groupsync.ResolvedConflict{}, AcceptedEvents: []groupsync.AcceptedMapping{}}
	for _, ev := range req.Events {
		member := s.isMember(ev.GroupID, r.user)
		switch {
		case ev.Action == groupsync.ActionJoin && member:
			resp.ConflictsResolved = append(resp.ConflictsResolved, conflict(ev.LocalID, groupsync.ConflictDuplicateJoin, groupsync.ResolutionIgnoreDuplicate, groupsync.ResolvedIgnored))
		case ev.Action == groupsync.ActionLeave && !member:
			resp.ConflictsResolved = append(resp.ConflictsResolved, conflict(ev.LocalID, groupsync.ConflictDuplicateLeave, groupsync.ResolutionIgnoreDuplicate, groupsync.ResolvedIgnored))
		default:
			stored := s.applyMembership(r.user, ev)
			resp.AcceptedEvents = append(resp.AcceptedEvents, groupsync.AcceptedMapping{LocalID: ev.LocalID, ServerID: stored.ID})
		}
	}
	resp.ServerEvents = []groupsync.MembershipEvent{}
	for _, ev := range s.events {
		if ev.ReceivedAt.After(cursor) && (ev.UserID == r.user || s.isMember(ev.GroupID, r.user)) {
			resp.ServerEvents = append(resp.ServerEvents, ev)
		}
	}
	resp.SyncTimestamp = s.tick()
	return resp, nil
}

func (r *fakeRemote) SyncMessages(ctx context.Context, req *groupsync.MessageSyncRequest) (*groupsync.MessageSyncResponse, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SyncMessages"); err != nil {
		return nil, err
	}
	cursor := groupsync.ParseSyncCursor(req.LastSyncTimestamp)
	resp := &groupsync.MessageSyncResponse{ConflictsResolved: []groupsync.ResolvedConflict{}, AcceptedMessages: []groupsync.AcceptedMapping{}}
	for _, up := range req.Messages {
		if !s.isMember(up.GroupID, r.user) {
			resp.ConflictsResolved = append(resp.ConflictsResolved, conflict(up.LocalID, groupsync.ConflictSendToLeftGroup, groupsync.ResolutionRejectMessage, groupsync.ResolvedRejected))
			continue
		}
		m := s.insertMessage(r.user, up.GroupID, up)
		resp.AcceptedMessages = append(resp.AcceptedMessages, groupsync.AcceptedMapping{LocalID: up.LocalID, ServerID: m.ID})
	}
	resp.ServerMessages = []groupsync.Message{}
	for _, m := range s.messages {
		if req.GroupID != "" && m.GroupID != req.GroupID {
			continue
		}
		if m.ServerReceivedAt.After(cursor) && s.isMember(m.GroupID, r.user) {
			resp.ServerMessages = append(resp.ServerMessages, m)
		}
	}
	resp.SyncTimestamp = s.tick()
	return resp, nil
}

func (r *fakeRemote) CreateGroup(ctx context.Context, req groupsync.GroupUpload) (*groupsync.Group, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateGroup"); err != nil {
		return nil, err
	}
	id, _ := s.createGroup(r.user, req)
	g := s.groupView(id)
	return &g, nil
}

func (r *fakeRemote) JoinGroup(ctx context.Context, groupID string, req groupsync.JoinGroupRequest) (*groupsync.MembershipEvent, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("JoinGroup"); err != nil {
		return nil, err
	}
	if _, ok := s.groups[groupID]; !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Code: "group_not_found", Message: "group not found"}
	}
	if s.isMember(groupID, r.user) {
		return nil, &APIError{StatusCode: http.StatusConflict, Code: "already_member", Message: "already a member"}
	}
	ev := s.applyMembership(r.user, groupsync.MembershipEventUpload{LocalID: req.LocalID, GroupID: groupID, Action: groupsync.ActionJoin, Timestamp: req.Timestamp})
	return &ev, nil
}

func (r *fakeRemote) SendMessage(ctx context.Context, groupID string, req groupsync.MessageUpload) (*groupsync.Message, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SendMessage"); err != nil {
		return nil, err
	}
	if !s.isMember(groupID, r.user) {
		return nil, &APIError{StatusCode: http.StatusForbidden, Code: "not_a_member", Message: "not a member"}
	}
	m := s.insertMessage(r.user, groupID, req)
	return &m, nil
}

// recordingObserver collects SyncCompleted calls
type recordingObserver struct {
	mu  sync.Mutex
	ids []string
}

func (o *recordingObserver) SyncCompleted(groupID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids = append(o.ids, groupID)
}

func (o *recordingObserver) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ids...)
}
