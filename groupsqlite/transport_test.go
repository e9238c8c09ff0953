// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

func staticToken(tok string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return tok, nil }
}

func TestHTTPRemote_SyncMessagesRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req groupsync.MessageSyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, groupsync.EpochTimestamp, req.LastSyncTimestamp)
		require.Len(t, req.Messages, 1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(groupsync.MessageSyncResponse{
			AcceptedMessages:  []groupsync.AcceptedMapping{{LocalID: req.Messages[0].LocalID, ServerID: "srv-1"}},
			ConflictsResolved: []groupsync.ResolvedConflict{},
			ServerMessages:    []groupsync.Message{},
			SyncTimestamp:     now,
		})
	}))
	defer ts.Close()

	remote := NewHTTPRemote(ts.URL+"/", staticToken("tok-1"))
	resp, err := remote.SyncMessages(context.Background(), &groupsync.MessageSyncRequest{
		Messages:          []groupsync.MessageUpload{{LocalID: "l1", GroupID: "g1", Content: "hi", MessageType: "text", CreatedAt: now}},
		LastSyncTimestamp: groupsync.EpochTimestamp,
	})
	require.NoError(t, err)
	require.Len(t, resp.AcceptedMessages, 1)
	assert.Equal(t, "srv-1", resp.AcceptedMessages[0].ServerID)
	assert.True(t, now.Equal(resp.SyncTimestamp))
}

func TestHTTPRemote_Paths(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	ctx := context.Background()
	remote := NewHTTPRemote(ts.URL, staticToken("t"))
	_, err := remote.SyncGroups(ctx, &groupsync.GroupSyncRequest{})
	require.NoError(t, err)
	_, err = remote.SyncMembershipEvents(ctx, &groupsync.MembershipSyncRequest{})
	require.NoError(t, err)
	_, err = remote.CreateGroup(ctx, groupsync.GroupUpload{Name: "x"})
	require.NoError(t, err)
	_, err = remote.JoinGroup(ctx, "g-1", groupsync.JoinGroupRequest{})
	require.NoError(t, err)
	_, err = remote.SendMessage(ctx, "g-1", groupsync.MessageUpload{Content: "x"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/sync/groups", "/sync/membershipEvents", "/groups", "/groups/g-1/join", "/groups/g-1/messages",
	}, paths)
}

func TestHTTPRemote_MapsErrorResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/groups/g1/join":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(groupsync.ErrorResponse{Error: "already_member", Message: "user is already a member"})
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream broke\n"))
		}
	}))
	defer ts.Close()

	remote := NewHTTPRemote(ts.URL, staticToken("t"))
	_, err := remote.JoinGroup(context.Background(), "g1", groupsync.JoinGroupRequest{})
	require.Error(t, err)
	assert.True(t, IsAPIError(err, "already_member"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "user is already a member", apiErr.Message)

	_, err = remote.SyncGroups(context.Background(), &groupsync.GroupSyncRequest{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Equal(t, "upstream broke", apiErr.Message)
}

func TestHTTPRemote_TokenFailure(t *testing.T) {
	remote := NewHTTPRemote("http://127.0.0.1:1", func(context.Context) (string, error) {
		return "", errors.New("signed out")
	})
	_, err := remote.SyncGroups(context.Background(), &groupsync.GroupSyncRequest{})
	require.ErrorContains(t, err, "signed out")
}
