// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mobiletoly/go-groupsync/groupsync"
)

// Remote is the server surface the client talks to: three batch sync calls
// and the single-item calls used right after an optimistic local write.
type Remote interface {
	SyncGroups(ctx context.Context, req *groupsync.GroupSyncRequest) (*groupsync.GroupSyncResponse, error)
	SyncMembershipEvents(ctx context.Context, req *groupsync.MembershipSyncRequest) (*groupsync.MembershipSyncResponse, error)
	SyncMessages(ctx context.Context, req *groupsync.MessageSyncRequest) (*groupsync.MessageSyncResponse, error)
	CreateGroup(ctx context.Context, req groupsync.GroupUpload) (*groupsync.Group, error)
	JoinGroup(ctx context.Context, groupID string, req groupsync.JoinGroupRequest) (*groupsync.MembershipEvent, error)
	SendMessage(ctx context.Context, groupID string, req groupsync.MessageUpload) (*groupsync.Message, error)
}

// HTTPRemote implements Remote over the server's JSON HTTP API
type HTTPRemote struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
}

func NewHTTPRemote(baseURL string, tok func(ctx context.Context) (string, error)) *HTTPRemote {
	return &HTTPRemote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *HTTPRemote) SyncGroups(ctx context.Context, req *groupsync.GroupSyncRequest) (*groupsync.GroupSyncResponse, error) {
	var resp groupsync.GroupSyncResponse
	if err := r.post(ctx, "/sync/groups", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) SyncMembershipEvents(ctx context.Context, req *groupsync.MembershipSyncRequest) (*groupsync.MembershipSyncResponse, error) {
	var resp groupsync.MembershipSyncResponse
	if err := r.post(ctx, "/sync/membershipEvents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) SyncMessages(ctx context.Context, req *groupsync.MessageSyncRequest) (*groupsync.MessageSyncResponse, error) {
	var resp groupsync.MessageSyncResponse
	if err := r.post(ctx, "/sync/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) CreateGroup(ctx context.Context, req groupsync.GroupUpload) (*groupsync.Group, error) {
	var g groupsync.Group
	if err := r.post(ctx, "/groups", req, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *HTTPRemote) JoinGroup(ctx context.Context, groupID string, req groupsync.JoinGroupRequest) (*groupsync.MembershipEvent, error) {
	var ev groupsync.MembershipEvent
	if err := r.post(ctx, "/groups/"+url.PathEscape(groupID)+"/join", req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *HTTPRemote) SendMessage(ctx context.Context, groupID string, req groupsync.MessageUpload) (*groupsync.Message, error) {
	var m groupsync.Message
	if err := r.post(ctx, "/groups/"+url.PathEscape(groupID)+"/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// post sends body as JSON with the caller's bearer token and decodes a 2xx
// response into out. Any other status becomes an *APIError.
func (r *HTTPRemote) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := r.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get JWT token: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er groupsync.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			apiErr.Code, apiErr.Message = er.Error, er.Message
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
