// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// newPGService connects to TEST_DATABASE_URL and returns a ready service.
// Tests using it are skipped in -short mode or when no database is configured.
func newPGService(t *testing.T, config *ServiceConfig) *SyncService {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewSyncService(pool, config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// newUser returns a user id unique to this test run so tests can share a database
func newUser(name string) string {
	return name + "-" + uuid.NewString()
}

func createGroup(t *testing.T, svc *SyncService, userID, name string) string {
	t.Helper()
	localID := uuid.NewString()
	resp, err := svc.SyncGroups(context.Background(), userID, &GroupSyncRequest{
		Groups:            []GroupUpload{{LocalID: localID, Name: name, CreatedAt: time.Now().UTC()}},
		LastSyncTimestamp: EpochTimestamp,
	})
	require.NoError(t, err)
	require.Len(t, resp.AcceptedGroups, 1)
	require.Equal(t, localID, resp.AcceptedGroups[0].LocalID)
	return resp.AcceptedGroups[0].ServerID
}

func membershipEvent(groupID string, action MembershipAction) MembershipEventUpload {
	return MembershipEventUpload{LocalID: uuid.NewString(), GroupID: groupID, Action: action, Timestamp: time.Now().UTC()}
}

func countRows(t *testing.T, svc *SyncService, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, svc.Pool().QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func activeMemberships(t *testing.T, svc *SyncService, userID, groupID string) int {
	return countRows(t, svc,
		`SELECT COUNT(*) FROM chat.group_memberships WHERE user_id = $1 AND group_id = $2::uuid AND is_active`,
		userID, groupID)
}
