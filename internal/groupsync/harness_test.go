// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mobiletoly/go-groupsync/groupsqlite"
	"github.com/mobiletoly/go-groupsync/groupsync"
)

// e2eHarness runs the sync server over a throwaway Postgres container and
// hands out device clients talking to it over HTTP
type e2eHarness struct {
	t       *testing.T
	ctx     context.Context
	pool    *pgxpool.Pool
	service *groupsync.SyncService
	jwtAuth *groupsync.JWTAuth
	server  *httptest.Server
	logger  *slog.Logger
}

func newE2EHarness(t *testing.T) *e2eHarness {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("groupsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	service, err := groupsync.NewSyncService(pool, &groupsync.ServiceConfig{AppName: "go-groupsync-e2e"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	jwtAuth := groupsync.NewJWTAuth("test-secret-key")
	server := httptest.NewServer(NewServer(service, jwtAuth, logger))
	t.Cleanup(server.Close)

	return &e2eHarness{
		t:       t,
		ctx:     ctx,
		pool:    pool,
		service: service,
		jwtAuth: jwtAuth,
		server:  server,
		logger:  logger,
	}
}

// newDevice returns a client for userID on a fresh in-memory database
func (h *e2eHarness) newDevice(userID string, conn groupsqlite.Connectivity) *groupsqlite.Client {
	h.t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(h.t, err)
	db.SetMaxOpenConns(1)
	h.t.Cleanup(func() { _ = db.Close() })

	token, err := h.jwtAuth.GenerateToken(userID, "device-"+uuid.NewString(), time.Hour)
	require.NoError(h.t, err)
	remote := groupsqlite.NewHTTPRemote(h.server.URL, func(context.Context) (string, error) { return token, nil })

	config := groupsqlite.DefaultConfig()
	config.SyncInterval = time.Hour
	client, err := groupsqlite.NewClient(h.ctx, db, userID, remote, conn, config, h.logger)
	require.NoError(h.t, err)
	return client
}

// serverMembers lists the active members of groupID straight from Postgres
func (h *e2eHarness) serverMembers(groupID string) []string {
	h.t.Helper()
	rows, err := h.pool.Query(h.ctx,
		`SELECT user_id FROM chat.group_memberships WHERE group_id = $1::uuid AND is_active ORDER BY user_id`, groupID)
	require.NoError(h.t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		require.NoError(h.t, rows.Scan(&id))
		out = append(out, id)
	}
	require.NoError(h.t, rows.Err())
	return out
}

func userID(name string) string { return name + "-" + uuid.NewString() }
