// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package groupsqlite is the device side of go-groupsync: a SQLite cache of
// groups and messages, optimistic local mutations with durable pending
// queues, and a sync orchestrator that drains those queues against the
// server and merges the returned deltas.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration for the device client
type Config struct {
	SyncInterval    time.Duration // 1s
	RetryBackoffMin time.Duration // 1s
	RetryBackoffMax time.Duration // 60s
	MaxBatchSize    int           // per entity type per pass, 500
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    1 * time.Second,
		RetryBackoffMin: 1 * time.Second,
		RetryBackoffMax: 60 * time.Second,
		MaxBatchSize:    500,
	}
}

// retryBackoff doubles from RetryBackoffMin per attempt, capped at RetryBackoffMax
func (c *Config) retryBackoff(attempts int) time.Duration {
	backoff := c.RetryBackoffMin
	for i := 1; i < attempts && backoff < c.RetryBackoffMax; i++ {
		backoff *= 2
	}
	if backoff > c.RetryBackoffMax {
		backoff = c.RetryBackoffMax
	}
	return backoff
}

// Client ties the local store, the state container, the orchestrator and the
// optimistic mutation layer together for one signed-in user.
type Client struct {
	Store  *Store
	State  *State
	Remote Remote
	Conn   Connectivity
	UserID string

	config *Config
	logger *slog.Logger
	orch   *Orchestrator
	newID  func() string
	now    func() time.Time
}

// NewClient opens the local store in db and loads the persisted state
func NewClient(ctx context.Context, db *sql.DB, userID string, remote Remote, conn Connectivity, config *Config, logger *slog.Logger) (*Client, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID must be provided")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if conn == nil {
		conn = NewManualConnectivity(true)
	}

	store, err := OpenStore(ctx, db)
	if err != nil {
		return nil, err
	}

	state := NewState(userID)
	state.Dispatch(SetOnline{Online: conn.Online()})

	c := &Client{
		Store:  store,
		State:  state,
		Remote: remote,
		Conn:   conn,
		UserID: userID,
		config: config,
		logger: logger,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
	c.orch = newOrchestrator(userID, store, remote, state, conn, config, logger)
	c.orch.now = func() time.Time { return c.now() }

	if err := c.Load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Orchestrator returns the client's sync orchestrator
func (c *Client) Orchestrator() *Orchestrator { return c.orch }

// Start runs the background sync loop until ctx is done
func (c *Client) Start(ctx context.Context) {
	go c.orch.Run(ctx)
}

// SyncNow runs one sync pass immediately
func (c *Client) SyncNow(ctx context.Context) (*PassReport, error) {
	return c.orch.SyncOnce(ctx)
}

// TriggerSync asks the background loop to run a pass soon
func (c *Client) TriggerSync() { c.orch.TriggerSync() }

// Subscribe registers o for sync-completed notifications
func (c *Client) Subscribe(o Observer) (unsubscribe func()) { return c.orch.Subscribe(o) }

// Load replaces the in-memory state with what the store holds
func (c *Client) Load(ctx context.Context) error {
	var groups []Group
	var active string
	messages := map[string][]Message{}
	err := c.Store.View(ctx, func(tx *Tx) error {
		var err error
		if groups, err = tx.ListGroups(ctx); err != nil {
			return err
		}
		if active, err = tx.ActiveGroup(ctx); err != nil {
			return err
		}
		for _, g := range groups {
			if messages[g.ID], err = tx.ListMessages(ctx, g.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load local state: %w", err)
	}

	c.State.Dispatch(SetGroups{Groups: groups})
	c.State.Dispatch(SetActiveGroup{ID: active})
	for id, msgs := range messages {
		c.State.Dispatch(SetMessages{GroupID: id, Messages: msgs})
	}
	return nil
}

// SelectGroup persists and publishes the active group. A stale local id is
// resolved to its server id first.
func (c *Client) SelectGroup(ctx context.Context, groupID string) error {
	err := c.Store.Update(ctx, func(tx *Tx) error {
		var err error
		if groupID, err = tx.ResolveGroupID(ctx, groupID); err != nil {
			return err
		}
		return tx.SetActiveGroup(ctx, groupID)
	})
	if err != nil {
		return err
	}
	c.State.Dispatch(SetActiveGroup{ID: groupID})
	return nil
}
