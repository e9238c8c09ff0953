// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Connectivity reports whether the server is reachable. Changes delivers the
// new value on every transition; a slow reader may miss intermediate values
// but always sees the latest one eventually.
type Connectivity interface {
	Online() bool
	Changes() <-chan bool
}

// connState is the shared flag-plus-notification core of both implementations
type connState struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

func (c *connState) init(online bool) {
	c.online = online
	c.changes = make(chan bool, 1)
}

func (c *connState) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *connState) Changes() <-chan bool { return c.changes }

func (c *connState) set(online bool) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online == online {
		return false
	}
	c.online = online
	// Replace an unread value so the channel always holds the latest state
	select {
	case <-c.changes:
	default:
	}
	c.changes <- online
	return true
}

// ManualConnectivity is flipped explicitly by the caller
type ManualConnectivity struct {
	connState
}

func NewManualConnectivity(online bool) *ManualConnectivity {
	m := &ManualConnectivity{}
	m.init(online)
	return m
}

// SetOnline changes the flag and notifies on a transition
func (m *ManualConnectivity) SetOnline(online bool) { m.set(online) }

// HealthConnectivity polls the server's /health endpoint
type HealthConnectivity struct {
	connState
	healthURL string
	interval  time.Duration
	http      *http.Client
	logger    *slog.Logger
}

func NewHealthConnectivity(baseURL string, interval time.Duration, logger *slog.Logger) *HealthConnectivity {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &HealthConnectivity{
		healthURL: strings.TrimRight(baseURL, "/") + "/health",
		interval:  interval,
		http:      &http.Client{Timeout: interval},
		logger:    logger,
	}
	p.init(false)
	return p
}

// Run checks health until ctx is done
func (p *HealthConnectivity) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if p.set(p.check(ctx)) {
			p.logger.Info("Connectivity changed", "online", p.Online())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *HealthConnectivity) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
