// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualConnectivity_NotifiesOnTransition(t *testing.T) {
	conn := NewManualConnectivity(false)
	assert.False(t, conn.Online())

	conn.SetOnline(false)
	select {
	case <-conn.Changes():
		t.Fatal("no transition, no notification")
	default:
	}

	conn.SetOnline(true)
	conn.SetOnline(false)
	conn.SetOnline(true)
	assert.True(t, conn.Online())
	// Unread values collapse into the latest
	require.True(t, <-conn.Changes())
	select {
	case v := <-conn.Changes():
		t.Fatalf("unexpected extra notification %v", v)
	default:
	}
}

func TestHealthConnectivity_FollowsHealthEndpoint(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	health := NewHealthConnectivity(ts.URL+"/", 10*time.Millisecond, discardLogger())
	require.False(t, health.Online())
	go health.Run(ctx)

	require.Eventually(t, health.Online, time.Second, 5*time.Millisecond)
	healthy.Store(false)
	require.Eventually(t, func() bool { return !health.Online() }, time.Second, 5*time.Millisecond)
}
