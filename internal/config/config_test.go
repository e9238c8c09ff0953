// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"DATABASE_URL",
		"DB_MAX_CONNS",
		"JWT_SECRET",
		"LISTEN_ADDR",
		"APP_NAME",
		"APP_ENV",
		"ENABLE_DUMMY_SIGNIN",
		"MAX_BATCH_SIZE",
		"MESSAGE_DEDUP_WINDOW",
		"MAX_TX_RETRIES",
		"LOG_STAGE_TIMINGS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, int32(50), cfg.DBMaxConns)
	assert.Equal(t, 500, cfg.MaxBatchSize)
	assert.Equal(t, 60*time.Second, cfg.MessageDedupWindow)
	assert.Equal(t, 5, cfg.MaxTxRetries)
	assert.True(t, cfg.EnableDummySignin)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.UsesDefaultSecret())
	assert.Contains(t, cfg.DatabaseURL, "groupsync")
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/chat")
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("MAX_BATCH_SIZE", "-1")
	t.Setenv("MESSAGE_DEDUP_WINDOW", "90s")
	t.Setenv("LOG_STAGE_TIMINGS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/chat", cfg.DatabaseURL)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, -1, cfg.MaxBatchSize)
	assert.Equal(t, 90*time.Second, cfg.MessageDedupWindow)
	assert.True(t, cfg.LogStageTimings)
}

func TestLoad_ProductionRequiresRealSecret(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("ENABLE_DUMMY_SIGNIN", "false")

	_, err := Load()
	require.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a-real-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_ProductionRejectsDummySignin(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "a-real-secret")

	_, err := Load()
	require.ErrorContains(t, err, "ENABLE_DUMMY_SIGNIN")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"zero batch", "MAX_BATCH_SIZE", "0", "MAX_BATCH_SIZE"},
		{"zero conns", "DB_MAX_CONNS", "0", "DB_MAX_CONNS"},
		{"negative retries", "MAX_TX_RETRIES", "-2", "MAX_TX_RETRIES"},
		{"zero window", "MESSAGE_DEDUP_WINDOW", "0s", "MESSAGE_DEDUP_WINDOW"},
		{"unparseable window", "MESSAGE_DEDUP_WINDOW", "soon", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.ErrorContains(t, err, tt.want)
		})
	}
}
