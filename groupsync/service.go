// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package groupsync implements the server side of offline-first group chat
// synchronization: a per-item conflict resolver, Postgres-backed batch
// transactions and the HTTP sync endpoints.
package groupsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultMaxBatchSize       = 500
	DefaultMessageDedupWindow = 60 * time.Second
	DefaultMaxTxRetries       = 5
	DefaultTxRetryBaseDelay   = 20 * time.Millisecond
	defaultTxRetryMaxDelay    = 500 * time.Millisecond
)

// SyncService provides the core synchronization functionality
type SyncService struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	config   *ServiceConfig
	resolver *Resolver

	mu     sync.RWMutex
	closed bool
}

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName string // Application name for connection tracking

	MaxBatchSize       int           // Maximum items in one sync batch (0 = DefaultMaxBatchSize, <0 = unlimited)
	MessageDedupWindow time.Duration // Half-width of the duplicate-message window
	MaxTxRetries       int           // Replays of a batch transaction after a serialization failure
	TxRetryBaseDelay   time.Duration

	StageMetrics    StageMetricsRecorder // Optional per-stage timing sink
	LogStageTimings bool                 // Log stage timings at Debug level
}

// NewSyncService creates a new sync service instance from an existing pool and
// makes sure the chat schema exists
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if config == nil {
		config = &ServiceConfig{AppName: "go-groupsync-app"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	applyConfigDefaults(config)

	service := &SyncService{
		pool:     pool,
		logger:   logger,
		config:   config,
		resolver: NewResolver(config.MessageDedupWindow),
	}

	if err := service.initializeSchema(context.Background()); err != nil {
		logger.Error("Failed to initialize database schema", "error", err)
		return nil, fmt.Errorf("failed to initialize sync service: %w", err)
	}
	logger.Debug("Database schema initialized successfully")

	return service, nil
}

func applyConfigDefaults(config *ServiceConfig) {
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = DefaultMaxBatchSize
	}
	if config.MessageDedupWindow <= 0 {
		config.MessageDedupWindow = DefaultMessageDedupWindow
	}
	if config.MaxTxRetries < 0 {
		config.MaxTxRetries = 0
	} else if config.MaxTxRetries == 0 {
		config.MaxTxRetries = DefaultMaxTxRetries
	}
	if config.TxRetryBaseDelay <= 0 {
		config.TxRetryBaseDelay = DefaultTxRetryBaseDelay
	}
}

// Close marks the service as closed. It does NOT close the pool; the caller
// owns the pool lifecycle.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("Sync service shutdown complete")
	return nil
}

// Pool returns the underlying database connection pool
func (s *SyncService) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// runInTx executes fn in one SERIALIZABLE transaction. The resolver reads
// (active membership, duplicate message, same-named group) and the writes
// that follow must behave as if batches ran one after another, otherwise two
// concurrent submissions of one item both miss each other and both insert.
// Transient failures replay the whole transaction; any other error rolls back
// and is returned as is, so hard failures discard the entire batch.
func (s *SyncService) runInTx(ctx context.Context, op Op, fn func(st *txStore) error) error {
	backoff := txBackoff{base: s.config.TxRetryBaseDelay, max: defaultTxRetryMaxDelay}
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}
	for attempt := 1; ; attempt++ {
		timer := s.startStage(op, StageTx)
		err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
			_, _ = tx.Exec(ctx, "SET LOCAL lock_timeout = '3s'")
			return fn(&txStore{tx: tx})
		})
		timer.end(ctx, 0, attempt, err)

		reason := transientReason(err)
		if err == nil || reason == "" || attempt > s.config.MaxTxRetries {
			return err
		}
		s.logger.Debug("Replaying sync transaction", "op", string(op), "attempt", attempt, "reason", reason)
		if err := backoff.wait(ctx, attempt); err != nil {
			return err
		}
	}
}
