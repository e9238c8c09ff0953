// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transient SQLSTATEs after which the whole batch transaction is replayed.
// Under SERIALIZABLE, 40001 is also how two batches racing on the same
// duplicate check are told apart: the loser replays and resolves against the
// winner's committed row.
var transientSQLStates = map[string]string{
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
}

// transientReason returns the condition name when err is worth replaying the
// transaction for, or "" otherwise
func transientReason(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	return transientSQLStates[pgErr.Code]
}

// txBackoff spaces out transaction replays: base, 2*base, 4*base ... up to max
type txBackoff struct {
	base time.Duration
	max  time.Duration
}

func (b txBackoff) delay(attempt int) time.Duration {
	d := b.base
	for i := 1; i < attempt && d < b.max; i++ {
		d *= 2
	}
	return min(d, b.max)
}

// wait blocks for the delay before replay number attempt, or until ctx ends
func (b txBackoff) wait(ctx context.Context, attempt int) error {
	d := b.delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
