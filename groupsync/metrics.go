// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"context"
	"time"
)

// Op names a service entry point in stage timings
type Op string

const (
	OpSyncGroups      Op = "sync_groups"
	OpSyncMemberships Op = "sync_membership_events"
	OpSyncMessages    Op = "sync_messages"
	OpCreateGroup     Op = "create_group"
	OpJoinGroup       Op = "join_group"
	OpSendMessage     Op = "send_message"
)

// Stage names a timed section of an Op
type Stage string

const (
	StageTotal        Stage = "total"
	StageTx           Stage = "tx"            // one transaction attempt
	StageResolveApply Stage = "resolve_apply" // resolver decisions and writes
	StageDeltas       Stage = "deltas"        // delta query since the cursor
)

// StageTiming is one finished stage. Attempt is set for StageTx only.
type StageTiming struct {
	Op       Op
	Stage    Stage
	Duration time.Duration
	Items    int
	Attempt  int
	Failed   bool
}

// StageMetricsRecorder receives every finished stage
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// stageTimer is a started stage. The zero value, handed out when nobody
// listens, ignores end.
type stageTimer struct {
	svc   *SyncService
	op    Op
	stage Stage
	start time.Time
}

func (s *SyncService) startStage(op Op, stage Stage) stageTimer {
	if s.config.StageMetrics == nil && !s.config.LogStageTimings {
		return stageTimer{}
	}
	return stageTimer{svc: s, op: op, stage: stage, start: time.Now()}
}

func (t stageTimer) end(ctx context.Context, items, attempt int, err error) {
	if t.svc == nil {
		return
	}
	timing := StageTiming{
		Op:       t.op,
		Stage:    t.stage,
		Duration: time.Since(t.start),
		Items:    items,
		Attempt:  attempt,
		Failed:   err != nil,
	}
	if rec := t.svc.config.StageMetrics; rec != nil {
		rec.ObserveStage(ctx, timing)
	}
	if t.svc.config.LogStageTimings {
		t.svc.logger.Debug("Stage timing",
			"op", string(timing.Op),
			"stage", string(timing.Stage),
			"duration", timing.Duration,
			"items", timing.Items,
			"attempt", timing.Attempt,
			"failed", timing.Failed,
		)
	}
}
