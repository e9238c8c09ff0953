// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"errors"
	"fmt"
)

var (
	ErrGroupNotFound = errors.New("group_not_found")
	ErrNotMember     = errors.New("not_a_member")
	ErrAlreadyMember = errors.New("already_member")
	ErrServiceClosed = errors.New("sync service has been closed")
	ErrBadPayload    = errors.New("bad_payload")
	ErrBatchTooLarge = errors.New("batch_too_large")
)

// ValidationError reports a malformed request field. It is raised before any
// item of the batch is processed.
type ValidationError struct {
	Field  string
	Reason string
	Index  int // item index within the batch, -1 for request-level fields
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid %s at index %d: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrBadPayload }

// HardFailureError aborts a whole sync batch. The transaction that produced it
// is rolled back, so nothing from the batch is persisted.
type HardFailureError struct {
	LocalID string
	GroupID string
	Err     error
}

func (e *HardFailureError) Error() string {
	return fmt.Sprintf("batch aborted at item %s (group %s): %v", e.LocalID, e.GroupID, e.Err)
}

func (e *HardFailureError) Unwrap() error { return e.Err }
