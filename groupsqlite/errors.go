// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsqlite

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress is returned when a sync pass is requested while another one is running
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrNotFound is returned by store lookups for a missing record
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the sync server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsAPIError reports whether err is an *APIError with the given server error code
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
