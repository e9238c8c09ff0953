// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated caller on a request context
package auth

import (
	"context"
)

type callerKey struct{}

// Caller is the chat user and device a request was authenticated as
type Caller struct {
	UserID   string
	DeviceID string
}

// WithCaller returns a copy of ctx carrying c
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by WithCaller. ok is false when there
// is none or its user is empty.
func CallerFrom(ctx context.Context) (c Caller, ok bool) {
	c, ok = ctx.Value(callerKey{}).(Caller)
	return c, ok && c.UserID != ""
}
