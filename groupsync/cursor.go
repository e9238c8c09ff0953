// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"encoding/json"
	"strings"
	"time"
)

// EpochTimestamp is the cursor value that forces full re-delivery
const EpochTimestamp = "1970-01-01T00:00:00.000Z"

// cursorLayouts are tried in order when parsing a client-supplied cursor
var cursorLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseSyncCursor converts a lastSyncTimestamp into a time. Empty or
// unparseable values map to the Unix epoch instead of failing, so a corrupted
// cursor degrades into a full re-sync rather than lost data.
func ParseSyncCursor(raw string) time.Time {
	t, ok := parseTimestamp(raw)
	if !ok || t.Before(time.Unix(0, 0)) {
		return time.Unix(0, 0).UTC()
	}
	return t
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range cursorLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// decodeClientTime reads a client-claimed item timestamp. Anything that is
// not a string in one of the cursor layouts decodes to the zero time, which
// validation then replaces with the server clock, so one bad timestamp never
// fails the whole batch.
func decodeClientTime(raw json.RawMessage) time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return time.Time{}
	}
	t, _ := parseTimestamp(s)
	return t
}

// FormatSyncTimestamp renders a cursor the way clients persist it
func FormatSyncTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
