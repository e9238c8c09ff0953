// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

// EntityType names one of the three synchronized entity kinds
type EntityType string

const (
	EntityGroups           EntityType = "groups"
	EntityMembershipEvents EntityType = "membershipEvents"
	EntityMessages         EntityType = "messages"
)

// MembershipAction is the action carried by a membership event
type MembershipAction string

const (
	ActionJoin   MembershipAction = "JOIN"
	ActionLeave  MembershipAction = "LEAVE"
	ActionRemove MembershipAction = "REMOVE"
)

// Message types accepted by the server
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Sync status values stamped on messages returned to clients
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
)

// ConflictType is the closed set of per-item conflicts the resolver can report
type ConflictType string

const (
	ConflictDuplicateJoin      ConflictType = "DUPLICATE_JOIN"
	ConflictDuplicateLeave     ConflictType = "DUPLICATE_LEAVE"
	ConflictSendToLeftGroup    ConflictType = "SEND_TO_LEFT_GROUP"
	ConflictSendToDeletedGroup ConflictType = "SEND_TO_DELETED_GROUP"
	ConflictDuplicateMessage   ConflictType = "DUPLICATE_MESSAGE"
	ConflictDuplicateGroupName ConflictType = "DUPLICATE_GROUP_NAME"
)

// Resolution is the strategy the server applied to a conflicting item
type Resolution string

const (
	ResolutionIgnoreDuplicate        Resolution = "IGNORE_DUPLICATE"
	ResolutionRejectMessage          Resolution = "REJECT_MESSAGE"
	ResolutionDedupeByContentAndTime Resolution = "DEDUPE_BY_CONTENT_AND_TIME"
	ResolutionDedupeByUserAndName    Resolution = "DEDUPE_BY_USER_AND_NAME"
)

// ResolvedAction tags the resolved-state union of a conflict
type ResolvedAction string

const (
	ResolvedIgnored      ResolvedAction = "ignored"
	ResolvedRejected     ResolvedAction = "rejected"
	ResolvedDeduplicated ResolvedAction = "deduplicated"
)

// Validation limits
const (
	MaxGroupNameLength      = 100
	MaxGroupDescLength      = 1000
	MaxMessageContentLength = 4000
)
