// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

// User-facing conflict messages
const (
	msgAlreadyMember    = "You are already a member of this group"
	msgNotMember        = "You are not a member of this group"
	msgSendToLeftGroup  = "Cannot send message to a group you have left"
	msgSendToDeleted    = "Cannot send message to a deleted group"
	msgDuplicateMessage = "Duplicate message detected and merged"
	msgDuplicateGroup   = "You already have a group with this name"
)

// conflictDuplicateJoin reports a JOIN for a membership that is already active
func conflictDuplicateJoin(id, localID string) ResolvedConflict {
	return ResolvedConflict{
		ConflictID:        id,
		LocalID:           localID,
		ConflictType:      ConflictDuplicateJoin,
		ResolutionApplied: ResolutionIgnoreDuplicate,
		UserMessage:       msgAlreadyMember,
		ResolvedState:     ResolvedState{Action: ResolvedIgnored},
	}
}

// conflictDuplicateLeave reports a LEAVE with no active membership
func conflictDuplicateLeave(id, localID string) ResolvedConflict {
	return ResolvedConflict{
		ConflictID:        id,
		LocalID:           localID,
		ConflictType:      ConflictDuplicateLeave,
		ResolutionApplied: ResolutionIgnoreDuplicate,
		UserMessage:       msgNotMember,
		ResolvedState:     ResolvedState{Action: ResolvedIgnored},
	}
}

func conflictSendToLeftGroup(id, localID string) ResolvedConflict {
	return ResolvedConflict{
		ConflictID:        id,
		LocalID:           localID,
		ConflictType:      ConflictSendToLeftGroup,
		ResolutionApplied: ResolutionRejectMessage,
		UserMessage:       msgSendToLeftGroup,
		ResolvedState:     ResolvedState{Action: ResolvedRejected},
	}
}

func conflictSendToDeletedGroup(id, localID string) ResolvedConflict {
	return ResolvedConflict{
		ConflictID:        id,
		LocalID:           localID,
		ConflictType:      ConflictSendToDeletedGroup,
		ResolutionApplied: ResolutionRejectMessage,
		UserMessage:       msgSendToDeleted,
		ResolvedState:     ResolvedState{Action: ResolvedRejected},
	}
}

// conflictDuplicateMessage points the client at the message that already exists
func conflictDuplicateMessage(id, localID, existingID string) ResolvedConflict {
	return ResolvedConflict{
		ConflictID:        id,
		LocalID:           localID,
		ConflictType:      ConflictDuplicateMessage,
		ResolutionApplied: ResolutionDedupeByContentAndTime,
		UserMessage:       msgDuplicateMessage,
		ResolvedState:     ResolvedState{Action: ResolvedDeduplicated, ExistingMessageID: existingID},
	}
}

func conflictDuplicateGroupName(id, localID, existingID string) ResolvedConflict {
	return ResolvedConflict{
		ConflictID:        id,
		LocalID:           localID,
		ConflictType:      ConflictDuplicateGroupName,
		ResolutionApplied: ResolutionDedupeByUserAndName,
		UserMessage:       msgDuplicateGroup,
		ResolvedState:     ResolvedState{Action: ResolvedDeduplicated, ExistingGroupID: existingID},
	}
}
