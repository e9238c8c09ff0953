// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

func checkBatchSize(n, limit int) error {
	if limit > 0 && n > limit {
		return fmt.Errorf("%w: items=%d limit=%d", ErrBatchTooLarge, n, limit)
	}
	return nil
}

func checkUUID(field, value string, index int) error {
	if _, err := uuid.Parse(value); err != nil {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a UUID", value), Index: index}
	}
	return nil
}

// validateMembershipEvent checks shape and fills defaults in place
func validateMembershipEvent(ev *MembershipEventUpload, index int, now time.Time) error {
	if err := checkUUID("localId", ev.LocalID, index); err != nil {
		return err
	}
	if err := checkUUID("groupId", ev.GroupID, index); err != nil {
		return err
	}
	ev.Action = MembershipAction(strings.ToUpper(strings.TrimSpace(string(ev.Action))))
	switch ev.Action {
	case ActionJoin, ActionLeave:
	default:
		return &ValidationError{Field: "action", Reason: fmt.Sprintf("must be JOIN or LEAVE, got %q", ev.Action), Index: index}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	return nil
}

func validateMessage(msg *MessageUpload, index int, now time.Time) error {
	if err := checkUUID("localId", msg.LocalID, index); err != nil {
		return err
	}
	if err := checkUUID("groupId", msg.GroupID, index); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Content) == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty", Index: index}
	}
	if utf8.RuneCountInString(msg.Content) > MaxMessageContentLength {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("longer than %d characters", MaxMessageContentLength), Index: index}
	}
	msg.MessageType = strings.ToLower(strings.TrimSpace(msg.MessageType))
	switch msg.MessageType {
	case "":
		msg.MessageType = MessageTypeText
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
	default:
		return &ValidationError{Field: "messageType", Reason: fmt.Sprintf("unsupported type %q", msg.MessageType), Index: index}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	return nil
}

func validateGroup(g *GroupUpload, index int, now time.Time) error {
	if err := checkUUID("localId", g.LocalID, index); err != nil {
		return err
	}
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty", Index: index}
	}
	if utf8.RuneCountInString(g.Name) > MaxGroupNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", MaxGroupNameLength), Index: index}
	}
	if utf8.RuneCountInString(g.Description) > MaxGroupDescLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("longer than %d characters", MaxGroupDescLength), Index: index}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	return nil
}

func (s *SyncService) validateMembershipRequest(req *MembershipSyncRequest) error {
	if err := checkBatchSize(len(req.Events), s.config.MaxBatchSize); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range req.Events {
		if err := validateMembershipEvent(&req.Events[i], i, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) validateMessageRequest(req *MessageSyncRequest) error {
	if err := checkBatchSize(len(req.Messages), s.config.MaxBatchSize); err != nil {
		return err
	}
	if req.GroupID != "" {
		if err := checkUUID("groupId", req.GroupID, -1); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	for i := range req.Messages {
		if err := validateMessage(&req.Messages[i], i, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) validateGroupRequest(req *GroupSyncRequest) error {
	if err := checkBatchSize(len(req.Groups), s.config.MaxBatchSize); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range req.Groups {
		if err := validateGroup(&req.Groups[i], i, now); err != nil {
			return err
		}
	}
	return nil
}
