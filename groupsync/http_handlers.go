// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groupsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// ClientAuthenticator extracts user and device identity from HTTP requests
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the group sync API
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Register mounts all sync and single-item routes on mux. wrap is applied to
// every route (e.g. JWT middleware); pass nil for none.
func (h *HTTPSyncHandlers) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST /sync/membershipEvents", wrap(http.HandlerFunc(h.HandleSyncMembershipEvents)))
	mux.Handle("POST /sync/messages", wrap(http.HandlerFunc(h.HandleSyncMessages)))
	mux.Handle("POST /sync/groups", wrap(http.HandlerFunc(h.HandleSyncGroups)))
	mux.Handle("POST /groups", wrap(http.HandlerFunc(h.HandleCreateGroup)))
	mux.Handle("POST /groups/{groupId}/join", wrap(http.HandlerFunc(h.HandleJoinGroup)))
	mux.Handle("POST /groups/{groupId}/messages", wrap(http.HandlerFunc(h.HandleSendMessage)))
}

// HandleSyncMembershipEvents handles POST /sync/membershipEvents
func (h *HTTPSyncHandlers) HandleSyncMembershipEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req MembershipSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse membership sync request")
		return
	}

	response, err := h.service.SyncMembershipEvents(r.Context(), userID, &req)
	if err != nil {
		h.writeServiceError(w, err, "membership_sync_failed", "user_id", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleSyncMessages handles POST /sync/messages
func (h *HTTPSyncHandlers) HandleSyncMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req MessageSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse message sync request")
		return
	}

	response, err := h.service.SyncMessages(r.Context(), userID, &req)
	if err != nil {
		h.writeServiceError(w, err, "message_sync_failed", "user_id", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleSyncGroups handles POST /sync/groups
func (h *HTTPSyncHandlers) HandleSyncGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req GroupSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse group sync request")
		return
	}

	response, err := h.service.SyncGroups(r.Context(), userID, &req)
	if err != nil {
		h.writeServiceError(w, err, "group_sync_failed", "user_id", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleCreateGroup handles POST /groups
func (h *HTTPSyncHandlers) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req GroupUpload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse group")
		return
	}

	group, created, err := h.service.CreateGroup(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err, "create_group_failed", "user_id", userID)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, group)
}

// HandleJoinGroup handles POST /groups/{groupId}/join
func (h *HTTPSyncHandlers) HandleJoinGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req JoinGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse join request")
		return
	}

	groupID := r.PathValue("groupId")
	event, err := h.service.JoinGroup(r.Context(), userID, groupID, req)
	if err != nil {
		h.writeServiceError(w, err, "join_group_failed", "user_id", userID, "group_id", groupID)
		return
	}
	h.writeJSON(w, http.StatusOK, event)
}

// HandleSendMessage handles POST /groups/{groupId}/messages
func (h *HTTPSyncHandlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req MessageUpload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse message")
		return
	}

	groupID := r.PathValue("groupId")
	message, created, err := h.service.SendMessage(r.Context(), userID, groupID, req)
	if err != nil {
		h.writeServiceError(w, err, "send_message_failed", "user_id", userID, "group_id", groupID)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, message)
}

// begin enforces POST and resolves the caller. It writes the error response
// itself and reports false when the request must stop.
func (h *HTTPSyncHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return "", false
	}
	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", false
	}
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "missing caller identity")
		return "", false
	}
	return userID, true
}

// writeServiceError maps service errors onto HTTP status codes
func (h *HTTPSyncHandlers) writeServiceError(w http.ResponseWriter, err error, fallbackCode string, logAttrs ...any) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, "validation_failed", validationErr.Error())
	case errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrBadPayload):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, ErrGroupNotFound):
		h.writeError(w, http.StatusNotFound, "group_not_found", err.Error())
	case errors.Is(err, ErrAlreadyMember):
		h.writeError(w, http.StatusConflict, "already_member", msgAlreadyMember)
	case errors.Is(err, ErrNotMember):
		h.writeError(w, http.StatusForbidden, "not_a_member", msgSendToLeftGroup)
	case errors.Is(err, ErrServiceClosed):
		h.writeError(w, http.StatusServiceUnavailable, "service_closed", err.Error())
	default:
		h.logger.Error("Sync request failed", append([]any{"error", err}, logAttrs...)...)
		h.writeError(w, http.StatusInternalServerError, fallbackCode, "Failed to process request")
	}
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
